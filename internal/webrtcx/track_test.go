package webrtcx

import (
	"testing"

	"github.com/stano45/streamcompositor/internal/frame"
	"github.com/stano45/streamcompositor/internal/source"
	"github.com/stano45/streamcompositor/internal/viewport"
)

func newConstantGenerator() source.Source {
	return source.NewGenerator(func(ts float64) *source.Output {
		return &source.Output{Frame: &frame.Frame{
			Width: 16, Height: 16, Format: frame.FormatRGBA, Pix: make([]byte, 16*16*4), CaptureTime: ts,
		}}
	}, 25)
}

func TestEffectiveFPSPrefersTargetFPS(t *testing.T) {
	cfg := NewLayerConfig(newConstantGenerator(), 0, CodecVP8, 1_000_000, "t")
	cfg.TargetFPS = 15
	if got := cfg.EffectiveFPS(); got != 15 {
		t.Fatalf("EffectiveFPS() = %v, want 15 (explicit TargetFPS wins)", got)
	}
}

func TestEffectiveFPSFallsBackToSourceFPS(t *testing.T) {
	cfg := NewLayerConfig(source.NewCamera("cam0", 25, nil), 0, CodecVP8, 1_000_000, "t")
	if got := cfg.EffectiveFPS(); got != 25 {
		t.Fatalf("EffectiveFPS() = %v, want 25 (source's own fps)", got)
	}
}

func TestEffectiveFPSDefaultsTo30WithNoSourceRate(t *testing.T) {
	noRate := source.NewGenerator(func(ts float64) *source.Output { return nil }, 0)
	cfg := NewLayerConfig(noRate, 0, CodecVP8, 1_000_000, "t")
	if got := cfg.EffectiveFPS(); got != 30 {
		t.Fatalf("EffectiveFPS() = %v, want 30 default", got)
	}
}

func TestCropRectProjectsViewportOntoPixelBounds(t *testing.T) {
	cfg := NewLayerConfig(newConstantGenerator(), 0, CodecVP8, 1_000_000, "t")
	cfg.SetViewport(viewport.Viewport{X: 0, Y: 0, W: 0.5, H: 0.5, Zoom: 2})
	r := cfg.CropRect(16, 16)
	if r.X1 != 8 || r.Y1 != 8 {
		t.Fatalf("CropRect(16,16) = %+v, want a rect ending at (8,8)", r)
	}
}

func TestBlackFrameHasRequestedDimensions(t *testing.T) {
	img := blackFrame(32, 24)
	b := img.Bounds()
	if b.Dx() != 32 || b.Dy() != 24 {
		t.Fatalf("blackFrame bounds = %+v, want 32x24", b)
	}
}

func TestResizeImageProducesTargetDimensions(t *testing.T) {
	src := blackFrame(10, 10)
	dst := resizeImage(src, 20, 5)
	b := dst.Bounds()
	if b.Dx() != 20 || b.Dy() != 5 {
		t.Fatalf("resizeImage bounds = %+v, want 20x5", b)
	}
}
