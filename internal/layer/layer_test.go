package layer

import (
	"testing"
	"time"

	"github.com/stano45/streamcompositor/internal/frame"
	"github.com/stano45/streamcompositor/internal/source"
)

func TestNewRejectsZeroSources(t *testing.T) {
	_, err := New(Config{ID: "l1"}, nil)
	if err == nil {
		t.Fatal("expected error when no source/url/image/source_layer is set")
	}
}

func TestNewRejectsMultipleSources(t *testing.T) {
	gen := source.NewGenerator(func(ts float64) *source.Output { return nil }, 30)
	_, err := New(Config{ID: "l1", Stream: gen, URL: "http://example.com/x.png"}, nil)
	if err == nil {
		t.Fatal("expected error when more than one source kind is set")
	}
}

func TestNewAllowsPiggybackWithNoSource(t *testing.T) {
	l, err := New(Config{ID: "l1", Piggyback: true}, nil)
	if err != nil {
		t.Fatalf("piggyback layer should not require a source: %v", err)
	}
	if !l.IsPiggyback() {
		t.Fatal("expected IsPiggyback() to be true")
	}
}

func TestStartOnStaticLayerDoesNotSpawnProducer(t *testing.T) {
	l, err := New(Config{ID: "l1", URL: "http://example.com/x.png"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.Start()
	defer l.Stop()
	time.Sleep(20 * time.Millisecond)
	if got := l.BufferLen(); got != 0 {
		t.Fatalf("BufferLen() = %d, want 0 (static layers emit zero producer frames)", got)
	}
}

func TestSourceLayerImpliesPiggyback(t *testing.T) {
	l, err := New(Config{ID: "l2", SourceLayer: "l1"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !l.IsPiggyback() {
		t.Fatal("a layer with SourceLayer set must be treated as piggyback")
	}
}

func TestInjectFrameEvictsOldestWhenFull(t *testing.T) {
	l, err := New(Config{ID: "l1", Piggyback: true, BufferSize: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.InjectFrame("frame-1", 1, nil, nil, nil)
	l.InjectFrame("frame-2", 2, nil, nil, nil)
	l.InjectFrame("frame-3", 3, nil, nil, nil)

	if got := l.BufferLen(); got != 2 {
		t.Fatalf("BufferLen() = %d, want 2 (bounded by BufferSize)", got)
	}
	first, ok := l.GetBufferedFrame()
	if !ok || first.Encoded != "frame-2" {
		t.Fatalf("expected oldest surviving frame to be frame-2, got %+v (ok=%v)", first, ok)
	}
	second, ok := l.GetBufferedFrame()
	if !ok || second.Encoded != "frame-3" {
		t.Fatalf("expected next frame to be frame-3, got %+v (ok=%v)", second, ok)
	}
	if _, ok := l.GetBufferedFrame(); ok {
		t.Fatal("expected buffer to be empty after draining both frames")
	}
}

func TestGetBufferedFrameIsFIFO(t *testing.T) {
	l, err := New(Config{ID: "l1", Piggyback: true, BufferSize: 4}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, tag := range []string{"a", "b", "c"} {
		l.InjectFrame(tag, float64(i), nil, nil, nil)
	}
	for _, want := range []string{"a", "b", "c"} {
		entry, ok := l.GetBufferedFrame()
		if !ok || entry.Encoded != want {
			t.Fatalf("GetBufferedFrame() = %+v (ok=%v), want %q", entry, ok, want)
		}
	}
}

func TestUpdateFromLastFrameRequiresStream(t *testing.T) {
	l, err := New(Config{ID: "l1", Piggyback: true}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.UpdateFromLastFrame() {
		t.Fatal("UpdateFromLastFrame() should return false when the layer has no Stream")
	}
}

func TestUpdateFromLastFrameClearsBufferAndEnqueuesOne(t *testing.T) {
	gen := source.NewGenerator(func(ts float64) *source.Output {
		return &source.Output{Frame: &frame.Frame{Width: 4, Height: 4, Format: frame.FormatRGBA, Pix: make([]byte, 4*4*4)}}
	}, 30)
	gen.Start()
	gen.GetFrame(0) // publish a last frame

	l, err := New(Config{ID: "l1", Stream: gen, BufferSize: 4}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l.InjectFrame("stale", 0, nil, nil, nil) // simulate pre-existing buffered content

	if !l.UpdateFromLastFrame() {
		t.Fatal("expected UpdateFromLastFrame() to succeed with a published last frame")
	}
	if got := l.BufferLen(); got != 1 {
		t.Fatalf("BufferLen() after UpdateFromLastFrame() = %d, want 1", got)
	}
}
