package webrtcx

import (
	"image"
	stddraw "image/draw"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/stano45/streamcompositor/internal/source"
	"github.com/stano45/streamcompositor/internal/viewport"
)

// LayerConfig is WebRTCLayerConfig from spec.md §4.5: the WebRTC-side
// analogue of layer.Config, bypassing the buffer path entirely.
type LayerConfig struct {
	mu sync.RWMutex

	Stream    source.Source
	ZIndex    int
	Codec     Codec
	BitrateBps int
	TargetFPS float64
	Width, Height int
	Name      string

	viewport viewport.Viewport
}

// NewLayerConfig constructs a WebRTC layer config with the identity
// viewport until the first viewport-change broadcast.
func NewLayerConfig(stream source.Source, zIndex int, codec Codec, bitrateBps int, name string) *LayerConfig {
	return &LayerConfig{Stream: stream, ZIndex: zIndex, Codec: codec, BitrateBps: bitrateBps, Name: name, viewport: viewport.Default()}
}

// SetViewport replaces the stored viewport snapshot (spec.md §4.5: updated
// on every viewport-change event).
func (c *LayerConfig) SetViewport(v viewport.Viewport) {
	c.mu.Lock()
	c.viewport = v
	c.mu.Unlock()
}

func (c *LayerConfig) Viewport() viewport.Viewport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewport
}

// EffectiveFPS returns TargetFPS if set, else the source's own fps, bounded
// by the source's max_fps, defaulting to 30 (spec.md §4.5).
func (c *LayerConfig) EffectiveFPS() float64 {
	if c.TargetFPS > 0 {
		return c.TargetFPS
	}
	fps := c.Stream.FPS()
	if fps <= 0 {
		fps = 30
	}
	if max := c.Stream.MaxFPS(); max > 0 && fps > max {
		fps = max
	}
	return fps
}

// CropRect projects the current viewport onto (w, h) source pixel bounds,
// clamped to a legal non-empty rectangle (spec.md §4.5).
func (c *LayerConfig) CropRect(w, h int) viewport.Rect {
	return viewport.CropRect(c.Viewport(), w, h)
}

// Track implements the per-layer WebRTC video sample producer, spec.md
// §4.6's nine-step recv() algorithm, pushed via pion's sample writer rather
// than a pull-based recv() coroutine (pion tracks are driven by
// WriteSample calls from a goroutine we own, the idiomatic Go inversion of
// the original coroutine-based recv()).
type Track struct {
	cfg   *LayerConfig
	write func(img image.Image, pts time.Duration) error

	firstFrame time.Time
	frameCount uint64
}

// NewTrack builds a Track that calls write for every produced sample;
// write is expected to wrap pion's TrackLocalStaticSample.WriteSample.
func NewTrack(cfg *LayerConfig, write func(img image.Image, pts time.Duration) error) *Track {
	return &Track{cfg: cfg, write: write}
}

// Run drives the sample-producing loop until stop is closed, implementing
// spec.md §4.6 steps 1-9 each iteration.
func (t *Track) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		t.tick()
	}
}

func (t *Track) tick() {
	now := time.Now()
	if t.firstFrame.IsZero() {
		t.firstFrame = now
	}
	elapsed := now.Sub(t.firstFrame)
	// pion's SampleWriter computes RTP timestamps from wall-clock Duration
	// at the track's configured clock rate (90kHz for video), so the
	// 1/90000 time-base pts spec.md §4.6 step 1 describes is simply the
	// elapsed wall-clock duration itself.
	pts := elapsed

	// Step 2: auto-start if not running and not paused.
	if !t.cfg.Stream.IsRunning() && !t.cfg.Stream.IsPaused() {
		t.cfg.Stream.Start()
	}

	// Step 3-4: get frame, fall back to last-frame, then black frame.
	out, _ := t.cfg.Stream.GetFrame(elapsed.Seconds())
	fr := out.Get("")
	if fr == nil {
		if lf := t.cfg.Stream.LastFrame(); lf != nil {
			fr = lf.Get("")
		}
	}
	var img image.Image
	w, h := t.cfg.Width, t.cfg.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}
	if fr == nil {
		img = blackFrame(w, h)
	} else {
		img = fr.Image()
		// Step 5: crop if zoomed.
		if t.cfg.Viewport().Zoom > 1 {
			r := t.cfg.CropRect(fr.Width, fr.Height)
			img = cropImage(img, image.Rect(r.X0, r.Y0, r.X1, r.Y1))
		}
		// Step 6-7: channel normalization + resize happens implicitly via
		// Frame.Image()/draw.BiLinear; resize to target if mismatched.
		b := img.Bounds()
		if t.cfg.Width > 0 && t.cfg.Height > 0 && (b.Dx() != t.cfg.Width || b.Dy() != t.cfg.Height) {
			img = resizeImage(img, t.cfg.Width, t.cfg.Height)
		}
	}

	// Step 8: emit sample.
	if err := t.write(img, pts); err != nil {
		_ = err // write failures degrade to "skip this sample", never crash the loop
	}
	t.frameCount++

	// Step 9: throttle to effective fps.
	fps := t.cfg.EffectiveFPS()
	if fps <= 0 {
		fps = 30
	}
	target := time.Duration(float64(t.frameCount) / fps * float64(time.Second))
	if sleep := target - elapsed; sleep > 0 {
		time.Sleep(sleep)
	}
}

func blackFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	stddraw.Draw(img, img.Bounds(), image.NewUniform(image.Black), image.Point{}, stddraw.Src)
	return img
}

func cropImage(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return img
	}
	type subImager interface{ SubImage(image.Rectangle) image.Image }
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	stddraw.Draw(dst, dst.Bounds(), img, r.Min, stddraw.Src)
	return dst
}

func resizeImage(img image.Image, w, h int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
