package layer

import (
	"image"
	stddraw "image/draw"
	"time"

	"github.com/stano45/streamcompositor/internal/frame"
	"github.com/stano45/streamcompositor/internal/source"
)

// AttachDerived registers a synchronous on_frame callback on ancestorStream
// so this layer receives frames inline on the ancestor's producing
// goroutine (spec.md §4.3). The callback is de-registered by Layer.Stop.
func (l *Layer) AttachDerived(ancestorStream source.Source) {
	unregister := ancestorStream.OnFrame(func(out *source.Output, captureTS float64) {
		l.handleDerivedFrame(out, captureTS)
	})
	l.unregisterDerived = unregister
}

// handleDerivedFrame implements the derived-layer callback body: crop using
// this layer's own geometry (expanded by overscan, clamped to bounds), run
// its filter pipeline, resize, encode, inject_frame with the anchor.
func (l *Layer) handleDerivedFrame(out *source.Output, captureTS float64) {
	src := out.Get(l.streamOutputKey())
	if src == nil {
		return
	}

	img := src.Image()
	region, anchorX, anchorY, hasAnchor := l.cropRect(src.Width, src.Height)
	cropped := img
	if region != image.Rect(0, 0, src.Width, src.Height) {
		cropped = cropImg(img, region)
	}

	cur := &frame.Frame{Width: region.Dx(), Height: region.Dy(), Format: src.Format, CaptureTime: captureTS}

	var timings []frame.FilterTiming
	curImg := cropped
	for _, f := range l.cfg.Filters {
		t0 := time.Now()
		fr := frameFromImage(curImg, cur.Format, captureTS)
		out2, ferr := f.Apply(fr)
		t1 := time.Now()
		timings = append(timings, frame.FilterTiming{
			Name: f.Name(), StartMs: 0, EndMs: float64(t1.Sub(t0).Microseconds()) / 1000, DurationMs: float64(t1.Sub(t0).Microseconds()) / 1000,
		})
		if ferr != nil {
			l.log.WithError(ferr).WithField("filter", f.Name()).Warn("derived layer filter failed")
			continue
		}
		curImg = out2.Image()
	}

	l.mu.Lock()
	tw, th := l.targetW, l.targetH
	l.mu.Unlock()
	b := curImg.Bounds()
	if tw > 0 && th > 0 && (b.Dx() > tw || b.Dy() > th) {
		curImg = resize(curImg, tw, th)
	}

	_, dataURL, err := encodeDataURL(curImg, l.cfg.UsePNG, l.cfg.JPEGQuality)
	if err != nil {
		l.log.WithError(err).Warn("derived layer encode failed")
		return
	}

	var ax, ay *float64
	if hasAnchor {
		ax, ay = &anchorX, &anchorY
	}
	l.InjectFrame(dataURL, captureTS, timings, ax, ay)
}

func cropImg(img image.Image, r image.Rectangle) image.Image {
	return crop(img, r)
}

// frameFromImage wraps an already-decoded image.Image back into a
// *frame.Frame so the Filter interface (which operates on Frame) can run
// over intermediate derived-layer crops without an extra encode round trip.
func frameFromImage(img image.Image, format frame.PixFormat, captureTS float64) *frame.Frame {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(rgba, rgba.Bounds(), img, b.Min, stddraw.Src)
	return &frame.Frame{Width: b.Dx(), Height: b.Dy(), Format: frame.FormatRGBA, Pix: rgba.Pix, CaptureTime: captureTS}
}
