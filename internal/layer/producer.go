package layer

import (
	"image"
	"time"

	"github.com/stano45/streamcompositor/internal/frame"
	"github.com/stano45/streamcompositor/internal/viewport"
)

// producerLoop implements spec.md §4.2's 13-step producer algorithm.
func (l *Layer) producerLoop(stop chan struct{}) {
	defer l.wg.Done()

	now := func() float64 { return time.Since(l.epoch).Seconds() }
	nextFrameTime := now()
	var lastSeenIndex uint64 = ^uint64(0) // sentinel: no frame seen yet

	for {
		select {
		case <-stop:
			return
		default:
		}

		// Step 1: buffer-full backpressure.
		if l.BufferLen() >= l.cfg.BufferSize {
			time.Sleep(time.Millisecond)
			continue
		}

		// Step 2-3: pull from source, skip on no-new-frame.
		out, idx := l.cfg.Stream.GetFrame(now())
		if out == nil || idx == lastSeenIndex {
			time.Sleep(time.Millisecond)
			continue
		}
		lastSeenIndex = idx

		src := out.Get(l.streamOutputKey())
		if src == nil {
			time.Sleep(time.Millisecond)
			continue
		}

		// Step 4: effective fps for pacing.
		effectiveFPS := l.effectiveFPS()

		captureTS := l.cfg.Stream.LastFrameTimestamp()

		entry, md, err := l.process(src, captureTS)
		if err != nil {
			l.log.WithError(err).Debug("producer iteration failed, skipping frame")
			select {
			case <-stop:
				return
			default:
			}
			time.Sleep(time.Millisecond)
			continue
		}
		md.EffectiveFPS = effectiveFPS

		l.mu.Lock()
		l.appendBounded(bufEntry{Timestamp: captureTS, Encoded: entry, Metadata: md})
		md.BufferLength = len(l.buffer)
		md.BufferCapacity = l.cfg.BufferSize
		l.framesProduced++
		l.mu.Unlock()

		if l.metrics != nil {
			l.metrics.RecordProduced(l.cfg.ID, 0, md.TotalFilterMs(), md.EncodeDurationMs(), l.BufferLen(), l.cfg.BufferSize)
		}

		// Step 13: pacing.
		interval := 1.0 / effectiveFPS
		nextFrameTime += interval
		sleepFor := nextFrameTime - now()
		if sleepFor > 0 {
			time.Sleep(time.Duration(sleepFor * float64(time.Second)))
		} else if -sleepFor > interval {
			nextFrameTime = now()
			l.mu.Lock()
			l.framesDropped++
			l.mu.Unlock()
			if l.metrics != nil {
				l.metrics.RecordDropped(l.cfg.ID)
			}
		}
	}
}

// effectiveFPS is source_fps * playback_speed, capped by the source's
// max_fps, falling back to target_fps for non-video sources, never < 1.
func (l *Layer) effectiveFPS() float64 {
	s := l.cfg.Stream
	fps := s.FPS() * s.PlaybackSpeed()
	if fps <= 0 {
		fps = l.cfg.TargetFPS
	}
	if max := s.MaxFPS(); max > 0 && fps > max {
		fps = max
	}
	if fps < 1 {
		fps = 1
	}
	return fps
}

// process runs the filter pipeline, depth-weighted crop (with nav
// thumbnail when zoomed), resize-to-target, and encode — steps 6-11 of
// spec.md §4.2 — shared by the producer loop, UpdateFromLastFrame, and
// derived-layer wiring.
func (l *Layer) process(src *frame.Frame, captureTS float64) (dataURL string, md *frame.Metadata, err error) {
	md = &frame.Metadata{
		FrameID:     frame.NextFrameID(),
		CaptureTime: captureTS * 1000,
	}

	// Step 6: filter pipeline, swallow-to-last-good-frame on error.
	cur := src
	for _, f := range l.cfg.Filters {
		t0 := time.Now()
		out, ferr := f.Apply(cur)
		t1 := time.Now()
		md.AddFilterTiming(f.Name(), t0.Sub(l.epoch).Seconds()*1000, t1.Sub(l.epoch).Seconds()*1000)
		if ferr != nil {
			l.log.WithError(ferr).WithField("filter", f.Name()).Warn("filter failed, using last good frame")
			if l.lastGoodFrame != nil {
				cur = l.lastGoodFrame
			}
			continue
		}
		cur = out
	}
	l.lastGoodFrame = cur

	// Step 7: depth-weighted crop, nav thumbnail if zoomed.
	eff := l.GetEffectiveViewport()
	img := cur.Image()
	var cropped image.Image = img
	if eff.Zoom > 1 {
		if thumb, terr := navThumbnail(cur); terr == nil {
			md.NavThumbnail = thumb
		}
		r := viewport.CropRect(eff, cur.Width, cur.Height)
		cropped = crop(img, image.Rect(r.X0, r.Y0, r.X1, r.Y1))
	}

	// Step 8: resize to target if set and frame exceeds it.
	l.mu.Lock()
	tw, th := l.targetW, l.targetH
	l.mu.Unlock()
	b := cropped.Bounds()
	if tw > 0 && th > 0 && (b.Dx() > tw || b.Dy() > th) {
		cropped = resize(cropped, tw, th)
	}

	// Step 9: post-resize dimensions.
	fb := cropped.Bounds()
	md.FrameWidth, md.FrameHeight = fb.Dx(), fb.Dy()

	// Step 10-11: encode + data URL.
	encStart := time.Now()
	raw, url, eerr := encodeDataURL(cropped, l.cfg.UsePNG, l.cfg.JPEGQuality)
	encEnd := time.Now()
	if eerr != nil {
		return "", nil, eerr
	}
	md.EncodeStart = encStart.Sub(l.epoch).Seconds() * 1000
	md.EncodeEnd = encEnd.Sub(l.epoch).Seconds() * 1000
	md.SendTime = md.EncodeEnd
	md.FrameBytes = len(raw)

	return url, md, nil
}

