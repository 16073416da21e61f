package source

import (
	"testing"

	"github.com/stano45/streamcompositor/internal/frame"
)

type fakeDecoder struct {
	duration float64
	fps      float64
	decoded  []float64
}

func (d *fakeDecoder) Decode(position float64) *frame.Frame {
	d.decoded = append(d.decoded, position)
	return &frame.Frame{Width: 1, Height: 1, CaptureTime: position}
}
func (d *fakeDecoder) Duration() float64    { return d.duration }
func (d *fakeDecoder) FPS() float64         { return d.fps }
func (d *fakeDecoder) AspectRatio() float64 { return 16.0 / 9.0 }

// TestFileGetFrameAnchorsToCallerClockDomain guards against a regression
// where File.Start stamped an absolute wall-clock epoch while GetFrame was
// driven by a caller using a small relative "now" (e.g. time.Since(start)
// in seconds) — that mismatch produced a huge negative elapsed position and
// the decoder never advanced.
func TestFileGetFrameAnchorsToCallerClockDomain(t *testing.T) {
	dec := &fakeDecoder{duration: 100, fps: 30}
	f := NewFile("clip.mp4", dec, false, 1, 0)
	f.Start()

	out, idx1 := f.GetFrame(0)
	if out == nil {
		t.Fatal("expected a decoded frame on the first call")
	}
	if got := out.Frame.CaptureTime; got < 0 || got > 1 {
		t.Fatalf("CaptureTime = %v, want ~0 on the first relative-clock call", got)
	}

	_, idx2 := f.GetFrame(1.0 / 30)
	if idx2 <= idx1 {
		t.Fatalf("expected frame index to advance, got idx1=%d idx2=%d", idx1, idx2)
	}
	if len(dec.decoded) < 2 {
		t.Fatalf("expected the decoder to be invoked at least twice, got %d calls", len(dec.decoded))
	}
	for _, pos := range dec.decoded {
		if pos < 0 || pos > dec.duration {
			t.Fatalf("decoder asked to decode out-of-range position %v (duration=%v)", pos, dec.duration)
		}
	}
}

func TestFileGetFrameLoopsAtDuration(t *testing.T) {
	dec := &fakeDecoder{duration: 1, fps: 30}
	f := NewFile("clip.mp4", dec, true, 1, 0)
	f.Start()

	f.GetFrame(0)
	f.GetFrame(2) // past duration, should wrap
	if pos := f.CurrentPosition(); pos < 0 || pos > dec.duration {
		t.Fatalf("CurrentPosition() = %v after loop wrap, want within [0, %v]", pos, dec.duration)
	}
}

func TestFileSeekToUsesLastObservedClock(t *testing.T) {
	dec := &fakeDecoder{duration: 100, fps: 30}
	f := NewFile("clip.mp4", dec, false, 1, 0)
	f.Start()
	f.GetFrame(10) // establish lastNow in the caller's relative domain

	f.SeekTo(5)
	_, _ = f.GetFrame(10)
	if pos := f.CurrentPosition(); pos < 4 || pos > 6 {
		t.Fatalf("CurrentPosition() after SeekTo(5) = %v, want ~5", pos)
	}
}
