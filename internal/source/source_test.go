package source

import (
	"testing"

	"github.com/stano45/streamcompositor/internal/frame"
)

func TestGeneratorGetFrameAdvancesIndex(t *testing.T) {
	calls := 0
	gen := NewGenerator(func(ts float64) *Output {
		calls++
		return &Output{Frame: &frame.Frame{Width: 1, Height: 1, CaptureTime: ts}}
	}, 30)
	gen.Start()

	_, idx1 := gen.GetFrame(0)
	_, idx2 := gen.GetFrame(1.0 / 30)
	if idx2 <= idx1 {
		t.Fatalf("expected frame index to advance, got idx1=%d idx2=%d", idx1, idx2)
	}
	if calls != 2 {
		t.Fatalf("expected the generator function to be called twice, got %d", calls)
	}
}

func TestGeneratorPausedReturnsLastFrameWithoutAdvancing(t *testing.T) {
	calls := 0
	gen := NewGenerator(func(ts float64) *Output {
		calls++
		return &Output{Frame: &frame.Frame{Width: 1, Height: 1}}
	}, 30)
	gen.Start()
	gen.GetFrame(0)
	gen.Pause()

	before := calls
	out, _ := gen.GetFrame(1)
	if out == nil {
		t.Fatal("expected the last published frame while paused")
	}
	if calls != before {
		t.Fatalf("generator function should not be called while paused, calls went from %d to %d", before, calls)
	}
}

func TestGeneratorFPSFallsBackToZero(t *testing.T) {
	gen := NewGenerator(func(ts float64) *Output { return nil }, 30)
	if gen.FPS() != 0 {
		t.Fatalf("Generator.FPS() = %v, want 0 (no source-native rate)", gen.FPS())
	}
}

func TestOutputGetDefaultsToFrameWithoutBundle(t *testing.T) {
	fr := &frame.Frame{Width: 2, Height: 2}
	out := &Output{Frame: fr}
	if out.Get("anything") != fr {
		t.Fatal("Output.Get should return Frame when no Bundle is present, regardless of key")
	}
}

func TestOutputGetResolvesBundleKey(t *testing.T) {
	a := &frame.Frame{Width: 1, Height: 1}
	b := &frame.Frame{Width: 2, Height: 2}
	out := &Output{Bundle: map[string]*frame.Frame{"a": a, "b": b}}
	if out.Get("b") != b {
		t.Fatal("Output.Get(\"b\") should resolve the bundle entry named \"b\"")
	}
	if out.Get("missing") != nil {
		t.Fatal("Output.Get on an unknown bundle key should return nil")
	}
}

func TestOnFrameCallbackInvokedSynchronouslyOnPublish(t *testing.T) {
	gen := NewGenerator(func(ts float64) *Output {
		return &Output{Frame: &frame.Frame{Width: 1, Height: 1}}
	}, 30)
	gen.Start()

	var seen float64 = -1
	unregister := gen.OnFrame(func(out *Output, captureTime float64) {
		seen = captureTime
	})
	defer unregister()

	gen.GetFrame(2.5)
	if seen != 2.5 {
		t.Fatalf("OnFrame callback saw captureTime=%v, want 2.5 (synchronous inline invocation)", seen)
	}
}

func TestOnFrameUnregisterStopsFutureCalls(t *testing.T) {
	gen := NewGenerator(func(ts float64) *Output {
		return &Output{Frame: &frame.Frame{Width: 1, Height: 1}}
	}, 30)
	gen.Start()

	calls := 0
	unregister := gen.OnFrame(func(out *Output, captureTime float64) { calls++ })
	gen.GetFrame(0)
	unregister()
	gen.GetFrame(1)

	if calls != 1 {
		t.Fatalf("callback fired %d times after unregister, want exactly 1", calls)
	}
}
