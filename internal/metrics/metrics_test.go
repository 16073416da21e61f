package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecordProducedAndDeliveredAggregateIntoSnapshot(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())
	r.RecordProduced("l1", 1, 2, 3, 1, 4)
	r.RecordProduced("l1", 1, 2, 3, 2, 4)
	r.RecordDelivered("l1")
	r.RecordDropped("l1")

	snap := r.ToDict()
	lm, ok := snap.Layers["l1"]
	if !ok {
		t.Fatal("expected layer l1 in snapshot")
	}
	if lm.FramesProduced != 2 {
		t.Fatalf("FramesProduced = %d, want 2", lm.FramesProduced)
	}
	if lm.FramesDelivered != 1 {
		t.Fatalf("FramesDelivered = %d, want 1", lm.FramesDelivered)
	}
	if lm.FramesDropped != 1 {
		t.Fatalf("FramesDropped = %d, want 1", lm.FramesDropped)
	}
	if snap.TotalFramesProduced != 2 || snap.TotalFramesDelivered != 1 || snap.TotalFramesDropped != 1 {
		t.Fatalf("snapshot totals = %+v, want produced=2 delivered=1 dropped=1", snap)
	}
}

func TestFPSCounterNeedsTwoSamples(t *testing.T) {
	fc := NewFPSCounter(10)
	if fc.FPS() != 0 {
		t.Fatalf("FPS() with zero ticks = %v, want 0", fc.FPS())
	}
	fc.Tick()
	if fc.FPS() != 0 {
		t.Fatalf("FPS() with one tick = %v, want 0 (needs an interval between two ticks)", fc.FPS())
	}
}

func TestFPSCounterWindowBounded(t *testing.T) {
	fc := NewFPSCounter(3)
	for i := 0; i < 10; i++ {
		fc.Tick()
	}
	fc.mu.Lock()
	n := len(fc.intervals)
	fc.mu.Unlock()
	if n > 3 {
		t.Fatalf("sliding window holds %d intervals, want <= 3", n)
	}
}

func TestTimerElapsedMsNonNegative(t *testing.T) {
	tm := StartTimer().Stop()
	if tm.ElapsedMs() < 0 {
		t.Fatalf("ElapsedMs() = %v, want >= 0", tm.ElapsedMs())
	}
}
