package view

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stano45/streamcompositor/internal/frame"
	"github.com/stano45/streamcompositor/internal/layer"
	"github.com/stano45/streamcompositor/internal/metrics"
	"github.com/stano45/streamcompositor/internal/source"
)

// newPromRegistry returns a fresh Prometheus registerer per test so
// repeated metrics.NewRegistry calls across test functions never collide
// on the default global registry.
func newPromRegistry(t *testing.T) prometheus.Registerer {
	t.Helper()
	return prometheus.NewRegistry()
}

type fakeSink struct {
	mu            sync.Mutex
	updates       int
	lastLayerID   string
	lastEncoded   string
	removedLayers []string
}

func (f *fakeSink) AddLayer(cfg LayerConfigMsg) {}
func (f *fakeSink) UpdateLayer(layerID, encodedDataURL string, meta any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.lastLayerID = layerID
	f.lastEncoded = encodedDataURL
}
func (f *fakeSink) RemoveLayer(layerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedLayers = append(f.removedLayers, layerID)
}
func (f *fakeSink) SetLayerMask(layerID, maskDataURL string)                          {}
func (f *fakeSink) SetupWebRTCLayer(layerID string, offer any, zIndex int, name string) {}
func (f *fakeSink) RemoveWebRTCLayer(layerID string)                                  {}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func newTestGenerator() source.Source {
	return source.NewGenerator(func(ts float64) *source.Output {
		return &source.Output{Frame: &frame.Frame{
			Width: 4, Height: 4, Format: frame.FormatRGBA, Pix: make([]byte, 4*4*4), CaptureTime: ts,
		}}
	}, 30)
}

func TestHandleFrameRequestUnknownLayerErrors(t *testing.T) {
	v := New(&fakeSink{}, metrics.NewRegistry(newPromRegistry(t)))
	if err := v.HandleFrameRequest("nonexistent"); err == nil {
		t.Fatal("expected an error for an unknown layer id")
	}
}

func TestHandleFrameRequestStaticLayerErrors(t *testing.T) {
	sink := &fakeSink{}
	v := New(sink, metrics.NewRegistry(newPromRegistry(t)))
	v.Start()
	defer v.Stop()

	if _, err := v.AddLayer(layer.Config{ID: "still", URL: "http://example.com/x.png"}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	if err := v.HandleFrameRequest("still"); err == nil {
		t.Fatal("expected an error when requesting a frame from a static layer")
	}
}

func TestHandleFrameRequestDropsConcurrentDuplicate(t *testing.T) {
	sink := &fakeSink{}
	v := New(sink, metrics.NewRegistry(newPromRegistry(t)))
	v.Start()
	defer v.Stop()

	gen := newTestGenerator()
	if _, err := v.AddLayer(layer.Config{ID: "preview", Stream: gen, TargetFPS: 30, BufferSize: 4}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = v.HandleFrameRequest("preview")
		}()
	}
	wg.Wait()

	// Give the async production path a moment to settle; at most one
	// outbound updateLayer should result from the concurrent burst (the
	// rest are dropped as in-flight duplicates, not re-enqueued).
	deadline := time.Now().Add(500 * time.Millisecond)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c := sink.count(); c > 1 {
		t.Fatalf("expected at most 1 updateLayer emission from a concurrent burst, got %d", c)
	}
}

func TestRemoveLayerNotifiesSink(t *testing.T) {
	sink := &fakeSink{}
	v := New(sink, metrics.NewRegistry(newPromRegistry(t)))
	v.Start()
	defer v.Stop()

	if _, err := v.AddLayer(layer.Config{ID: "l1", Stream: newTestGenerator(), TargetFPS: 30}); err != nil {
		t.Fatalf("AddLayer: %v", err)
	}
	v.RemoveLayer("l1")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.removedLayers) != 1 || sink.removedLayers[0] != "l1" {
		t.Fatalf("removedLayers = %v, want [l1]", sink.removedLayers)
	}
}
