// Package metrics tracks per-layer frame timing/counters and exposes both
// a JSON-shaped snapshot (spec.md §6 getMetrics) and a Prometheus exporter
// (SPEC_FULL.md §11 domain stack).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LayerMetrics is the per-layer performance snapshot.
type LayerMetrics struct {
	LayerID string `json:"layer_id"`

	CaptureMs float64 `json:"capture_ms"`
	FilterMs  float64 `json:"filter_ms"`
	EncodeMs  float64 `json:"encode_ms"`

	BufferDepth int `json:"buffer_depth"`
	BufferSize  int `json:"buffer_size"`

	FramesProduced int64 `json:"frames_produced"`
	FramesDelivered int64 `json:"frames_delivered"`
	FramesDropped  int64 `json:"frames_dropped"`

	TargetFPS float64 `json:"target_fps"`
	ActualFPS float64 `json:"actual_fps"`
}

// Registry aggregates per-layer metrics and the process-wide Prometheus
// collectors behind getMetrics()/the /metrics HTTP endpoint.
type Registry struct {
	mu     sync.Mutex
	layers map[string]*LayerMetrics
	fps    map[string]*FPSCounter
	start  time.Time

	promFramesProduced  *prometheus.CounterVec
	promFramesDelivered *prometheus.CounterVec
	promFramesDropped   *prometheus.CounterVec
	promBufferDepth     *prometheus.GaugeVec
	promEncodeMs        *prometheus.HistogramVec
}

// NewRegistry builds a Registry and registers its Prometheus collectors
// against reg (typically prometheus.DefaultRegisterer).
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		layers: make(map[string]*LayerMetrics),
		fps:    make(map[string]*FPSCounter),
		start:  time.Now(),
		promFramesProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcompositor_frames_produced_total",
			Help: "Frames produced by a layer's producer.",
		}, []string{"layer_id"}),
		promFramesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcompositor_frames_delivered_total",
			Help: "Frames delivered to a client for a layer.",
		}, []string{"layer_id"}),
		promFramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "streamcompositor_frames_dropped_total",
			Help: "Frames dropped because the producer fell behind its pacing interval.",
		}, []string{"layer_id"}),
		promBufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamcompositor_buffer_depth",
			Help: "Current buffered-frame count for a layer.",
		}, []string{"layer_id"}),
		promEncodeMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamcompositor_encode_ms",
			Help:    "Per-frame encode duration in milliseconds.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"layer_id"}),
	}
	reg.MustRegister(r.promFramesProduced, r.promFramesDelivered, r.promFramesDropped, r.promBufferDepth, r.promEncodeMs)
	return r
}

// Layer returns (lazily creating) the metrics record for layerID.
func (r *Registry) Layer(layerID string) *LayerMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layerLocked(layerID)
}

func (r *Registry) layerLocked(layerID string) *LayerMetrics {
	lm, ok := r.layers[layerID]
	if !ok {
		lm = &LayerMetrics{LayerID: layerID, BufferSize: 4, TargetFPS: 60}
		r.layers[layerID] = lm
		r.fps[layerID] = NewFPSCounter(60)
	}
	return lm
}

// RecordProduced updates one layer's produced-frame counters and timings.
func (r *Registry) RecordProduced(layerID string, captureMs, filterMs, encodeMs float64, bufferDepth, bufferSize int) {
	r.mu.Lock()
	lm := r.layerLocked(layerID)
	lm.CaptureMs, lm.FilterMs, lm.EncodeMs = captureMs, filterMs, encodeMs
	lm.BufferDepth, lm.BufferSize = bufferDepth, bufferSize
	lm.FramesProduced++
	fc := r.fps[layerID]
	r.mu.Unlock()

	fc.Tick()
	lm.ActualFPS = fc.FPS()

	r.promFramesProduced.WithLabelValues(layerID).Inc()
	r.promBufferDepth.WithLabelValues(layerID).Set(float64(bufferDepth))
	r.promEncodeMs.WithLabelValues(layerID).Observe(encodeMs)
}

// RecordDelivered increments the delivered-frame counter for layerID.
func (r *Registry) RecordDelivered(layerID string) {
	r.mu.Lock()
	lm := r.layerLocked(layerID)
	lm.FramesDelivered++
	r.mu.Unlock()
	r.promFramesDelivered.WithLabelValues(layerID).Inc()
}

// RecordDropped increments the dropped-frame counter for layerID.
func (r *Registry) RecordDropped(layerID string) {
	r.mu.Lock()
	lm := r.layerLocked(layerID)
	lm.FramesDropped++
	r.mu.Unlock()
	r.promFramesDropped.WithLabelValues(layerID).Inc()
}

// Snapshot is the JSON-serializable shape returned by getMetrics().
type Snapshot struct {
	Layers                map[string]LayerMetrics `json:"layers"`
	TotalFramesProduced   int64                   `json:"total_frames_produced"`
	TotalFramesDelivered  int64                   `json:"total_frames_delivered"`
	TotalFramesDropped    int64                   `json:"total_frames_dropped"`
	UptimeSeconds         float64                 `json:"uptime_seconds"`
}

// ToDict returns the aggregate snapshot, mirroring PythonMetrics.to_dict().
func (r *Registry) ToDict() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{Layers: make(map[string]LayerMetrics, len(r.layers))}
	for id, lm := range r.layers {
		snap.Layers[id] = *lm
		snap.TotalFramesProduced += lm.FramesProduced
		snap.TotalFramesDelivered += lm.FramesDelivered
		snap.TotalFramesDropped += lm.FramesDropped
	}
	snap.UptimeSeconds = time.Since(r.start).Seconds()
	return snap
}

// FPSCounter is a thread-safe sliding-window FPS estimator.
type FPSCounter struct {
	mu         sync.Mutex
	windowSize int
	intervals  []float64
	lastTime   time.Time
}

func NewFPSCounter(windowSize int) *FPSCounter {
	return &FPSCounter{windowSize: windowSize}
}

// Tick records one frame event.
func (f *FPSCounter) Tick() {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.lastTime.IsZero() {
		f.intervals = append(f.intervals, now.Sub(f.lastTime).Seconds())
		if len(f.intervals) > f.windowSize {
			f.intervals = f.intervals[len(f.intervals)-f.windowSize:]
		}
	}
	f.lastTime = now
}

// FPS returns the current estimate from the sliding window, or 0 if not
// enough samples have been collected yet.
func (f *FPSCounter) FPS() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.intervals) < 1 {
		return 0
	}
	var sum float64
	for _, v := range f.intervals {
		sum += v
	}
	avg := sum / float64(len(f.intervals))
	if avg <= 0 {
		return 0
	}
	return 1 / avg
}

// Reset clears all recorded samples.
func (f *FPSCounter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervals = nil
	f.lastTime = time.Time{}
}

// Timer is a tiny stopwatch used to time filter/encode stages.
type Timer struct {
	start time.Time
	end   time.Time
}

func StartTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) Stop() *Timer {
	t.end = time.Now()
	return t
}

func (t *Timer) ElapsedMs() float64 {
	return float64(t.end.Sub(t.start).Microseconds()) / 1000
}
