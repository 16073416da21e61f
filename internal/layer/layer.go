// Package layer implements the Layer: an independently-paced unit of
// visual content with its own producer, filter pipeline, bounded buffer,
// and depth-weighted viewport crop (spec.md §4.2).
package layer

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stano45/streamcompositor/internal/frame"
	"github.com/stano45/streamcompositor/internal/metrics"
	"github.com/stano45/streamcompositor/internal/source"
	"github.com/stano45/streamcompositor/internal/viewport"
)

// Filter is one stage of a Layer's filter pipeline: a pure Frame-to-Frame
// transform that reports its own name for per-frame timing.
type Filter interface {
	Name() string
	Apply(*frame.Frame) (*frame.Frame, error)
}

// FullscreenScale controls whether a layer re-renders at screen resolution
// when the view enters fullscreen (SPEC_FULL.md §12).
type FullscreenScale int

const (
	FullscreenVideo FullscreenScale = iota
	FullscreenScreen
)

// Config is the validated construction input for a Layer. Exactly one of
// Stream, URL, Image, SourceLayer must be set unless Piggyback is true;
// a non-empty SourceLayer always implies Piggyback (spec.md §4.2).
type Config struct {
	ID, Name string
	ZIndex   int
	TargetFPS float64
	Filters   []Filter

	Stream      source.Source
	URL         string
	Image       *frame.Frame
	SourceLayer string // id of the ancestor layer this layer derives from
	Piggyback   bool

	UsePNG      bool
	JPEGQuality int

	X, Y, W, H *int // nil == fill canvas
	Depth      float64
	Overscan   int
	Fullscreen FullscreenScale
	BufferSize int
}

// bufEntry is one (timestamp, encoded, metadata) tuple in a Layer's buffer.
type bufEntry struct {
	Timestamp float64
	Encoded   string // data URL
	Metadata  *frame.Metadata
}

// Layer is a single independently-paced visual layer.
type Layer struct {
	cfg Config
	log *logrus.Entry

	mu              sync.Mutex
	buffer          []bufEntry
	running         bool
	stopCh          chan struct{}
	wg              sync.WaitGroup
	framesProduced  int64
	framesDropped   int64
	lastViewport    viewport.Viewport
	targetW, targetH int
	lastGoodFrame   *frame.Frame

	unregisterDerived func()

	metrics *metrics.Registry

	// epoch anchors both the producer's relative "now" clock and the
	// filter/encode timing fields in frame.Metadata, so capture_time and
	// encode_start/end fall in the same clock domain (spec.md §6).
	epoch time.Time
}

// New validates cfg (exactly-one-source / piggyback invariant) and
// constructs a Layer. Derived layers (SourceLayer != "") always piggyback.
func New(cfg Config, reg *metrics.Registry) (*Layer, error) {
	if cfg.SourceLayer != "" {
		cfg.Piggyback = true
	}
	if !cfg.Piggyback {
		set := 0
		if cfg.Stream != nil {
			set++
		}
		if cfg.URL != "" {
			set++
		}
		if cfg.Image != nil {
			set++
		}
		if cfg.SourceLayer != "" {
			set++
		}
		if set != 1 {
			return nil, fmt.Errorf("layer %s: exactly one of {stream,url,image,source_layer} must be set, got %d", cfg.ID, set)
		}
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	l := &Layer{
		cfg:          cfg,
		log:          logrus.WithField("component", "layer").WithField("layer_id", cfg.ID),
		lastViewport: viewport.Default(),
		metrics:      reg,
		epoch:        time.Now(),
	}
	return l, nil
}

func (l *Layer) ID() string   { return l.cfg.ID }
func (l *Layer) ZIndex() int  { return l.cfg.ZIndex }
func (l *Layer) IsStatic() bool {
	return l.cfg.URL != "" || l.cfg.Image != nil
}
func (l *Layer) IsPiggyback() bool { return l.cfg.Piggyback }

// StreamSource returns this layer's own Stream source, or nil if it has
// none (static, derived, or a bare image/url layer).
func (l *Layer) StreamSource() source.Source { return l.cfg.Stream }

// SourceLayerID returns the ancestor layer id this layer derives from, or
// "" if it is not a derived layer.
func (l *Layer) SourceLayerID() string { return l.cfg.SourceLayer }

// IsPaused reports whether this layer's underlying stream is paused; a
// layer with no stream (static/derived) is never considered paused.
func (l *Layer) IsPaused() bool {
	if l.cfg.Stream == nil {
		return false
	}
	return l.cfg.Stream.IsPaused()
}

// Start starts the underlying stream (if any) and spawns the producer
// goroutine unless this is a piggyback or static (url/image) layer, which
// emit zero producer frames by definition. Idempotent.
func (l *Layer) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.mu.Unlock()

	if l.cfg.Stream != nil {
		l.cfg.Stream.Start()
	}
	if l.cfg.Piggyback || l.IsStatic() {
		return
	}
	l.wg.Add(1)
	go l.producerLoop(l.stopCh)
}

// Stop halts the producer and joins it with a 1s timeout; it does not stop
// a shared stream (spec.md §4.2). Idempotent.
func (l *Layer) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stopCh := l.stopCh
	l.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		l.log.Warn("producer did not stop within 1s, abandoning")
	}
	if l.unregisterDerived != nil {
		l.unregisterDerived()
		l.unregisterDerived = nil
	}
}

func (l *Layer) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// BufferedFrame is one dequeued (timestamp, encoded, metadata) tuple.
type BufferedFrame struct {
	Timestamp float64
	Encoded   string
	Metadata  *frame.Metadata
}

// GetBufferedFrame pops the oldest buffered frame (FIFO), or ok=false if
// the buffer is empty.
func (l *Layer) GetBufferedFrame() (entry BufferedFrame, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buffer) == 0 {
		return entry, false
	}
	e := l.buffer[0]
	l.buffer = l.buffer[1:]
	return BufferedFrame{Timestamp: e.Timestamp, Encoded: e.Encoded, Metadata: e.Metadata}, true
}

// BufferLen returns the current buffered-frame count.
func (l *Layer) BufferLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// SetViewport replaces the layer's viewport snapshot; the snapshot a
// producer iteration sees is whatever was installed at the start of that
// iteration (spec.md §5 ordering guarantees).
func (l *Layer) SetViewport(v viewport.Viewport) {
	l.mu.Lock()
	l.lastViewport = v
	l.mu.Unlock()
}

// SetTargetSize sets the resize-before-encode target dimensions.
func (l *Layer) SetTargetSize(w, h int) {
	l.mu.Lock()
	l.targetW, l.targetH = w, h
	l.mu.Unlock()
}

// GetEffectiveViewport returns the depth-weighted (x,y,w,h,zoom) for this
// layer's current viewport snapshot.
func (l *Layer) GetEffectiveViewport() viewport.Viewport {
	l.mu.Lock()
	v, d := l.lastViewport, l.cfg.Depth
	l.mu.Unlock()
	return viewport.Effective(v, d)
}

// appendBounded appends e, evicting the oldest entry first if already at
// capacity — the shared eviction policy used by inject_frame, the producer
// loop's enqueue, and UpdateFromLastFrame. (The producer's buffer-full check
// sleeps instead of evicting.)
func (l *Layer) appendBounded(e bufEntry) {
	if len(l.buffer) >= l.cfg.BufferSize {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, e)
}

// InjectFrame enqueues an already-encoded frame directly (piggyback mode):
// if the buffer is at capacity, oldest frames are evicted first. stepTimings
// become filter-timing entries with start=0 so the client can render them.
func (l *Layer) InjectFrame(encodedDataURL string, birthTimestamp float64, stepTimings []frame.FilterTiming, anchorX, anchorY *float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	md := &frame.Metadata{
		FrameID:        frame.NextFrameID(),
		CaptureTime:    birthTimestamp * 1000,
		FilterTimings:  stepTimings,
		BufferCapacity: l.cfg.BufferSize,
		AnchorX:        anchorX,
		AnchorY:        anchorY,
	}
	l.appendBounded(bufEntry{Timestamp: birthTimestamp, Encoded: encodedDataURL, Metadata: md})
	md.BufferLength = len(l.buffer)
	l.framesProduced++
	if l.metrics != nil {
		l.metrics.RecordProduced(l.cfg.ID, 0, 0, 0, len(l.buffer), l.cfg.BufferSize)
	}
}

// UpdateFromLastFrame re-runs filter+crop+resize+encode on the source's
// last frame and enqueues exactly one frame, clearing the buffer first.
// Used when the source is paused but the viewport changed. Returns false
// if there is no last frame to process.
func (l *Layer) UpdateFromLastFrame() bool {
	if l.cfg.Stream == nil {
		return false
	}
	out := l.cfg.Stream.LastFrame()
	src := out.Get(l.streamOutputKey())
	if src == nil {
		return false
	}
	ts := l.cfg.Stream.LastFrameTimestamp()
	entry, md, err := l.process(src, ts)
	if err != nil {
		l.log.WithError(err).Warn("update_from_last_frame failed")
		return false
	}
	l.mu.Lock()
	l.buffer = l.buffer[:0]
	l.appendBounded(bufEntry{Timestamp: ts, Encoded: entry, Metadata: md})
	md.BufferLength = len(l.buffer)
	md.BufferCapacity = l.cfg.BufferSize
	l.mu.Unlock()
	return true
}

// streamOutputKey is the multi-output bundle key this layer subscribes to,
// empty for single-output streams (SPEC_FULL.md §12).
func (l *Layer) streamOutputKey() string { return "" }

// cropRect resolves this layer's own geometry (x,y,w,h) into pixel bounds,
// expanded by overscan, clamped to the frame. Used by derived-layer wiring.
func (l *Layer) cropRect(w, h int) (image.Rectangle, float64, float64, bool) {
	if l.cfg.X == nil || l.cfg.Y == nil || l.cfg.W == nil || l.cfg.H == nil {
		return image.Rect(0, 0, w, h), 0, 0, false
	}
	r := viewport.Rect{X0: *l.cfg.X, Y0: *l.cfg.Y, X1: *l.cfg.X + *l.cfg.W, Y1: *l.cfg.Y + *l.cfg.H}
	expanded, ax, ay := viewport.ExpandOverscan(r, l.cfg.Overscan, w, h)
	return image.Rect(expanded.X0, expanded.Y0, expanded.X1, expanded.Y1), ax, ay, l.cfg.Overscan > 0
}
