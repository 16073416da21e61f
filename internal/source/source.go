// Package source implements the Stream source contract (spec.md §4.1):
// a uniform frame-producer interface shared by video files, cameras, and
// user-supplied generators, plus the synchronous on_frame callback
// mechanism that piggyback/derived layers ride.
package source

import (
	"sync"

	"github.com/stano45/streamcompositor/internal/frame"
)

// FrameCallback is invoked synchronously, inline on the producing thread,
// whenever a Source produces a new distinct frame. Required for piggyback
// and derived-layer wiring (spec.md §4.3) — it must never block for long,
// since it runs on the source's own capture/producer goroutine.
type FrameCallback func(out *Output, captureTime float64)

// Output is what GetFrame returns: either a single frame (Frame set, Bundle
// nil) or a multi-output bundle keyed by output name (spec.md §4.1).
type Output struct {
	Frame  *frame.Frame
	Bundle map[string]*frame.Frame
}

// Get resolves a named output. When no bundle is present it returns the
// single Frame whatever key is requested; with a bundle, an unknown key
// yields nil.
func (o *Output) Get(key string) *frame.Frame {
	if o == nil {
		return nil
	}
	if o.Bundle != nil {
		return o.Bundle[key]
	}
	return o.Frame
}

// Source is the common contract every stream source variant implements.
type Source interface {
	Start()
	Stop()
	IsRunning() bool
	IsPaused() bool
	Pause()
	Resume()

	// GetFrame returns the frame appropriate for wall-clock now (seconds)
	// and a monotonically-increasing frame index; callers detect "nothing
	// new" by comparing the returned index against the last one seen.
	GetFrame(now float64) (*Output, uint64)

	LastFrame() *Output
	LastFrameTimestamp() float64

	OnFrame(cb FrameCallback) (unregister func())

	// FPS and MaxFPS describe pacing; non-video sources return fps<=0 and
	// the Layer falls back to its own target_fps (spec.md §4.2 step 4).
	FPS() float64
	MaxFPS() float64
	PlaybackSpeed() float64
}

// base implements the shared running/paused/last-frame/callback
// bookkeeping every concrete source embeds.
type base struct {
	mu      sync.Mutex
	running bool
	paused  bool

	cbMu      sync.Mutex
	callbacks []FrameCallback

	lastFrameMu sync.RWMutex
	lastFrame   *Output
	lastFrameTS float64
	frameIndex  uint64
}

func (b *base) Start() {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
}

func (b *base) Stop() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

func (b *base) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *base) IsPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

func (b *base) Pause() {
	b.mu.Lock()
	b.paused = true
	b.mu.Unlock()
}

func (b *base) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
}

func (b *base) LastFrame() *Output {
	b.lastFrameMu.RLock()
	defer b.lastFrameMu.RUnlock()
	return b.lastFrame
}

func (b *base) LastFrameTimestamp() float64 {
	b.lastFrameMu.RLock()
	defer b.lastFrameMu.RUnlock()
	return b.lastFrameTS
}

// OnFrame registers cb and returns an unregister closure. Deregistration
// nils the slot rather than mutating the slice's length, so a callback
// invocation in progress on another goroutine never observes a shifted
// index.
func (b *base) OnFrame(cb FrameCallback) func() {
	b.cbMu.Lock()
	b.callbacks = append(b.callbacks, cb)
	idx := len(b.callbacks) - 1
	b.cbMu.Unlock()
	return func() {
		b.cbMu.Lock()
		defer b.cbMu.Unlock()
		b.callbacks[idx] = nil
	}
}

// publish stores out as last-frame, advances the frame index, and invokes
// every registered callback inline on the calling goroutine, per spec.md
// §4.3's synchronous-callback requirement.
func (b *base) publish(out *Output, ts float64) uint64 {
	b.lastFrameMu.Lock()
	b.lastFrame = out
	b.lastFrameTS = ts
	b.frameIndex++
	idx := b.frameIndex
	b.lastFrameMu.Unlock()

	b.cbMu.Lock()
	cbs := append([]FrameCallback(nil), b.callbacks...)
	b.cbMu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(out, ts)
		}
	}
	return idx
}
