package source

import (
	"sync"
	"time"

	"github.com/stano45/streamcompositor/internal/frame"
)

// Capturer abstracts a live camera device: an external collaborator that
// owns its own decoder thread and hands back the most recent frame.
type Capturer interface {
	// Open starts the device's own capture goroutine; Close stops it.
	Open() error
	Close() error
	// Capture returns the most recently captured frame, or nil if none
	// yet, and is expected to be cheap/non-blocking (the device's own
	// goroutine does the blocking read).
	Capture() *frame.Frame
}

// Camera is the Stream source variant backed by a live device, run on its
// own capture goroutine independent of any Layer producer (spec.md §5).
type Camera struct {
	base

	Device string
	fps    float64
	cap    Capturer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCamera(device string, fps float64, cap Capturer) *Camera {
	return &Camera{Device: device, fps: fps, cap: cap}
}

func (c *Camera) FPS() float64            { return c.fps }
func (c *Camera) MaxFPS() float64         { return 0 }
func (c *Camera) PlaybackSpeed() float64  { return 1 }

func (c *Camera) Start() {
	if c.IsRunning() {
		return
	}
	c.base.Start()
	if err := c.cap.Open(); err != nil {
		c.base.Stop()
		return
	}
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.captureLoop(c.stopCh)
}

func (c *Camera) Stop() {
	if !c.IsRunning() {
		return
	}
	c.base.Stop()
	close(c.stopCh)
	c.wg.Wait()
	_ = c.cap.Close()
}

// captureLoop polls the device's own capture buffer and publishes any new
// distinct frame, independent of whatever layer producers request frames.
func (c *Camera) captureLoop(stop chan struct{}) {
	defer c.wg.Done()
	var lastPtr *frame.Frame
	for {
		select {
		case <-stop:
			return
		default:
		}
		if c.IsPaused() {
			time.Sleep(time.Millisecond)
			continue
		}
		fr := c.cap.Capture()
		if fr == nil || fr == lastPtr {
			time.Sleep(time.Millisecond)
			continue
		}
		lastPtr = fr
		c.publish(&Output{Frame: fr}, fr.CaptureTime)
	}
}

func (c *Camera) GetFrame(now float64) (*Output, uint64) {
	c.lastFrameMu.RLock()
	defer c.lastFrameMu.RUnlock()
	return c.lastFrame, c.frameIndex
}

var _ Source = (*Camera)(nil)
