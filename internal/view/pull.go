package view

import (
	"fmt"
	"time"

	"github.com/stano45/streamcompositor/internal/layer"
)

// HandleFrameRequest implements spec.md §4.4's frame-request algorithm:
// opportunistically start pending WebRTC configs, reject unknown/static
// layers, drop duplicate in-flight requests, try the buffer, else produce
// asynchronously.
func (v *View) HandleFrameRequest(layerID string) error {
	v.startPendingWebRTCOnce()

	v.mu.Lock()
	l, ok := v.layers[layerID]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown layer %q", layerID)
	}
	if l.IsStatic() {
		return fmt.Errorf("layer %q is static", layerID)
	}

	v.pendingMu.Lock()
	if _, inFlight := v.pending[layerID]; inFlight {
		v.pendingMu.Unlock()
		return nil // drop: a previous request is still in flight
	}
	p := &pendingPull{done: make(chan struct{})}
	v.pending[layerID] = p
	v.pendingMu.Unlock()

	if entry, ok := l.GetBufferedFrame(); ok {
		v.finishPending(layerID)
		v.reg.RecordDelivered(layerID)
		entry.Metadata.SendTime = nowMs()
		v.sink.UpdateLayer(layerID, entry.Encoded, entry.Metadata)
		return nil
	}

	go v.produceFrameAsync(layerID, l, p)
	return nil
}

// produceFrameAsync implements _produce_frame_sync on a worker goroutine:
// re-render the layer's last frame synchronously and deliver it, cleaning
// up pending-task state regardless of outcome.
func (v *View) produceFrameAsync(layerID string, l *layer.Layer, p *pendingPull) {
	defer v.finishPending(layerID)
	defer close(p.done)

	if l.UpdateFromLastFrame() {
		if entry, ok := l.GetBufferedFrame(); ok {
			v.reg.RecordDelivered(layerID)
			entry.Metadata.SendTime = nowMs()
			v.sink.UpdateLayer(layerID, entry.Encoded, entry.Metadata)
		}
	}
}

func (v *View) finishPending(layerID string) {
	v.pendingMu.Lock()
	delete(v.pending, layerID)
	v.pendingMu.Unlock()
}

func nowMs() float64 { return float64(time.Now().UnixNano()) / 1e6 }

// pendingGCLoop is the ~200Hz periodic safety valve that clears the pending
// set when it holds more than 100 entries (spec.md §4.4). Completed tasks
// remove their own entries via finishPending; this tick does not scan them.
func (v *View) pendingGCLoop() {
	defer v.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			v.pendingMu.Lock()
			if len(v.pending) > 100 {
				v.pending = make(map[string]*pendingPull)
			}
			v.pendingMu.Unlock()
		}
	}
}
