package view

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/stano45/streamcompositor/internal/source"
	"github.com/stano45/streamcompositor/internal/webrtcx"
)

// AddWebRTCLayer creates a WebRTCLayerConfig and enqueues it on the
// pending-configs queue rather than negotiating immediately (spec.md §4.5):
// offer generation happens on the WebRTC manager's own thread, dispatch on
// the view's tick.
func (v *View) AddWebRTCLayer(layerID string, stream source.Source, zIndex int, codec webrtcx.Codec, bitrateBps int, name string) {
	v.mu.Lock()
	if v.webrtcMgr == nil {
		v.webrtcMgr = webrtcx.NewManager()
	}
	cfg := webrtcx.NewLayerConfig(stream, zIndex, codec, bitrateBps, name)
	v.webrtcLayers[layerID] = cfg
	v.mu.Unlock()

	v.pendingConfigsMu.Lock()
	v.pendingConfigs = append(v.pendingConfigs, webrtcPendingConfig{layerID: layerID, cfg: cfg})
	v.pendingConfigsMu.Unlock()
}

// RemoveWebRTCLayer closes the connection (if any) and removes the config.
func (v *View) RemoveWebRTCLayer(layerID string) {
	v.mu.Lock()
	_, ok := v.webrtcLayers[layerID]
	delete(v.webrtcLayers, layerID)
	mgr := v.webrtcMgr
	v.mu.Unlock()
	if !ok {
		return
	}
	if mgr != nil {
		mgr.CloseConnection(layerID)
	}
	v.sink.RemoveWebRTCLayer(layerID)
}

// HandleWebRTCAnswer forwards a client's answer to the manager.
func (v *View) HandleWebRTCAnswer(layerID string, answer webrtc.SessionDescription) {
	v.mu.Lock()
	mgr := v.webrtcMgr
	v.mu.Unlock()
	if mgr == nil {
		return
	}
	mgr.HandleAnswer(layerID, answer)
}

// startPendingWebRTCOnce fires the pending-WebRTC start hook exactly once,
// on the first frame-request or a component-ready event (spec.md §4.4/§4.5
// two-phase deferral: the first client interaction starts negotiation).
func (v *View) startPendingWebRTCOnce() {
	v.startedMu.Lock()
	if v.started {
		v.startedMu.Unlock()
		return
	}
	v.started = true
	v.startedMu.Unlock()
	v.drainPendingConfigs()
}

// HandleComponentReady is the component-ready client event: fires the same
// pending-WebRTC start hook as the first frame-request.
func (v *View) HandleComponentReady() {
	v.startPendingWebRTCOnce()
}

// drainPendingConfigs initiates SDP negotiation for every queued config,
// queuing the resulting offer-dispatch for the next tick rather than
// calling the sink inline (offer generation happens on the manager's
// thread; dispatch must happen on the view's own goroutine/tick).
func (v *View) drainPendingConfigs() {
	v.pendingConfigsMu.Lock()
	pending := v.pendingConfigs
	v.pendingConfigs = nil
	v.pendingConfigsMu.Unlock()

	v.mu.Lock()
	mgr := v.webrtcMgr
	v.mu.Unlock()
	if mgr == nil {
		return
	}

	for _, pc := range pending {
		pc := pc
		err := mgr.CreateConnection(pc.layerID, pc.cfg, func(layerID string, offer webrtc.SessionDescription) {
			v.pendingOffersMu.Lock()
			v.pendingOffers = append(v.pendingOffers, func() {
				v.sink.SetupWebRTCLayer(layerID, offer, pc.cfg.ZIndex, pc.cfg.Name)
			})
			v.pendingOffersMu.Unlock()
		})
		if err != nil {
			v.log.WithField("layer_id", pc.layerID).WithError(err).Error("webrtc offer creation failed, will retry on next tick")
			v.pendingConfigsMu.Lock()
			v.pendingConfigs = append(v.pendingConfigs, pc)
			v.pendingConfigsMu.Unlock()
		}
	}
}

// webrtcTickLoop is the ~10Hz periodic tick that drains pending configs and
// dispatches pending offers (spec.md §4.5).
func (v *View) webrtcTickLoop() {
	defer v.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-v.stopCh:
			return
		case <-ticker.C:
			v.drainPendingConfigs()
			v.drainPendingOffers()
		}
	}
}

func (v *View) drainPendingOffers() {
	v.pendingOffersMu.Lock()
	offers := v.pendingOffers
	v.pendingOffers = nil
	v.pendingOffersMu.Unlock()
	for _, dispatch := range offers {
		dispatch()
	}
}
