// Package view implements the View: the layer set, shared viewport, event
// plumbing, and transport multiplexing (spec.md §3 View, §4.4, §4.5).
package view

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stano45/streamcompositor/internal/layer"
	"github.com/stano45/streamcompositor/internal/metrics"
	"github.com/stano45/streamcompositor/internal/source"
	"github.com/stano45/streamcompositor/internal/viewport"
	"github.com/stano45/streamcompositor/internal/webrtcx"
)

// LayerConfigMsg is the addLayer client-bound message payload (spec.md §6).
type LayerConfigMsg struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	ZIndex         int     `json:"z_index"`
	TargetFPS      float64 `json:"target_fps"`
	IsStatic       bool    `json:"is_static"`
	SourceType     string  `json:"source_type"`
	ImageFormat    string  `json:"image_format"`
	X              *int    `json:"x,omitempty"`
	Y              *int    `json:"y,omitempty"`
	Width          *int    `json:"width,omitempty"`
	Height         *int    `json:"height,omitempty"`
	Depth          float64 `json:"depth"`
	Overscan       int     `json:"overscan"`
	StaticContent  string  `json:"static_content,omitempty"`
}

// Sink is the outbound message transport the View pushes client-bound
// messages through (implemented by internal/signaling).
type Sink interface {
	AddLayer(cfg LayerConfigMsg)
	UpdateLayer(layerID, encodedDataURL string, meta any)
	RemoveLayer(layerID string)
	SetLayerMask(layerID, maskDataURL string)
	SetupWebRTCLayer(layerID string, offer any, zIndex int, name string)
	RemoveWebRTCLayer(layerID string)
}

// pendingPull tracks one in-flight asynchronous frame production.
type pendingPull struct {
	done chan struct{}
}

// webrtcPendingConfig is a config queued for a first SDP negotiation.
type webrtcPendingConfig struct {
	layerID string
	cfg     *webrtcx.LayerConfig
}

// View owns the layer set, viewport, and transport multiplexing.
type View struct {
	log *logrus.Entry

	mu       sync.Mutex
	layers   map[string]*layer.Layer
	order    []string // z-index sorted, ties by insertion
	viewport viewport.Viewport

	webrtcLayers map[string]*webrtcx.LayerConfig
	webrtcMgr    *webrtcx.Manager

	pendingMu sync.Mutex
	pending   map[string]*pendingPull

	pendingConfigsMu sync.Mutex
	pendingConfigs   []webrtcPendingConfig
	pendingOffersMu  sync.Mutex
	pendingOffers    []func()

	startedMu sync.Mutex
	started   bool

	sink Sink
	reg  *metrics.Registry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a View bound to sink for outbound messages.
func New(sink Sink, reg *metrics.Registry) *View {
	return &View{
		log:          logrus.WithField("component", "view"),
		layers:       make(map[string]*layer.Layer),
		viewport:     viewport.Default(),
		webrtcLayers: make(map[string]*webrtcx.LayerConfig),
		pending:      make(map[string]*pendingPull),
		sink:         sink,
		reg:          reg,
	}
}

// Start launches the periodic pending-frame GC (~200Hz) and the WebRTC
// pending-config/offer drain tick (~10Hz), per spec.md §4.4/§4.5.
func (v *View) Start() {
	v.stopCh = make(chan struct{})
	v.wg.Add(2)
	go v.pendingGCLoop()
	go v.webrtcTickLoop()
}

// Stop halts both periodic ticks and every layer.
func (v *View) Stop() {
	if v.stopCh != nil {
		close(v.stopCh)
	}
	v.wg.Wait()
	v.mu.Lock()
	layers := make([]*layer.Layer, 0, len(v.layers))
	for _, l := range v.layers {
		layers = append(layers, l)
	}
	v.mu.Unlock()
	for _, l := range layers {
		l.Stop()
	}
	if v.webrtcMgr != nil {
		v.webrtcMgr.Shutdown()
	}
}

// AddLayer constructs and registers a new Layer, sends addLayer, starts it,
// and wires derived-layer/on_frame callbacks when cfg.SourceLayer is set.
func (v *View) AddLayer(cfg layer.Config) (*layer.Layer, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	l, err := layer.New(cfg, v.reg)
	if err != nil {
		return nil, err
	}

	if cfg.SourceLayer != "" {
		ancestor, ok := v.resolveAncestorStream(cfg.SourceLayer)
		if !ok {
			v.log.WithField("layer_id", cfg.ID).Warn("derived layer has no ancestor stream, layer is inert")
		} else {
			l.AttachDerived(ancestor)
		}
	}

	v.mu.Lock()
	v.layers[cfg.ID] = l
	v.order = append(v.order, cfg.ID)
	v.resortLocked()
	v.mu.Unlock()

	v.sink.AddLayer(v.buildLayerConfigMsg(cfg))
	l.Start()
	return l, nil
}

// resolveAncestorStream walks source-layer links upward to find the
// nearest ancestor with a real Stream (spec.md §4.3).
func (v *View) resolveAncestorStream(sourceLayerID string) (source.Source, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	seen := map[string]bool{}
	id := sourceLayerID
	for {
		if seen[id] {
			return nil, false
		}
		seen[id] = true
		l, ok := v.layers[id]
		if !ok {
			return nil, false
		}
		if s := l.StreamSource(); s != nil {
			return s, true
		}
		parent := l.SourceLayerID()
		if parent == "" {
			return nil, false
		}
		id = parent
	}
}

func (v *View) buildLayerConfigMsg(cfg layer.Config) LayerConfigMsg {
	sourceType := "stream"
	switch {
	case cfg.URL != "":
		sourceType = "url"
	case cfg.Image != nil:
		sourceType = "image"
	case cfg.SourceLayer != "":
		sourceType = "derived"
	}
	fmtName := "JPEG"
	if cfg.UsePNG {
		fmtName = "PNG"
	}
	msg := LayerConfigMsg{
		ID: cfg.ID, Name: cfg.Name, ZIndex: cfg.ZIndex, TargetFPS: cfg.TargetFPS,
		IsStatic: cfg.URL != "" || cfg.Image != nil, SourceType: sourceType,
		ImageFormat: fmtName, X: cfg.X, Y: cfg.Y, Width: cfg.W, Height: cfg.H,
		Depth: cfg.Depth, Overscan: cfg.Overscan,
	}
	return msg
}

// RemoveLayer stops and unregisters a layer, sending removeLayer.
func (v *View) RemoveLayer(layerID string) {
	v.mu.Lock()
	l, ok := v.layers[layerID]
	if ok {
		delete(v.layers, layerID)
		for i, id := range v.order {
			if id == layerID {
				v.order = append(v.order[:i], v.order[i+1:]...)
				break
			}
		}
	}
	v.mu.Unlock()
	if !ok {
		return
	}
	l.Stop()
	v.sink.RemoveLayer(layerID)
}

func (v *View) resortLocked() {
	sort.SliceStable(v.order, func(i, j int) bool {
		return v.layers[v.order[i]].ZIndex() < v.layers[v.order[j]].ZIndex()
	})
}

// SetLayerMask sends a grayscale-PNG alpha mask for a layer (SPEC_FULL §12).
func (v *View) SetLayerMask(layerID, maskDataURL string) {
	v.sink.SetLayerMask(layerID, maskDataURL)
}

// SetViewport broadcasts a new viewport to every layer and WebRTC config.
// Paused layers re-render immediately via update_from_last_frame (spec.md
// §4.4 DESIGN NOTES / SPEC_FULL §12).
func (v *View) SetViewport(vp viewport.Viewport) {
	v.mu.Lock()
	v.viewport = vp
	layers := make([]*layer.Layer, 0, len(v.layers))
	for _, l := range v.layers {
		layers = append(layers, l)
	}
	webrtcCfgs := make([]*webrtcx.LayerConfig, 0, len(v.webrtcLayers))
	for _, c := range v.webrtcLayers {
		webrtcCfgs = append(webrtcCfgs, c)
	}
	v.mu.Unlock()

	for _, l := range layers {
		l.SetViewport(vp)
		if l.IsPaused() {
			l.UpdateFromLastFrame()
		}
	}
	for _, c := range webrtcCfgs {
		c.SetViewport(vp)
	}
}
