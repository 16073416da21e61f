package webrtcx

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
)

// OfferCallback is invoked once an offer's SDP has been rewritten with
// bitrate shaping, exactly spec.md §4.7's on_offer_cb.
type OfferCallback func(layerID string, offer webrtc.SessionDescription)

// connection bundles one layer's peer connection, track, and sample loop.
type connection struct {
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc
}

// Manager owns a dedicated background goroutine so pion's async primitives
// never touch the View's main loop, mirroring spec.md §4.7's event-loop
// thread via run_coroutine_threadsafe. Here that is modeled with a work
// queue drained by one goroutine plus per-call result channels.
type Manager struct {
	log *logrus.Entry

	work chan func()
	quit chan struct{}
	wg   sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*connection
}

// NewManager starts the dedicated event-loop goroutine.
func NewManager() *Manager {
	m := &Manager{
		log:   logrus.WithField("component", "webrtc_manager"),
		work:  make(chan func(), 64),
		quit:  make(chan struct{}),
		conns: make(map[string]*connection),
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.work:
			fn()
		case <-m.quit:
			return
		}
	}
}

// runSync posts fn to the event-loop goroutine and blocks for its result,
// with a deadline — the Go analogue of run_coroutine_threadsafe(...).result(timeout).
func (m *Manager) runSync(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case m.work <- func() { done <- fn() }:
	case <-m.quit:
		return fmt.Errorf("webrtc manager shut down")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateConnection implements spec.md §4.7's create_connection: sets codec
// bitrate defaults, creates a peer connection + track, installs state
// observers, negotiates an offer, waits for ICE gathering completion,
// rewrites the SDP, and invokes onOffer — all on the manager's own thread.
func (m *Manager) CreateConnection(layerID string, cfg *LayerConfig, onOffer OfferCallback) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.runSync(ctx, func() error {
		SetCodecBitrate(cfg.Codec, cfg.BitrateBps)

		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		})
		if err != nil {
			return fmt.Errorf("new peer connection: %w", err)
		}

		mimeType := webrtc.MimeTypeH264
		switch cfg.Codec {
		case CodecVP8:
			mimeType = webrtc.MimeTypeVP8
		case CodecVP9:
			mimeType = webrtc.MimeTypeVP9
		}

		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: mimeType},
			"video", "streamcompositor-"+uuid.NewString(),
		)
		if err != nil {
			_ = pc.Close()
			return fmt.Errorf("new track: %w", err)
		}
		if _, err := pc.AddTrack(track); err != nil {
			_ = pc.Close()
			return fmt.Errorf("add track: %w", err)
		}

		connCtx, connCancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.conns[layerID] = &connection{pc: pc, cancel: connCancel}
		m.mu.Unlock()

		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			m.log.WithField("layer_id", layerID).WithField("state", s.String()).Info("connection state changed")
			if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
				m.CloseConnection(layerID)
			}
		})
		pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
			m.log.WithField("layer_id", layerID).WithField("ice_state", s.String()).Debug("ice state changed")
		})

		vidTrack := NewTrack(cfg, func(img image.Image, pts time.Duration) error {
			return track.WriteSample(media.Sample{Data: imageBytes(img), Duration: time.Second / time.Duration(cfg.EffectiveFPS())})
		})
		go vidTrack.Run(connCtx.Done())

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return fmt.Errorf("create offer: %w", err)
		}
		gatherComplete := webrtc.GatheringCompletePromise(pc)
		if err := pc.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		<-gatherComplete

		final := pc.LocalDescription()
		rewritten := webrtc.SessionDescription{
			Type: final.Type,
			SDP:  RewriteSDPBitrate(final.SDP, cfg.BitrateBps),
		}
		onOffer(layerID, rewritten)
		return nil
	})
}

// imageBytes extracts raw pixel bytes from img for transport down to the
// sample writer; actual codec bitstream encoding happens in the codec
// library this component treats as an external collaborator.
func imageBytes(img image.Image) []byte {
	b := img.Bounds()
	buf := make([]byte, 0, b.Dx()*b.Dy()*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			buf = append(buf, byte(r>>8), byte(g>>8), byte(bl>>8), byte(a>>8))
		}
	}
	return buf
}

// HandleAnswer sets the remote description for layerID; logs if unknown.
func (m *Manager) HandleAnswer(layerID string, answer webrtc.SessionDescription) {
	m.mu.Lock()
	conn, ok := m.conns[layerID]
	m.mu.Unlock()
	if !ok {
		m.log.WithField("layer_id", layerID).Warn("webrtc answer for unknown layer")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = m.runSync(ctx, func() error {
		return conn.pc.SetRemoteDescription(answer)
	})
}

// CloseConnection tears down layerID's connection, idempotent.
func (m *Manager) CloseConnection(layerID string) {
	m.mu.Lock()
	conn, ok := m.conns[layerID]
	if ok {
		delete(m.conns, layerID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	conn.cancel()
	_ = conn.pc.Close()
}

// CloseAll tears down every connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.CloseConnection(id)
	}
}

// Shutdown closes all connections and stops the event-loop goroutine.
func (m *Manager) Shutdown() {
	m.CloseAll()
	close(m.quit)
	m.wg.Wait()
}
