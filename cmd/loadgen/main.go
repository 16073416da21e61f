// Command loadgen drives N concurrent simulated clients against a running
// server: each peer opens a websocket signaling connection, requests pull-
// delivered frames from the "preview" layer, and answers the "live" layer's
// WebRTC offer to receive its track. Per-peer metrics are printed as JSON
// lines to stdout, one line per measurement interval per peer.
//
// Usage:
//
//	loadgen -server ws://localhost:8080/ws -peers 4 -interval 1s -duration 60s
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/stano45/streamcompositor/internal/signaling"
)

var (
	serverURL  = flag.String("server", "ws://localhost:8080/ws", "server websocket signaling URL")
	pullLayer  = flag.String("pull-layer", "preview", "layer id to issue frame-request pulls against")
	numPeers   = flag.Int("peers", 4, "number of concurrent simulated peers")
	interval   = flag.Duration("interval", time.Second, "metrics reporting interval")
	duration   = flag.Duration("duration", 0, "test duration (0 = until interrupted)")
	rampUp     = flag.Duration("ramp-up", 200*time.Millisecond, "delay between connecting each peer")
	pullPeriod = flag.Duration("pull-period", 33*time.Millisecond, "delay between frame-request pulls")
)

type peerMetrics struct {
	PeerID             int     `json:"peer_id"`
	TimestampUnixMilli int64   `json:"timestamp_unix_milli"`
	PullFrames         uint64  `json:"pull_frames"`
	PullBytes          uint64  `json:"pull_bytes"`
	PullBytesPerSecond float64 `json:"pull_bytes_per_second"`
	RTPPackets         uint64  `json:"rtp_packets"`
	RTPBytes           uint64  `json:"rtp_bytes"`
	WebRTCConnected    bool    `json:"webrtc_connected"`
	FirstFrameMs       int64   `json:"first_frame_ms,omitempty"`
}

type peer struct {
	id    int
	conn  *websocket.Conn
	start time.Time

	writeMu sync.Mutex

	pc *webrtc.PeerConnection

	pullFrames  atomic.Uint64
	pullBytes   atomic.Uint64
	rtpPackets  atomic.Uint64
	rtpBytes    atomic.Uint64
	firstFrame  atomic.Int64
	webrtcReady atomic.Bool

	prevPullBytes uint64
	prevTime      time.Time
}

func connectPeer(id int) (*peer, error) {
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	p := &peer{id: id, conn: conn, start: time.Now(), prevTime: time.Now()}

	p.send("component-ready", struct{}{})
	go p.readLoop()
	go p.pullLoop()
	return p, nil
}

func (p *peer) send(msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := signaling.Envelope{Type: msgType, Payload: raw}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.WriteJSON(env)
}

func (p *peer) pullLoop() {
	ticker := time.NewTicker(*pullPeriod)
	defer ticker.Stop()
	for range ticker.C {
		p.send("frame-request", struct {
			LayerID string `json:"layer_id"`
		}{*pullLayer})
	}
}

func (p *peer) readLoop() {
	defer p.conn.Close()
	for {
		var env signaling.Envelope
		if err := p.conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case "updateLayer":
			var u struct {
				LayerID string `json:"layer_id"`
				Encoded string `json:"encoded_data_url"`
			}
			if err := json.Unmarshal(env.Payload, &u); err != nil {
				continue
			}
			n := p.pullFrames.Add(1)
			p.pullBytes.Add(uint64(len(u.Encoded)))
			if n == 1 {
				p.firstFrame.Store(time.Since(p.start).Milliseconds())
			}
		case "setupWebRTCLayer":
			var s struct {
				LayerID string                    `json:"layer_id"`
				Offer   webrtc.SessionDescription `json:"offer"`
			}
			if err := json.Unmarshal(env.Payload, &s); err != nil {
				log.Printf("[peer-%d] malformed setupWebRTCLayer: %v", p.id, err)
				continue
			}
			if err := p.answerWebRTCOffer(s.LayerID, s.Offer); err != nil {
				log.Printf("[peer-%d] webrtc answer failed: %v", p.id, err)
			}
		}
	}
}

// answerWebRTCOffer implements the client side of spec.md §4.5/§4.7's
// offer/answer exchange: set the remote offer, create and gather a local
// answer, wire OnTrack to tally received RTP, and send webrtc-answer back.
func (p *peer) answerWebRTCOffer(layerID string, offer webrtc.SessionDescription) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	p.pc = pc

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		buf := make([]byte, 1500)
		for {
			n, _, err := track.Read(buf)
			if err != nil {
				return
			}
			p.rtpBytes.Add(uint64(n))
			p.rtpPackets.Add(1)
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.webrtcReady.Store(s == webrtc.PeerConnectionStateConnected)
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	p.send("webrtc-answer", struct {
		LayerID string                     `json:"layer_id"`
		Answer  *webrtc.SessionDescription `json:"answer"`
	}{layerID, pc.LocalDescription()})
	return nil
}

func (p *peer) snapshot() peerMetrics {
	now := time.Now()
	totalBytes := p.pullBytes.Load()
	dt := now.Sub(p.prevTime).Seconds()
	var bps float64
	if dt > 0 {
		bps = float64(totalBytes-p.prevPullBytes) / dt
	}
	m := peerMetrics{
		PeerID:             p.id,
		TimestampUnixMilli: now.UnixMilli(),
		PullFrames:         p.pullFrames.Load(),
		PullBytes:          totalBytes,
		PullBytesPerSecond: bps,
		RTPPackets:         p.rtpPackets.Load(),
		RTPBytes:           p.rtpBytes.Load(),
		WebRTCConnected:    p.webrtcReady.Load(),
	}
	if ff := p.firstFrame.Load(); ff > 0 {
		m.FirstFrameMs = ff
	}
	p.prevPullBytes = totalBytes
	p.prevTime = now
	return m
}

func (p *peer) close() {
	_ = p.conn.Close()
	if p.pc != nil {
		_ = p.pc.Close()
	}
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("load generator: server=%s peers=%d interval=%s duration=%s",
		*serverURL, *numPeers, *interval, *duration)

	enc := json.NewEncoder(os.Stdout)

	var peers []*peer
	var mu sync.Mutex
	for i := 0; i < *numPeers; i++ {
		p, err := connectPeer(i)
		if err != nil {
			log.Printf("[peer-%d] connect failed: %v", i, err)
			continue
		}
		mu.Lock()
		peers = append(peers, p)
		mu.Unlock()
		if i < *numPeers-1 {
			time.Sleep(*rampUp)
		}
	}
	log.Printf("connected %d / %d peers", len(peers), *numPeers)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var durationCh <-chan time.Time
	if *duration > 0 {
		durationCh = time.After(*duration)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			mu.Lock()
			for _, p := range peers {
				_ = enc.Encode(p.snapshot())
			}
			mu.Unlock()
		case <-durationCh:
			log.Printf("duration reached, shutting down")
			goto cleanup
		case sig := <-sigCh:
			log.Printf("received %s, shutting down", sig)
			goto cleanup
		}
	}

cleanup:
	mu.Lock()
	for _, p := range peers {
		p.close()
	}
	mu.Unlock()
	log.Printf("load generator finished")
}
