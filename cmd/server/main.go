// Command server runs a streamcompositor session endpoint.
//
// Each websocket connection upgraded at /ws gets its own View: a demo layer
// set (a pull-delivered generator preview plus the same generator pushed out
// as a WebRTC track) wired to every client-originated signaling event.
// Real deployments replace demoLayers with an application-specific layer
// set; the View/Layer/Source/WebRTC plumbing underneath is unchanged.
//
// Endpoints:
//
//	GET  /ws           – websocket signaling connection (spec.md §6)
//	GET  /metrics       – Prometheus exposition
//	GET  /metrics.json  – JSON metrics snapshot (getMetrics())
//	GET  /health        – liveness check
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stano45/streamcompositor/internal/config"
	"github.com/stano45/streamcompositor/internal/frame"
	"github.com/stano45/streamcompositor/internal/layer"
	"github.com/stano45/streamcompositor/internal/metrics"
	"github.com/stano45/streamcompositor/internal/signaling"
	"github.com/stano45/streamcompositor/internal/source"
	"github.com/stano45/streamcompositor/internal/view"
	"github.com/stano45/streamcompositor/internal/viewport"
	"github.com/stano45/streamcompositor/internal/webrtcx"
)

func main() {
	root := &cobra.Command{
		Use:   "streamcompositor-server",
		Short: "Multi-layer real-time video compositing and transport server",
	}
	loadCfg := config.Bind(root.Flags())
	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCfg()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runServer(cfg)
	}

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("server exited with error")
	}
}

func runServer(cfg config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.WithField("component", "server")

	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)

	sigMux := http.NewServeMux()
	sigMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleSession(w, r, cfg, reg, log)
	})
	sigMux.HandleFunc("/health", handleHealth)

	metMux := http.NewServeMux()
	metMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metMux.HandleFunc("/metrics.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.ToDict())
	})
	metMux.HandleFunc("/health", handleHealth)

	sigServer := &http.Server{Addr: cfg.ListenAddr, Handler: sigMux}
	metServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metMux}

	errCh := make(chan error, 2)
	go func() { errCh <- sigServer.ListenAndServe() }()
	go func() { errCh <- metServer.ListenAndServe() }()

	log.WithFields(logrus.Fields{
		"signaling_addr": cfg.ListenAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"default_codec":  cfg.DefaultCodec,
	}).Info("streamcompositor server listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-stop:
		log.Info("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sigServer.Shutdown(ctx)
	_ = metServer.Shutdown(ctx)
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSession upgrades one websocket connection, builds a View bound to
// it as the Sink, wires the frame-request, component-ready, viewport-change
// and webrtc-answer events to the corresponding View methods, and blocks
// serving that connection until it disconnects. Mouse and size-changed
// events have no handler here and are ignored.
func handleSession(w http.ResponseWriter, r *http.Request, cfg config.Config, reg *metrics.Registry, log *logrus.Entry) {
	client, err := signaling.Upgrade(w, r)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sessionLog := log.WithField("remote_addr", r.RemoteAddr)
	v := view.New(client, reg)
	gen := source.NewGenerator(testPatternFrame, 30)

	const (
		previewLayerID = "preview"
		liveLayerID    = "live"
	)
	if _, err := v.AddLayer(layer.Config{
		ID:          previewLayerID,
		Name:        "preview",
		ZIndex:      0,
		TargetFPS:   30,
		Stream:      gen,
		JPEGQuality: cfg.DefaultJPEGQuality,
		BufferSize:  4,
	}); err != nil {
		sessionLog.WithError(err).Error("failed to add preview layer")
		return
	}
	v.AddWebRTCLayer(liveLayerID, gen, 1, parseCodec(cfg.DefaultCodec), cfg.DefaultBitrateBps, "live")

	client.OnFrameRequest = func(layerID string) {
		if err := v.HandleFrameRequest(layerID); err != nil {
			sessionLog.WithField("layer_id", layerID).Debug(err)
		}
	}
	client.OnComponentReady = v.HandleComponentReady
	client.OnViewportChange = func(payload json.RawMessage) {
		var p struct {
			X, Y, Width, Height, Zoom float64
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			sessionLog.WithError(err).Debug("malformed viewport-change payload")
			return
		}
		v.SetViewport(viewport.Viewport{X: p.X, Y: p.Y, W: p.Width, H: p.Height, Zoom: p.Zoom})
	}
	client.OnWebRTCAnswer = func(payload json.RawMessage) {
		var p struct {
			LayerID string                    `json:"layer_id"`
			Answer  webrtc.SessionDescription `json:"answer"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			sessionLog.WithError(err).Warn("malformed webrtc-answer payload")
			return
		}
		v.HandleWebRTCAnswer(p.LayerID, p.Answer)
	}

	v.Start()
	sessionLog.Info("session started")

	client.Serve() // blocks until the connection closes

	v.Stop()
	sessionLog.Info("session ended")
}

func parseCodec(name string) webrtcx.Codec {
	switch name {
	case "h264":
		return webrtcx.CodecH264
	case "vp9":
		return webrtcx.CodecVP9
	default:
		return webrtcx.CodecVP8
	}
}

// testPatternFrame renders a small moving gradient, standing in for a real
// decoded/captured source in this entrypoint's demo layer set.
func testPatternFrame(ts float64) *source.Output {
	const w, h = 640, 360
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	phase := math.Mod(ts, 4) / 4
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r := byte(int(255*phase+x) % 256)
			g := byte(int(255*(1-phase)+y) % 256)
			b := byte((x + y) % 256)
			i := img.PixOffset(x, y)
			img.Pix[i+0] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = 0xff
		}
	}
	return &source.Output{Frame: &frame.Frame{
		Width: w, Height: h, Format: frame.FormatRGBA, Pix: img.Pix, CaptureTime: ts,
	}}
}
