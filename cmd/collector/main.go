// Command collector polls a running server's /metrics.json endpoint and
// appends one CSV row per layer per collection interval, for offline
// analysis of pacing/backpressure behavior (buffer depth, drop rate,
// capture/filter/encode timings) across a test run.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/stano45/streamcompositor/internal/metrics"
)

var (
	metricsURL = flag.String("metrics-url", "", "server /metrics.json URL (required)")
	outputFile = flag.String("output", "results/layer_metrics.csv", "CSV output path")
	interval   = flag.Duration("interval", time.Second, "collection interval")
)

func main() {
	flag.Parse()
	if *metricsURL == "" {
		log.Fatal("-metrics-url is required")
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("cannot create output file: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	header := []string{
		"timestamp", "elapsed_s", "layer_id",
		"capture_ms", "filter_ms", "encode_ms",
		"buffer_depth", "buffer_size",
		"frames_produced", "frames_delivered", "frames_dropped",
		"target_fps", "actual_fps",
	}
	_ = w.Write(header)
	w.Flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down collector...")
		cancel()
	}()

	httpClient := &http.Client{Timeout: 3 * time.Second}
	start := time.Now()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	log.Printf("collector started: metrics=%s interval=%s output=%s", *metricsURL, *interval, *outputFile)

	for {
		select {
		case <-ctx.Done():
			log.Println("collector stopped")
			return
		case t := <-ticker.C:
			snap, err := fetchSnapshot(httpClient, *metricsURL)
			if err != nil {
				log.Printf("fetch metrics: %v", err)
				continue
			}
			elapsed := t.Sub(start).Seconds()
			for _, id := range sortedLayerIDs(snap) {
				lm := snap.Layers[id]
				row := []string{
					t.Format(time.RFC3339Nano),
					fmt.Sprintf("%.3f", elapsed),
					lm.LayerID,
					fmt.Sprintf("%.3f", lm.CaptureMs),
					fmt.Sprintf("%.3f", lm.FilterMs),
					fmt.Sprintf("%.3f", lm.EncodeMs),
					fmt.Sprintf("%d", lm.BufferDepth),
					fmt.Sprintf("%d", lm.BufferSize),
					fmt.Sprintf("%d", lm.FramesProduced),
					fmt.Sprintf("%d", lm.FramesDelivered),
					fmt.Sprintf("%d", lm.FramesDropped),
					fmt.Sprintf("%.1f", lm.TargetFPS),
					fmt.Sprintf("%.1f", lm.ActualFPS),
				}
				_ = w.Write(row)
			}
			w.Flush()
		}
	}
}

func fetchSnapshot(client *http.Client, url string) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	resp, err := client.Get(url)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func sortedLayerIDs(snap metrics.Snapshot) []string {
	ids := make([]string, 0, len(snap.Layers))
	for id := range snap.Layers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
