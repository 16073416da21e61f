// Package frame holds the pixel-buffer and per-frame diagnostic types
// shared by every stream source, layer producer, and transport.
package frame

import (
	"image"
	"sync/atomic"
)

// PixFormat tags the channel layout of a Frame's owned buffer.
type PixFormat int

const (
	FormatRGB PixFormat = iota
	FormatRGBA
	FormatGray
)

// Frame is an owned pixel buffer produced by a Stream source and consumed
// by exactly one Layer producer iteration before being discarded.
type Frame struct {
	Width, Height int
	Format        PixFormat
	Pix           []byte // tightly packed, Format-dependent stride
	CaptureTime   float64 // seconds, monotonic clock domain
}

// Image returns a stdlib image.Image for use by the image/jpeg, image/png
// and golang.org/x/image/draw packages. Gray and RGBA frames are wrapped
// without copying; RGB frames are copied into a newly allocated RGBA image.
func (f *Frame) Image() image.Image {
	switch f.Format {
	case FormatGray:
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
	case FormatRGBA:
		return &image.RGBA{Pix: f.Pix, Stride: f.Width * 4, Rect: image.Rect(0, 0, f.Width, f.Height)}
	default: // FormatRGB: widen into RGBA since stdlib has no tight RGB image type
		rgba := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
		for i, j := 0, 0; i+2 < len(f.Pix) && j+3 < len(rgba.Pix); i, j = i+3, j+4 {
			rgba.Pix[j] = f.Pix[i]
			rgba.Pix[j+1] = f.Pix[i+1]
			rgba.Pix[j+2] = f.Pix[i+2]
			rgba.Pix[j+3] = 0xff
		}
		return rgba
	}
}

// Clone returns a deep copy; used when a producer must hold onto a frame
// (last-good-frame fallback) past the source's own buffer lifetime.
func (f *Frame) Clone() *Frame {
	cp := *f
	cp.Pix = append([]byte(nil), f.Pix...)
	return &cp
}

// FilterTiming records one filter pipeline stage's wall-clock span.
type FilterTiming struct {
	Name             string  `json:"name"`
	StartMs          float64 `json:"start_ms"`
	EndMs            float64 `json:"end_ms"`
	DurationMs       float64 `json:"duration_ms"`
}

// Metadata is the per-frame diagnostic record threaded end-to-end: created
// at capture, mutated through filters/crop/resize/encode, serialized into
// the outbound message, then discarded.
type Metadata struct {
	FrameID         uint64         `json:"frame_id"`
	CaptureTime     float64        `json:"capture_time"`
	FilterTimings   []FilterTiming `json:"filter_timings,omitempty"`
	EncodeStart     float64        `json:"encode_start"`
	EncodeEnd       float64        `json:"encode_end"`
	SendTime        float64        `json:"send_time"`
	FrameBytes      int            `json:"frame_bytes,omitempty"`
	FrameWidth      int            `json:"frame_width,omitempty"`
	FrameHeight     int            `json:"frame_height,omitempty"`
	BufferLength    int            `json:"buffer_length,omitempty"`
	BufferCapacity  int            `json:"buffer_capacity,omitempty"`
	EffectiveFPS    float64        `json:"effective_fps,omitempty"`
	NavThumbnail    string         `json:"nav_thumbnail,omitempty"`
	AnchorX         *float64       `json:"anchor_x,omitempty"`
	AnchorY         *float64       `json:"anchor_y,omitempty"`
}

// EncodeDurationMs is encode_end - encode_start, per spec.md's no-stale-
// ordering invariant (capture_time <= encode_start <= encode_end <= send_time).
func (m *Metadata) EncodeDurationMs() float64 { return m.EncodeEnd - m.EncodeStart }

// TotalFilterMs sums every recorded filter timing's duration.
func (m *Metadata) TotalFilterMs() float64 {
	var total float64
	for _, t := range m.FilterTimings {
		total += t.DurationMs
	}
	return total
}

// AddFilterTiming appends one filter-pipeline timing entry.
func (m *Metadata) AddFilterTiming(name string, startMs, endMs float64) {
	m.FilterTimings = append(m.FilterTimings, FilterTiming{
		Name: name, StartMs: startMs, EndMs: endMs, DurationMs: endMs - startMs,
	})
}

var frameCounter atomic.Uint64

// NextFrameID hands out a process-wide monotonically increasing frame id,
// mirroring the original source's global frame counter.
func NextFrameID() uint64 {
	return frameCounter.Add(1)
}
