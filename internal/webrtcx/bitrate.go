// Package webrtcx owns the WebRTC transport: the dedicated event-loop
// manager, per-layer video tracks, and the bitrate-shaping mechanisms
// (SDP rewrite + codec bitrate constants) from spec.md §4.7.
package webrtcx

import (
	"strconv"
	"strings"
	"sync"
)

// Codec identifies the negotiated video codec.
type Codec int

const (
	CodecH264 Codec = iota
	CodecVP8
	CodecVP9
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecVP8:
		return "vp8"
	case CodecVP9:
		return "vp9"
	default:
		return "unknown"
	}
}

// codecBitrate holds the process-wide default/min/max bitrate (bps) for one
// codec family. spec.md §4.7/§9 documents that the underlying codec runtime
// uses process-wide mutable defaults rather than per-connection state; in a
// multi-view process the last connection's SetCodecBitrate call wins. This
// mirrors the original source's module-level bitrate constants exactly —
// see DESIGN.md's Open Question on per-connection isolation.
type codecBitrate struct {
	Default, Min, Max int
}

var (
	bitrateMu sync.Mutex
	h264Rate  codecBitrate
	vp8Rate   codecBitrate
	vp9Rate   codecBitrate
)

// SetCodecBitrate sets the process-wide default/min/max bitrate for codec
// to target, target/2, target*2 respectively, matching spec.md §4.7
// mechanism 2. Must be called before peer-connection creation.
func SetCodecBitrate(codec Codec, target int) {
	r := codecBitrate{Default: target, Min: target / 2, Max: target * 2}
	bitrateMu.Lock()
	defer bitrateMu.Unlock()
	switch codec {
	case CodecH264:
		h264Rate = r
	case CodecVP8:
		vp8Rate = r
	case CodecVP9:
		vp9Rate = r
	}
}

// CurrentCodecBitrate returns the last bitrate set for codec (process-wide).
func CurrentCodecBitrate(codec Codec) (int, int, int) {
	bitrateMu.Lock()
	defer bitrateMu.Unlock()
	var r codecBitrate
	switch codec {
	case CodecH264:
		r = h264Rate
	case CodecVP8:
		r = vp8Rate
	case CodecVP9:
		r = vp9Rate
	}
	return r.Default, r.Min, r.Max
}

// RewriteSDPBitrate implements spec.md §4.7 mechanism 1: within the video
// m-line, insert b=AS/b=TIAS immediately after the c= line, and append
// x-google-{max,min,start}-bitrate to every a=fmtp: line in the video
// section. Audio (and any other) m-lines are left byte-for-byte unchanged.
// Idempotent: re-applying with the same bitrate yields the same SDP; with a
// different bitrate, the video section's bitrate lines are the new values.
func RewriteSDPBitrate(sdp string, bitrateBps int) string {
	lines := strings.Split(strings.TrimRight(sdp, "\r\n"), "\n")
	var out []string

	inVideo := false
	asLine := "b=AS:" + strconv.Itoa(bitrateBps/1000)
	tiasLine := "b=TIAS:" + strconv.Itoa(bitrateBps)
	maxBr := "x-google-max-bitrate=" + strconv.Itoa(bitrateBps/1000)
	minBr := "x-google-min-bitrate=" + strconv.Itoa(bitrateBps/2000)
	startBr := "x-google-start-bitrate=" + strconv.Itoa(bitrateBps/1000)

	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")

		if strings.HasPrefix(trimmed, "m=") {
			inVideo = strings.HasPrefix(trimmed, "m=video")
		}

		if inVideo && strings.HasPrefix(trimmed, "b=AS:") {
			continue // drop any prior b=AS/TIAS so re-application is idempotent
		}
		if inVideo && strings.HasPrefix(trimmed, "b=TIAS:") {
			continue
		}
		if inVideo && strings.HasPrefix(trimmed, "a=fmtp:") {
			trimmed = stripGoogleBitrateParams(trimmed)
			out = append(out, trimmed+";"+maxBr+";"+minBr+";"+startBr)
			continue
		}

		out = append(out, trimmed)
		if inVideo && strings.HasPrefix(trimmed, "c=") {
			out = append(out, asLine, tiasLine)
		}
	}
	return strings.Join(out, "\r\n") + "\r\n"
}

// stripGoogleBitrateParams removes any previously-appended x-google-*
// bitrate fmtp params so RewriteSDPBitrate stays idempotent under re-
// application with a new target bitrate.
func stripGoogleBitrateParams(fmtpLine string) string {
	parts := strings.Split(fmtpLine, ";")
	var kept []string
	for _, p := range parts {
		p2 := strings.TrimSpace(p)
		if strings.HasPrefix(p2, "x-google-max-bitrate=") ||
			strings.HasPrefix(p2, "x-google-min-bitrate=") ||
			strings.HasPrefix(p2, "x-google-start-bitrate=") {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ";")
}
