package source

import (
	"sync"

	"github.com/stano45/streamcompositor/internal/frame"
)

// Decoder abstracts the out-of-scope codec library (spec.md §1 names image
// decoding as an external collaborator): something that decodes the next
// frame of a video file at a given playback position.
type Decoder interface {
	// Decode returns the frame at or after position (seconds), or nil at
	// end of stream/no new frame yet.
	Decode(position float64) *frame.Frame
	// Duration of the decoded media, seconds.
	Duration() float64
	FPS() float64
	AspectRatio() float64
}

// File is the Stream source variant backed by a decoded video file: loop,
// playback_speed, optional max_fps, seek support (spec.md §3).
type File struct {
	base

	Path          string
	Loop          bool
	decoder       Decoder
	maxFPS        float64

	mu            sync.Mutex
	playbackSpeed float64
	position      float64
	startWall     float64
	haveEpoch     bool
	lastNow       float64
}

// NewFile constructs a File source. playbackSpeed must be in (0, inf);
// maxFPS <= 0 means unset.
func NewFile(path string, dec Decoder, loop bool, playbackSpeed, maxFPS float64) *File {
	if playbackSpeed <= 0 {
		playbackSpeed = 1
	}
	return &File{
		Path:          path,
		decoder:       dec,
		Loop:          loop,
		playbackSpeed: playbackSpeed,
		maxFPS:        maxFPS,
	}
}

// Start resets the epoch anchor; the anchor itself is captured lazily on
// the first GetFrame call so it lands in the same relative clock domain
// the caller (the producer loop's now()) uses, rather than wall-clock time.
func (f *File) Start() {
	f.mu.Lock()
	f.haveEpoch = false
	f.mu.Unlock()
	f.base.Start()
}

func (f *File) FPS() float64    { return f.decoder.FPS() }
func (f *File) MaxFPS() float64 { return f.maxFPS }

func (f *File) PlaybackSpeed() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playbackSpeed
}

// SetPlaybackSpeed mutates pacing live; the producer's next_frame_time
// recovery logic (spec.md §4.2 step 13) tolerates the discontinuity.
func (f *File) SetPlaybackSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	f.mu.Lock()
	f.playbackSpeed = speed
	f.mu.Unlock()
}

func (f *File) Duration() float64    { return f.decoder.Duration() }
func (f *File) AspectRatio() float64 { return f.decoder.AspectRatio() }

// CurrentPosition is the file's current playback position in seconds.
func (f *File) CurrentPosition() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

// SeekTo jumps playback to the given position in seconds, anchored against
// the most recent now() seen from GetFrame so it stays in the same relative
// clock domain as the producer.
func (f *File) SeekTo(seconds float64) {
	f.mu.Lock()
	f.position = seconds
	f.startWall = f.lastNow - seconds/f.playbackSpeed
	f.mu.Unlock()
}

func (f *File) GetFrame(now float64) (*Output, uint64) {
	if !f.IsRunning() || f.IsPaused() {
		return f.LastFrame(), f.currentIndexLocked()
	}

	f.mu.Lock()
	if !f.haveEpoch {
		f.startWall = now
		f.haveEpoch = true
	}
	f.lastNow = now
	elapsed := (now - f.startWall) * f.playbackSpeed
	duration := f.decoder.Duration()
	if duration > 0 && elapsed >= duration {
		if f.Loop {
			f.startWall = now
			elapsed = 0
		} else {
			elapsed = duration
		}
	}
	f.position = elapsed
	f.mu.Unlock()

	fr := f.decoder.Decode(elapsed)
	if fr == nil {
		return f.LastFrame(), f.currentIndexLocked()
	}
	fr.CaptureTime = elapsed
	out := &Output{Frame: fr}
	idx := f.publish(out, elapsed)
	return out, idx
}

func (f *File) currentIndexLocked() uint64 {
	f.lastFrameMu.RLock()
	defer f.lastFrameMu.RUnlock()
	return f.frameIndex
}

var _ Source = (*File)(nil)
