// Package occupancy turns camera frames into persisted person-count records
// and debounced enter/leave events.
package occupancy

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrFrameUnavailable is returned by a FrameSource that has no frame to give.
var ErrFrameUnavailable = errors.New("occupancy: frame unavailable")

// Frame is one captured image. Data is opaque encoded bytes (JPEG from the
// camera) and must not be modified once handed to the sampler.
type Frame struct {
	Seq  uint64
	At   time.Time
	Data []byte
}

// FrameSource yields frames from the camera. NextFrame may block up to the
// source's own timeout. Reinitialize is a hard reset request raised after a
// run of failed batches.
type FrameSource interface {
	NextFrame(ctx context.Context) (Frame, error)
	Reinitialize(ctx context.Context) error
}

// Detector counts the people visible in a frame.
type Detector interface {
	DetectPersonCount(ctx context.Context, f Frame) (int, error)
}

// LiveView receives frames for display between batch intervals.
type LiveView interface {
	ShowFrame(f Frame)
}

// LatestFrame is a LiveView that keeps only the most recent frame. It backs
// the /api/live.jpg endpoint.
type LatestFrame struct {
	mu    sync.RWMutex
	frame Frame
	ok    bool
}

// ShowFrame replaces the held frame.
func (l *LatestFrame) ShowFrame(f Frame) {
	l.mu.Lock()
	l.frame = f
	l.ok = true
	l.mu.Unlock()
}

// Latest returns the most recent frame, if any has been shown.
func (l *LatestFrame) Latest() (Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.ok
}
