package badge

import (
	"context"
	"errors"

	"github.com/banshee-data/presence.report/internal/events"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/serialmux"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Reader is polled by the badge loop. NextTap never blocks; ok is false when
// no tap is waiting.
type Reader interface {
	NextTap() (tap events.BadgeTap, ok bool)
}

// QueueReader is a bounded in-memory Reader. Taps pushed while it is full are
// dropped.
type QueueReader struct {
	ch chan events.BadgeTap
}

// NewQueueReader returns a QueueReader holding up to size taps.
func NewQueueReader(size int) *QueueReader {
	if size < 1 {
		size = 1
	}
	return &QueueReader{ch: make(chan events.BadgeTap, size)}
}

// Push enqueues tap and reports whether there was room.
func (q *QueueReader) Push(tap events.BadgeTap) bool {
	select {
	case q.ch <- tap:
		return true
	default:
		return false
	}
}

// NextTap implements Reader.
func (q *QueueReader) NextTap() (events.BadgeTap, bool) {
	select {
	case tap := <-q.ch:
		return tap, true
	default:
		return events.BadgeTap{}, false
	}
}

// SerialReader parses card text lines from the reader's serial port into a
// queue that NextTap drains. Malformed lines are logged and dropped.
type SerialReader struct {
	*QueueReader
	mux   serialmux.SerialMuxInterface
	clock timeutil.Clock
}

// NewSerialReader subscribes to mux on Run.
func NewSerialReader(mux serialmux.SerialMuxInterface, clock timeutil.Clock) *SerialReader {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialReader{QueueReader: NewQueueReader(64), mux: mux, clock: clock}
}

// Run consumes lines until ctx is cancelled or the mux closes its channel.
func (s *SerialReader) Run(ctx context.Context) error {
	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errors.New("badge: serial feed closed")
			}
			tap, err := ParseTap(s.clock.Now(), line)
			if err != nil {
				monitoring.Logf("badge: dropping read: %v", err)
				continue
			}
			if !s.Push(tap) {
				monitoring.Logf("badge: tap queue full, dropping card %s", tap.CardID)
			}
		}
	}
}
