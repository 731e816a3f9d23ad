package occupancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// ErrBatchFailed is returned by SampleBatch when every draw in the batch
// failed. Nothing should be persisted for that interval.
var ErrBatchFailed = errors.New("occupancy: every draw in batch failed")

// BatchResult is the outcome of one batch: the best frame and its count.
type BatchResult struct {
	ID        string
	BestIndex int
	BestCount int
	BestFrame Frame
	Draws     int
	Failures  int
}

// SelectBest returns the index of the first maximum in counts, or -1 when
// counts is empty. A later equal count never replaces an earlier one.
func SelectBest(counts []int) int {
	best := -1
	for i, c := range counts {
		if best < 0 || c > counts[best] {
			best = i
		}
	}
	return best
}

// Sampler draws frames in batches and keeps the one with the most people.
type Sampler struct {
	Source   FrameSource
	Detector Detector
	Clock    timeutil.Clock

	// ReinitAfter is the number of consecutive failed batches after which
	// the frame source is reinitialized. Zero disables reinitialization.
	ReinitAfter int

	// View receives frames from Live. May be nil.
	View LiveView

	failedBatches int
	seq           uint64
}

// NewSampler returns a Sampler on the real clock.
func NewSampler(src FrameSource, det Detector, reinitAfter int) *Sampler {
	return &Sampler{
		Source:      src,
		Detector:    det,
		Clock:       timeutil.RealClock{},
		ReinitAfter: reinitAfter,
	}
}

func (s *Sampler) clock() timeutil.Clock {
	if s.Clock == nil {
		return timeutil.RealClock{}
	}
	return s.Clock
}

// SampleBatch draws batchSize frames, waiting interFrameDelay between draws,
// and runs the detector on each. Draws whose frame or detection fails are
// skipped. When all draws fail it returns ErrBatchFailed and, once
// ReinitAfter consecutive batches have failed, asks the source to
// reinitialize. A cancelled context aborts the batch with ctx.Err().
func (s *Sampler) SampleBatch(ctx context.Context, batchSize int, interFrameDelay time.Duration) (BatchResult, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	res := BatchResult{ID: uuid.New().String(), BestIndex: -1}
	clock := s.clock()

	var lastErr error
	for i := 0; i < batchSize; i++ {
		if i > 0 {
			if err := timeutil.SleepContext(ctx, clock, interFrameDelay); err != nil {
				return BatchResult{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return BatchResult{}, err
		}
		res.Draws++

		frame, count, err := s.draw(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return BatchResult{}, ctx.Err()
			}
			res.Failures++
			lastErr = err
			continue
		}
		if res.BestIndex < 0 || count > res.BestCount {
			res.BestIndex = i
			res.BestCount = count
			res.BestFrame = frame
		}
	}

	if res.BestIndex < 0 {
		s.failedBatches++
		if s.ReinitAfter > 0 && s.failedBatches >= s.ReinitAfter {
			monitoring.Logf("occupancy: %d consecutive failed batches, reinitializing frame source", s.failedBatches)
			if err := s.Source.Reinitialize(ctx); err != nil {
				monitoring.Logf("occupancy: reinitialize frame source: %v", err)
			}
			s.failedBatches = 0
		}
		return res, fmt.Errorf("%w (batch %s, %d draws): %v", ErrBatchFailed, res.ID, res.Draws, lastErr)
	}
	s.failedBatches = 0
	return res, nil
}

func (s *Sampler) draw(ctx context.Context) (Frame, int, error) {
	frame, err := s.Source.NextFrame(ctx)
	if err != nil {
		return Frame{}, 0, fmt.Errorf("next frame: %w", err)
	}
	s.seq++
	if frame.Seq == 0 {
		frame.Seq = s.seq
	}
	if frame.At.IsZero() {
		frame.At = s.clock().Now()
	}
	count, err := s.Detector.DetectPersonCount(ctx, frame)
	if err != nil {
		return Frame{}, 0, fmt.Errorf("detect frame %d: %w", frame.Seq, err)
	}
	if count < 0 {
		return Frame{}, 0, fmt.Errorf("detect frame %d: negative count %d", frame.Seq, count)
	}
	return frame, count, nil
}

// Live pulls one frame and forwards it to the live view without running
// the detector.
func (s *Sampler) Live(ctx context.Context) error {
	frame, err := s.Source.NextFrame(ctx)
	if err != nil {
		return fmt.Errorf("live frame: %w", err)
	}
	if frame.At.IsZero() {
		frame.At = s.clock().Now()
	}
	if s.View != nil {
		s.View.ShowFrame(frame)
	}
	return nil
}

// FailedBatches returns the current run of consecutive failed batches.
func (s *Sampler) FailedBatches() int { return s.failedBatches }
