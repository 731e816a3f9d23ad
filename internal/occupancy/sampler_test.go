package occupancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestSampler(src FrameSource, det Detector, reinitAfter int) (*Sampler, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(t0)
	s := NewSampler(src, det, reinitAfter)
	s.Clock = clock
	return s, clock
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		counts []int
		want   int
	}{
		{nil, -1},
		{[]int{0}, 0},
		{[]int{1, 3, 2, 0, 3}, 1},
		{[]int{2, 2, 2}, 0},
		{[]int{0, 0, 4}, 2},
	}
	for _, tt := range tests {
		if got := SelectBest(tt.counts); got != tt.want {
			t.Errorf("SelectBest(%v) = %d, want %d", tt.counts, got, tt.want)
		}
	}
}

func TestSampleBatch_EarliestMaximumWins(t *testing.T) {
	src := &scriptSource{}
	det := &scriptDetector{counts: []int{1, 3, 2, 0, 3}}
	s, clock := newTestSampler(src, det, 3)

	res, err := s.SampleBatch(context.Background(), 5, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("SampleBatch: %v", err)
	}
	if res.BestIndex != 1 || res.BestCount != 3 {
		t.Errorf("best = index %d count %d, want index 1 count 3", res.BestIndex, res.BestCount)
	}
	if res.BestFrame.Seq != 2 {
		t.Errorf("best frame seq = %d, want 2", res.BestFrame.Seq)
	}
	if !res.BestFrame.At.Equal(t0.Add(200 * time.Millisecond)) {
		t.Errorf("best frame at %v", res.BestFrame.At)
	}
	if res.Draws != 5 || res.Failures != 0 {
		t.Errorf("draws=%d failures=%d", res.Draws, res.Failures)
	}
	if res.ID == "" {
		t.Error("expected batch id")
	}

	wantSleeps := []time.Duration{200 * time.Millisecond, 200 * time.Millisecond, 200 * time.Millisecond, 200 * time.Millisecond}
	if diff := cmp.Diff(wantSleeps, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestSampleBatch_SkipsFailedDraws(t *testing.T) {
	src := &scriptSource{fail: map[int]bool{0: true}}
	// Draw 0 never reaches the detector; detector calls map to draws 1..4.
	det := &scriptDetector{counts: []int{2, -1, 5, 1}}
	s, _ := newTestSampler(src, det, 3)

	res, err := s.SampleBatch(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("SampleBatch: %v", err)
	}
	if res.BestIndex != 3 || res.BestCount != 5 {
		t.Errorf("best = index %d count %d, want index 3 count 5", res.BestIndex, res.BestCount)
	}
	if res.Failures != 2 {
		t.Errorf("failures = %d, want 2", res.Failures)
	}
}

func TestSampleBatch_AllFailReinitializes(t *testing.T) {
	src := &scriptSource{failAll: true}
	s, _ := newTestSampler(src, &scriptDetector{}, 2)

	_, err := s.SampleBatch(context.Background(), 3, time.Millisecond)
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("err = %v, want ErrBatchFailed", err)
	}
	if src.reinits != 0 || s.FailedBatches() != 1 {
		t.Fatalf("after one failure: reinits=%d failed=%d", src.reinits, s.FailedBatches())
	}

	_, err = s.SampleBatch(context.Background(), 3, time.Millisecond)
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("err = %v, want ErrBatchFailed", err)
	}
	if src.reinits != 1 {
		t.Errorf("reinits = %d, want 1", src.reinits)
	}
	if s.FailedBatches() != 0 {
		t.Errorf("failed batch run should reset after reinit, got %d", s.FailedBatches())
	}
}

func TestSampleBatch_SuccessResetsFailureRun(t *testing.T) {
	src := &scriptSource{fail: map[int]bool{0: true}}
	s, _ := newTestSampler(src, &scriptDetector{counts: []int{1}}, 5)

	if _, err := s.SampleBatch(context.Background(), 1, 0); !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("first batch err = %v", err)
	}
	if _, err := s.SampleBatch(context.Background(), 1, 0); err != nil {
		t.Fatalf("second batch err = %v", err)
	}
	if s.FailedBatches() != 0 {
		t.Errorf("FailedBatches() = %d, want 0", s.FailedBatches())
	}
}

func TestSampleBatch_Cancelled(t *testing.T) {
	s, _ := newTestSampler(&scriptSource{}, &scriptDetector{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.SampleBatch(ctx, 3, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if s.FailedBatches() != 0 {
		t.Error("cancellation should not count as a failed batch")
	}
}

func TestLive_ForwardsWithoutDetector(t *testing.T) {
	det := &scriptDetector{}
	view := &LatestFrame{}
	s, _ := newTestSampler(&scriptSource{}, det, 1)
	s.View = view

	if _, ok := view.Latest(); ok {
		t.Fatal("expected empty live view")
	}
	if err := s.Live(context.Background()); err != nil {
		t.Fatalf("Live: %v", err)
	}
	f, ok := view.Latest()
	if !ok || string(f.Data) != "frame-1" {
		t.Errorf("Latest() = %+v, %v", f, ok)
	}
	if det.calls != 0 {
		t.Errorf("detector called %d times", det.calls)
	}
}
