package occupancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/events"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func newTestMonitor(det *scriptDetector, src *scriptSource, store *memStore) (*Monitor, *timeutil.MockClock, *statusLog) {
	s, clock := newTestSampler(src, det, 3)
	s.View = &LatestFrame{}
	m := NewMonitor(MonitorConfig{
		Interval:   30 * time.Second,
		BatchSize:  1,
		KeepFrames: true,
	}, s, NewDebouncer(1), store)
	status := &statusLog{}
	m.Status = status
	return m, clock, status
}

func TestMonitorStep_PersistsRecordsAndEvents(t *testing.T) {
	store := &memStore{}
	m, _, status := newTestMonitor(&scriptDetector{counts: []int{0, 2, 2}}, &scriptSource{}, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Step(ctx))
	}

	records, evs := store.snapshot()
	require.Len(t, records, 3)
	assert.Equal(t, []int{0, 2, 2}, []int{records[0].PersonCount, records[1].PersonCount, records[2].PersonCount})
	assert.Equal(t, []byte("frame-2"), records[1].Frame)

	require.Len(t, evs, 1)
	assert.Equal(t, events.Enter, evs[0].Direction)
	assert.Equal(t, 2, evs[0].Delta)
	assert.Equal(t, 2, m.Debouncer().Confirmed())

	assert.Len(t, status.errs, 3)
	for _, err := range status.errs {
		assert.NoError(t, err)
	}
}

func TestMonitorStep_CaptureFailureSwallowed(t *testing.T) {
	store := &memStore{}
	m, _, status := newTestMonitor(&scriptDetector{}, &scriptSource{failAll: true}, store)

	require.NoError(t, m.Step(context.Background()))
	records, _ := store.snapshot()
	assert.Empty(t, records)
	require.Len(t, status.errs, 1)
	assert.ErrorIs(t, status.errs[0], ErrBatchFailed)
}

func TestMonitorStep_StoreFailurePropagates(t *testing.T) {
	errDisk := errors.New("disk I/O error")
	store := &memStore{err: errDisk}
	m, _, _ := newTestMonitor(&scriptDetector{counts: []int{1}}, &scriptSource{}, store)

	err := m.Step(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errDisk)
	// The debouncer still consumed the tick.
	assert.Equal(t, 1, m.Debouncer().Confirmed())
}

func TestMonitorRun_SamplesOnInterval(t *testing.T) {
	store := &memStore{appended: make(chan struct{}, 1)}
	m, clock, _ := newTestMonitor(&scriptDetector{counts: []int{1, 1}}, &scriptSource{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitAppend := func() {
		t.Helper()
		select {
		case <-store.appended:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a record")
		}
	}

	waitAppend()
	clock.Advance(30 * time.Second)
	waitAppend()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	records, _ := store.snapshot()
	assert.Len(t, records, 2)
}
