package occupancy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/presence.report/internal/events"
)

var errCamera = errors.New("camera timeout")

// scriptSource returns frames with increasing Seq. Draw numbers listed in
// fail return errCamera instead.
type scriptSource struct {
	mu      sync.Mutex
	n       int
	fail    map[int]bool
	failAll bool
	reinits int
}

func (s *scriptSource) NextFrame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.n
	s.n++
	if s.failAll || s.fail[n] {
		return Frame{}, errCamera
	}
	return Frame{Seq: uint64(n + 1), Data: []byte(fmt.Sprintf("frame-%d", n+1))}, nil
}

func (s *scriptSource) Reinitialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reinits++
	return nil
}

// scriptDetector answers counts in call order; a negative entry means an
// error for that call. Past the end it answers 0.
type scriptDetector struct {
	mu     sync.Mutex
	counts []int
	calls  int
}

func (d *scriptDetector) DetectPersonCount(ctx context.Context, f Frame) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.calls
	d.calls++
	if i >= len(d.counts) {
		return 0, nil
	}
	if d.counts[i] < 0 {
		return 0, errors.New("inference failed")
	}
	return d.counts[i], nil
}

type memStore struct {
	mu       sync.Mutex
	records  []events.OccupancyRecord
	events   []events.OccupancyEvent
	err      error
	appended chan struct{}
}

func (m *memStore) AppendOccupancyRecord(ctx context.Context, r events.OccupancyRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.records = append(m.records, r)
	if m.appended != nil {
		select {
		case m.appended <- struct{}{}:
		default:
		}
	}
	return int64(len(m.records)), nil
}

func (m *memStore) AppendOccupancyEvent(ctx context.Context, e events.OccupancyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memStore) snapshot() ([]events.OccupancyRecord, []events.OccupancyEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.OccupancyRecord(nil), m.records...), append([]events.OccupancyEvent(nil), m.events...)
}

type statusLog struct {
	mu   sync.Mutex
	errs []error
}

func (s *statusLog) Report(component string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}
