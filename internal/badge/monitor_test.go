package badge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/presence.report/internal/events"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type memStore struct {
	mu        sync.Mutex
	events    []events.BadgeEvent
	cards     map[string]events.BadgeTap
	appendErr error
	lookupErr error
}

func newMemStore() *memStore {
	return &memStore{cards: map[string]events.BadgeTap{}}
}

func (s *memStore) AppendBadgeEvent(ctx context.Context, e events.BadgeEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	s.events = append(s.events, e)
	return int64(len(s.events)), nil
}

func (s *memStore) UpsertCard(ctx context.Context, tap events.BadgeTap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[tap.CardID] = tap
	return nil
}

func (s *memStore) LastBadgeEvent(ctx context.Context, cardID string) (events.BadgeEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return events.BadgeEvent{}, false, s.lookupErr
	}
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].CardID == cardID {
			return s.events[i], true, nil
		}
	}
	return events.BadgeEvent{}, false, nil
}

func newTestMonitor(store Store) (*Monitor, *QueueReader) {
	q := NewQueueReader(16)
	m := NewMonitor(MonitorConfig{Retention: 7 * 24 * time.Hour}, q, NewResolver(DefaultCooldown), store, timeutil.NewMockClock(t0.Add(30*24*time.Hour)))
	return m, q
}

func TestMonitorStep_DrainsQueue(t *testing.T) {
	store := newMemStore()
	m, q := newTestMonitor(store)

	q.Push(tapAt("C-1", 0))
	q.Push(tapAt("C-1", time.Second)) // bounce
	q.Push(events.BadgeTap{At: t0})   // malformed
	q.Push(tapAt("C-2", 2*time.Second))
	q.Push(tapAt("C-1", time.Minute))

	n, err := m.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, store.events, 3)
	assert.True(t, store.events[0].IsEntry)
	assert.True(t, store.events[1].IsEntry)
	assert.Equal(t, "C-1", store.events[2].CardID)
	assert.False(t, store.events[2].IsEntry)
	assert.Len(t, store.cards, 2)
}

func TestMonitorStep_AdminEntryTriggers(t *testing.T) {
	store := newMemStore()
	m, q := newTestMonitor(store)

	var triggered []events.BadgeEvent
	m.OnAdminEntry = func(ev events.BadgeEvent) { triggered = append(triggered, ev) }

	admin := tapAt("ADM", 0)
	admin.IsAdmin = true
	q.Push(admin)
	exit := tapAt("ADM", time.Minute)
	exit.IsAdmin = true
	q.Push(exit)
	q.Push(tapAt("USR", time.Minute))

	_, err := m.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, triggered, 1, "only an administrator's entry triggers a report")
	assert.Equal(t, "ADM", triggered[0].CardID)
	assert.True(t, triggered[0].IsEntry)
}

func TestMonitorStep_SeedsFromStore(t *testing.T) {
	store := newMemStore()
	store.events = []events.BadgeEvent{{At: t0, CardID: "C-1", IsEntry: true}}
	m, q := newTestMonitor(store)

	q.Push(tapAt("C-1", 12*time.Hour))
	_, err := m.Step(context.Background())
	require.NoError(t, err)

	require.Len(t, store.events, 2)
	assert.False(t, store.events[1].IsEntry, "restart must continue alternation from the persisted event")
}

func TestMonitorStep_StoreFailure(t *testing.T) {
	errLocked := errors.New("database is locked")
	store := newMemStore()
	store.appendErr = errLocked
	m, q := newTestMonitor(store)
	q.Push(tapAt("C-1", 0))

	_, err := m.Step(context.Background())
	assert.ErrorIs(t, err, errLocked)

	store.appendErr = nil
	store.lookupErr = errLocked
	q.Push(tapAt("C-9", 0))
	_, err = m.Step(context.Background())
	assert.ErrorIs(t, err, errLocked)
}

func TestMonitorPrune(t *testing.T) {
	store := newMemStore()
	m, q := newTestMonitor(store)
	// The mock clock sits 30 days after t0; retention is 7 days.
	q.Push(tapAt("stale", 0))
	q.Push(tapAt("fresh", 29*24*time.Hour))
	_, err := m.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, m.Prune())
	assert.False(t, m.Resolver().Known("stale"))
	assert.True(t, m.Resolver().Known("fresh"))
}

func TestMonitorRun_PollsUntilCancelled(t *testing.T) {
	store := newMemStore()
	clock := timeutil.NewMockClock(t0)
	q := NewQueueReader(4)
	m := NewMonitor(MonitorConfig{PollInterval: 100 * time.Millisecond}, q, NewResolver(DefaultCooldown), store, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	q.Push(tapAt("C-1", 0))
	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		n := len(store.events)
		store.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("tap was never processed")
		case <-time.After(5 * time.Millisecond):
			clock.Advance(100 * time.Millisecond)
		}
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
