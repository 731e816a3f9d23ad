package badge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/presence.report/internal/events"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Store is the subset of the event store the badge loop uses.
type Store interface {
	AppendBadgeEvent(ctx context.Context, e events.BadgeEvent) (int64, error)
	UpsertCard(ctx context.Context, tap events.BadgeTap) error
	LastBadgeEvent(ctx context.Context, cardID string) (events.BadgeEvent, bool, error)
}

// StatusReporter is told the outcome of every poll.
type StatusReporter interface {
	Report(component string, err error)
}

// ComponentName identifies the badge loop to a StatusReporter.
const ComponentName = "badge"

// MonitorConfig holds the loop timing and memory bound.
type MonitorConfig struct {
	PollInterval  time.Duration
	PruneInterval time.Duration
	// Retention is how long a card's state is held after its last accepted
	// tap. Zero keeps state forever.
	Retention    time.Duration
	StoreBackoff time.Duration
}

// Monitor is the badge sampling activity. It owns the site's single
// Resolver.
type Monitor struct {
	cfg      MonitorConfig
	reader   Reader
	resolver *Resolver
	store    Store
	clock    timeutil.Clock

	// OnAdminEntry is called after an administrator's entry is persisted.
	OnAdminEntry func(ev events.BadgeEvent)
	// Status may be nil.
	Status StatusReporter
}

// NewMonitor wires reader, resolver and store.
func NewMonitor(cfg MonitorConfig, reader Reader, resolver *Resolver, store Store, clock timeutil.Clock) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = 6 * time.Hour
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 5 * time.Second
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Monitor{cfg: cfg, reader: reader, resolver: resolver, store: store, clock: clock}
}

// Resolver returns the monitor's resolver.
func (m *Monitor) Resolver() *Resolver { return m.resolver }

// Step drains every waiting tap. It stops at the first store failure and
// returns it; malformed and suppressed taps are not errors.
func (m *Monitor) Step(ctx context.Context) (int, error) {
	accepted := 0
	for {
		tap, ok := m.reader.NextTap()
		if !ok {
			m.report(nil)
			return accepted, nil
		}
		ev, ok, err := m.handle(ctx, tap)
		if err != nil {
			if errors.Is(err, ErrMalformedTap) {
				monitoring.Logf("badge: %v", err)
				continue
			}
			m.report(err)
			return accepted, err
		}
		if !ok {
			continue
		}
		accepted++
		if tap.IsAdmin && ev.IsEntry && m.OnAdminEntry != nil {
			m.OnAdminEntry(ev)
		}
	}
}

func (m *Monitor) handle(ctx context.Context, tap events.BadgeTap) (events.BadgeEvent, bool, error) {
	if err := validate(tap); err != nil {
		return events.BadgeEvent{}, false, err
	}
	if !m.resolver.Known(tap.CardID) {
		last, found, err := m.store.LastBadgeEvent(ctx, tap.CardID)
		if err != nil {
			return events.BadgeEvent{}, false, fmt.Errorf("load last event for card %s: %w", tap.CardID, err)
		}
		if found {
			m.resolver.Seed(tap.CardID, last.At, last.IsEntry)
		}
	}

	ev, ok, err := m.resolver.Resolve(tap)
	if err != nil || !ok {
		return ev, ok, err
	}

	if err := m.store.UpsertCard(ctx, tap); err != nil {
		return events.BadgeEvent{}, false, fmt.Errorf("upsert card %s: %w", tap.CardID, err)
	}
	if _, err := m.store.AppendBadgeEvent(ctx, ev); err != nil {
		return events.BadgeEvent{}, false, fmt.Errorf("append badge event: %w", err)
	}
	action := "exited"
	if ev.IsEntry {
		action = "entered"
	}
	monitoring.Logf("badge: card %s (%s) %s", ev.CardID, ev.DisplayName, action)
	return ev, true, nil
}

func (m *Monitor) report(err error) {
	if m.Status != nil {
		m.Status.Report(ComponentName, err)
	}
}

// Prune evicts resolver state older than the retention window.
func (m *Monitor) Prune() int {
	if m.cfg.Retention <= 0 {
		return 0
	}
	cutoff := m.clock.Now().Add(-m.cfg.Retention)
	n := m.resolver.Evict(cutoff)
	if n > 0 {
		monitoring.Logf("badge: evicted %d idle cards last seen before %s", n, cutoff.Format(time.RFC3339))
	}
	return n
}

// Run polls the reader until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	poll := m.clock.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()
	prune := m.clock.NewTicker(m.cfg.PruneInterval)
	defer prune.Stop()

	monitoring.Logf("badge: polling every %v, cooldown %v", m.cfg.PollInterval, m.resolver.Cooldown())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-prune.C():
			m.Prune()
		case <-poll.C():
			if _, err := m.Step(ctx); err != nil && ctx.Err() == nil {
				monitoring.Logf("badge: store failure, backing off %v: %v", m.cfg.StoreBackoff, err)
				_ = timeutil.SleepContext(ctx, m.clock, m.cfg.StoreBackoff)
			}
		}
	}
}
