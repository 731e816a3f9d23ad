package occupancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/presence.report/internal/events"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Store is the subset of the event store the occupancy loop writes to.
type Store interface {
	AppendOccupancyRecord(ctx context.Context, r events.OccupancyRecord) (int64, error)
	AppendOccupancyEvent(ctx context.Context, e events.OccupancyEvent) error
}

// StatusReporter is told the outcome of every loop step. A nil error means
// the component is healthy.
type StatusReporter interface {
	Report(component string, err error)
}

// ComponentName identifies the occupancy loop to a StatusReporter.
const ComponentName = "occupancy"

// MonitorConfig holds the loop timing.
type MonitorConfig struct {
	Interval        time.Duration
	BatchSize       int
	InterFrameDelay time.Duration
	LiveInterval    time.Duration
	StoreBackoff    time.Duration
	// KeepFrames stores the best frame's bytes with each record.
	KeepFrames bool
}

// Monitor is the occupancy sampling activity: one batch per interval, the
// best count fed into the debouncer, records and events appended to the
// store. Live frames are forwarded between batches.
type Monitor struct {
	cfg       MonitorConfig
	sampler   *Sampler
	debouncer *Debouncer
	store     Store
	clock     timeutil.Clock

	// Status may be nil.
	Status StatusReporter
}

// NewMonitor wires a sampler and debouncer to a store.
func NewMonitor(cfg MonitorConfig, sampler *Sampler, debouncer *Debouncer, store Store) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 5 * time.Second
	}
	return &Monitor{
		cfg:       cfg,
		sampler:   sampler,
		debouncer: debouncer,
		store:     store,
		clock:     sampler.clock(),
	}
}

// Debouncer exposes the monitor's debouncer for status reporting.
func (m *Monitor) Debouncer() *Debouncer { return m.debouncer }

// Step runs one batch. Capture failures are logged and swallowed; store
// failures are returned.
func (m *Monitor) Step(ctx context.Context) error {
	res, err := m.sampler.SampleBatch(ctx, m.cfg.BatchSize, m.cfg.InterFrameDelay)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		monitoring.Logf("occupancy: %v", err)
		m.report(err)
		return nil
	}

	rec := events.OccupancyRecord{At: res.BestFrame.At, PersonCount: res.BestCount}
	if m.cfg.KeepFrames {
		rec.Frame = res.BestFrame.Data
	}
	if m.sampler.View != nil {
		m.sampler.View.ShowFrame(res.BestFrame)
	}

	ev, changed := m.debouncer.Observe(rec.At, res.BestCount)

	var errs []error
	if _, err := m.store.AppendOccupancyRecord(ctx, rec); err != nil {
		errs = append(errs, fmt.Errorf("append occupancy record: %w", err))
	}
	if changed {
		monitoring.Logf("occupancy: %d person(s) %s, now %d", ev.Delta, verb(ev.Direction), ev.ConfirmedCount)
		if err := m.store.AppendOccupancyEvent(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("append occupancy event: %w", err))
		}
	}
	err = errors.Join(errs...)
	m.report(err)
	return err
}

func verb(d events.Direction) string {
	if d == events.Enter {
		return "entered"
	}
	return "left"
}

func (m *Monitor) report(err error) {
	if m.Status != nil {
		m.Status.Report(ComponentName, err)
	}
}

// Run samples until ctx is cancelled. The first batch runs immediately.
func (m *Monitor) Run(ctx context.Context) error {
	batch := m.clock.NewTicker(m.cfg.Interval)
	defer batch.Stop()

	var liveC <-chan time.Time
	if m.cfg.LiveInterval > 0 && m.sampler.View != nil {
		live := m.clock.NewTicker(m.cfg.LiveInterval)
		defer live.Stop()
		liveC = live.C()
	}

	monitoring.Logf("occupancy: sampling every %v, batch of %d", m.cfg.Interval, m.cfg.BatchSize)
	m.runStep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-batch.C():
			m.runStep(ctx)
		case <-liveC:
			if err := m.sampler.Live(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrFrameUnavailable) {
				monitoring.Logf("occupancy: %v", err)
			}
		}
	}
}

func (m *Monitor) runStep(ctx context.Context) {
	if err := m.Step(ctx); err != nil && ctx.Err() == nil {
		monitoring.Logf("occupancy: store failure, backing off %v: %v", m.cfg.StoreBackoff, err)
		_ = timeutil.SleepContext(ctx, m.clock, m.cfg.StoreBackoff)
	}
}
