package report

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/presence.report/internal/events"
)

// Store is the read side of the event store the aggregator needs.
type Store interface {
	OccupancyRecords(ctx context.Context, start, end time.Time) ([]events.OccupancyRecord, error)
	BadgeEvents(ctx context.Context, start, end time.Time) ([]events.BadgeEvent, error)
}

// Aggregator builds daily summaries in one configured timezone.
type Aggregator struct {
	store Store
	loc   *time.Location
}

// NewAggregator returns an aggregator over store. A nil loc means UTC.
func NewAggregator(store Store, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, loc: loc}
}

// Location returns the timezone days are computed in.
func (a *Aggregator) Location() *time.Location { return a.loc }

// DayRange returns the first and last millisecond of the calendar day holding
// date in loc.
func DayRange(date time.Time, loc *time.Location) (start, end time.Time) {
	d := date.In(loc)
	start = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1).Add(-time.Millisecond)
	return start, end
}

// ParseDate parses a YYYY-MM-DD date as midnight in the aggregator's
// timezone.
func (a *Aggregator) ParseDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, s, a.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid report date %q: %w", s, err)
	}
	return d, nil
}

// Aggregate reads the day holding date and summarises it. Store failures
// are returned wrapped with the day being read.
func (a *Aggregator) Aggregate(ctx context.Context, date time.Time) (DailySummary, error) {
	start, end := DayRange(date, a.loc)
	recs, err := a.store.OccupancyRecords(ctx, start, end)
	if err != nil {
		return DailySummary{}, fmt.Errorf("aggregate %s: occupancy records: %w", start.Format(DateLayout), err)
	}
	evs, err := a.store.BadgeEvents(ctx, start, end)
	if err != nil {
		return DailySummary{}, fmt.Errorf("aggregate %s: badge events: %w", start.Format(DateLayout), err)
	}
	return Summarize(start, a.loc, recs, evs), nil
}
