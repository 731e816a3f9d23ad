// Package dispatch decides when a daily report is built and sent: once a day
// at the configured wall-clock time, and whenever an administrator badges in.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/presence.report/internal/events"
	"github.com/banshee-data/presence.report/internal/monitoring"
	"github.com/banshee-data/presence.report/internal/notify"
	"github.com/banshee-data/presence.report/internal/report"
	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Trigger kinds recorded with each run.
const (
	TriggerSchedule = "schedule"
	TriggerAdmin    = "admin"
	TriggerManual   = "manual"
)

// ChartFilename is the name of the hourly chart attachment.
const ChartFilename = "hourly.png"

// Aggregator builds the summary for a day.
type Aggregator interface {
	Aggregate(ctx context.Context, date time.Time) (report.DailySummary, error)
}

// RunLog records report runs. It may be nil.
type RunLog interface {
	StartReportRun(ctx context.Context, run events.ReportRun) error
	FinishReportRun(ctx context.Context, id, status, source, errMsg string, finishedAt time.Time) error
}

// Config holds the schedule and per-run limits.
type Config struct {
	// Hour and Minute of the daily run in Location.
	Hour, Minute int
	Location     *time.Location
	// RunTimeout bounds one aggregate, render and send. Zero means no limit.
	RunTimeout time.Duration
	// AttachChart adds the hourly PNG chart to the email.
	AttachChart bool
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

type request struct {
	date    time.Time
	trigger string
}

// Dispatcher runs reports on schedule and on demand. On-demand triggers are
// coalesced: at most one waits while a run is in progress.
type Dispatcher struct {
	cfg      Config
	agg      Aggregator
	renderer *report.Renderer
	notifier notify.Notifier
	runs     RunLog
	clock    timeutil.Clock

	pending chan request
}

// New wires a dispatcher. runs may be nil; a nil clock means real time.
func New(cfg Config, agg Aggregator, renderer *report.Renderer, notifier notify.Notifier, runs RunLog, clock timeutil.Clock) *Dispatcher {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Dispatcher{
		cfg:      cfg,
		agg:      agg,
		renderer: renderer,
		notifier: notifier,
		runs:     runs,
		clock:    clock,
		pending:  make(chan request, 1),
	}
}

// NextRun returns the first scheduled time strictly after now.
func (d *Dispatcher) NextRun(now time.Time) time.Time {
	local := now.In(d.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.cfg.Hour, d.cfg.Minute, 0, 0, d.cfg.Location)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.cfg.Hour, d.cfg.Minute, 0, 0, d.cfg.Location)
	}
	return next
}

// Trigger asks for a report of the day holding date. It never blocks and
// returns false when a request is already waiting.
func (d *Dispatcher) Trigger(date time.Time, trigger string) bool {
	select {
	case d.pending <- request{date: date, trigger: trigger}:
		return true
	default:
		monitoring.Logf("dispatch: %s trigger coalesced with a pending request", trigger)
		return false
	}
}

// TriggerAdmin requests today's report for an administrator's entry. It
// matches badge.Monitor.OnAdminEntry.
func (d *Dispatcher) TriggerAdmin(ev events.BadgeEvent) {
	monitoring.Logf("dispatch: admin entry by %s, requesting report", ev.CardID)
	d.Trigger(ev.At, TriggerAdmin)
}

// Run serves the schedule and triggers until ctx is done. Run failures are
// logged and recorded; they never stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		next := d.NextRun(d.clock.Now())
		timer := d.clock.NewTimer(next.Sub(d.clock.Now()))
		monitoring.Logf("dispatch: next scheduled report at %s", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
			d.runLogged(ctx, next, TriggerSchedule)
		case req := <-d.pending:
			timer.Stop()
			d.runLogged(ctx, req.date, req.trigger)
		}
	}
}

func (d *Dispatcher) runLogged(ctx context.Context, date time.Time, trigger string) {
	run, err := d.RunOnce(ctx, date, trigger)
	if err != nil {
		monitoring.Logf("dispatch: %s report for %s failed: %v", trigger, run.Date, err)
		return
	}
	monitoring.Logf("dispatch: %s report for %s sent (%s)", trigger, run.Date, run.Source)
}

// RunOnce aggregates, renders and sends the report for the day holding date.
// The returned run describes the outcome even when err is non-nil.
func (d *Dispatcher) RunOnce(ctx context.Context, date time.Time, trigger string) (events.ReportRun, error) {
	if d.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.RunTimeout)
		defer cancel()
	}

	run := events.ReportRun{
		ID:        uuid.NewString(),
		Date:      date.In(d.cfg.Location).Format(report.DateLayout),
		Trigger:   trigger,
		Status:    events.RunStarted,
		StartedAt: d.clock.Now(),
	}
	if d.runs != nil {
		if err := d.runs.StartReportRun(ctx, run); err != nil {
			monitoring.Logf("dispatch: record run start: %v", err)
		}
	}

	err := d.build(ctx, date, &run)
	run.FinishedAt = d.clock.Now()
	run.Status = events.RunSent
	if err != nil {
		run.Status = events.RunFailed
		run.Error = err.Error()
	}
	if d.runs != nil {
		if ferr := d.runs.FinishReportRun(ctx, run.ID, run.Status, run.Source, run.Error, run.FinishedAt); ferr != nil {
			monitoring.Logf("dispatch: record run finish: %v", ferr)
		}
	}
	return run, err
}

func (d *Dispatcher) build(ctx context.Context, date time.Time, run *events.ReportRun) error {
	summary, err := d.agg.Aggregate(ctx, date)
	if err != nil {
		return err
	}
	rep, err := d.renderer.Render(ctx, summary)
	if err != nil {
		return err
	}
	run.Source = rep.Source

	msg := notify.Message{Subject: notify.Subject(summary.Date), HTML: rep.HTML}
	if d.cfg.AttachChart {
		png, err := report.HourlyChartPNG(summary)
		if err != nil {
			monitoring.Logf("dispatch: hourly chart for %s: %v", summary.Date, err)
		} else {
			msg.Attachments = append(msg.Attachments, notify.Attachment{Filename: ChartFilename, ContentType: "image/png", Data: png})
		}
	}
	if d.notifier == nil {
		return errors.New("no notifier configured")
	}
	return d.notifier.Send(ctx, msg)
}
