package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/presence.report/internal/events"
)

// ErrRunNotFound is returned when finishing a run id that was never started.
var ErrRunNotFound = errors.New("report run not found")

// StartReportRun inserts a run in the started state.
func (db *DB) StartReportRun(ctx context.Context, run events.ReportRun) error {
	status := run.Status
	if status == "" {
		status = events.RunStarted
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO report_runs (run_id, report_date, trigger_kind, source, status, error, started_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Date, run.Trigger, run.Source, status, run.Error, toMillis(run.StartedAt),
	)
	if err != nil {
		return storeErr("start report run", err)
	}
	return nil
}

// FinishReportRun records the outcome of a run.
func (db *DB) FinishReportRun(ctx context.Context, id, status, source, errMsg string, finishedAt time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE report_runs SET status = ?, source = ?, error = ?, finished_ms = ? WHERE run_id = ?`,
		status, source, errMsg, toMillis(finishedAt), id,
	)
	if err != nil {
		return storeErr("finish report run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("finish report run", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// ReportRuns returns the most recent runs, newest first.
func (db *DB) ReportRuns(ctx context.Context, limit int) ([]events.ReportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT run_id, report_date, trigger_kind, source, status, error, started_ms, finished_ms
		 FROM report_runs ORDER BY started_ms DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("report runs", err)
	}
	defer rows.Close()

	var runs []events.ReportRun
	for rows.Next() {
		var r events.ReportRun
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Date, &r.Trigger, &r.Source, &r.Status, &r.Error, &started, &finished); err != nil {
			return nil, storeErr("report runs", err)
		}
		r.StartedAt = fromMillis(started)
		if finished.Valid {
			r.FinishedAt = fromMillis(finished.Int64)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("report runs", err)
	}
	return runs, nil
}
