package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/banshee-data/presence.report/internal/events"
)

// AppendOccupancyRecord persists one best-frame detection and returns its id.
func (db *DB) AppendOccupancyRecord(ctx context.Context, r events.OccupancyRecord) (int64, error) {
	var frame interface{}
	if len(r.Frame) > 0 {
		frame = r.Frame
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO occupancy_records (at_ms, person_count, frame) VALUES (?, ?, ?)`,
		toMillis(r.At), r.PersonCount, frame,
	)
	if err != nil {
		return 0, storeErr("append occupancy record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("append occupancy record", err)
	}
	return id, nil
}

// AppendOccupancyEvent persists one debounced occupancy change.
func (db *DB) AppendOccupancyEvent(ctx context.Context, e events.OccupancyEvent) error {
	dir, err := e.Direction.MarshalText()
	if err != nil {
		return storeErr("append occupancy event", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO occupancy_events (at_ms, direction, delta, confirmed_count) VALUES (?, ?, ?, ?)`,
		toMillis(e.At), string(dir), e.Delta, e.ConfirmedCount,
	)
	if err != nil {
		return storeErr("append occupancy event", err)
	}
	return nil
}

// OccupancyRecords returns the detection records in [start, end] ordered by
// timestamp. Frames are not loaded.
func (db *DB) OccupancyRecords(ctx context.Context, start, end time.Time) ([]events.OccupancyRecord, error) {
	var out []events.OccupancyRecord
	err := db.queryRange(ctx, "occupancy records",
		`SELECT record_id, at_ms, person_count FROM occupancy_records
		 WHERE at_ms >= ? AND at_ms <= ?
		 ORDER BY at_ms, record_id`,
		start, end,
		func(rows *sql.Rows) error {
			var r events.OccupancyRecord
			var atMs int64
			if err := rows.Scan(&r.ID, &atMs, &r.PersonCount); err != nil {
				return err
			}
			r.At = fromMillis(atMs)
			out = append(out, r)
			return nil
		})
	return out, err
}

// OccupancyEvents returns the debounced events in [start, end] ordered by
// timestamp.
func (db *DB) OccupancyEvents(ctx context.Context, start, end time.Time) ([]events.OccupancyEvent, error) {
	var out []events.OccupancyEvent
	err := db.queryRange(ctx, "occupancy events",
		`SELECT at_ms, direction, delta, confirmed_count FROM occupancy_events
		 WHERE at_ms >= ? AND at_ms <= ?
		 ORDER BY at_ms, event_id`,
		start, end,
		func(rows *sql.Rows) error {
			var e events.OccupancyEvent
			var atMs int64
			var dir string
			if err := rows.Scan(&atMs, &dir, &e.Delta, &e.ConfirmedCount); err != nil {
				return err
			}
			d, err := events.ParseDirection(dir)
			if err != nil {
				return err
			}
			e.At = fromMillis(atMs)
			e.Direction = d
			out = append(out, e)
			return nil
		})
	return out, err
}

// LatestFrame returns the newest detection record that kept its frame.
func (db *DB) LatestFrame(ctx context.Context) (events.OccupancyRecord, bool, error) {
	var r events.OccupancyRecord
	var atMs int64
	err := db.QueryRowContext(ctx,
		`SELECT record_id, at_ms, person_count, frame FROM occupancy_records
		 WHERE frame IS NOT NULL
		 ORDER BY at_ms DESC, record_id DESC LIMIT 1`,
	).Scan(&r.ID, &atMs, &r.PersonCount, &r.Frame)
	if errors.Is(err, sql.ErrNoRows) {
		return events.OccupancyRecord{}, false, nil
	}
	if err != nil {
		return events.OccupancyRecord{}, false, storeErr("latest frame", err)
	}
	r.At = fromMillis(atMs)
	return r, true, nil
}

// PruneFrames drops the stored frame bytes of records older than before and
// returns how many were cleared. The records themselves are kept.
func (db *DB) PruneFrames(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE occupancy_records SET frame = NULL WHERE frame IS NOT NULL AND at_ms < ?`,
		toMillis(before),
	)
	if err != nil {
		return 0, storeErr("prune frames", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("prune frames", err)
	}
	return n, nil
}
