package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/banshee-data/presence.report/internal/events"
)

// AppendBadgeEvent persists one resolved entry or exit and returns its id.
func (db *DB) AppendBadgeEvent(ctx context.Context, e events.BadgeEvent) (int64, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO badge_events (at_ms, card_id, display_name, is_entry) VALUES (?, ?, ?, ?)`,
		toMillis(e.At), e.CardID, e.DisplayName, boolInt(e.IsEntry),
	)
	if err != nil {
		return 0, storeErr("append badge event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("append badge event", err)
	}
	return id, nil
}

// BadgeEvents returns the badge events in [start, end] ordered by timestamp.
func (db *DB) BadgeEvents(ctx context.Context, start, end time.Time) ([]events.BadgeEvent, error) {
	var out []events.BadgeEvent
	err := db.queryRange(ctx, "badge events",
		`SELECT event_id, at_ms, card_id, display_name, is_entry FROM badge_events
		 WHERE at_ms >= ? AND at_ms <= ?
		 ORDER BY at_ms, event_id`,
		start, end,
		func(rows *sql.Rows) error {
			e, err := scanBadgeEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	return out, err
}

// LastBadgeEvent returns the most recent event for cardID, if any.
func (db *DB) LastBadgeEvent(ctx context.Context, cardID string) (events.BadgeEvent, bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT event_id, at_ms, card_id, display_name, is_entry FROM badge_events
		 WHERE card_id = ?
		 ORDER BY at_ms DESC, event_id DESC LIMIT 1`,
		cardID,
	)
	e, err := scanBadgeEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return events.BadgeEvent{}, false, nil
	}
	if err != nil {
		return events.BadgeEvent{}, false, storeErr("last badge event", err)
	}
	return e, true, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBadgeEvent(s scanner) (events.BadgeEvent, error) {
	var e events.BadgeEvent
	var atMs int64
	var isEntry int
	if err := s.Scan(&e.ID, &atMs, &e.CardID, &e.DisplayName, &isEntry); err != nil {
		return events.BadgeEvent{}, err
	}
	e.At = fromMillis(atMs)
	e.IsEntry = isEntry == 1
	return e, nil
}

// UpsertCard records a tap in the card registry. The display name and admin
// flag follow the latest tap; first_seen is kept from the first one.
func (db *DB) UpsertCard(ctx context.Context, tap events.BadgeTap) error {
	at := toMillis(tap.At)
	_, err := db.ExecContext(ctx,
		`INSERT INTO cards (card_id, display_name, is_admin, first_seen_ms, last_seen_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(card_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   is_admin = excluded.is_admin,
		   first_seen_ms = MIN(cards.first_seen_ms, excluded.first_seen_ms),
		   last_seen_ms = MAX(cards.last_seen_ms, excluded.last_seen_ms)`,
		tap.CardID, tap.DisplayName, boolInt(tap.IsAdmin), at, at,
	)
	if err != nil {
		return storeErr("upsert card", err)
	}
	return nil
}

// Cards returns the card registry ordered by display name, then card id.
func (db *DB) Cards(ctx context.Context) ([]events.Card, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT card_id, display_name, is_admin, first_seen_ms, last_seen_ms FROM cards
		 ORDER BY display_name, card_id`)
	if err != nil {
		return nil, storeErr("cards", err)
	}
	defer rows.Close()

	var cards []events.Card
	for rows.Next() {
		var c events.Card
		var isAdmin int
		var first, last int64
		if err := rows.Scan(&c.CardID, &c.DisplayName, &isAdmin, &first, &last); err != nil {
			return nil, storeErr("cards", err)
		}
		c.IsAdmin = isAdmin == 1
		c.FirstSeen = fromMillis(first)
		c.LastSeen = fromMillis(last)
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("cards", err)
	}
	return cards, nil
}
