// Package events defines the records that flow from the sensors into the
// event store and out to the daily report.
package events

import (
	"fmt"
	"time"
)

// CountSample is one debouncer tick: the best person count of a frame batch.
type CountSample struct {
	At          time.Time
	PersonCount int
}

// OccupancyRecord is the persisted best-frame detection of one successful
// batch. Frame carries the raw encoded image when one was kept.
type OccupancyRecord struct {
	ID          int64     `json:"id,omitempty"`
	At          time.Time `json:"at"`
	PersonCount int       `json:"person_count"`
	Frame       []byte    `json:"-"`
}

// Direction is the sign of a confirmed occupancy change.
type Direction int

const (
	Enter Direction = 1
	Leave Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Enter:
		return "enter"
	case Leave:
		return "leave"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// MarshalText encodes the direction as "enter" or "leave".
func (d Direction) MarshalText() ([]byte, error) {
	if d != Enter && d != Leave {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText parses "enter" or "leave".
func (d *Direction) UnmarshalText(b []byte) error {
	dir, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = dir
	return nil
}

// ParseDirection parses the stored form of a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "enter":
		return Enter, nil
	case "leave":
		return Leave, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// OccupancyEvent is a debounced change in the number of people in the room.
// Delta is at least 1 and ConfirmedCount is the count after the change.
type OccupancyEvent struct {
	At             time.Time `json:"at"`
	Direction      Direction `json:"direction"`
	Delta          int       `json:"delta"`
	ConfirmedCount int       `json:"confirmed_count"`
}

// BadgeTap is a raw read from the badge reader.
type BadgeTap struct {
	At          time.Time
	CardID      string
	DisplayName string
	IsAdmin     bool
}

// BadgeEvent is a resolved entry or exit.
type BadgeEvent struct {
	ID          int64     `json:"id,omitempty"`
	At          time.Time `json:"at"`
	CardID      string    `json:"card_id"`
	DisplayName string    `json:"display_name"`
	IsEntry     bool      `json:"is_entry"`
}

// Kind returns "entry" or "exit".
func (e BadgeEvent) Kind() string {
	if e.IsEntry {
		return "entry"
	}
	return "exit"
}

// Card is a badge seen at least once by the reader.
type Card struct {
	CardID      string    `json:"card_id"`
	DisplayName string    `json:"display_name"`
	IsAdmin     bool      `json:"is_admin"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// ReportRun is one attempt to build and send a daily report.
type ReportRun struct {
	ID         string    `json:"id"`
	Date       string    `json:"date"`
	Trigger    string    `json:"trigger"`
	Source     string    `json:"source,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Report run statuses.
const (
	RunStarted = "started"
	RunSent    = "sent"
	RunFailed  = "failed"
)
