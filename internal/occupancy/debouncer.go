package occupancy

import (
	"time"

	"github.com/banshee-data/presence.report/internal/events"
)

// DefaultDebounceDepth is the number of agreeing ticks needed to confirm a
// change in occupancy.
const DefaultDebounceDepth = 5

// Debouncer is a hysteresis filter over per-tick person counts. It keeps the
// last N raw counts and only confirms a new count once the window's mode has
// disagreed with the confirmed count in the same direction for N consecutive
// ticks. The confirmation threshold defaults to the window size and can be
// set separately with NewDebouncerWindow.
//
// A Debouncer is not safe for concurrent use; the occupancy loop owns it.
type Debouncer struct {
	depth     int
	confirm   int
	window    []int
	confirmed int
	rising    int
	falling   int
}

// NewDebouncer returns a Debouncer with window size and confirmation
// threshold depth. Depths below 1 are treated as 1.
func NewDebouncer(depth int) *Debouncer {
	return NewDebouncerWindow(depth, depth)
}

// NewDebouncerWindow returns a Debouncer holding window counts that confirms
// a change after confirm agreeing ticks. Values below 1 are treated as 1.
func NewDebouncerWindow(window, confirm int) *Debouncer {
	if window < 1 {
		window = 1
	}
	if confirm < 1 {
		confirm = 1
	}
	return &Debouncer{depth: window, confirm: confirm, window: make([]int, 0, window)}
}

// Depth returns the window size.
func (d *Debouncer) Depth() int { return d.depth }

// ConfirmTicks returns the confirmation threshold.
func (d *Debouncer) ConfirmTicks() int { return d.confirm }

// Confirmed returns the last confirmed person count.
func (d *Debouncer) Confirmed() int { return d.confirmed }

// Observe feeds one raw count observed at time at. It returns an event when
// this tick confirms a change. Negative counts are clamped to zero.
func (d *Debouncer) Observe(at time.Time, raw int) (events.OccupancyEvent, bool) {
	if raw < 0 {
		raw = 0
	}
	if len(d.window) == d.depth {
		copy(d.window, d.window[1:])
		d.window = d.window[:d.depth-1]
	}
	d.window = append(d.window, raw)

	mode := windowMode(d.window)
	switch {
	case mode > d.confirmed:
		d.rising++
		d.falling = 0
		if d.rising == d.confirm {
			ev := events.OccupancyEvent{
				At:             at,
				Direction:      events.Enter,
				Delta:          mode - d.confirmed,
				ConfirmedCount: mode,
			}
			d.confirmed = mode
			d.rising = 0
			return ev, true
		}
	case mode < d.confirmed:
		d.falling++
		d.rising = 0
		if d.falling == d.confirm {
			ev := events.OccupancyEvent{
				At:             at,
				Direction:      events.Leave,
				Delta:          d.confirmed - mode,
				ConfirmedCount: mode,
			}
			d.confirmed = mode
			d.falling = 0
			return ev, true
		}
	default:
		d.rising = 0
		d.falling = 0
	}
	return events.OccupancyEvent{}, false
}

// windowMode returns the most frequent value in w. Among equally frequent
// values the one that appears first in w wins.
func windowMode(w []int) int {
	best, bestN := 0, 0
	for i, v := range w {
		seen := false
		for _, u := range w[:i] {
			if u == v {
				seen = true
				break
			}
		}
		if seen {
			continue
		}
		n := 0
		for _, u := range w[i:] {
			if u == v {
				n++
			}
		}
		if n > bestN {
			best, bestN = v, n
		}
	}
	return best
}
