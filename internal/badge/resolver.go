package badge

import (
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/events"
)

// DefaultCooldown suppresses the repeated reads a reader produces while a
// card is held against it.
const DefaultCooldown = 3 * time.Second

type lastTap struct {
	at      time.Time
	isEntry bool
}

// Resolver turns taps into per-card alternating entry and exit events. A tap
// arriving within Cooldown of the card's last accepted tap is suppressed and
// leaves the card's state untouched.
//
// One Resolver must own all tap resolution for a site: two resolvers seeing
// the same cards disagree on alternation.
type Resolver struct {
	cooldown time.Duration

	mu   sync.Mutex
	last map[string]lastTap
}

// NewResolver returns a Resolver with the given cooldown.
func NewResolver(cooldown time.Duration) *Resolver {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Resolver{cooldown: cooldown, last: make(map[string]lastTap)}
}

// Cooldown returns the configured suppression window.
func (r *Resolver) Cooldown() time.Duration { return r.cooldown }

// Resolve classifies tap. It returns ok=false when the tap was suppressed,
// and ErrMalformedTap for taps with no card id or timestamp.
func (r *Resolver) Resolve(tap events.BadgeTap) (events.BadgeEvent, bool, error) {
	if err := validate(tap); err != nil {
		return events.BadgeEvent{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	isEntry := true
	if prev, ok := r.last[tap.CardID]; ok {
		if tap.At.Sub(prev.at) <= r.cooldown {
			return events.BadgeEvent{}, false, nil
		}
		isEntry = !prev.isEntry
	}
	r.last[tap.CardID] = lastTap{at: tap.At, isEntry: isEntry}

	return events.BadgeEvent{
		At:          tap.At,
		CardID:      tap.CardID,
		DisplayName: tap.DisplayName,
		IsEntry:     isEntry,
	}, true, nil
}

// Known reports whether the resolver holds state for cardID.
func (r *Resolver) Known(cardID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.last[cardID]
	return ok
}

// Seed primes state for a card not currently held, typically from the last
// persisted event after a restart or eviction. Held cards are left alone.
func (r *Resolver) Seed(cardID string, at time.Time, isEntry bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.last[cardID]; ok {
		return
	}
	r.last[cardID] = lastTap{at: at, isEntry: isEntry}
}

// Evict drops cards whose last accepted tap is before cutoff and returns how
// many were dropped.
func (r *Resolver) Evict(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, lt := range r.last {
		if lt.at.Before(cutoff) {
			delete(r.last, id)
			n++
		}
	}
	return n
}

// Len returns the number of cards held.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.last)
}
