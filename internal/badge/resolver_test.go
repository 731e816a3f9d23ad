package badge

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/presence.report/internal/events"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func tapAt(card string, d time.Duration) events.BadgeTap {
	return events.BadgeTap{At: t0.Add(d), CardID: card, DisplayName: "Ayse"}
}

func TestResolver_CooldownSuppressesAndAlternates(t *testing.T) {
	r := NewResolver(3 * time.Second)

	var got []events.BadgeEvent
	for _, d := range []time.Duration{0, 2 * time.Second, 10 * time.Second} {
		ev, ok, err := r.Resolve(tapAt("C-1", d))
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if ok {
			got = append(got, ev)
		}
	}

	want := []events.BadgeEvent{
		{At: t0, CardID: "C-1", DisplayName: "Ayse", IsEntry: true},
		{At: t0.Add(10 * time.Second), CardID: "C-1", DisplayName: "Ayse", IsEntry: false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestResolver_SuppressedTapDoesNotExtendWindow(t *testing.T) {
	r := NewResolver(3 * time.Second)
	mustResolve(t, r, tapAt("C-1", 0), true)
	mustResolve(t, r, tapAt("C-1", 2*time.Second), false)
	// 3.5s after the accepted tap, only 1.5s after the suppressed one.
	ev := mustResolve(t, r, tapAt("C-1", 3500*time.Millisecond), true)
	if ev.IsEntry {
		t.Error("expected exit")
	}
}

func TestResolver_ExactCooldownIsSuppressed(t *testing.T) {
	r := NewResolver(3 * time.Second)
	mustResolve(t, r, tapAt("C-1", 0), true)
	mustResolve(t, r, tapAt("C-1", 3*time.Second), false)
	mustResolve(t, r, tapAt("C-1", 3*time.Second+time.Millisecond), true)
}

func TestResolver_CardsAreIndependent(t *testing.T) {
	r := NewResolver(3 * time.Second)
	a := mustResolve(t, r, tapAt("A", 0), true)
	b := mustResolve(t, r, tapAt("B", time.Second), true)
	if !a.IsEntry || !b.IsEntry {
		t.Errorf("first tap of each card must be an entry: %+v %+v", a, b)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestResolver_MalformedTapLeavesState(t *testing.T) {
	r := NewResolver(3 * time.Second)
	for _, tap := range []events.BadgeTap{
		{At: t0, CardID: ""},
		{At: t0, CardID: "   "},
		{CardID: "C-1"},
	} {
		if _, ok, err := r.Resolve(tap); !errors.Is(err, ErrMalformedTap) || ok {
			t.Errorf("Resolve(%+v) = ok %v, err %v", tap, ok, err)
		}
	}
	if r.Len() != 0 {
		t.Errorf("malformed taps mutated state: Len() = %d", r.Len())
	}
}

func TestResolver_EvictAndSeed(t *testing.T) {
	r := NewResolver(3 * time.Second)
	mustResolve(t, r, tapAt("old", 0), true)
	mustResolve(t, r, tapAt("new", 48*time.Hour), true)

	if n := r.Evict(t0.Add(24 * time.Hour)); n != 1 {
		t.Fatalf("Evict() = %d, want 1", n)
	}
	if r.Known("old") || !r.Known("new") {
		t.Fatalf("wrong card evicted")
	}

	// Seeding from the persisted last event restores alternation.
	r.Seed("old", t0, true)
	ev := mustResolve(t, r, tapAt("old", 72*time.Hour), true)
	if ev.IsEntry {
		t.Error("seeded card should alternate to exit")
	}

	// Seed never overrides live state.
	r.Seed("new", t0, false)
	ev = mustResolve(t, r, tapAt("new", 72*time.Hour), true)
	if ev.IsEntry {
		t.Error("live state should have produced an exit")
	}
}

func TestResolver_AlternationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := NewResolver(3 * time.Second)
	cards := []string{"A", "B", "C", "D"}
	clock := map[string]time.Duration{}
	lastKind := map[string]bool{}

	for i := 0; i < 2000; i++ {
		card := cards[rng.Intn(len(cards))]
		clock[card] += time.Duration(rng.Intn(8000)) * time.Millisecond
		ev, ok, err := r.Resolve(tapAt(card, clock[card]))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			continue
		}
		prev, seen := lastKind[card]
		if !seen && !ev.IsEntry {
			t.Fatalf("first event for %s was an exit", card)
		}
		if seen && ev.IsEntry == prev {
			t.Fatalf("card %s did not alternate at tap %d", card, i)
		}
		lastKind[card] = ev.IsEntry
	}
}

func mustResolve(t *testing.T, r *Resolver, tap events.BadgeTap, wantOK bool) events.BadgeEvent {
	t.Helper()
	ev, ok, err := r.Resolve(tap)
	if err != nil {
		t.Fatalf("Resolve(%+v): %v", tap, err)
	}
	if ok != wantOK {
		t.Fatalf("Resolve(%+v) ok = %v, want %v", tap, ok, wantOK)
	}
	return ev
}
