// Package badge resolves RFID badge taps into alternating entry and exit
// events.
package badge

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/banshee-data/presence.report/internal/events"
)

// ErrMalformedTap marks tap data that cannot be resolved. Such taps are
// dropped without touching resolver state.
var ErrMalformedTap = errors.New("badge: malformed tap")

// mapSpecial maps letters that have no canonical decomposition.
func mapSpecial(r rune) rune {
	switch r {
	case 'ı':
		return 'i'
	case 'ß':
		return 's'
	case 'ø':
		return 'o'
	case 'Ø':
		return 'O'
	case 'đ':
		return 'd'
	case 'Đ':
		return 'D'
	case 'ł':
		return 'l'
	case 'Ł':
		return 'L'
	}
	return r
}

// newASCIIFold returns a fresh chain per call; chains carry state and are not
// safe for concurrent use.
func newASCIIFold() transform.Transformer {
	return transform.Chain(
		runes.Map(mapSpecial),
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)
}

// FoldName returns s folded to printable ASCII, e.g. "Ayşe Yılmaz" becomes
// "Ayse Yilmaz". The badge reader's display only renders ASCII.
func FoldName(s string) string {
	out, _, err := transform.String(newASCIIFold(), s)
	if err != nil {
		out = strings.Map(func(r rune) rune {
			if r > unicode.MaxASCII {
				return -1
			}
			return r
		}, s)
	}
	return strings.Join(strings.Fields(out), " ")
}

// ParseTap parses the text stored on a card, "name,card_id,A|U", read at
// time at. A marks an administrator card.
func ParseTap(at time.Time, text string) (events.BadgeTap, error) {
	parts := strings.Split(strings.TrimSpace(text), ",")
	if len(parts) != 3 {
		return events.BadgeTap{}, fmt.Errorf("%w: want name,card_id,role, got %q", ErrMalformedTap, text)
	}
	name := FoldName(parts[0])
	cardID := strings.TrimSpace(parts[1])
	role := strings.ToUpper(strings.TrimSpace(parts[2]))

	if cardID == "" {
		return events.BadgeTap{}, fmt.Errorf("%w: empty card id in %q", ErrMalformedTap, text)
	}
	if role != "A" && role != "U" {
		return events.BadgeTap{}, fmt.Errorf("%w: unknown role %q", ErrMalformedTap, parts[2])
	}
	return events.BadgeTap{
		At:          at,
		CardID:      cardID,
		DisplayName: name,
		IsAdmin:     role == "A",
	}, nil
}

// FormatCard is the inverse of ParseTap, used when provisioning a card.
func FormatCard(name, cardID string, admin bool) string {
	role := "U"
	if admin {
		role = "A"
	}
	return fmt.Sprintf("%s,%s,%s", FoldName(name), cardID, role)
}

func validate(tap events.BadgeTap) error {
	if strings.TrimSpace(tap.CardID) == "" {
		return fmt.Errorf("%w: empty card id", ErrMalformedTap)
	}
	if tap.At.IsZero() {
		return fmt.Errorf("%w: card %s has no timestamp", ErrMalformedTap, tap.CardID)
	}
	return nil
}
