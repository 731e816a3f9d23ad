package badge

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/presence.report/internal/events"
)

func TestFoldName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Ayşe Yılmaz", "Ayse Yilmaz"},
		{"İsmail Çağrı Güneş", "Ismail Cagri Gunes"},
		{"Öztürk Şükrü", "Ozturk Sukru"},
		{"  José   Müller ", "Jose Muller"},
		{"Łukasz Straße", "Lukasz Strase"},
		{"李雷", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := FoldName(tt.in); got != tt.want {
			t.Errorf("FoldName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTap(t *testing.T) {
	got, err := ParseTap(t0, "  Ayşe Yılmaz,1700000000,A \n")
	if err != nil {
		t.Fatalf("ParseTap: %v", err)
	}
	want := events.BadgeTap{At: t0, CardID: "1700000000", DisplayName: "Ayse Yilmaz", IsAdmin: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tap mismatch (-want +got):\n%s", diff)
	}

	got, err = ParseTap(t0, "Bob,42,u")
	if err != nil || got.IsAdmin {
		t.Errorf("ParseTap user card = %+v, %v", got, err)
	}
}

func TestParseTap_Malformed(t *testing.T) {
	for _, text := range []string{
		"",
		"just-a-name",
		"a,b",
		"a,b,c,d",
		"Bob,,U",
		"Bob,42,X",
	} {
		if _, err := ParseTap(t0, text); !errors.Is(err, ErrMalformedTap) {
			t.Errorf("ParseTap(%q) err = %v, want ErrMalformedTap", text, err)
		}
	}
}

func TestFormatCard_RoundTrip(t *testing.T) {
	text := FormatCard("Çiğdem", "99", true)
	if text != "Cigdem,99,A" {
		t.Fatalf("FormatCard = %q", text)
	}
	tap, err := ParseTap(t0, text)
	if err != nil || tap.CardID != "99" || !tap.IsAdmin || tap.DisplayName != "Cigdem" {
		t.Errorf("round trip = %+v, %v", tap, err)
	}
}
