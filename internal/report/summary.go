// Package report turns one day of the event log into a DailySummary, renders
// it to HTML through a text generator with a deterministic fallback, and
// draws the hourly charts attached to the email.
package report

import (
	"encoding/json"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/presence.report/internal/events"
)

// DateLayout is the form of DailySummary.Date.
const DateLayout = "2006-01-02"

// ImageHour is one hourly bucket of detection records.
type ImageHour struct {
	Detections   int `json:"detections"`
	TotalPersons int `json:"total_persons"`
	MaxPersons   int `json:"max_persons"`
}

// BadgeHour is one hourly bucket of badge events.
type BadgeHour struct {
	Entries int `json:"entries"`
	Exits   int `json:"exits"`
	Total   int `json:"total"`
}

// ImageStats summarises the day's best-frame detection records.
type ImageStats struct {
	TotalDetections int     `json:"total_detections"`
	TotalPersons    int     `json:"total_persons"`
	AveragePersons  float64 `json:"average_persons"`
	// PeakHour is the hour with the most persons counted, -1 if none.
	PeakHour int           `json:"peak_hour"`
	Hourly   [24]ImageHour `json:"hourly"`
}

// BadgeStats summarises the day's resolved badge events.
type BadgeStats struct {
	TotalEvents  int `json:"total_events"`
	UniqueCards  int `json:"unique_cards"`
	TotalEntries int `json:"total_entries"`
	TotalExits   int `json:"total_exits"`
	// PeakHour is the hour with the most events, -1 if none.
	PeakHour int           `json:"peak_hour"`
	Hourly   [24]BadgeHour `json:"hourly"`
}

// DailySummary is derived from the log for one calendar day and is never
// mutated after Summarize returns it.
type DailySummary struct {
	Date     string     `json:"date"`
	Timezone string     `json:"timezone"`
	Image    ImageStats `json:"image"`
	Badge    BadgeStats `json:"badge"`

	// Records and Events are the inputs, kept for the generator prompt.
	Records []events.OccupancyRecord `json:"-"`
	Events  []events.BadgeEvent      `json:"-"`
}

// JSON encodes the summary. The encoding depends only on the inputs, so an
// unchanged log always produces identical bytes.
func (s DailySummary) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// Summarize computes the statistics for the day starting at dayStart. Hours
// are taken in loc; records and events outside the day are not filtered here.
func Summarize(dayStart time.Time, loc *time.Location, recs []events.OccupancyRecord, evs []events.BadgeEvent) DailySummary {
	s := DailySummary{
		Date:     dayStart.In(loc).Format(DateLayout),
		Timezone: loc.String(),
		Records:  recs,
		Events:   evs,
	}

	img := &s.Image
	for _, r := range recs {
		n := r.PersonCount
		if n < 0 {
			n = 0
		}
		h := &img.Hourly[r.At.In(loc).Hour()]
		h.Detections++
		h.TotalPersons += n
		if n > h.MaxPersons {
			h.MaxPersons = n
		}
		img.TotalDetections++
		img.TotalPersons += n
	}
	if img.TotalDetections > 0 {
		img.AveragePersons = float64(img.TotalPersons) / float64(img.TotalDetections)
	}
	img.PeakHour = peakHour(ImagePersonsSeries(img.Hourly))

	b := &s.Badge
	cards := make(map[string]struct{})
	for _, e := range evs {
		h := &b.Hourly[e.At.In(loc).Hour()]
		if e.IsEntry {
			h.Entries++
			b.TotalEntries++
		} else {
			h.Exits++
			b.TotalExits++
		}
		h.Total++
		b.TotalEvents++
		cards[e.CardID] = struct{}{}
	}
	b.UniqueCards = len(cards)
	b.PeakHour = peakHour(BadgeTotalSeries(b.Hourly))

	return s
}

// ImagePersonsSeries returns persons counted per hour.
func ImagePersonsSeries(hours [24]ImageHour) []float64 {
	out := make([]float64, len(hours))
	for i, h := range hours {
		out[i] = float64(h.TotalPersons)
	}
	return out
}

// BadgeTotalSeries returns badge events per hour.
func BadgeTotalSeries(hours [24]BadgeHour) []float64 {
	out := make([]float64, len(hours))
	for i, h := range hours {
		out[i] = float64(h.Total)
	}
	return out
}

// peakHour returns the earliest hour holding the maximum, or -1 for an
// all-zero series.
func peakHour(series []float64) int {
	if floats.Sum(series) == 0 {
		return -1
	}
	return floats.MaxIdx(series)
}
