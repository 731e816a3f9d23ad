package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/presence.report/internal/dispatch"
	"github.com/banshee-data/presence.report/internal/events"
	"github.com/banshee-data/presence.report/internal/health"
	"github.com/banshee-data/presence.report/internal/httputil"
	"github.com/banshee-data/presence.report/internal/occupancy"
	"github.com/banshee-data/presence.report/internal/report"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Store is the read side of the event store used by the handlers.
type Store interface {
	OccupancyEvents(ctx context.Context, start, end time.Time) ([]events.OccupancyEvent, error)
	BadgeEvents(ctx context.Context, start, end time.Time) ([]events.BadgeEvent, error)
	Cards(ctx context.Context) ([]events.Card, error)
	ReportRuns(ctx context.Context, limit int) ([]events.ReportRun, error)
	LatestFrame(ctx context.Context) (events.OccupancyRecord, bool, error)
}

// Summarizer builds daily summaries.
type Summarizer interface {
	Aggregate(ctx context.Context, date time.Time) (report.DailySummary, error)
	ParseDate(s string) (time.Time, error)
	Location() *time.Location
}

// ReportTrigger queues an out-of-schedule report.
type ReportTrigger interface {
	Trigger(date time.Time, trigger string) bool
}

// FrameView returns the most recent camera frame.
type FrameView interface {
	Latest() (occupancy.Frame, bool)
}

// StatusSource reports component health.
type StatusSource interface {
	Snapshot() []health.Status
}

type Server struct {
	store   Store
	summary Summarizer
	clock   timeutil.Clock

	// Optional collaborators; nil disables the endpoints that need them.
	Trigger ReportTrigger
	Live    FrameView
	Health  StatusSource
}

func NewServer(store Store, summary Summarizer, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{store: store, summary: summary, clock: clock}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/summary", s.showSummary)
	mux.HandleFunc("/api/charts/hourly", s.showHourlyChart)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/cards", s.listCards)
	mux.HandleFunc("/api/live.jpg", s.showLiveFrame)
	mux.HandleFunc("/api/report/run", s.runReport)
	mux.HandleFunc("/api/report/runs", s.listReportRuns)
	return mux
}

// date reads ?date=YYYY-MM-DD, defaulting to today in the report timezone.
func (s *Server) date(r *http.Request) (time.Time, bool) {
	d := r.URL.Query().Get("date")
	if d == "" {
		return s.clock.Now().In(s.summary.Location()), true
	}
	t, err := s.summary.ParseDate(d)
	return t, err == nil
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := map[string]interface{}{
		"version":  version.String(),
		"timezone": s.summary.Location().String(),
		"now":      s.clock.Now().In(s.summary.Location()).Format(time.RFC3339),
	}
	if s.Health != nil {
		resp["components"] = s.Health.Snapshot()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	date, ok := s.date(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'date' parameter, want YYYY-MM-DD")
		return
	}
	summary, err := s.summary.Aggregate(r.Context(), date)
	if err != nil {
		httputil.InternalServerError(w, "Failed to build summary: "+err.Error())
		return
	}

	if !httputil.WantsProtobuf(r) {
		httputil.WriteJSONOK(w, summary)
		return
	}
	msg, err := summaryStruct(summary)
	if err != nil {
		httputil.InternalServerError(w, "Failed to encode summary")
		return
	}
	httputil.WriteProto(w, http.StatusOK, msg)
}

// summaryStruct converts the summary's JSON form into a protobuf Struct.
func summaryStruct(s report.DailySummary) (*structpb.Struct, error) {
	raw, err := s.JSON()
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func (s *Server) showHourlyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	date, ok := s.date(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'date' parameter, want YYYY-MM-DD")
		return
	}
	summary, err := s.summary.Aggregate(r.Context(), date)
	if err != nil {
		httputil.InternalServerError(w, "Failed to build summary: "+err.Error())
		return
	}
	var buf bytes.Buffer
	if err := report.RenderHourlyChartHTML(&buf, summary); err != nil {
		httputil.InternalServerError(w, "Failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	date, ok := s.date(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'date' parameter, want YYYY-MM-DD")
		return
	}
	start, end := report.DayRange(date, s.summary.Location())

	resp := map[string]interface{}{"date": date.Format(report.DateLayout)}
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", "occupancy", "badge":
	default:
		httputil.BadRequest(w, "Invalid 'kind' parameter, want occupancy or badge")
		return
	}
	if kind == "" || kind == "occupancy" {
		occ, err := s.store.OccupancyEvents(r.Context(), start, end)
		if err != nil {
			httputil.InternalServerError(w, "Failed to retrieve occupancy events: "+err.Error())
			return
		}
		if occ == nil {
			occ = []events.OccupancyEvent{}
		}
		resp["occupancy"] = occ
	}
	if kind == "" || kind == "badge" {
		badges, err := s.store.BadgeEvents(r.Context(), start, end)
		if err != nil {
			httputil.InternalServerError(w, "Failed to retrieve badge events: "+err.Error())
			return
		}
		if badges == nil {
			badges = []events.BadgeEvent{}
		}
		resp["badge"] = badges
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listCards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cards, err := s.store.Cards(r.Context())
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve cards: "+err.Error())
		return
	}
	if cards == nil {
		cards = []events.Card{}
	}
	httputil.WriteJSONOK(w, cards)
}

// showLiveFrame serves the live view frame when the camera loop is running,
// otherwise the newest stored best frame.
func (s *Server) showLiveFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	var data []byte
	var at time.Time
	if s.Live != nil {
		if f, ok := s.Live.Latest(); ok {
			data, at = f.Data, f.At
		}
	}
	if len(data) == 0 {
		rec, ok, err := s.store.LatestFrame(r.Context())
		if err != nil {
			httputil.InternalServerError(w, "Failed to load frame: "+err.Error())
			return
		}
		if ok {
			data, at = rec.Frame, rec.At
		}
	}
	if len(data) == 0 {
		httputil.NotFound(w, "No frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
	w.Write(data)
}

func (s *Server) runReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Trigger == nil {
		httputil.ServiceUnavailable(w, "Report dispatch is disabled")
		return
	}
	date, ok := s.date(r)
	if !ok {
		httputil.BadRequest(w, "Invalid 'date' parameter, want YYYY-MM-DD")
		return
	}
	queued := s.Trigger.Trigger(date, dispatch.TriggerManual)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"date":   date.Format(report.DateLayout),
		"queued": queued,
	})
}

func (s *Server) listReportRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	runs, err := s.store.ReportRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve report runs: "+err.Error())
		return
	}
	if runs == nil {
		runs = []events.ReportRun{}
	}
	httputil.WriteJSONOK(w, runs)
}
