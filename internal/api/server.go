// Package api serves the live race over HTTP and websocket: session status,
// standings, lap histories, stored races and the stop control.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/banshee-data/laps.report/internal/db"
	"github.com/banshee-data/laps.report/internal/httputil"
	"github.com/banshee-data/laps.report/internal/journal"
	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/report"
	"github.com/banshee-data/laps.report/internal/units"
)

// ANSI escape codes for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// RaceStore is the stored race history. *db.DB implements it.
type RaceStore interface {
	Races(ctx context.Context) ([]db.Race, error)
	Race(ctx context.Context, id string) (db.Race, error)
	Laps(ctx context.Context, raceID string, number int) ([]db.Lap, error)
	Standings(ctx context.Context, raceID string) ([]race.CategoryStandings, error)
	Decisions(ctx context.Context, raceID string) ([]db.Decision, error)
}

// JournalReader replays the decision journal. *journal.Journal implements it.
type JournalReader interface {
	Entries(raceID string) ([]journal.Entry, error)
}

// StopPresser receives stop presses. *control.StopLatch implements it.
type StopPresser interface {
	Press()
	Presses() int64
}

type Server struct {
	hub     *Hub
	stop    StopPresser
	store   RaceStore
	journal JournalReader
}

// NewServer returns a server over the hub. store and journal may be nil, in
// which case their routes answer 503.
func NewServer(hub *Hub, stop StopPresser, store RaceStore, jr JournalReader) *Server {
	return &Server{hub: hub, stop: stop, store: store, journal: jr}
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

// Hijack lets the websocket upgrade through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 100 && statusCode < 200:
		return colorCyan + strconv.Itoa(statusCode) + colorReset
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
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// Router returns the station's HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.healthz)
	r.Get("/leaderboard.html", s.leaderboard)
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.session)
		r.Post("/session/stop", s.stopSession)
		r.Get("/standings", s.standings)
		r.Get("/standings/{category}", s.categoryStandings)
		r.Get("/competitors/{number}/laps", s.competitorLaps)
		r.Get("/competitors/{number}/chart.png", s.competitorChart)

		r.Get("/races", s.listRaces)
		r.Route("/races/{id}", func(r chi.Router) {
			r.Get("/", s.getRace)
			r.Get("/laps", s.raceLaps)
			r.Get("/decisions", s.raceDecisions)
			r.Get("/journal", s.raceJournal)
		})
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) session(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, s.hub.Status())
}

func (s *Server) stopSession(w http.ResponseWriter, _ *http.Request) {
	if s.stop == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "stop control is not configured")
		return
	}
	if st := s.hub.Status(); st.State != race.Running.String() {
		httputil.Errorf(w, http.StatusConflict, "race is %s", st.State)
		return
	}
	s.stop.Press()
	httputil.JSON(w, http.StatusAccepted, map[string]int64{"presses": s.stop.Presses()})
}

// latest writes a 404 and returns false before the first snapshot.
func (s *Server) latest(w http.ResponseWriter) (race.Snapshot, bool) {
	snap, ok := s.hub.Snapshot()
	if !ok {
		httputil.Error(w, http.StatusNotFound, "race has not started")
	}
	return snap, ok
}

func (s *Server) standings(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	httputil.OK(w, snap.Categories)
}

func (s *Server) categoryStandings(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	category := chi.URLParam(r, "category")
	standings, ok := snap.Standings(category)
	if !ok {
		httputil.Errorf(w, http.StatusNotFound, "unknown category %q", category)
		return
	}
	httputil.OK(w, standings)
}

// LapView is one lap in a competitor's history.
type LapView struct {
	Lap      int           `json:"lap"`
	Duration time.Duration `json:"duration"`
	LapTime  string        `json:"lap_time"`
}

// CompetitorLaps is the lap history of one competitor with statistics.
type CompetitorLaps struct {
	Number   int             `json:"number"`
	Name     string          `json:"name"`
	Model    string          `json:"model"`
	Category string          `json:"category"`
	Laps     []LapView       `json:"laps"`
	Stats    report.LapStats `json:"stats"`
}

func (s *Server) competitor(w http.ResponseWriter, r *http.Request) (race.LapHistory, bool) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "race number must be an integer")
		return race.LapHistory{}, false
	}
	snap, ok := s.latest(w)
	if !ok {
		return race.LapHistory{}, false
	}
	h, ok := snap.History(number)
	if !ok {
		httputil.Errorf(w, http.StatusNotFound, "no competitor #%d", number)
	}
	return h, ok
}

func (s *Server) competitorLaps(w http.ResponseWriter, r *http.Request) {
	h, ok := s.competitor(w, r)
	if !ok {
		return
	}
	resp := CompetitorLaps{
		Number:   h.Number,
		Name:     h.Name,
		Model:    h.Model,
		Category: h.Category,
		Laps:     make([]LapView, len(h.Laps)),
		Stats:    report.ComputeLapStats(h.Laps),
	}
	for i, d := range h.Laps {
		resp.Laps[i] = LapView{Lap: i + 1, Duration: d, LapTime: units.FormatHMS(d)}
	}
	httputil.OK(w, resp)
}

func (s *Server) competitorChart(w http.ResponseWriter, r *http.Request) {
	h, ok := s.competitor(w, r)
	if !ok {
		return
	}
	png, err := report.LapChartPNG(h)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) leaderboard(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderLeaderboard(w, snap); err != nil {
		monitoring.Logf("render leaderboard: %v", err)
	}
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "race database is not configured")
		return false
	}
	return true
}

func (s *Server) listRaces(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	races, err := s.store.Races(r.Context())
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.OK(w, races)
}

// RaceDetail is a stored race with its last recorded standings.
type RaceDetail struct {
	Race      db.Race                  `json:"race"`
	Standings []race.CategoryStandings `json:"standings"`
}

func (s *Server) getRace(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	rc, ok := s.storedRace(w, r)
	if !ok {
		return
	}
	standings, err := s.store.Standings(r.Context(), rc.ID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.OK(w, RaceDetail{Race: rc, Standings: standings})
}

func (s *Server) storedRace(w http.ResponseWriter, r *http.Request) (db.Race, bool) {
	rc, err := s.store.Race(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, db.ErrRaceNotFound):
		httputil.Error(w, http.StatusNotFound, err.Error())
		return rc, false
	case err != nil:
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return rc, false
	}
	return rc, true
}

func (s *Server) raceLaps(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	number := 0
	if v := r.URL.Query().Get("number"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.Error(w, http.StatusBadRequest, "number must be a positive integer")
			return
		}
		number = n
	}
	rc, ok := s.storedRace(w, r)
	if !ok {
		return
	}
	laps, err := s.store.Laps(r.Context(), rc.ID, number)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.OK(w, laps)
}

func (s *Server) raceDecisions(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	rc, ok := s.storedRace(w, r)
	if !ok {
		return
	}
	decisions, err := s.store.Decisions(r.Context(), rc.ID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.OK(w, decisions)
}

func (s *Server) raceJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "journal is not configured")
		return
	}
	entries, err := s.journal.Entries(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(entries) == 0 {
		httputil.Error(w, http.StatusNotFound, "no journal entries for race")
		return
	}
	httputil.OK(w, entries)
}
