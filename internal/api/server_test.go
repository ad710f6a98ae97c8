package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laps.report/internal/control"
	"github.com/banshee-data/laps.report/internal/db"
	"github.com/banshee-data/laps.report/internal/journal"
	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/testutil"
	"github.com/banshee-data/laps.report/internal/timeutil"
)

type station struct {
	hub     *Hub
	latch   *control.StopLatch
	db      *db.DB
	journal *journal.Journal
	handler http.Handler
}

func quiet(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

func newStation(t *testing.T) *station {
	t.Helper()
	quiet(t)

	database, err := db.NewDB(filepath.Join(t.TempDir(), "laps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	jr, err := journal.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { jr.Close() })

	st := &station{
		hub:     NewHub(0),
		latch:   &control.StopLatch{},
		db:      database,
		journal: jr,
	}
	st.handler = NewServer(st.hub, st.latch, database, jr).Router()
	return st
}

func (st *station) publisher() race.Publisher {
	return race.MultiPublisher{st.db, st.journal, st.hub}
}

func (st *station) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	st.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

// startRace runs the fixture script without finishing the race.
func startRace(t *testing.T, pub race.Publisher) (*race.Session, *timeutil.ManualClock) {
	t.Helper()
	ctx := context.Background()
	clock := timeutil.NewManualClock(testutil.RaceStart)
	s := race.NewSession(race.DefaultSessionConfig(), testutil.NewRoster(t), pub, clock)
	require.NoError(t, s.Start(ctx, "i"))
	for _, obs := range testutil.Script() {
		clock.Set(obs.FrameTime)
		s.Step(ctx, obs, false)
	}
	return s, clock
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	st := newStation(t)
	w := st.get(t, "/healthz")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "ok", w.Body.String())
}

func TestBeforeStart(t *testing.T) {
	st := newStation(t)

	w := st.get(t, "/api/session")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "not_started", decode[Status](t, w).State)

	for _, path := range []string{"/api/standings", "/api/standings/Pro", "/api/competitors/3/laps", "/leaderboard.html"} {
		testutil.AssertStatusCode(t, st.get(t, path).Code, http.StatusNotFound)
	}

	w = httptest.NewRecorder()
	st.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/session/stop", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
	assert.Zero(t, st.latch.Presses())
}

func TestSessionAndStandings(t *testing.T) {
	st := newStation(t)
	s := testutil.RunRace(t, st.publisher())

	status := decode[Status](t, st.get(t, "/api/session"))
	assert.Equal(t, "finished", status.State)
	assert.Equal(t, s.RaceID(), status.RaceID)
	assert.Equal(t, "race", status.RaceName)
	require.NotNil(t, status.RaceStart)
	assert.True(t, status.RaceStart.Equal(testutil.RaceStart))
	assert.NotNil(t, status.EndedAt)
	assert.Equal(t, race.RegistrarStats{Accepted: 4, Rejected: 1, Unrecognized: 1}, status.Decisions)
	require.NotNil(t, status.LastOutcome)
	assert.Equal(t, "accepted", status.LastOutcome.Kind)
	assert.Equal(t, "00:01:10", status.LastOutcome.LapTime)

	cats := decode[[]race.CategoryStandings](t, st.get(t, "/api/standings"))
	require.Len(t, cats, 2)
	var order []int
	for _, s := range cats[0].Standings {
		order = append(order, s.Number)
	}
	assert.Equal(t, []int{3, 2, 1}, order)

	junior := decode[[]race.Standing](t, st.get(t, "/api/standings/Junior"))
	require.Len(t, junior, 1)
	assert.Equal(t, 21, junior[0].Number)
	// Confirmation lands on the sixth frame of the pass.
	assert.Equal(t, 80*time.Second+5*testutil.FrameInterval, junior[0].Elapsed)

	testutil.AssertStatusCode(t, st.get(t, "/api/standings/Elite").Code, http.StatusNotFound)
}

func TestCompetitorLaps(t *testing.T) {
	st := newStation(t)
	testutil.RunRace(t, st.publisher())

	w := st.get(t, "/api/competitors/3/laps")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	laps := decode[CompetitorLaps](t, w)
	assert.Equal(t, "Ana", laps.Name)
	assert.Equal(t, "Pro", laps.Category)
	require.Len(t, laps.Laps, 2)
	assert.Equal(t, LapView{Lap: 2, Duration: 70 * time.Second, LapTime: "00:01:10"}, laps.Laps[1])
	assert.Equal(t, 2, laps.Stats.Count)
	assert.Equal(t, 70*time.Second, laps.Stats.Best)
	assert.Equal(t, 140*time.Second+5*testutil.FrameInterval, laps.Stats.Total)

	bruno := decode[CompetitorLaps](t, st.get(t, "/api/competitors/1/laps"))
	assert.Empty(t, bruno.Laps)

	testutil.AssertStatusCode(t, st.get(t, "/api/competitors/99/laps").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, st.get(t, "/api/competitors/abc/laps").Code, http.StatusBadRequest)

	w = st.get(t, "/api/competitors/3/chart.png")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))
}

func TestLeaderboardPage(t *testing.T) {
	st := newStation(t)
	testutil.RunRace(t, st.publisher())

	w := st.get(t, "/leaderboard.html")
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "echarts")
}

func TestStoredRaces(t *testing.T) {
	st := newStation(t)
	s := testutil.RunRace(t, st.publisher())
	id := s.RaceID()

	races := decode[[]db.Race](t, st.get(t, "/api/races"))
	require.Len(t, races, 1)
	assert.Equal(t, id, races[0].ID)

	detail := decode[RaceDetail](t, st.get(t, "/api/races/"+id))
	assert.Equal(t, db.StatusFinished, detail.Race.Status)
	assert.Len(t, detail.Standings, 2)

	laps := decode[[]db.Lap](t, st.get(t, "/api/races/"+id+"/laps"))
	assert.Len(t, laps, 4)
	laps = decode[[]db.Lap](t, st.get(t, "/api/races/"+id+"/laps?number=3"))
	assert.Len(t, laps, 2)
	testutil.AssertStatusCode(t, st.get(t, "/api/races/"+id+"/laps?number=x").Code, http.StatusBadRequest)

	decisions := decode[[]db.Decision](t, st.get(t, "/api/races/"+id+"/decisions"))
	assert.Len(t, decisions, 6)

	entries := decode[[]journal.Entry](t, st.get(t, "/api/races/"+id+"/journal"))
	require.Len(t, entries, 9)
	assert.Equal(t, "started", entries[0].Lifecycle)
	assert.Equal(t, "finished", entries[8].Lifecycle)

	testutil.AssertStatusCode(t, st.get(t, "/api/races/nope").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, st.get(t, "/api/races/nope/laps").Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, st.get(t, "/api/races/nope/journal").Code, http.StatusNotFound)
}

func TestWithoutStorage(t *testing.T) {
	quiet(t)
	hub := NewHub(0)
	h := NewServer(hub, nil, nil, nil).Router()

	for _, path := range []string{"/api/races", "/api/races/x", "/api/races/x/journal"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/session/stop", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
}

func TestStopFinishesRunningRace(t *testing.T) {
	st := newStation(t)
	s, clock := startRace(t, st.publisher())
	assert.Equal(t, "running", st.hub.Status().State)

	for i := 1; i <= 2; i++ {
		w := httptest.NewRecorder()
		st.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/session/stop", nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
		assert.EqualValues(t, i, decode[map[string]int64](t, w)["presses"])
	}

	// The loop consumes one press per frame; frames 100ms apart are inside
	// the stop window.
	ctx := context.Background()
	var stopped bool
	for i := 0; i < 2 && !stopped; i++ {
		clock.Advance(100 * time.Millisecond)
		stopped = s.Step(ctx, race.Observation{FrameTime: clock.Now()}, st.latch.StopAsserted()).Stopped
	}
	assert.True(t, stopped)
	assert.Equal(t, race.Finished, s.State())
	assert.Equal(t, "finished", st.hub.Status().State)

	w := httptest.NewRecorder()
	st.handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/session/stop", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)
}

func TestMethodNotAllowed(t *testing.T) {
	st := newStation(t)
	w := httptest.NewRecorder()
	st.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session/stop", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)

	testutil.AssertStatusCode(t, st.get(t, "/api/nothing").Code, http.StatusNotFound)
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{101, colorCyan},
		{200, colorBoldGreen},
		{304, colorYellow},
		{404, colorBoldRed},
		{503, colorBoldRed},
	}
	for _, tt := range tests {
		got := statusCodeColor(tt.code)
		assert.True(t, strings.HasPrefix(got, tt.want), tt.code)
	}
	assert.Equal(t, "42", statusCodeColor(42))
}
