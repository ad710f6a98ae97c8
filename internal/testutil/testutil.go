// Package testutil provides shared race fixtures and HTTP helpers for tests.
package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/timeutil"
)

// RaceStart is the start time used by RunRace.
var RaceStart = time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)

// FrameInterval is the frame spacing of the fixture passes (about 30 fps).
const FrameInterval = 33 * time.Millisecond

// UnknownMarker is a marker id absent from the fixture roster.
const UnknownMarker = 77

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewLocalRequest returns a request from a loopback address, which tsweb's
// debug handlers accept.
func NewLocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Entries is the fixture roster: Pro with #1 Bruno, #2 Caio and #3 Ana,
// Junior with #21 Duda.
func Entries() []race.CategoryEntries {
	return []race.CategoryEntries{
		{Name: "Pro", Entries: []race.Entry{
			{Name: "Ana", Model: "KTM 250", Number: 3},
			{Name: "Bruno", Model: "Honda CRF", Number: 1},
			{Name: "Caio", Model: "Yamaha YZ", Number: 2},
		}},
		{Name: "Junior", Entries: []race.Entry{
			{Name: "Duda", Model: "KTM 85", Number: 21},
		}},
	}
}

// NewRoster builds the fixture roster.
func NewRoster(t testing.TB) *race.Roster {
	t.Helper()
	r, err := race.NewRoster(Entries())
	if err != nil {
		t.Fatalf("fixture roster: %v", err)
	}
	return r
}

// Pass returns the frames of a marker crossing the line: frames consecutive
// sightings of id starting at, followed by one empty frame.
func Pass(at time.Time, id, frames int) []race.Observation {
	out := make([]race.Observation, 0, frames+1)
	for i := 0; i < frames; i++ {
		out = append(out, race.Observation{MarkerID: id, Present: true, FrameTime: at})
		at = at.Add(FrameInterval)
	}
	return append(out, race.Observation{FrameTime: at})
}

// Script is the fixture race, as offsets from RaceStart:
//
//	+70s  #3 Ana lap 1
//	+75s  #2 Caio lap 1
//	+80s  #21 Duda lap 1
//	+100s #3 Ana rejected, too soon
//	+110s marker 77 unrecognized
//	+140s #3 Ana lap 2
func Script() []race.Observation {
	var obs []race.Observation
	for _, p := range []struct {
		offset time.Duration
		id     int
	}{
		{70 * time.Second, 3},
		{75 * time.Second, 2},
		{80 * time.Second, 21},
		{100 * time.Second, 3},
		{110 * time.Second, UnknownMarker},
		{140 * time.Second, 3},
	} {
		obs = append(obs, Pass(RaceStart.Add(p.offset), p.id, race.DefaultConfirmationFrames)...)
	}
	return obs
}

// RunRace drives a session through Script with pub attached and finishes it.
// The session runs on a mock clock that follows the frame times.
func RunRace(t testing.TB, pub race.Publisher) *race.Session {
	t.Helper()
	ctx := context.Background()
	clock := timeutil.NewManualClock(RaceStart)
	s := race.NewSession(race.DefaultSessionConfig(), NewRoster(t), pub, clock)
	if err := s.Start(ctx, "i"); err != nil {
		t.Fatalf("start race: %v", err)
	}
	for _, obs := range Script() {
		clock.Set(obs.FrameTime)
		s.Step(ctx, obs, false)
	}
	clock.Advance(time.Second)
	if err := s.Finish(ctx); err != nil {
		t.Fatalf("finish race: %v", err)
	}
	return s
}
