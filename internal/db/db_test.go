package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/testutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	db, err := NewDB(filepath.Join(t.TempDir(), "laps.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_Migrates(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion(migrationsFS())
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
	assert.False(t, dirty)

	for _, table := range []string{"races", "competitors", "laps", "lap_decisions", "standings"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}

	// Running again is a no-op.
	require.NoError(t, db.MigrateUp(migrationsFS()))
}

func TestMigrateDownAndTo(t *testing.T) {
	db := setupTestDB(t)
	m := migrationsFS()

	require.NoError(t, db.MigrateDown(m))
	version, _, err := db.MigrateVersion(m)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='standings'`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, db.MigrateTo(m, 2))
	version, _, err = db.MigrateVersion(m)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
}

func TestDB_RecordsRace(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	s := testutil.RunRace(t, db)

	races, err := db.Races(ctx)
	require.NoError(t, err)
	require.Len(t, races, 1)
	r := races[0]
	assert.Equal(t, s.RaceID(), r.ID)
	assert.Equal(t, "race", r.Name)
	assert.Equal(t, StatusFinished, r.Status)
	assert.True(t, r.StartedAt.Equal(testutil.RaceStart))
	require.NotNil(t, r.EndedAt)
	assert.Equal(t, time.Minute, r.MinLapDuration)
	assert.Equal(t, race.DefaultConfirmationFrames, r.ConfirmationFrames)

	got, err := db.Race(ctx, s.RaceID())
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	laps, err := db.Laps(ctx, s.RaceID(), 0)
	require.NoError(t, err)
	require.Len(t, laps, 4)
	assert.Equal(t, 2, laps[0].Number)
	assert.Equal(t, "Caio", laps[0].Name)
	assert.Equal(t, 3, laps[1].Number)
	assert.Equal(t, 1, laps[1].Lap)
	assert.Equal(t, 2, laps[2].Lap)
	assert.Equal(t, 70*time.Second, laps[2].Duration)
	assert.Equal(t, "Junior", laps[3].Category)

	ana, err := db.Laps(ctx, s.RaceID(), 3)
	require.NoError(t, err)
	assert.Len(t, ana, 2)

	decisions, err := db.Decisions(ctx, s.RaceID())
	require.NoError(t, err)
	require.Len(t, decisions, 6)
	var kinds []string
	for _, d := range decisions {
		kinds = append(kinds, d.Kind)
	}
	assert.Equal(t, []string{"accepted", "accepted", "accepted", "rejected", "unrecognized", "accepted"}, kinds)
	assert.Equal(t, race.ReasonTooSoon, decisions[3].Reason)
	assert.Nil(t, decisions[4].Number)
	assert.Equal(t, testutil.UnknownMarker, decisions[4].MarkerID)

	standings, err := db.Standings(ctx, s.RaceID())
	require.NoError(t, err)
	require.Len(t, standings, 2)
	assert.Equal(t, "Pro", standings[0].Category)
	var order []int
	for _, st := range standings[0].Standings {
		order = append(order, st.Number)
	}
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Equal(t, 2, standings[0].Standings[0].Laps)
	assert.Equal(t, "Junior", standings[1].Category)
}

func TestDB_UnknownRace(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Race(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRaceNotFound)
}

func TestDB_OutcomeWithoutRace(t *testing.T) {
	db := setupTestDB(t)
	err := db.PublishOutcome(context.Background(), race.LapOutcome{Kind: race.Unrecognized, MarkerID: 9})
	assert.ErrorIs(t, err, ErrNoActiveRace)
}

func TestDB_EndedRace(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	snap := race.Snapshot{RaceID: "r1", RaceName: "treino", RaceStart: testutil.RaceStart}

	require.NoError(t, db.PublishLifecycle(ctx, race.LifecycleEvent{Kind: race.LifecycleStarted, RaceID: "r1", RaceName: "treino", Snapshot: snap}))
	require.NoError(t, db.PublishLifecycle(ctx, race.LifecycleEvent{Kind: race.LifecycleEnded, RaceID: "r1", At: testutil.RaceStart.Add(time.Hour), Snapshot: snap}))

	r, err := db.Race(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, r.Status)
	assert.True(t, r.EndedAt.Equal(testutil.RaceStart.Add(time.Hour)))

	// The race no longer receives outcomes.
	assert.ErrorIs(t, db.PublishOutcome(ctx, race.LapOutcome{}), ErrNoActiveRace)
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	testutil.RunRace(t, db)

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, "/debug/backup", nil))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "laps-backup-")

	gz, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")))
}

func TestBackup(t *testing.T) {
	db := setupTestDB(t)
	s := testutil.RunRace(t, db)

	path := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, db.Backup(path))

	copyDB, err := NewDB(path)
	require.NoError(t, err)
	defer copyDB.Close()
	laps, err := copyDB.Laps(context.Background(), s.RaceID(), 0)
	require.NoError(t, err)
	assert.Len(t, laps, 4)
}

func TestRunMigrateCommand(t *testing.T) {
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	path := filepath.Join(t.TempDir(), "laps.db")

	tests := []struct {
		args    []string
		wantErr bool
		want    string
	}{
		{nil, true, "Usage:"},
		{[]string{"help"}, false, "Usage:"},
		{[]string{"status"}, false, "Current version: 0"},
		{[]string{"up"}, false, "Current version: 2 (dirty: false)"},
		{[]string{"down"}, false, "Current version: 1"},
		{[]string{"version", "2"}, false, "Current version: 2"},
		{[]string{"version"}, true, ""},
		{[]string{"force", "x"}, true, ""},
		{[]string{"sideways"}, true, "Usage:"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		err := RunMigrateCommand(&out, tt.args, path)
		if (err != nil) != tt.wantErr {
			t.Errorf("%v: error = %v, wantErr %v", tt.args, err, tt.wantErr)
		}
		assert.Contains(t, out.String(), tt.want, tt.args)
	}
}
