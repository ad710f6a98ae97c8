package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laps.report/internal/fsutil"
	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
)

var raceStart = time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

func quietLogs(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

func fixtureSnapshot() race.Snapshot {
	return race.Snapshot{
		RaceID:    "r1",
		RaceName:  "copa",
		RaceStart: raceStart,
		TakenAt:   raceStart.Add(5 * time.Minute),
		Categories: []race.CategoryStandings{
			{Category: "Pro", Standings: []race.Standing{
				{Rank: 1, Number: 3, Name: "Ana Souza", Laps: 3, Elapsed: 3*time.Minute + 31*time.Second},
				{Rank: 2, Number: 2, Name: "Caio", Laps: 2, Elapsed: 2*time.Minute + 5*time.Second},
				{Rank: 3, Number: 1, Name: "Bruno Reis", Laps: 0},
			}},
			{Category: "Junior", Standings: []race.Standing{
				{Rank: 1, Number: 21, Name: "Duda", Laps: 1, Elapsed: 70 * time.Second},
			}},
		},
		Histories: []race.LapHistory{
			{Number: 1, Name: "Bruno Reis", Category: "Pro"},
			{Number: 2, Name: "Caio", Category: "Pro", Laps: []time.Duration{62 * time.Second, 63 * time.Second}},
			{Number: 3, Name: "Ana Souza", Category: "Pro", Laps: []time.Duration{70 * time.Second, 71 * time.Second, 70500 * time.Millisecond}},
			{Number: 21, Name: "Duda", Category: "Junior", Laps: []time.Duration{70 * time.Second}},
		},
	}
}

func newTestWriter(t *testing.T) (*Writer, string, string) {
	t.Helper()
	root := t.TempDir()
	snaps := filepath.Join(root, "registros")
	laps := filepath.Join(root, "tempo_pilotos")
	w, err := NewWriter(fsutil.Disk{}, snaps, laps, "UTC")
	require.NoError(t, err)
	return w, snaps, laps
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestFormatStandings(t *testing.T) {
	snap := fixtureSnapshot()
	got := FormatStandings("Pro", snap.Categories[0].Standings)
	want := strings.Join([]string{
		"----------------------------------------",
		"              Pro               ",
		"----------------------------------------",
		"1° - #3 - Ana Souza - 3 laps - 00:03:31",
		"----------------------------------------",
		"2° - #2 - Caio - 2 laps - 00:02:05",
		"----------------------------------------",
		"3° - #1 - Bruno Reis - 0 laps - 00:00:00",
		"",
	}, "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatStandings mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatInfoAndLaps(t *testing.T) {
	snap := fixtureSnapshot()

	info := FormatInfo("Junior", snap.Categories[1].Standings)
	assert.Contains(t, info, "              Junior               \n")
	assert.Contains(t, info, "1° - #21 - Duda\n")

	laps := FormatLaps(snap.Histories[1])
	want := strings.Join([]string{
		"---------------------------------------",
		"       Rider Caio       ",
		"---------------------------------------",
		"1° lap - 00:01:02",
		"---------------------------------------",
		"2° lap - 00:01:03",
		"---------------------------------------",
		"",
	}, "\n")
	assert.Equal(t, want, laps)
}

func TestWriter_SnapshotFiles(t *testing.T) {
	w, snaps, _ := newTestWriter(t)

	require.NoError(t, w.PublishSnapshot(context.Background(), fixtureSnapshot()))

	pro := readFile(t, filepath.Join(snaps, "Pro_09_03_2024_14_05.txt"))
	assert.Contains(t, pro, "1° - #3 - Ana Souza - 3 laps - 00:03:31")
	info := readFile(t, filepath.Join(snaps, "info_Junior_09_03_2024_14_05.txt"))
	assert.Contains(t, info, "1° - #21 - Duda")

	// A later snapshot overwrites in place.
	snap := fixtureSnapshot()
	snap.Categories[1].Standings[0].Laps = 2
	require.NoError(t, w.PublishSnapshot(context.Background(), snap))
	junior := readFile(t, filepath.Join(snaps, "Junior_09_03_2024_14_05.txt"))
	assert.Contains(t, junior, "1° - #21 - Duda - 2 laps")
	assert.NotContains(t, junior, "1 laps")
}

func TestWriter_LifecycleLog(t *testing.T) {
	w, snaps, _ := newTestWriter(t)
	ctx := context.Background()

	events := []race.LifecycleEvent{
		{Kind: race.LifecycleStarted, RaceName: "copa", At: raceStart, Snapshot: fixtureSnapshot()},
		{Kind: race.LifecycleFinished, RaceName: "copa", At: raceStart.Add(30 * time.Minute)},
		{Kind: race.LifecycleEnded, RaceName: "copa", At: raceStart.Add(31 * time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, w.PublishLifecycle(ctx, ev))
	}

	got := readFile(t, filepath.Join(snaps, "race_copa_log.txt"))
	want := "start - 2024-03-09 14:05:00\nfinish - 2024-03-09 14:35:00\nend_of_stream - 2024-03-09 14:36:00\n"
	assert.Equal(t, want, got)

	// Start also writes the initial standings.
	assert.FileExists(t, filepath.Join(snaps, "Pro_09_03_2024_14_05.txt"))
}

func TestWriter_Final(t *testing.T) {
	quietLogs(t)
	w, snaps, laps := newTestWriter(t)

	require.NoError(t, w.PublishFinal(context.Background(), fixtureSnapshot()))

	ana := readFile(t, filepath.Join(laps, "Ana_Souza_Pro_09_03_2024.txt"))
	assert.Contains(t, ana, "       Rider Ana Souza       \n")
	assert.Contains(t, ana, "3° lap - 00:01:10\n")

	for _, name := range []string{"Ana_Souza_Pro_09_03_2024.pdf", "Ana_Souza_Pro_09_03_2024.png", "Duda_Junior_09_03_2024.pdf"} {
		info, err := os.Stat(filepath.Join(laps, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	pdf := readFile(t, filepath.Join(laps, "Caio_Pro_09_03_2024.pdf"))
	assert.True(t, strings.HasPrefix(pdf, "%PDF-"))
	png := readFile(t, filepath.Join(laps, "Caio_Pro_09_03_2024.png"))
	assert.True(t, strings.HasPrefix(png, "\x89PNG"))

	// No chart for a competitor without laps, but the text and PDF reports exist.
	assert.FileExists(t, filepath.Join(laps, "Bruno_Reis_Pro_09_03_2024.txt"))
	assert.FileExists(t, filepath.Join(laps, "Bruno_Reis_Pro_09_03_2024.pdf"))
	assert.NoFileExists(t, filepath.Join(laps, "Bruno_Reis_Pro_09_03_2024.png"))

	html := readFile(t, filepath.Join(snaps, "leaderboard_copa_09_03_2024_14_05.html"))
	assert.Contains(t, html, "Leaderboard - copa")
	assert.Contains(t, html, "Junior")
}

func TestWriter_FinalCancelled(t *testing.T) {
	w, _, laps := newTestWriter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.PublishFinal(ctx, fixtureSnapshot())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(laps, "Caio_Pro_09_03_2024.txt"))
}

func TestWriter_SanitisesNames(t *testing.T) {
	quietLogs(t)
	w, _, laps := newTestWriter(t)

	snap := fixtureSnapshot()
	snap.Histories = []race.LapHistory{{Number: 9, Name: "../../evil", Category: "Pro/Open", Laps: []time.Duration{time.Minute}}}
	require.NoError(t, w.PublishFinal(context.Background(), snap))
	assert.FileExists(t, filepath.Join(laps, "evil_Pro_Open_09_03_2024.txt"))
}

func TestNewWriter_InvalidTimezone(t *testing.T) {
	_, err := NewWriter(fsutil.NewMemFS(), "a", "b", "Mars/Olympus")
	assert.Error(t, err)
}

func TestComputeLapStats(t *testing.T) {
	tests := []struct {
		name string
		laps []time.Duration
		want LapStats
	}{
		{"empty", nil, LapStats{}},
		{"single", []time.Duration{70 * time.Second}, LapStats{
			Count: 1, Best: 70 * time.Second, BestLap: 1, Worst: 70 * time.Second,
			Mean: 70 * time.Second, Total: 70 * time.Second,
		}},
		{"several", []time.Duration{64 * time.Second, 60 * time.Second, 62 * time.Second}, LapStats{
			Count: 3, Best: 60 * time.Second, BestLap: 2, Worst: 64 * time.Second,
			Mean: 62 * time.Second, StdDev: 2 * time.Second, Total: 186 * time.Second,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ComputeLapStats(tt.laps)); diff != "" {
				t.Errorf("ComputeLapStats mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRenderLeaderboard(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderLeaderboard(&buf, fixtureSnapshot()))
	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "Ana Souza")
	assert.Contains(t, html, "Pro")
}

func TestLapChartPNG_Empty(t *testing.T) {
	png, err := LapChartPNG(race.LapHistory{Number: 1, Name: "Bruno"})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

// orderRecorder records snapshot TakenAt values in the order they arrive.
type orderRecorder struct {
	race.NopPublisher
	mu    sync.Mutex
	taken []time.Time
	err   error
}

func (o *orderRecorder) PublishSnapshot(_ context.Context, snap race.Snapshot) error {
	time.Sleep(time.Millisecond)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taken = append(o.taken, snap.TakenAt)
	return o.err
}

func TestQueue_PreservesOrderAndDrains(t *testing.T) {
	rec := &orderRecorder{}
	q := NewQueue(rec, 2)

	var want []time.Time
	for i := 0; i < 20; i++ {
		at := raceStart.Add(time.Duration(i) * time.Second)
		want = append(want, at)
		require.NoError(t, q.PublishSnapshot(context.Background(), race.Snapshot{TakenAt: at}))
	}
	require.NoError(t, q.Close())

	assert.Equal(t, want, rec.taken)
	assert.EqualValues(t, 20, q.Processed())
	assert.ErrorIs(t, q.PublishSnapshot(context.Background(), race.Snapshot{}), ErrQueueClosed)
	// Closing twice is harmless.
	require.NoError(t, q.Close())
}

func TestQueue_CountsFailures(t *testing.T) {
	monitoring.SetOutput(&bytes.Buffer{})
	t.Cleanup(func() { monitoring.SetOutput(os.Stderr) })

	rec := &orderRecorder{err: errors.New("disk full")}
	q := NewQueue(rec, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.PublishSnapshot(context.Background(), race.Snapshot{}))
	}
	require.NoError(t, q.Close())
	assert.EqualValues(t, 3, q.Failed())
}

func TestQueue_FullQueueHonoursContext(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue(blockingPublisher{block}, 1)
	defer func() {
		close(block)
		q.Close()
	}()

	// One job runs and blocks, one fills the buffer.
	require.NoError(t, q.PublishSnapshot(context.Background(), race.Snapshot{}))
	require.NoError(t, q.PublishSnapshot(context.Background(), race.Snapshot{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.PublishSnapshot(ctx, race.Snapshot{})
	// The worker may not yet have taken the first job; allow one more slot.
	if err == nil {
		err = q.PublishSnapshot(ctx, race.Snapshot{})
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingPublisher struct {
	block chan struct{}
}

func (blockingPublisher) PublishLifecycle(context.Context, race.LifecycleEvent) error { return nil }
func (blockingPublisher) PublishOutcome(context.Context, race.LapOutcome) error       { return nil }
func (b blockingPublisher) PublishSnapshot(context.Context, race.Snapshot) error {
	<-b.block
	return nil
}
func (blockingPublisher) PublishFinal(context.Context, race.Snapshot) error { return nil }
