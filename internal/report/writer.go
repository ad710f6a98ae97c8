// Package report writes race output files: per-category standings that are
// rewritten after every accepted lap, a lifecycle log, and per-competitor lap
// reports (text, PDF and PNG chart) plus an HTML leaderboard when the race
// finishes.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/laps.report/internal/fsutil"
	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/security"
	"github.com/banshee-data/laps.report/internal/units"
)

const (
	standingsRule = "----------------------------------------"
	lapRule       = "---------------------------------------"
)

// Lifecycle log operation names.
const (
	OpStart       = "start"
	OpFinish      = "finish"
	OpEndOfStream = "end_of_stream"
)

// Writer is a race.Publisher producing report files. Output directories are
// created by NewWriter and every file name is sanitised and checked to stay
// inside its directory.
type Writer struct {
	fs          fsutil.FileSystem
	snapshotDir string
	lapDir      string
	loc         *time.Location

	mu sync.Mutex
}

// NewWriter creates the snapshot and lap report directories. Timestamps in
// file names and logs are rendered in timezone ("" or "Local" for the host
// zone).
func NewWriter(fsys fsutil.FileSystem, snapshotDir, lapDir, timezone string) (*Writer, error) {
	loc, err := units.Zone(timezone)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{snapshotDir, lapDir} {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create report directory: %w", err)
		}
	}
	return &Writer{fs: fsys, snapshotDir: snapshotDir, lapDir: lapDir, loc: loc}, nil
}

func (w *Writer) local(t time.Time) time.Time {
	return t.In(w.loc)
}

// PublishLifecycle appends the transition to the race log. The start event
// also writes the initial, all-zero standings.
func (w *Writer) PublishLifecycle(_ context.Context, ev race.LifecycleEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	op := OpStart
	switch ev.Kind {
	case race.LifecycleFinished:
		op = OpFinish
	case race.LifecycleEnded:
		op = OpEndOfStream
	}

	path, err := security.JoinSafe(w.snapshotDir, "race_"+ev.RaceName+"_log.txt")
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s - %s\n", op, units.FormatClock(w.local(ev.At)))
	if err := w.fs.AppendFile(path, []byte(line), 0644); err != nil {
		return fmt.Errorf("append race log: %w", err)
	}

	if ev.Kind == race.LifecycleStarted {
		return w.writeStandings(ev.Snapshot)
	}
	return nil
}

// PublishOutcome is a no-op; decisions are persisted by the database and
// journal publishers.
func (w *Writer) PublishOutcome(context.Context, race.LapOutcome) error { return nil }

// PublishSnapshot rewrites the standings files of every category.
func (w *Writer) PublishSnapshot(_ context.Context, snap race.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeStandings(snap)
}

// PublishFinal writes the last standings, every competitor's lap reports and
// the HTML leaderboard. A failure for one competitor does not prevent the
// others from being written.
func (w *Writer) PublishFinal(ctx context.Context, snap race.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	errs := []error{w.writeStandings(snap)}
	date := units.DateStamp(w.local(snap.RaceStart))
	for _, h := range snap.Histories {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		base := fmt.Sprintf("%s_%s_%s", h.Name, h.Category, date)
		if err := w.writeCompetitor(base, snap, h); err != nil {
			errs = append(errs, fmt.Errorf("#%d %s: %w", h.Number, h.Name, err))
		}
	}
	errs = append(errs, w.writeLeaderboard(snap))

	err := errors.Join(errs...)
	if err == nil {
		monitoring.Logf("report: wrote final reports for %d competitors to %s", len(snap.Histories), w.lapDir)
	}
	return err
}

// FormatStandings renders a category the way the standings file stores it.
func FormatStandings(category string, standings []race.Standing) string {
	var b strings.Builder
	writeHeader(&b, standingsRule, category)
	for _, s := range standings {
		b.WriteString(standingsRule + "\n")
		fmt.Fprintf(&b, "%d° - #%d - %s - %d laps - %s\n", s.Rank, s.Number, s.Name, s.Laps, units.FormatHMS(s.Elapsed))
	}
	return b.String()
}

// FormatInfo renders the position-only listing of a category.
func FormatInfo(category string, standings []race.Standing) string {
	var b strings.Builder
	writeHeader(&b, standingsRule, category)
	for _, s := range standings {
		b.WriteString(standingsRule + "\n")
		fmt.Fprintf(&b, "%d° - #%d - %s\n", s.Rank, s.Number, s.Name)
	}
	return b.String()
}

// FormatLaps renders a competitor's lap report.
func FormatLaps(h race.LapHistory) string {
	var b strings.Builder
	b.WriteString(lapRule + "\n")
	fmt.Fprintf(&b, "       Rider %s       \n", h.Name)
	b.WriteString(lapRule + "\n")
	for i, d := range h.Laps {
		fmt.Fprintf(&b, "%d° lap - %s\n", i+1, units.FormatHMS(d))
		b.WriteString(lapRule + "\n")
	}
	return b.String()
}

func writeHeader(b *strings.Builder, rule, title string) {
	b.WriteString(rule + "\n")
	fmt.Fprintf(b, "              %s               \n", title)
}

func (w *Writer) writeStandings(snap race.Snapshot) error {
	stamp := units.MinuteStamp(w.local(snap.RaceStart))
	var errs []error
	for _, cat := range snap.Categories {
		errs = append(errs,
			w.writeFile(w.snapshotDir, cat.Category+"_"+stamp+".txt", []byte(FormatStandings(cat.Category, cat.Standings))),
			w.writeFile(w.snapshotDir, "info_"+cat.Category+"_"+stamp+".txt", []byte(FormatInfo(cat.Category, cat.Standings))),
		)
	}
	return errors.Join(errs...)
}

func (w *Writer) writeCompetitor(base string, snap race.Snapshot, h race.LapHistory) error {
	if err := w.writeFile(w.lapDir, base+".txt", []byte(FormatLaps(h))); err != nil {
		return err
	}

	var chart []byte
	if len(h.Laps) > 0 {
		png, err := LapChartPNG(h)
		if err != nil {
			return err
		}
		if err := w.writeFile(w.lapDir, base+".png", png); err != nil {
			return err
		}
		chart = png
	}

	doc, err := LapReportPDF(snap, h, chart)
	if err != nil {
		return err
	}
	return w.writeFile(w.lapDir, base+".pdf", doc)
}

func (w *Writer) writeLeaderboard(snap race.Snapshot) error {
	var buf bytes.Buffer
	if err := RenderLeaderboard(&buf, snap); err != nil {
		return err
	}
	name := fmt.Sprintf("leaderboard_%s_%s.html", snap.RaceName, units.MinuteStamp(w.local(snap.RaceStart)))
	return w.writeFile(w.snapshotDir, name, buf.Bytes())
}

func (w *Writer) writeFile(dir, name string, data []byte) error {
	path, err := security.JoinSafe(dir, name)
	if err != nil {
		return err
	}
	if err := w.fs.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
