package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/laps.report/internal/race"
)

var (
	// ErrRaceNotFound is returned by Race for an unknown id.
	ErrRaceNotFound = errors.New("race not found")
	// ErrNoActiveRace is returned when an outcome arrives before a race start.
	ErrNoActiveRace = errors.New("no active race")
)

// Race statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusEnded    = "ended"
)

// Race is a stored race header.
type Race struct {
	ID                 string        `json:"race_id"`
	Name               string        `json:"name"`
	StartedAt          time.Time     `json:"started_at"`
	EndedAt            *time.Time    `json:"ended_at,omitempty"`
	Status             string        `json:"status"`
	MinLapDuration     time.Duration `json:"min_lap_duration"`
	ConfirmationFrames int           `json:"confirmation_frames"`
}

// Lap is one accepted lap.
type Lap struct {
	Number     int           `json:"number"`
	Name       string        `json:"name"`
	Category   string        `json:"category"`
	Lap        int           `json:"lap"`
	Duration   time.Duration `json:"duration"`
	DetectedAt time.Time     `json:"detected_at"`
}

// Decision is one stored lap decision.
type Decision struct {
	ID          int64         `json:"id"`
	Kind        string        `json:"kind"`
	MarkerID    int           `json:"marker_id"`
	Number      *int          `json:"number,omitempty"`
	Lap         int           `json:"lap"`
	Elapsed     time.Duration `json:"elapsed"`
	Reason      string        `json:"reason,omitempty"`
	ConfirmedAt time.Time     `json:"confirmed_at"`
}

func unixNano(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// PublishLifecycle records a race start with its competitors, or closes the
// race with its final standings.
func (db *DB) PublishLifecycle(ctx context.Context, ev race.LifecycleEvent) error {
	if ev.Kind == race.LifecycleStarted {
		return db.startRace(ctx, ev)
	}

	status := StatusFinished
	if ev.Kind == race.LifecycleEnded {
		status = StatusEnded
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE races SET status = ?, ended_unix_ns = ? WHERE race_id = ?`,
		status, ev.At.UnixNano(), ev.RaceID,
	); err != nil {
		return fmt.Errorf("close race: %w", err)
	}
	if err := replaceStandings(ctx, tx, ev.Snapshot); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	db.mu.Lock()
	if db.race == ev.RaceID {
		db.race = ""
	}
	db.mu.Unlock()
	return nil
}

func (db *DB) startRace(ctx context.Context, ev race.LifecycleEvent) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO races (race_id, name, started_unix_ns, status, min_lap_ms, confirmation_frames)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.RaceID, ev.RaceName, ev.Snapshot.RaceStart.UnixNano(), StatusRunning,
		ev.MinLapDuration.Milliseconds(), ev.ConfirmationFrames,
	); err != nil {
		return fmt.Errorf("insert race: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO competitors (race_id, number, name, model, category) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, h := range ev.Snapshot.Histories {
		if _, err := stmt.ExecContext(ctx, ev.RaceID, h.Number, h.Name, h.Model, h.Category); err != nil {
			return fmt.Errorf("insert competitor #%d: %w", h.Number, err)
		}
	}
	if err := replaceStandings(ctx, tx, ev.Snapshot); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	db.mu.Lock()
	db.race = ev.RaceID
	db.mu.Unlock()
	return nil
}

// PublishOutcome stores the decision and, for accepted laps, the lap.
func (db *DB) PublishOutcome(ctx context.Context, out race.LapOutcome) error {
	db.mu.Lock()
	raceID := db.race
	db.mu.Unlock()
	if raceID == "" {
		return ErrNoActiveRace
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var number sql.NullInt64
	if out.Kind != race.Unrecognized {
		number = sql.NullInt64{Int64: int64(out.Number), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lap_decisions (race_id, kind, marker_id, number, lap, elapsed_ms, reason, confirmed_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		raceID, out.Kind.String(), out.MarkerID, number, out.Lap,
		out.Elapsed.Milliseconds(), out.Reason, out.ConfirmedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	if out.Kind == race.Accepted {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO laps (race_id, number, lap, duration_ms, detected_unix_ns) VALUES (?, ?, ?, ?, ?)`,
			raceID, out.Number, out.Lap, out.Elapsed.Milliseconds(), out.ConfirmedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert lap: %w", err)
		}
	}
	return tx.Commit()
}

// PublishSnapshot replaces the stored standings of the snapshot's race.
func (db *DB) PublishSnapshot(ctx context.Context, snap race.Snapshot) error {
	return db.withTx(ctx, func(tx *sql.Tx) error { return replaceStandings(ctx, tx, snap) })
}

// PublishFinal stores the final standings.
func (db *DB) PublishFinal(ctx context.Context, snap race.Snapshot) error {
	return db.PublishSnapshot(ctx, snap)
}

func (db *DB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceStandings(ctx context.Context, tx *sql.Tx, snap race.Snapshot) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM standings WHERE race_id = ?`, snap.RaceID); err != nil {
		return fmt.Errorf("clear standings: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO standings (race_id, category, category_index, rank, number, name, model, laps, elapsed_ms, taken_unix_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for ci, cat := range snap.Categories {
		for _, s := range cat.Standings {
			if _, err := stmt.ExecContext(ctx, snap.RaceID, cat.Category, ci, s.Rank, s.Number, s.Name, s.Model,
				s.Laps, s.Elapsed.Milliseconds(), snap.TakenAt.UnixNano()); err != nil {
				return fmt.Errorf("insert standing: %w", err)
			}
		}
	}
	return nil
}

// Races returns every stored race, most recent first.
func (db *DB) Races(ctx context.Context) ([]Race, error) {
	rows, err := db.QueryContext(ctx, `SELECT race_id, name, started_unix_ns, ended_unix_ns, status, min_lap_ms, confirmation_frames
		FROM races ORDER BY started_unix_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var races []Race
	for rows.Next() {
		r, err := scanRace(rows)
		if err != nil {
			return nil, err
		}
		races = append(races, r)
	}
	return races, rows.Err()
}

// Race returns one race by id.
func (db *DB) Race(ctx context.Context, id string) (Race, error) {
	row := db.QueryRowContext(ctx, `SELECT race_id, name, started_unix_ns, ended_unix_ns, status, min_lap_ms, confirmation_frames
		FROM races WHERE race_id = ?`, id)
	r, err := scanRace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Race{}, fmt.Errorf("%w: %s", ErrRaceNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRace(s scanner) (Race, error) {
	var (
		r       Race
		started int64
		ended   sql.NullInt64
		minLap  int64
	)
	if err := s.Scan(&r.ID, &r.Name, &started, &ended, &r.Status, &minLap, &r.ConfirmationFrames); err != nil {
		return Race{}, err
	}
	r.StartedAt = unixNano(started)
	if ended.Valid {
		t := unixNano(ended.Int64)
		r.EndedAt = &t
	}
	r.MinLapDuration = time.Duration(minLap) * time.Millisecond
	return r, nil
}

// Laps returns the accepted laps of a race ordered by race number then lap.
// A number > 0 restricts the result to that competitor.
func (db *DB) Laps(ctx context.Context, raceID string, number int) ([]Lap, error) {
	query := `SELECT l.number, c.name, c.category, l.lap, l.duration_ms, l.detected_unix_ns
		FROM laps l JOIN competitors c ON c.race_id = l.race_id AND c.number = l.number
		WHERE l.race_id = ?`
	args := []any{raceID}
	if number > 0 {
		query += ` AND l.number = ?`
		args = append(args, number)
	}
	query += ` ORDER BY l.number, l.lap`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var laps []Lap
	for rows.Next() {
		var (
			l        Lap
			ms, when int64
		)
		if err := rows.Scan(&l.Number, &l.Name, &l.Category, &l.Lap, &ms, &when); err != nil {
			return nil, err
		}
		l.Duration = time.Duration(ms) * time.Millisecond
		l.DetectedAt = unixNano(when)
		laps = append(laps, l)
	}
	return laps, rows.Err()
}

// Standings returns the last stored standings of a race in category order.
func (db *DB) Standings(ctx context.Context, raceID string) ([]race.CategoryStandings, error) {
	rows, err := db.QueryContext(ctx, `SELECT category, rank, number, name, model, laps, elapsed_ms
		FROM standings WHERE race_id = ? ORDER BY category_index, rank`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []race.CategoryStandings
	for rows.Next() {
		var (
			cat string
			s   race.Standing
			ms  int64
		)
		if err := rows.Scan(&cat, &s.Rank, &s.Number, &s.Name, &s.Model, &s.Laps, &ms); err != nil {
			return nil, err
		}
		s.Elapsed = time.Duration(ms) * time.Millisecond
		if n := len(out); n == 0 || out[n-1].Category != cat {
			out = append(out, race.CategoryStandings{Category: cat})
		}
		last := &out[len(out)-1]
		last.Standings = append(last.Standings, s)
	}
	return out, rows.Err()
}

// Decisions returns every decision of a race in the order they were made.
func (db *DB) Decisions(ctx context.Context, raceID string) ([]Decision, error) {
	rows, err := db.QueryContext(ctx, `SELECT decision_id, kind, marker_id, number, lap, elapsed_ms, reason, confirmed_unix_ns
		FROM lap_decisions WHERE race_id = ? ORDER BY decision_id`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d        Decision
			number   sql.NullInt64
			ms, when int64
		)
		if err := rows.Scan(&d.ID, &d.Kind, &d.MarkerID, &number, &d.Lap, &ms, &d.Reason, &when); err != nil {
			return nil, err
		}
		if number.Valid {
			n := int(number.Int64)
			d.Number = &n
		}
		d.Elapsed = time.Duration(ms) * time.Millisecond
		d.ConfirmedAt = unixNano(when)
		out = append(out, d)
	}
	return out, rows.Err()
}
