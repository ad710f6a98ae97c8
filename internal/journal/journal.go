// Package journal keeps an append-only audit trail of every lap decision and
// lifecycle transition in an embedded Badger store. Entries are msgpack
// encoded and keyed so that iteration returns them in write order.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/segmentio/ksuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
)

const (
	entryPrefix = "journal"
	seqKey      = "meta/journal-seq"
)

// Entry kinds.
const (
	KindLifecycle = "lifecycle"
	KindOutcome   = "outcome"
	KindFinal     = "final"
)

// ErrNoActiveRace is returned when an outcome arrives before a race start.
var ErrNoActiveRace = errors.New("no active race")

// Outcome is the journalled form of a lap decision.
type Outcome struct {
	Kind        string        `msgpack:"kind" json:"kind"`
	MarkerID    int           `msgpack:"marker_id" json:"marker_id"`
	Number      int           `msgpack:"number,omitempty" json:"number,omitempty"`
	Name        string        `msgpack:"name,omitempty" json:"name,omitempty"`
	Category    string        `msgpack:"category,omitempty" json:"category,omitempty"`
	Lap         int           `msgpack:"lap" json:"lap"`
	Elapsed     time.Duration `msgpack:"elapsed" json:"elapsed"`
	Reason      string        `msgpack:"reason,omitempty" json:"reason,omitempty"`
	ConfirmedAt time.Time     `msgpack:"confirmed_at" json:"confirmed_at"`
}

// Placing is one line of the final result.
type Placing struct {
	Category string        `msgpack:"category" json:"category"`
	Rank     int           `msgpack:"rank" json:"rank"`
	Number   int           `msgpack:"number" json:"number"`
	Laps     int           `msgpack:"laps" json:"laps"`
	Elapsed  time.Duration `msgpack:"elapsed" json:"elapsed"`
}

// Entry is one journal record.
type Entry struct {
	ID        string    `msgpack:"id" json:"id"`
	Seq       uint64    `msgpack:"seq" json:"seq"`
	RaceID    string    `msgpack:"race_id" json:"race_id"`
	Kind      string    `msgpack:"kind" json:"kind"`
	At        time.Time `msgpack:"at" json:"at"`
	Lifecycle string    `msgpack:"lifecycle,omitempty" json:"lifecycle,omitempty"`
	Outcome   *Outcome  `msgpack:"outcome,omitempty" json:"outcome,omitempty"`
	Result    []Placing `msgpack:"result,omitempty" json:"result,omitempty"`
}

// Journal is a race.Publisher appending to Badger.
type Journal struct {
	db  *badger.DB
	seq *badger.Sequence

	mu   sync.Mutex
	race string
}

// Open opens the journal in dir. An empty dir keeps the journal in memory.
func Open(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal sequence: %w", err)
	}
	return &Journal{db: db, seq: seq}, nil
}

// Close releases the sequence lease and closes the store.
func (j *Journal) Close() error {
	return errors.Join(j.seq.Release(), j.db.Close())
}

func raceKeyPrefix(raceID string) []byte {
	return []byte(fmt.Sprintf("%s/%s/", entryPrefix, raceID))
}

func (j *Journal) append(e Entry) error {
	seq, err := j.seq.Next()
	if err != nil {
		return fmt.Errorf("journal sequence: %w", err)
	}
	e.Seq = seq
	e.ID = ksuid.New().String()

	buf, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	key := append(raceKeyPrefix(e.RaceID), fmt.Sprintf("%020d", seq)...)
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// PublishLifecycle journals the transition. A start makes the race current
// for subsequent outcomes.
func (j *Journal) PublishLifecycle(_ context.Context, ev race.LifecycleEvent) error {
	j.mu.Lock()
	switch ev.Kind {
	case race.LifecycleStarted:
		j.race = ev.RaceID
	default:
		if j.race == ev.RaceID {
			j.race = ""
		}
	}
	j.mu.Unlock()

	return j.append(Entry{RaceID: ev.RaceID, Kind: KindLifecycle, At: ev.At, Lifecycle: ev.Kind.String()})
}

// PublishOutcome journals a lap decision for the current race.
func (j *Journal) PublishOutcome(_ context.Context, out race.LapOutcome) error {
	j.mu.Lock()
	raceID := j.race
	j.mu.Unlock()
	if raceID == "" {
		return ErrNoActiveRace
	}
	return j.append(Entry{
		RaceID: raceID,
		Kind:   KindOutcome,
		At:     out.ConfirmedAt,
		Outcome: &Outcome{
			Kind:        out.Kind.String(),
			MarkerID:    out.MarkerID,
			Number:      out.Number,
			Name:        out.Name,
			Category:    out.Category,
			Lap:         out.Lap,
			Elapsed:     out.Elapsed,
			Reason:      out.Reason,
			ConfirmedAt: out.ConfirmedAt,
		},
	})
}

// PublishSnapshot is a no-op; standings are derived from the journalled
// decisions.
func (j *Journal) PublishSnapshot(context.Context, race.Snapshot) error { return nil }

// PublishFinal journals the final placings.
func (j *Journal) PublishFinal(_ context.Context, snap race.Snapshot) error {
	var result []Placing
	for _, cat := range snap.Categories {
		for _, s := range cat.Standings {
			result = append(result, Placing{Category: cat.Category, Rank: s.Rank, Number: s.Number, Laps: s.Laps, Elapsed: s.Elapsed})
		}
	}
	return j.append(Entry{RaceID: snap.RaceID, Kind: KindFinal, At: snap.TakenAt, Result: result})
}

// Entries returns the journal of a race in write order.
func (j *Journal) Entries(raceID string) ([]Entry, error) {
	prefix := raceKeyPrefix(raceID)
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

// badgerLogger forwards Badger warnings and errors to the process logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	monitoring.Logger.Error().Str("component", "journal").Msgf(f, v...)
}

func (badgerLogger) Warningf(f string, v ...interface{}) {
	monitoring.Logger.Warn().Str("component", "journal").Msgf(f, v...)
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
