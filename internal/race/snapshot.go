package race

import (
	"slices"
	"time"
)

// LapHistory is a competitor's identity and completed lap durations.
type LapHistory struct {
	Number   int             `json:"number"`
	Name     string          `json:"name"`
	Model    string          `json:"model"`
	Category string          `json:"category"`
	Laps     []time.Duration `json:"laps"`
}

// Snapshot is an immutable copy of the race state. Publishers only ever see
// snapshots, never the live roster.
type Snapshot struct {
	RaceID     string              `json:"race_id"`
	RaceName   string              `json:"race_name"`
	RaceStart  time.Time           `json:"race_start"`
	TakenAt    time.Time           `json:"taken_at"`
	Categories []CategoryStandings `json:"categories"`
	Histories  []LapHistory        `json:"histories"`
}

// TakeSnapshot ranks the roster and deep-copies every lap history.
func TakeSnapshot(raceID, raceName string, roster *Roster, raceStart, at time.Time) Snapshot {
	snap := Snapshot{
		RaceID:     raceID,
		RaceName:   raceName,
		RaceStart:  raceStart,
		TakenAt:    at,
		Categories: RankAll(roster, raceStart),
		Histories:  make([]LapHistory, 0, roster.Len()),
	}
	for _, cat := range roster.Categories() {
		for _, c := range cat.Competitors {
			snap.Histories = append(snap.Histories, LapHistory{
				Number:   c.Number,
				Name:     c.Name,
				Model:    c.Model,
				Category: c.Category,
				Laps:     slices.Clone(c.LapDurations),
			})
		}
	}
	return snap
}

// Standings returns the ranking of the named category.
func (s Snapshot) Standings(category string) ([]Standing, bool) {
	for _, c := range s.Categories {
		if c.Category == category {
			return c.Standings, true
		}
	}
	return nil, false
}

// History returns the lap history of the given race number.
func (s Snapshot) History(number int) (LapHistory, bool) {
	for _, h := range s.Histories {
		if h.Number == number {
			return h, true
		}
	}
	return LapHistory{}, false
}
