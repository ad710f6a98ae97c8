package race

import (
	"cmp"
	"slices"
	"time"
)

// Standing is a competitor's computed position within its category.
type Standing struct {
	Rank    int           `json:"rank"`
	Number  int           `json:"number"`
	Name    string        `json:"name"`
	Model   string        `json:"model"`
	Laps    int           `json:"laps"`
	Elapsed time.Duration `json:"elapsed"`
}

// compareCompetitors orders by laps descending, then earliest last detection,
// then race number.
func compareCompetitors(a, b *Competitor) int {
	if c := cmp.Compare(b.Laps, a.Laps); c != 0 {
		return c
	}
	if c := a.LastDetection.Compare(b.LastDetection); c != 0 {
		return c
	}
	return cmp.Compare(a.Number, b.Number)
}

// Rank orders a category into standings. It does not modify the category.
// Elapsed is the time from raceStart to the last accepted lap and is zero for
// competitors without laps.
func Rank(cat *Category, raceStart time.Time) []Standing {
	sorted := slices.Clone(cat.Competitors)
	slices.SortStableFunc(sorted, compareCompetitors)

	standings := make([]Standing, len(sorted))
	for i, c := range sorted {
		var elapsed time.Duration
		if c.Laps > 0 {
			elapsed = c.LastDetection.Sub(raceStart)
		}
		standings[i] = Standing{
			Rank:    i + 1,
			Number:  c.Number,
			Name:    c.Name,
			Model:   c.Model,
			Laps:    c.Laps,
			Elapsed: elapsed,
		}
	}
	return standings
}

// CategoryStandings pairs a category name with its ranking.
type CategoryStandings struct {
	Category  string     `json:"category"`
	Standings []Standing `json:"standings"`
}

// RankAll ranks every category of the roster in registration order.
func RankAll(roster *Roster, raceStart time.Time) []CategoryStandings {
	cats := roster.Categories()
	out := make([]CategoryStandings, 0, len(cats))
	for _, c := range cats {
		out = append(out, CategoryStandings{Category: c.Name, Standings: Rank(c, raceStart)})
	}
	return out
}
