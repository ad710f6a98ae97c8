// Package race implements lap timing for a marker-identified race: debouncing
// the per-frame marker signal, registering laps behind a minimum-duration
// gate, ranking competitors per category and driving the race session.
package race

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrDuplicateRaceNumber is returned when two competitors share a race
	// number anywhere in the roster.
	ErrDuplicateRaceNumber = errors.New("duplicate race number")
	// ErrEmptyRoster is returned when a roster has no competitors.
	ErrEmptyRoster = errors.New("roster has no competitors")
)

// Competitor is one registered rider and their lap history. It is owned by
// the Roster and only mutated through Registrar.RegisterLap.
type Competitor struct {
	Name     string
	Model    string
	Number   int
	Category string

	Laps          int
	LapDurations  []time.Duration
	LastDetection time.Time
}

// Category is a named group of competitors ordered by race number.
type Category struct {
	Name        string
	Competitors []*Competitor
}

// Entry is a roster row as produced by a roster loader.
type Entry struct {
	Name   string
	Model  string
	Number int
}

// CategoryEntries is the loader output for a single category.
type CategoryEntries struct {
	Name    string
	Entries []Entry
}

// Roster is the single aggregate holding every competitor of a race. The
// category order is the registration order; within a category competitors are
// ordered by race number.
type Roster struct {
	categories []*Category
	byNumber   map[int]*Competitor
}

// NewRoster builds a Roster from loader output. Race numbers must be unique
// across all categories because a marker id resolves to exactly one
// competitor.
func NewRoster(groups []CategoryEntries) (*Roster, error) {
	r := &Roster{byNumber: make(map[int]*Competitor)}

	for _, g := range groups {
		cat := &Category{Name: g.Name}
		for _, e := range g.Entries {
			if existing, ok := r.byNumber[e.Number]; ok {
				return nil, fmt.Errorf("%w: #%d registered for %q (%s) and %q (%s)",
					ErrDuplicateRaceNumber, e.Number, existing.Name, existing.Category, e.Name, g.Name)
			}
			c := &Competitor{
				Name:     e.Name,
				Model:    e.Model,
				Number:   e.Number,
				Category: g.Name,
			}
			r.byNumber[e.Number] = c
			cat.Competitors = append(cat.Competitors, c)
		}
		slices.SortFunc(cat.Competitors, func(a, b *Competitor) int {
			return a.Number - b.Number
		})
		r.categories = append(r.categories, cat)
	}

	if len(r.byNumber) == 0 {
		return nil, ErrEmptyRoster
	}
	return r, nil
}

// Reset sets every competitor's last detection to the race start. Lap
// history is left untouched.
func (r *Roster) Reset(start time.Time) {
	for _, c := range r.byNumber {
		c.LastDetection = start
	}
}

// Lookup resolves a race number to its competitor.
func (r *Roster) Lookup(number int) (*Competitor, bool) {
	c, ok := r.byNumber[number]
	return c, ok
}

// Categories returns the categories in registration order.
func (r *Roster) Categories() []*Category {
	return r.categories
}

// Category returns the named category.
func (r *Roster) Category(name string) (*Category, bool) {
	for _, c := range r.categories {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Len returns the number of competitors.
func (r *Roster) Len() int {
	return len(r.byNumber)
}
