package race

import (
	"fmt"
	"time"
)

// OutcomeKind classifies a lap decision.
type OutcomeKind int

const (
	Unrecognized OutcomeKind = iota
	Accepted
	Rejected
)

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "unrecognized"
	}
}

// Rejection reasons.
const (
	ReasonTooSoon    = "too_soon"
	ReasonRegression = "regression"
)

// LapOutcome is the Registrar's decision for one ConfirmedEvent. Competitor
// fields are copies so the outcome can leave the timing loop safely.
type LapOutcome struct {
	Kind        OutcomeKind
	MarkerID    int
	ConfirmedAt time.Time

	Number   int
	Name     string
	Category string

	// Lap is the new lap number for accepted outcomes and the current lap
	// count otherwise.
	Lap     int
	Elapsed time.Duration
	Reason  string
}

func (o LapOutcome) String() string {
	switch o.Kind {
	case Accepted:
		return fmt.Sprintf("#%d %s lap %d in %v", o.Number, o.Name, o.Lap, o.Elapsed)
	case Rejected:
		return fmt.Sprintf("#%d %s rejected (%s) after %v", o.Number, o.Name, o.Reason, o.Elapsed)
	default:
		return fmt.Sprintf("marker %d unrecognized", o.MarkerID)
	}
}

// RegistrarStats counts decisions since the Registrar was created.
type RegistrarStats struct {
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	Unrecognized int `json:"unrecognized"`
}

// Registrar turns confirmed marker events into laps on the roster.
type Registrar struct {
	roster *Roster
	stats  RegistrarStats
}

// NewRegistrar returns a Registrar updating the given roster.
func NewRegistrar(roster *Roster) *Registrar {
	return &Registrar{roster: roster}
}

// RegisterLap decides whether ev is a new lap. The first lap of a competitor
// is always accepted; later laps must be strictly longer than minLap. An
// event earlier than the competitor's last detection is rejected without
// touching the lap history.
func (r *Registrar) RegisterLap(ev ConfirmedEvent, minLap time.Duration) LapOutcome {
	out := LapOutcome{MarkerID: ev.MarkerID, ConfirmedAt: ev.ConfirmedAt}

	c, ok := r.roster.Lookup(ev.MarkerID)
	if !ok {
		out.Kind = Unrecognized
		r.stats.Unrecognized++
		return out
	}

	out.Number = c.Number
	out.Name = c.Name
	out.Category = c.Category
	out.Lap = c.Laps

	elapsed := ev.ConfirmedAt.Sub(c.LastDetection)
	out.Elapsed = elapsed

	switch {
	case elapsed < 0:
		out.Kind = Rejected
		out.Reason = ReasonRegression
	case c.Laps == 0 || elapsed > minLap:
		c.LapDurations = append(c.LapDurations, elapsed)
		c.Laps++
		c.LastDetection = ev.ConfirmedAt
		out.Kind = Accepted
		out.Lap = c.Laps
	default:
		out.Kind = Rejected
		out.Reason = ReasonTooSoon
	}

	switch out.Kind {
	case Accepted:
		r.stats.Accepted++
	case Rejected:
		r.stats.Rejected++
	}
	return out
}

// Stats returns the decision counters.
func (r *Registrar) Stats() RegistrarStats {
	return r.stats
}
