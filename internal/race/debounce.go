package race

import "time"

// DefaultConfirmationFrames is the number of consecutive frames a marker must
// be visible before it counts as a detection.
const DefaultConfirmationFrames = 6

// Observation is one frame's reading from the vision boundary.
type Observation struct {
	MarkerID  int
	Present   bool
	FrameTime time.Time
}

// ConfirmedEvent is a marker that stayed visible for a full confirmation run.
type ConfirmedEvent struct {
	MarkerID    int
	ConfirmedAt time.Time
}

// Debouncer suppresses vision flicker: a marker must be seen on threshold
// consecutive frames before it produces a ConfirmedEvent.
type Debouncer struct {
	threshold    int
	candidate    int
	hasCandidate bool
	run          int
}

// NewDebouncer returns a Debouncer confirming after threshold frames.
// Thresholds below one are treated as one.
func NewDebouncer(threshold int) *Debouncer {
	if threshold < 1 {
		threshold = 1
	}
	return &Debouncer{threshold: threshold}
}

// Threshold returns the confirmation run length.
func (d *Debouncer) Threshold() int {
	return d.threshold
}

// Observe feeds one frame. After a confirmation the run restarts from zero
// while the candidate is kept, so a marker that stays in view needs another
// full run before it confirms again.
func (d *Debouncer) Observe(obs Observation) (ConfirmedEvent, bool) {
	if !obs.Present {
		d.run = 0
		d.hasCandidate = false
		return ConfirmedEvent{}, false
	}

	if d.hasCandidate && obs.MarkerID != d.candidate {
		d.run = 1
	} else {
		d.run++
	}
	d.candidate = obs.MarkerID
	d.hasCandidate = true

	if d.run < d.threshold {
		return ConfirmedEvent{}, false
	}
	d.run = 0
	return ConfirmedEvent{MarkerID: d.candidate, ConfirmedAt: obs.FrameTime}, true
}

// Reset clears the candidate and run.
func (d *Debouncer) Reset() {
	d.run = 0
	d.candidate = 0
	d.hasCandidate = false
}
