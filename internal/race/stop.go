package race

import "time"

// DefaultStopWindow is how close together two stop assertions must be.
const DefaultStopWindow = 300 * time.Millisecond

// StopDebouncer guards the stop control against a single accidental press:
// the stop is confirmed by a second assertion within the window of the first.
type StopDebouncer struct {
	window  time.Duration
	count   int
	firstAt time.Time
}

// NewStopDebouncer returns a StopDebouncer with the given window. A
// non-positive window uses DefaultStopWindow.
func NewStopDebouncer(window time.Duration) *StopDebouncer {
	if window <= 0 {
		window = DefaultStopWindow
	}
	return &StopDebouncer{window: window}
}

// Update is called once per frame with that frame's stop signal. It reports
// whether the stop is confirmed. A pending assertion older than the window
// is dropped before the current signal is counted.
func (s *StopDebouncer) Update(asserted bool, now time.Time) bool {
	if s.count > 0 && now.Sub(s.firstAt) > s.window {
		s.count = 0
	}
	if !asserted {
		return false
	}

	s.count++
	if s.count == 1 {
		s.firstAt = now
		return false
	}
	s.count = 0
	return true
}

// Pending returns the number of unconfirmed assertions.
func (s *StopDebouncer) Pending() int {
	return s.count
}
