package vision

import (
	"context"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/serialmux"
	"github.com/banshee-data/laps.report/internal/timeutil"
)

// Subscriber is the part of a serial mux a LineSource needs.
type Subscriber interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// LineSource reads frame reports from a detector on a serial mux. Frame
// times are unix seconds; a zero time is stamped with the clock on receipt.
type LineSource struct {
	sub     Subscriber
	id      string
	lines   chan string
	clock   timeutil.Clock
	skipped int
}

// NewLineSource subscribes to mux. Close must be called to unsubscribe.
func NewLineSource(mux Subscriber, clock timeutil.Clock) *LineSource {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	id, ch := mux.Subscribe()
	return &LineSource{sub: mux, id: id, lines: ch, clock: clock}
}

// Next blocks for the next frame report. Status lines and undecodable
// frames are skipped. A closed subscription ends the stream.
func (s *LineSource) Next(ctx context.Context) (race.Observation, error) {
	for {
		select {
		case <-ctx.Done():
			return race.Observation{}, ctx.Err()
		case line, ok := <-s.lines:
			if !ok {
				return race.Observation{}, race.ErrEndOfStream
			}
			switch serialmux.ClassifyPayload(line) {
			case serialmux.EventTypeFrame:
			case serialmux.EventTypeStatus:
				monitoring.Logf("detector status: %s", line)
				continue
			default:
				s.skipped++
				continue
			}

			jf, err := decodeJSONFrame([]byte(line))
			if err != nil {
				s.skipped++
				monitoring.Logf("detector line skipped: %v", err)
				continue
			}
			f := Frame{IDs: jf.IDs}
			if jf.T == 0 {
				f.Time = s.clock.Now()
			} else {
				f.Time = unixSeconds(jf.T)
			}
			return f.Observation(), nil
		}
	}
}

// Skipped returns the number of lines that were not frame reports.
func (s *LineSource) Skipped() int {
	return s.skipped
}

// Close unsubscribes from the mux.
func (s *LineSource) Close() error {
	s.sub.Unsubscribe(s.id)
	return nil
}
