// Package vision adapts marker detector output into race observations.
//
// Detectors report one frame at a time with the marker ids they recognised.
// The timing loop needs at most one id per frame, so when several markers are
// visible the last reported id wins.
package vision

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/laps.report/internal/race"
)

// Frame is one decoded detector report.
type Frame struct {
	Time time.Time
	IDs  []int
}

// Observation reduces the frame to what the debouncer consumes.
func (f Frame) Observation() race.Observation {
	if len(f.IDs) == 0 {
		return race.Observation{FrameTime: f.Time}
	}
	return race.Observation{MarkerID: f.IDs[len(f.IDs)-1], Present: true, FrameTime: f.Time}
}

// jsonFrame is the JSON frame report shared by replay files and the serial
// detector. T is seconds: an offset for replays and unix time on the wire.
type jsonFrame struct {
	T   float64 `json:"t"`
	IDs []int   `json:"ids"`
}

func decodeJSONFrame(line []byte) (jsonFrame, error) {
	var f jsonFrame
	if err := json.Unmarshal(line, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	if f.T < 0 || math.IsNaN(f.T) || math.IsInf(f.T, 0) {
		return f, fmt.Errorf("decode frame: invalid time %v", f.T)
	}
	return f, nil
}

// secondsToDuration converts fractional seconds, rounding to the microsecond.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s*1e6)) * time.Microsecond
}

// unixSeconds converts fractional unix seconds to a time.
func unixSeconds(s float64) time.Time {
	return time.Unix(0, 0).Add(secondsToDuration(s))
}
