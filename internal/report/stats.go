package report

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LapStats summarises a competitor's lap durations.
type LapStats struct {
	Count   int           `json:"count"`
	Best    time.Duration `json:"best"`
	BestLap int           `json:"best_lap"`
	Worst   time.Duration `json:"worst"`
	Mean    time.Duration `json:"mean"`
	StdDev  time.Duration `json:"stddev"`
	Total   time.Duration `json:"total"`
}

// ComputeLapStats returns the statistics of laps. StdDev is the sample
// standard deviation and is zero with fewer than two laps.
func ComputeLapStats(laps []time.Duration) LapStats {
	if len(laps) == 0 {
		return LapStats{}
	}
	secs := seconds(laps)

	st := LapStats{
		Count:   len(laps),
		Best:    fromSeconds(floats.Min(secs)),
		BestLap: floats.MinIdx(secs) + 1,
		Worst:   fromSeconds(floats.Max(secs)),
		Mean:    fromSeconds(stat.Mean(secs, nil)),
		Total:   fromSeconds(floats.Sum(secs)),
	}
	if len(secs) > 1 {
		st.StdDev = fromSeconds(stat.StdDev(secs, nil))
	}
	return st
}

func seconds(laps []time.Duration) []float64 {
	out := make([]float64, len(laps))
	for i, d := range laps {
		out[i] = d.Seconds()
	}
	return out
}

func fromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Millisecond)
}
