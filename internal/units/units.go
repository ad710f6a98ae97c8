// Package units provides the duration and timestamp formats used in race
// reports.
package units

import (
	"fmt"
	"time"
)

// FormatHMS renders d as HH:MM:SS with whole seconds truncated. Hours are not
// wrapped at 24 and negative durations render as 00:00:00.
func FormatHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// MinutesToDuration converts a configured minute count (fractions allowed)
// into a duration.
func MinutesToDuration(minutes float64) time.Duration {
	return time.Duration(minutes * float64(time.Minute))
}

// DateStamp formats t as DD_MM_YYYY for report file names.
func DateStamp(t time.Time) string {
	return t.Format("02_01_2006")
}

// MinuteStamp formats t as DD_MM_YYYY_HH_MM for per-race snapshot file names.
func MinuteStamp(t time.Time) string {
	return t.Format("02_01_2006_15_04")
}

// FormatClock formats t as a full local timestamp for lifecycle logs.
func FormatClock(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
