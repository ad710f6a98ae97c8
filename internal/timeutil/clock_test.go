package timeutil

import (
	"testing"
	"time"
)

var (
	_ Clock = SystemClock{}
	_ Clock = (*ManualClock)(nil)
)

func TestSystemClock(t *testing.T) {
	before := time.Now()
	got := SystemClock{}.Now()
	if got.Before(before) || got.After(time.Now()) {
		t.Errorf("Now() = %v, outside the call window", got)
	}
}

func TestManualClockFrames(t *testing.T) {
	start := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	if !clock.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", clock.Now(), start)
	}

	// Six frames at 30 fps.
	frame := time.Second / 30
	var last time.Time
	for i := 0; i < 6; i++ {
		last = clock.Advance(frame)
	}
	if want := start.Add(6 * frame); !last.Equal(want) || !clock.Now().Equal(want) {
		t.Errorf("after six frames = %v, want %v", last, want)
	}

	clock.Set(start.Add(-time.Minute))
	if got := clock.Now().Sub(start); got != -time.Minute {
		t.Errorf("Set() moved clock by %v, want -1m", got)
	}
}
