package race

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)

func frames(start time.Time, ids ...int) []Observation {
	obs := make([]Observation, len(ids))
	for i, id := range ids {
		obs[i] = Observation{MarkerID: id, Present: id >= 0, FrameTime: start.Add(time.Duration(i) * 33 * time.Millisecond)}
	}
	return obs
}

func repeat(id, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = id
	}
	return out
}

func feed(d *Debouncer, obs []Observation) []ConfirmedEvent {
	var events []ConfirmedEvent
	for _, o := range obs {
		if ev, ok := d.Observe(o); ok {
			events = append(events, ev)
		}
	}
	return events
}

func TestDebouncer_Threshold(t *testing.T) {
	tests := []struct {
		name   string
		ids    []int
		events int
	}{
		{"five frames", repeat(7, 5), 0},
		{"six frames", repeat(7, 6), 1},
		{"eleven frames", repeat(7, 11), 1},
		{"twelve frames", repeat(7, 12), 2},
		{"gap breaks run", append(append(repeat(7, 3), -1), repeat(7, 3)...), 0},
		{"nothing seen", repeat(-1, 20), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(DefaultConfirmationFrames)
			events := feed(d, frames(t0, tt.ids...))
			assert.Len(t, events, tt.events)
		})
	}
}

func TestDebouncer_IDSwitchRestartsCount(t *testing.T) {
	d := NewDebouncer(6)
	ids := append(repeat(4, 5), repeat(9, 6)...)
	obs := frames(t0, ids...)

	events := feed(d, obs)

	require.Len(t, events, 1)
	assert.Equal(t, 9, events[0].MarkerID)
	assert.Equal(t, obs[len(obs)-1].FrameTime, events[0].ConfirmedAt)
}

func TestDebouncer_ClampsThreshold(t *testing.T) {
	d := NewDebouncer(0)
	assert.Equal(t, 1, d.Threshold())

	_, ok := d.Observe(Observation{MarkerID: 1, Present: true, FrameTime: t0})
	assert.True(t, ok)
}

func TestDebouncer_Reset(t *testing.T) {
	d := NewDebouncer(3)
	feed(d, frames(t0, 5, 5))
	d.Reset()

	events := feed(d, frames(t0, 5))
	assert.Empty(t, events)
	events = feed(d, frames(t0, 5, 5))
	assert.Len(t, events, 1)
}
