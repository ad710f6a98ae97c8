package control

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/timeutil"
)

func TestStopLatch(t *testing.T) {
	var l StopLatch
	assert.False(t, l.StopAsserted())

	l.Press()
	l.Press()
	assert.True(t, l.StopAsserted())
	assert.True(t, l.StopAsserted())
	assert.False(t, l.StopAsserted())
	assert.EqualValues(t, 2, l.Presses())
}

func TestStopLatch_Concurrent(t *testing.T) {
	var l StopLatch
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Press()
		}()
	}
	wg.Wait()

	n := 0
	for l.StopAsserted() {
		n++
	}
	assert.Equal(t, 50, n)
}

func TestStopLatch_StalePressesDoNotPair(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	l := &StopLatch{Clock: clock}

	// Two presses a second apart wait behind a stalled source.
	l.Press()
	clock.Advance(time.Second)
	l.Press()
	clock.Advance(2 * time.Second)

	assert.True(t, l.StopAsserted(), "fresh press still counts")
	assert.False(t, l.StopAsserted())
	assert.EqualValues(t, 2, l.Presses())
	assert.EqualValues(t, 1, l.Expired())
}

func TestStopLatch_PairSurvivesStall(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	l := &StopLatch{Clock: clock}

	l.Press()
	clock.Advance(100 * time.Millisecond)
	l.Press()
	clock.Advance(5 * time.Second)

	assert.True(t, l.StopAsserted())
	clock.Advance(30 * time.Millisecond)
	assert.True(t, l.StopAsserted(), "partner of a paired press is owed")
	assert.False(t, l.StopAsserted())
	assert.Zero(t, l.Expired())
}

func TestStopLatch_Window(t *testing.T) {
	clock := timeutil.NewManualClock(time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC))
	l := &StopLatch{Clock: clock, Window: time.Second}

	l.Press()
	clock.Advance(800 * time.Millisecond)
	assert.True(t, l.StopAsserted())

	l.Press()
	clock.Advance(1500 * time.Millisecond)
	assert.False(t, l.StopAsserted())
	assert.EqualValues(t, 1, l.Expired())
}

func TestKeypad(t *testing.T) {
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	var l StopLatch
	k := NewKeypad(strings.NewReader("\n  i \nx\nf\n\n f\n"), &l)

	cmd, err := k.ReadStart()
	require.NoError(t, err)
	assert.Equal(t, "i", cmd)

	require.NoError(t, k.Run(context.Background()))
	assert.EqualValues(t, 2, l.Presses())
}

func TestKeypad_NoStart(t *testing.T) {
	k := NewKeypad(strings.NewReader("\n\n"), &StopLatch{})
	_, err := k.ReadStart()
	assert.ErrorIs(t, err, io.EOF)
}

func TestKeypad_StopsAfterCancel(t *testing.T) {
	var l StopLatch
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	k := NewKeypad(strings.NewReader("f\nf\n"), &l)
	require.NoError(t, k.Run(ctx))
	assert.Zero(t, l.Presses())
}
