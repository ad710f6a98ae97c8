// Package control turns operator input into race commands: the start
// command and stop presses from a keypad or the HTTP API.
package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/timeutil"
)

// StopKey is the keypad line that presses stop.
const StopKey = "f"

// DefaultStopWindow matches the session's stop debounce window.
const DefaultStopWindow = 300 * time.Millisecond

// StopLatch collects stop presses from any goroutine. The timing loop
// consumes them one per frame through StopAsserted, so two presses in quick
// succession reach the stop debouncer as two asserted frames.
//
// Presses are judged by when they were made, not when a frame picks them up:
// a lone press older than Window is dropped at consumption, so two presses
// far apart never arrive on consecutive frames after the source stalls. A
// press followed within Window by another is always delivered together with
// its partner. The zero value uses the wall clock and DefaultStopWindow.
type StopLatch struct {
	Window time.Duration
	Clock  timeutil.Clock

	mu      sync.Mutex
	pending []press
	total   int64
	expired int64
}

type press struct {
	at   time.Time
	owed bool
}

func (l *StopLatch) now() time.Time {
	if l.Clock == nil {
		return time.Now()
	}
	return l.Clock.Now()
}

func (l *StopLatch) window() time.Duration {
	if l.Window <= 0 {
		return DefaultStopWindow
	}
	return l.Window
}

// Press records one stop press.
func (l *StopLatch) Press() {
	at := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = append(l.pending, press{at: at})
	l.total++
}

// StopAsserted reports and consumes one pending press.
func (l *StopLatch) StopAsserted() bool {
	now := l.now()
	win := l.window()
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.pending) > 0 {
		head := l.pending[0]
		l.pending = l.pending[1:]
		paired := len(l.pending) > 0 && l.pending[0].at.Sub(head.at) <= win
		if paired {
			l.pending[0].owed = true
		}
		if head.owed || paired || now.Sub(head.at) <= win {
			return true
		}
		l.expired++
	}
	return false
}

// Presses returns the number of presses since creation.
func (l *StopLatch) Presses() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Expired returns the number of lone presses dropped for being older than
// the window when a frame came to consume them.
func (l *StopLatch) Expired() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.expired
}

// Keypad reads operator lines. The first non-empty line is the start
// command; after that each StopKey line presses the latch.
type Keypad struct {
	scan  *bufio.Scanner
	latch *StopLatch
}

// NewKeypad reads from r and presses latch.
func NewKeypad(r io.Reader, latch *StopLatch) *Keypad {
	return &Keypad{scan: bufio.NewScanner(r), latch: latch}
}

// ReadStart blocks until the first non-empty line and returns it trimmed.
// io.EOF is returned if input ends first.
func (k *Keypad) ReadStart() (string, error) {
	for k.scan.Scan() {
		if line := strings.TrimSpace(k.scan.Text()); line != "" {
			return line, nil
		}
	}
	if err := k.scan.Err(); err != nil {
		return "", fmt.Errorf("read start command: %w", err)
	}
	return "", io.EOF
}

// Run presses the latch for each stop line until input ends or ctx is done.
// Other lines are logged and ignored. The reader is not interrupted by ctx;
// Run returns once the next line arrives.
func (k *Keypad) Run(ctx context.Context) error {
	for k.scan.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		switch line := strings.TrimSpace(k.scan.Text()); line {
		case StopKey:
			k.latch.Press()
		case "":
		default:
			monitoring.Logf("keypad: ignoring %q (press %q twice quickly to stop)", line, StopKey)
		}
	}
	if err := k.scan.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("keypad: %w", err)
	}
	return nil
}
