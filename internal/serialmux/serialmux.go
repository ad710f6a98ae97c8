// Package serialmux shares the serial link to the marker detector
// co-processor: any number of readers subscribe to the lines it reports
// while commands to the single device are serialised.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/laps.report/internal/timeutil"
)

var ErrWriteFailed = errors.New("short write to detector port")

// SubscriberBuffer is how many lines a subscriber may fall behind before it
// starts missing them.
const SubscriberBuffer = 256

// Link is what the station needs from a detector connection.
type Link interface {
	Subscribe() (string, chan string)
	Unsubscribe(id string)
	SendCommand(command string) error
	// Initialize syncs the detector clock and selects per-frame JSON output.
	Initialize() error
	// Monitor fans lines out to subscribers until ctx is done or the port
	// reaches EOF.
	Monitor(ctx context.Context) error
	Dropped() uint64
	Close() error
	AttachAdminRoutes(mux *http.ServeMux)
}

// Mux multiplexes one Port between subscribers.
type Mux[P Port] struct {
	port  P
	clock timeutil.Clock
	cmdMu sync.Mutex

	mu         sync.Mutex
	subs       map[string]chan string
	closed     bool
	portClosed bool
	dropped    uint64
}

var _ Link = (*Mux[Port])(nil)

func NewMux[P Port](port P) *Mux[P] {
	return &Mux[P]{
		port:  port,
		clock: timeutil.SystemClock{},
		subs:  make(map[string]chan string),
	}
}

// SetClock replaces the clock sent to the detector by Initialize.
func (m *Mux[P]) SetClock(c timeutil.Clock) {
	m.clock = c
}

func newSubscriberID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Subscribe returns a buffered line channel and the id that releases it.
// After Close the channel comes back already closed.
func (m *Mux[P]) Subscribe() (string, chan string) {
	id, ch := newSubscriberID(), make(chan string, SubscriberBuffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
	} else {
		m.subs[id] = ch
	}
	return id, ch
}

func (m *Mux[P]) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of open subscriptions.
func (m *Mux[P]) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Dropped returns how many lines were missed by subscribers with a full
// buffer.
func (m *Mux[P]) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Mux[P]) Initialize() error {
	now := m.clock.Now()
	setClock := fmt.Sprintf("C=%d.%03d", now.Unix(), now.Nanosecond()/int(time.Millisecond))
	if err := m.SendCommand(setClock); err != nil {
		return fmt.Errorf("failed to synchronize clock: %w", err)
	}
	// AX factory reset, OJ JSON output, OF report empty frames too, OT add
	// frame timestamps.
	for _, cmd := range []string{"AX", "OJ", "OF", "OT"} {
		if err := m.SendCommand(cmd); err != nil {
			return fmt.Errorf("detector rejected %q: %w", cmd, err)
		}
	}
	return nil
}

// SendCommand writes one newline terminated command.
func (m *Mux[P]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	n, err := m.port.Write([]byte(command))
	switch {
	case err != nil:
		return err
	case n < len(command):
		return ErrWriteFailed
	}
	return nil
}

// Monitor scans the port on a separate goroutine so a blocked read never
// delays cancellation. A subscriber with a full buffer misses the line.
// When the port reaches EOF or fails every subscription is closed, so
// readers see the detector go away; cancellation leaves them open.
func (m *Mux[P]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(m.port)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.endSubscriptions()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if !m.broadcast(line) {
				return nil
			}
		}
	}
}

func (m *Mux[P]) broadcast(line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	for _, ch := range m.subs {
		select {
		case ch <- line:
		default:
			m.dropped++
		}
	}
	return true
}

// endSubscriptions closes every subscriber channel. Later Subscribe calls
// get a closed channel.
func (m *Mux[P]) endSubscriptions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

// Close ends every subscription and closes the port. Later calls are no-ops.
func (m *Mux[P]) Close() error {
	m.endSubscriptions()
	m.mu.Lock()
	if m.portClosed {
		m.mu.Unlock()
		return nil
	}
	m.portClosed = true
	m.mu.Unlock()
	return m.port.Close()
}
