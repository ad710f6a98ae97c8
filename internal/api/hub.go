package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
	"github.com/banshee-data/laps.report/internal/units"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	// DefaultBroadcastBuffer bounds the messages waiting for websocket
	// clients. The timing loop never waits on it.
	DefaultBroadcastBuffer = 256
)

// Message types sent to display clients.
const (
	MessageHello     = "hello"
	MessageLifecycle = "lifecycle"
	MessageOutcome   = "outcome"
	MessageSnapshot  = "snapshot"
	MessageFinal     = "final"
)

// Outcome is the display form of a lap decision.
type Outcome struct {
	Kind        string        `json:"kind"`
	MarkerID    int           `json:"marker_id"`
	Number      int           `json:"number,omitempty"`
	Name        string        `json:"name,omitempty"`
	Category    string        `json:"category,omitempty"`
	Lap         int           `json:"lap"`
	Elapsed     time.Duration `json:"elapsed"`
	LapTime     string        `json:"lap_time"`
	Reason      string        `json:"reason,omitempty"`
	ConfirmedAt time.Time     `json:"confirmed_at"`
}

func newOutcome(out race.LapOutcome) Outcome {
	return Outcome{
		Kind:        out.Kind.String(),
		MarkerID:    out.MarkerID,
		Number:      out.Number,
		Name:        out.Name,
		Category:    out.Category,
		Lap:         out.Lap,
		Elapsed:     out.Elapsed,
		LapTime:     units.FormatHMS(out.Elapsed),
		Reason:      out.Reason,
		ConfirmedAt: out.ConfirmedAt,
	}
}

// Status describes the race as last seen by the hub.
type Status struct {
	State              string              `json:"state"`
	RaceID             string              `json:"race_id,omitempty"`
	RaceName           string              `json:"race_name,omitempty"`
	RaceStart          *time.Time          `json:"race_start,omitempty"`
	EndedAt            *time.Time          `json:"ended_at,omitempty"`
	MinLapDuration     time.Duration       `json:"min_lap_duration"`
	ConfirmationFrames int                 `json:"confirmation_frames"`
	Decisions          race.RegistrarStats `json:"decisions"`
	LastOutcome        *Outcome            `json:"last_outcome,omitempty"`
	Clients            int                 `json:"ws_clients"`
	Dropped            int64               `json:"ws_dropped"`
}

// Message is one websocket frame.
type Message struct {
	Type     string         `json:"type"`
	Event    string         `json:"event,omitempty"`
	Status   *Status        `json:"status,omitempty"`
	Outcome  *Outcome       `json:"outcome,omitempty"`
	Snapshot *race.Snapshot `json:"snapshot,omitempty"`
}

// Hub is a race.Publisher that keeps the latest race state for the HTTP API
// and fans every update out to websocket display clients.
type Hub struct {
	upgrader websocket.Upgrader
	messages chan Message
	dropped  atomic.Int64

	mu       sync.Mutex
	status   Status
	snapshot *race.Snapshot

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]*sync.Mutex
}

// NewHub returns a hub with room for buffer pending broadcasts.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBroadcastBuffer
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		messages: make(chan Message, buffer),
		status:   Status{State: race.NotStarted.String()},
		clients:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Status returns a copy of the current race status.
func (h *Hub) Status() Status {
	h.mu.Lock()
	st := h.status
	h.mu.Unlock()
	st.Clients = h.clientCount()
	st.Dropped = h.dropped.Load()
	return st
}

// Snapshot returns the latest snapshot, if a race has started.
func (h *Hub) Snapshot() (race.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapshot == nil {
		return race.Snapshot{}, false
	}
	return *h.snapshot, true
}

func (h *Hub) PublishLifecycle(_ context.Context, ev race.LifecycleEvent) error {
	snap := ev.Snapshot
	h.mu.Lock()
	switch ev.Kind {
	case race.LifecycleStarted:
		start := ev.At
		h.status = Status{
			State:              race.Running.String(),
			RaceID:             ev.RaceID,
			RaceName:           ev.RaceName,
			RaceStart:          &start,
			MinLapDuration:     ev.MinLapDuration,
			ConfirmationFrames: ev.ConfirmationFrames,
		}
	case race.LifecycleFinished:
		h.status.State = race.Finished.String()
		h.status.EndedAt = &ev.At
	case race.LifecycleEnded:
		h.status.State = race.LifecycleEnded.String()
		h.status.EndedAt = &ev.At
	}
	h.snapshot = &snap
	st := h.status
	h.mu.Unlock()

	h.enqueue(Message{Type: MessageLifecycle, Event: ev.Kind.String(), Status: &st, Snapshot: &snap})
	return nil
}

func (h *Hub) PublishOutcome(_ context.Context, out race.LapOutcome) error {
	o := newOutcome(out)
	h.mu.Lock()
	switch out.Kind {
	case race.Accepted:
		h.status.Decisions.Accepted++
	case race.Rejected:
		h.status.Decisions.Rejected++
	default:
		h.status.Decisions.Unrecognized++
	}
	h.status.LastOutcome = &o
	h.mu.Unlock()

	h.enqueue(Message{Type: MessageOutcome, Outcome: &o})
	return nil
}

func (h *Hub) PublishSnapshot(_ context.Context, snap race.Snapshot) error {
	h.setSnapshot(snap)
	h.enqueue(Message{Type: MessageSnapshot, Snapshot: &snap})
	return nil
}

func (h *Hub) PublishFinal(_ context.Context, snap race.Snapshot) error {
	h.setSnapshot(snap)
	h.enqueue(Message{Type: MessageFinal, Snapshot: &snap})
	return nil
}

func (h *Hub) setSnapshot(snap race.Snapshot) {
	h.mu.Lock()
	h.snapshot = &snap
	h.mu.Unlock()
}

// enqueue never blocks: when the buffer is full the message is dropped and
// counted.
func (h *Hub) enqueue(m Message) {
	select {
	case h.messages <- m:
	default:
		if h.dropped.Add(1) == 1 {
			monitoring.Logf("websocket broadcast buffer full, dropping messages")
		}
	}
}

// Run broadcasts queued messages to every connected client until ctx is
// done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeClients()
			return
		case m := <-h.messages:
			payload, err := json.Marshal(m)
			if err != nil {
				monitoring.Logf("encode %s message: %v", m.Type, err)
				continue
			}
			var stale []*websocket.Conn
			h.clientsMu.Lock()
			for conn, writeMu := range h.clients {
				if err := writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			h.clientsMu.Unlock()
			for _, conn := range stale {
				h.removeClient(conn)
			}
		}
	}
}

// ServeWS upgrades the request, registers the client and greets it with the
// current status and snapshot. Clients may send {"type":"snapshot_request"}
// to receive the latest snapshot again.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.clientsMu.Lock()
	h.clients[conn] = writeMu
	h.clientsMu.Unlock()

	st := h.Status()
	hello := Message{Type: MessageHello, Status: &st}
	if snap, ok := h.Snapshot(); ok {
		hello.Snapshot = &snap
	}
	if err := writeJSON(conn, writeMu, hello); err != nil {
		h.removeClient(conn)
		return
	}

	go h.readLoop(conn, writeMu)
}

func (h *Hub) readLoop(conn *websocket.Conn, writeMu *sync.Mutex) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
	defer close(done)
	defer h.removeClient(conn)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var request struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &request); err != nil {
			continue
		}
		if request.Type == "snapshot_request" {
			snap, ok := h.Snapshot()
			if !ok {
				continue
			}
			_ = writeJSON(conn, writeMu, Message{Type: MessageSnapshot, Snapshot: &snap})
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	conn.Close()
}

func (h *Hub) closeClients() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) clientCount() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
