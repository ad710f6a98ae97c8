// Package zmqsource receives marker frames from a detector publishing CBOR
// messages on a ZeroMQ PUSH socket.
package zmqsource

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
)

// MessageTypeMarkers is the only message type turned into observations.
const MessageTypeMarkers = "markers"

// recvTimeout bounds each receive so the reader notices cancellation.
const recvTimeout = 250 * time.Millisecond

// Message is the CBOR frame report:
//
//	{ "type": "markers", "frame_time": <unix seconds>, "ids": [<int>, ...] }
type Message struct {
	Type      string  `cbor:"type"`
	FrameTime float64 `cbor:"frame_time"`
	IDs       []int   `cbor:"ids"`
}

var errIgnored = errors.New("ignored message")

// Decode parses one CBOR message into an observation. Messages of other
// types return an error wrapping errIgnored.
func Decode(msg []byte) (race.Observation, error) {
	var m Message
	if err := cbor.Unmarshal(msg, &m); err != nil {
		return race.Observation{}, fmt.Errorf("cbor decode: %w", err)
	}
	if m.Type != MessageTypeMarkers {
		return race.Observation{}, fmt.Errorf("%w: type %q", errIgnored, m.Type)
	}
	if m.FrameTime <= 0 || math.IsNaN(m.FrameTime) || math.IsInf(m.FrameTime, 0) {
		return race.Observation{}, fmt.Errorf("invalid frame_time %v", m.FrameTime)
	}

	sec, frac := math.Modf(m.FrameTime)
	obs := race.Observation{FrameTime: time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))}
	if n := len(m.IDs); n > 0 {
		obs.MarkerID = m.IDs[n-1]
		obs.Present = true
	}
	return obs, nil
}

// Source is a race.ObservationSource backed by a ZeroMQ PULL socket.
type Source struct {
	frames chan race.Observation
	errs   chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects a PULL socket to endpoint and starts receiving. The returned
// source stops when ctx is cancelled or Close is called.
func Dial(ctx context.Context, endpoint string) (*Source, error) {
	socket, err := zmq4.NewSocket(zmq4.PULL)
	if err != nil {
		return nil, err
	}
	if err := socket.SetRcvtimeo(recvTimeout); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Connect(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	monitoring.Logf("zmq: receiving marker frames from %s", endpoint)

	ctx, cancel := context.WithCancel(ctx)
	s := &Source{
		frames: make(chan race.Observation, 128),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.recv(ctx, socket)
	return s, nil
}

func (s *Source) recv(ctx context.Context, socket *zmq4.Socket) {
	defer s.wg.Done()
	defer close(s.frames)
	defer socket.Close()

	var skipped int
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := socket.RecvBytes(0)
		if err != nil {
			switch zmq4.AsErrno(err) {
			case zmq4.Errno(syscall.EAGAIN):
				continue
			case zmq4.ETERM:
				s.errs <- err
				return
			}
			monitoring.Logf("zmq recv error: %v", err)
			continue
		}

		obs, err := Decode(msg)
		if err != nil {
			skipped++
			if !errors.Is(err, errIgnored) && skipped%100 == 1 {
				monitoring.Logf("zmq: skipped message: %v (%d skipped)", err, skipped)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case s.frames <- obs:
		}
	}
}

// Next returns the next observation. When the receiver stops the stream ends.
func (s *Source) Next(ctx context.Context) (race.Observation, error) {
	select {
	case <-ctx.Done():
		return race.Observation{}, ctx.Err()
	case obs, ok := <-s.frames:
		if ok {
			return obs, nil
		}
		select {
		case err := <-s.errs:
			return race.Observation{}, fmt.Errorf("zmq receive: %w", err)
		default:
			return race.Observation{}, race.ErrEndOfStream
		}
	}
}

// Close stops the receiver and closes the socket.
func (s *Source) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}
