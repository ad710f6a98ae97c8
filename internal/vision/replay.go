package vision

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/laps.report/internal/fsutil"
	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
)

// ReplaySource plays back a recorded detector log. Each non-empty line that
// does not start with '#' is a frame, either as text
//
//	<offset_seconds>,<id>[,<id>...]
//
// with an empty id list for frames without markers, or as JSON
//
//	{"t":<offset_seconds>,"ids":[...]}
//
// Offsets are relative to the base time given to NewReplaySource.
type ReplaySource struct {
	scan   *bufio.Scanner
	closer io.Closer
	base   time.Time
	pace   time.Duration
	line   int
	frames int
}

// NewReplaySource reads frames from r.
func NewReplaySource(r io.Reader, base time.Time) *ReplaySource {
	s := &ReplaySource{scan: bufio.NewScanner(r), base: base}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenReplay opens a replay file.
func OpenReplay(fsys fsutil.FileSystem, path string, base time.Time) (*ReplaySource, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	return NewReplaySource(f, base), nil
}

// SetPace makes Next wait d before returning each frame, approximating the
// camera frame rate. Zero replays as fast as the loop consumes frames.
func (s *ReplaySource) SetPace(d time.Duration) {
	s.pace = d
}

// Next returns the next frame. Malformed lines are logged and skipped. At
// the end of the log it returns race.ErrEndOfStream.
func (s *ReplaySource) Next(ctx context.Context) (race.Observation, error) {
	if s.pace > 0 {
		t := time.NewTimer(s.pace)
		select {
		case <-ctx.Done():
			t.Stop()
			return race.Observation{}, ctx.Err()
		case <-t.C:
		}
	}

	for s.scan.Scan() {
		s.line++
		line := bytes.TrimSpace(s.scan.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		f, err := s.parse(line)
		if err != nil {
			monitoring.Logf("replay line %d: %v", s.line, err)
			continue
		}
		s.frames++
		return f.Observation(), nil
	}
	if err := s.scan.Err(); err != nil {
		return race.Observation{}, fmt.Errorf("read replay: %w", err)
	}
	return race.Observation{}, race.ErrEndOfStream
}

// Frames returns the number of frames returned so far.
func (s *ReplaySource) Frames() int {
	return s.frames
}

// Close closes the underlying reader if it is closable.
func (s *ReplaySource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *ReplaySource) parse(line []byte) (Frame, error) {
	if line[0] == '{' {
		jf, err := decodeJSONFrame(line)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Time: s.base.Add(secondsToDuration(jf.T)), IDs: jf.IDs}, nil
	}

	fields := strings.Split(string(line), ",")
	offset, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil || offset < 0 {
		return Frame{}, fmt.Errorf("invalid offset %q", fields[0])
	}
	f := Frame{Time: s.base.Add(secondsToDuration(offset))}
	for _, field := range fields[1:] {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.Atoi(field)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid marker id %q", field)
		}
		f.IDs = append(f.IDs, id)
	}
	return f, nil
}
