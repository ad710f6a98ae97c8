package serialmux

import (
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// replayPort plays recorded detector lines into a pipe. Commands are
// accepted and ignored.
type replayPort struct {
	*io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once
}

func (p *replayPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *replayPort) Close() error {
	p.once.Do(func() {
		close(p.done)
		_ = p.pw.Close()
	})
	return nil
}

// NewReplayMux returns a Mux that stands in for a detector by writing one of
// lines every interval. "{now}" in a line becomes the current unix time in
// seconds so frames look live. After the last line the port reports EOF
// unless loop is set.
func NewReplayMux(lines []string, interval time.Duration, loop bool) *Mux[Port] {
	pr, pw := io.Pipe()
	port := &replayPort{PipeReader: pr, pw: pw, done: make(chan struct{})}
	go port.play(lines, interval, loop)
	return NewMux[Port](port)
}

func (p *replayPort) play(lines []string, interval time.Duration, loop bool) {
	defer p.pw.Close()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for first := true; first || loop; first = false {
		for _, line := range lines {
			var now time.Time
			select {
			case <-p.done:
				return
			case now = <-tick.C:
			}
			stamp := strconv.FormatFloat(float64(now.UnixMilli())/1000, 'f', -1, 64)
			if _, err := io.WriteString(p.pw, strings.ReplaceAll(line, "{now}", stamp)+"\n"); err != nil {
				return
			}
		}
	}
}
