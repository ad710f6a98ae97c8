package serialmux

import (
	"bytes"
	"errors"
	"sync"
)

var errFakeClosed = errors.New("fake port closed")

// FakePort is an in-memory Port for tests. Fed data is read back by the mux
// and every command written is kept.
type FakePort struct {
	mu      sync.Mutex
	cond    *sync.Cond
	in      bytes.Buffer
	out     bytes.Buffer
	failErr error
	closed  bool

	// Blocking makes an empty read wait for Feed or Close instead of
	// returning EOF.
	Blocking bool
	// ShortWrite makes every write report one byte less than given.
	ShortWrite bool
}

func NewFakePort() *FakePort {
	p := &FakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed queues detector output.
func (p *FakePort) Feed(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.WriteString(data)
	p.cond.Broadcast()
}

// FailNextWrite makes the next write return err.
func (p *FakePort) FailNextWrite(err error) {
	p.mu.Lock()
	p.failErr = err
	p.mu.Unlock()
}

// Written returns every command written so far.
func (p *FakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

func (p *FakePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.Blocking && !p.closed && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.closed {
		return 0, errFakeClosed
	}
	return p.in.Read(b)
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return 0, errFakeClosed
	case p.failErr != nil:
		err := p.failErr
		p.failErr = nil
		return 0, err
	case p.ShortWrite && len(b) > 0:
		b = b[:len(b)-1]
	}
	return p.out.Write(b)
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}
