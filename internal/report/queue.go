package report

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/race"
)

// ErrQueueClosed is returned when publishing to a closed Queue.
var ErrQueueClosed = errors.New("report queue closed")

// DefaultQueueSize is the job buffer used when NewQueue is given a size <= 0.
const DefaultQueueSize = 64

type job struct {
	what string
	run  func(ctx context.Context) error
}

// Queue publishes to another Publisher from a single worker goroutine so the
// timing loop never waits on file I/O. Jobs run in submission order. A full
// queue blocks the caller rather than dropping a snapshot.
type Queue struct {
	next race.Publisher
	jobs chan job
	done chan struct{}

	mu     sync.RWMutex
	closed bool

	processed atomic.Int64
	failed    atomic.Int64
}

// NewQueue starts the worker.
func NewQueue(next race.Publisher, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		next: next,
		jobs: make(chan job, size),
		done: make(chan struct{}),
	}
	go q.worker()
	return q
}

func (q *Queue) worker() {
	defer close(q.done)
	ctx := context.Background()
	for j := range q.jobs {
		if err := j.run(ctx); err != nil {
			q.failed.Add(1)
			monitoring.Logger.Error().Err(err).Str("job", j.what).Msg("report write failed")
		}
		q.processed.Add(1)
	}
}

func (q *Queue) enqueue(ctx context.Context, j job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) PublishLifecycle(ctx context.Context, ev race.LifecycleEvent) error {
	return q.enqueue(ctx, job{"lifecycle " + ev.Kind.String(), func(ctx context.Context) error {
		return q.next.PublishLifecycle(ctx, ev)
	}})
}

func (q *Queue) PublishOutcome(ctx context.Context, out race.LapOutcome) error {
	return q.enqueue(ctx, job{"outcome", func(ctx context.Context) error {
		return q.next.PublishOutcome(ctx, out)
	}})
}

func (q *Queue) PublishSnapshot(ctx context.Context, snap race.Snapshot) error {
	return q.enqueue(ctx, job{"snapshot", func(ctx context.Context) error {
		return q.next.PublishSnapshot(ctx, snap)
	}})
}

func (q *Queue) PublishFinal(ctx context.Context, snap race.Snapshot) error {
	return q.enqueue(ctx, job{"final", func(ctx context.Context) error {
		return q.next.PublishFinal(ctx, snap)
	}})
}

// Processed returns the number of jobs run so far.
func (q *Queue) Processed() int64 { return q.processed.Load() }

// Failed returns the number of jobs whose publish returned an error.
func (q *Queue) Failed() int64 { return q.failed.Load() }

// Close stops accepting jobs and waits until every queued job has run.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	<-q.done
	return nil
}
