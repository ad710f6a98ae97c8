package race

import (
	"context"
	"errors"
	"time"
)

// LifecycleKind identifies a session lifecycle transition.
type LifecycleKind int

const (
	// LifecycleStarted is published when the race starts.
	LifecycleStarted LifecycleKind = iota
	// LifecycleFinished is published after a confirmed stop.
	LifecycleFinished
	// LifecycleEnded is published when the observation stream ends.
	LifecycleEnded
)

func (k LifecycleKind) String() string {
	switch k {
	case LifecycleStarted:
		return "started"
	case LifecycleFinished:
		return "finished"
	case LifecycleEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// LifecycleEvent describes a session transition together with the race state
// at that moment.
type LifecycleEvent struct {
	Kind               LifecycleKind
	RaceID             string
	RaceName           string
	At                 time.Time
	MinLapDuration     time.Duration
	ConfirmationFrames int
	Snapshot           Snapshot
}

// Publisher receives everything the timing loop produces. Implementations
// persist or broadcast it; errors are logged by the session and never stop
// the loop.
type Publisher interface {
	PublishLifecycle(ctx context.Context, ev LifecycleEvent) error
	PublishOutcome(ctx context.Context, out LapOutcome) error
	PublishSnapshot(ctx context.Context, snap Snapshot) error
	// PublishFinal receives the final state when the race finishes and is
	// where per-competitor reports are produced.
	PublishFinal(ctx context.Context, snap Snapshot) error
}

// MultiPublisher fans out to each publisher in order. Every publisher is
// called even if an earlier one fails; the failures are joined.
type MultiPublisher []Publisher

func (m MultiPublisher) PublishLifecycle(ctx context.Context, ev LifecycleEvent) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishLifecycle(ctx, ev))
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishOutcome(ctx context.Context, out LapOutcome) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishOutcome(ctx, out))
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishSnapshot(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishSnapshot(ctx, snap))
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishFinal(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishFinal(ctx, snap))
	}
	return errors.Join(errs...)
}

// NopPublisher discards everything.
type NopPublisher struct{}

func (NopPublisher) PublishLifecycle(context.Context, LifecycleEvent) error { return nil }
func (NopPublisher) PublishOutcome(context.Context, LapOutcome) error       { return nil }
func (NopPublisher) PublishSnapshot(context.Context, Snapshot) error        { return nil }
func (NopPublisher) PublishFinal(context.Context, Snapshot) error           { return nil }
