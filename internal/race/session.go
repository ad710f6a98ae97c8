package race

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/laps.report/internal/monitoring"
	"github.com/banshee-data/laps.report/internal/timeutil"
)

var (
	// ErrEndOfStream is returned by an ObservationSource when no more frames
	// will arrive.
	ErrEndOfStream = errors.New("end of observation stream")
	// ErrNotRunning is returned when the loop is driven outside Running.
	ErrNotRunning = errors.New("race is not running")
	// ErrAlreadyStarted is returned by Start after the race has started.
	ErrAlreadyStarted = errors.New("race already started")
	// ErrUnknownCommand is returned by Start for anything but the start command.
	ErrUnknownCommand = errors.New("unknown start command")
)

// ObservationSource yields one Observation per frame. Next blocks until the
// next frame is available.
type ObservationSource interface {
	Next(ctx context.Context) (Observation, error)
}

// StopControl reports whether the operator asserted stop since the last call.
type StopControl interface {
	StopAsserted() bool
}

// State is the session lifecycle state.
type State int

const (
	NotStarted State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// SessionConfig holds the session parameters.
type SessionConfig struct {
	ConfirmationFrames int
	MinLapDuration     time.Duration
	StopWindow         time.Duration
	StartCommand       string
	RaceName           string
	// FinishOnEndOfStream publishes the final report when the observation
	// stream ends without a stop.
	FinishOnEndOfStream bool
}

// DefaultSessionConfig returns the defaults used by the timing station.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConfirmationFrames: DefaultConfirmationFrames,
		MinLapDuration:     time.Minute,
		StopWindow:         DefaultStopWindow,
		StartCommand:       "i",
		RaceName:           "race",
	}
}

// StepResult reports what a single frame produced.
type StepResult struct {
	Confirmed  bool
	Event      ConfirmedEvent
	HasOutcome bool
	Outcome    LapOutcome
	Stopped    bool
}

// SessionStats counts frames and publish failures alongside the registrar
// decisions.
type SessionStats struct {
	Frames        int            `json:"frames"`
	Confirmed     int            `json:"confirmed"`
	Decisions     RegistrarStats `json:"decisions"`
	PublishErrors int            `json:"publish_errors"`
}

// Session drives one race. All methods must be called from the goroutine
// running the frame loop; other goroutines observe the race through the
// snapshots handed to the Publisher.
type Session struct {
	cfg       SessionConfig
	roster    *Roster
	debouncer *Debouncer
	registrar *Registrar
	stop      *StopDebouncer
	clock     timeutil.Clock
	publisher Publisher

	state     State
	raceID    string
	raceStart time.Time
	stats     SessionStats
}

// NewSession returns a session in NotStarted. A nil publisher discards
// output and a nil clock uses the wall clock.
func NewSession(cfg SessionConfig, roster *Roster, publisher Publisher, clock timeutil.Clock) *Session {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if cfg.StartCommand == "" {
		cfg.StartCommand = "i"
	}
	return &Session{
		cfg:       cfg,
		roster:    roster,
		debouncer: NewDebouncer(cfg.ConfirmationFrames),
		registrar: NewRegistrar(roster),
		stop:      NewStopDebouncer(cfg.StopWindow),
		clock:     clock,
		publisher: publisher,
	}
}

// Start begins the race when command matches the configured start command.
func (s *Session) Start(ctx context.Context, command string) error {
	if s.state != NotStarted {
		return ErrAlreadyStarted
	}
	if command != s.cfg.StartCommand {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	s.raceStart = s.clock.Now()
	s.raceID = uuid.NewString()
	s.roster.Reset(s.raceStart)
	s.debouncer.Reset()
	s.state = Running

	monitoring.Logger.Info().
		Str("race_id", s.raceID).
		Str("race", s.cfg.RaceName).
		Int("competitors", s.roster.Len()).
		Dur("min_lap", s.cfg.MinLapDuration).
		Msg("race started")

	s.publishLifecycle(ctx, LifecycleStarted)
	return nil
}

// Step processes one frame to completion.
func (s *Session) Step(ctx context.Context, obs Observation, stopAsserted bool) StepResult {
	var res StepResult
	if s.state != Running {
		return res
	}
	s.stats.Frames++

	if ev, ok := s.debouncer.Observe(obs); ok {
		s.stats.Confirmed++
		res.Confirmed = true
		res.Event = ev

		out := s.registrar.RegisterLap(ev, s.cfg.MinLapDuration)
		res.HasOutcome = true
		res.Outcome = out
		s.logOutcome(out)

		s.check("outcome", s.publisher.PublishOutcome(ctx, out))
		if out.Kind == Accepted {
			s.check("snapshot", s.publisher.PublishSnapshot(ctx, s.Snapshot()))
		}
	}

	if s.stop.Update(stopAsserted, s.clock.Now()) {
		res.Stopped = true
		s.finish(ctx)
	}
	return res
}

// Run pulls observations from src until the race finishes or the stream
// ends. Stream end and context cancellation end the race gracefully; any
// other source error ends it and is returned.
func (s *Session) Run(ctx context.Context, src ObservationSource, control StopControl) error {
	if s.state != Running {
		return ErrNotRunning
	}

	for s.state == Running {
		if ctx.Err() != nil {
			s.endOfStream(ctx)
			return nil
		}

		obs, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.endOfStream(ctx)
				return nil
			}
			s.endOfStream(ctx)
			return fmt.Errorf("read observation: %w", err)
		}

		stop := control != nil && control.StopAsserted()
		s.Step(ctx, obs, stop)
	}
	return nil
}

// Finish stops a running race as if the stop control had been confirmed.
func (s *Session) Finish(ctx context.Context) error {
	if s.state != Running {
		return ErrNotRunning
	}
	s.finish(ctx)
	return nil
}

// Snapshot copies the current race state.
func (s *Session) Snapshot() Snapshot {
	return TakeSnapshot(s.raceID, s.cfg.RaceName, s.roster, s.raceStart, s.clock.Now())
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// RaceID returns the id assigned at Start.
func (s *Session) RaceID() string { return s.raceID }

// RaceStart returns the time captured at Start.
func (s *Session) RaceStart() time.Time { return s.raceStart }

// Config returns the session configuration.
func (s *Session) Config() SessionConfig { return s.cfg }

// Stats returns the session counters.
func (s *Session) Stats() SessionStats {
	st := s.stats
	st.Decisions = s.registrar.Stats()
	return st
}

func (s *Session) finish(ctx context.Context) {
	s.state = Finished
	monitoring.Logger.Info().Str("race_id", s.raceID).Msg("race finished")

	ctx = context.WithoutCancel(ctx)
	s.check("final", s.publisher.PublishFinal(ctx, s.Snapshot()))
	s.publishLifecycle(ctx, LifecycleFinished)
}

func (s *Session) endOfStream(ctx context.Context) {
	s.state = Finished
	monitoring.Logger.Info().
		Str("race_id", s.raceID).
		Bool("final_report", s.cfg.FinishOnEndOfStream).
		Msg("observation stream ended")

	ctx = context.WithoutCancel(ctx)
	if s.cfg.FinishOnEndOfStream {
		s.check("final", s.publisher.PublishFinal(ctx, s.Snapshot()))
	}
	s.publishLifecycle(ctx, LifecycleEnded)
}

func (s *Session) publishLifecycle(ctx context.Context, kind LifecycleKind) {
	ev := LifecycleEvent{
		Kind:               kind,
		RaceID:             s.raceID,
		RaceName:           s.cfg.RaceName,
		At:                 s.clock.Now(),
		MinLapDuration:     s.cfg.MinLapDuration,
		ConfirmationFrames: s.debouncer.Threshold(),
		Snapshot:           s.Snapshot(),
	}
	s.check("lifecycle "+kind.String(), s.publisher.PublishLifecycle(ctx, ev))
}

func (s *Session) check(what string, err error) {
	if err == nil {
		return
	}
	s.stats.PublishErrors++
	monitoring.Logger.Error().Err(err).Str("race_id", s.raceID).Msgf("publish %s failed", what)
}

func (s *Session) logOutcome(out LapOutcome) {
	switch out.Kind {
	case Accepted:
		monitoring.Logger.Info().
			Int("number", out.Number).
			Str("name", out.Name).
			Str("category", out.Category).
			Int("lap", out.Lap).
			Str("lap_time", out.Elapsed.Truncate(time.Millisecond).String()).
			Msg("lap registered")
	case Rejected:
		monitoring.Logger.Debug().
			Int("number", out.Number).
			Str("reason", out.Reason).
			Dur("elapsed", out.Elapsed).
			Msg("lap rejected")
	default:
		monitoring.Logger.Warn().Int("marker", out.MarkerID).Msg("unrecognized marker")
	}
}
