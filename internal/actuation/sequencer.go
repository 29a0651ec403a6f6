// Package actuation runs the door-handle motor sequence: a forward stroke, a
// settle pause, a reverse stroke, then stop. At most one sequence runs at a
// time, every phase wait is cancellable, and the motor is always stopped on
// the way out.
package actuation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/door-greeter/internal/gpio"
	"github.com/sweeney/door-greeter/internal/presence"
	"github.com/sweeney/door-greeter/internal/timeutil"
)

// State is the sequencer state.
type State string

const (
	StateIdle    State = "IDLE"
	StateForward State = "FORWARD"
	StatePaused  State = "PAUSED"
	StateReverse State = "REVERSE"
	StateStopped State = "STOPPED"
)

// Default plan.
const (
	DefaultForward = 5 * time.Second
	DefaultPause   = 500 * time.Millisecond
	DefaultReverse = 6 * time.Second
	DefaultSpeed   = 200
)

var (
	// ErrInterrupted is reported when shutdown cancels a running sequence.
	ErrInterrupted = errors.New("actuation: sequence interrupted")
	// ErrBusy is returned by Trigger when a sequence is already in flight.
	ErrBusy = errors.New("actuation: sequence already in flight")
)

// FaultError is an actuator failure during a phase. The sequence is abandoned
// and not retried: the mechanism may be in an unknown position.
type FaultError struct {
	Phase State
	Op    string
	Err   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("actuator fault during %s (%s): %v", e.Phase, e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// Plan is the timed motor sequence.
type Plan struct {
	Forward time.Duration
	Pause   time.Duration
	Reverse time.Duration
	Speed   int
}

// DefaultPlan returns the default plan.
func DefaultPlan() Plan {
	return Plan{
		Forward: DefaultForward,
		Pause:   DefaultPause,
		Reverse: DefaultReverse,
		Speed:   DefaultSpeed,
	}
}

// Total returns the end-to-end duration of the plan.
func (p Plan) Total() time.Duration {
	return p.Forward + p.Pause + p.Reverse
}

// Validate checks plan bounds. The pause is the settle interval between the
// two directions and must be positive.
func (p Plan) Validate() error {
	var errs []error
	if p.Forward <= 0 {
		errs = append(errs, errors.New("forward duration must be positive"))
	}
	if p.Pause <= 0 {
		errs = append(errs, errors.New("pause duration must be positive"))
	}
	if p.Reverse <= 0 {
		errs = append(errs, errors.New("reverse duration must be positive"))
	}
	if p.Speed < 1 || p.Speed > gpio.MaxSpeed {
		errs = append(errs, fmt.Errorf("speed must be in 1..%d", gpio.MaxSpeed))
	}
	return errors.Join(errs...)
}

// Request asks for one sequence run.
type Request struct {
	Identity presence.Identity
	Absence  time.Duration
	At       time.Time
}

// RequestFor builds a Request from a REAPPEARED event.
func RequestFor(ev presence.Event) Request {
	return Request{Identity: ev.Identity, Absence: ev.Absence, At: ev.Timestamp}
}

// Report describes a finished sequence.
type Report struct {
	Request  Request
	Started  time.Time
	Finished time.Time
	// Reached is the last phase entered.
	Reached State
	// Err is nil on completion, ErrInterrupted on shutdown, or a *FaultError.
	Err error
}

// Outcome values for Report.Outcome.
const (
	OutcomeCompleted   = "COMPLETED"
	OutcomeInterrupted = "INTERRUPTED"
	OutcomeFault       = "FAULT"
	OutcomeBusy        = "BUSY"
)

// Outcome classifies the report for logs, telemetry and metrics.
func (r Report) Outcome() string {
	switch {
	case r.Err == nil:
		return OutcomeCompleted
	case errors.Is(r.Err, ErrInterrupted):
		return OutcomeInterrupted
	case errors.Is(r.Err, ErrBusy):
		return OutcomeBusy
	default:
		return OutcomeFault
	}
}

// Duration is the wall time the sequence took.
func (r Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Listener receives sequence reports. It is called from the Run goroutine.
type Listener func(Report)

// Sequencer owns the motor exclusively and runs one Plan per accepted request.
type Sequencer struct {
	motor    gpio.Motor
	clock    timeutil.Clock
	plan     Plan
	listener Listener

	slot chan Request

	mu      sync.Mutex
	state   State
	pending bool
}

// New creates a Sequencer. The listener may be nil.
func New(motor gpio.Motor, clock timeutil.Clock, plan Plan, listener Listener) *Sequencer {
	return &Sequencer{
		motor:    motor,
		clock:    clock,
		plan:     plan,
		listener: listener,
		slot:     make(chan Request, 1),
		state:    StateIdle,
	}
}

// Plan returns the sequencer's plan.
func (s *Sequencer) Plan() Plan { return s.plan }

// State returns the current state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Submit offers req to the sequencer without blocking. It returns false, and
// the request is dropped, unless the sequencer is idle with nothing pending.
func (s *Sequencer) Submit(req Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle || s.pending {
		return false
	}
	s.pending = true
	s.slot <- req
	return true
}

// Run executes accepted requests until ctx is done, then stops the motor.
// It returns the error from that final stop, if any.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if err := s.motor.Stop(); err != nil {
				return fmt.Errorf("stop on shutdown: %w", err)
			}
			return nil
		case req := <-s.slot:
			rep := s.execute(ctx, req)
			if s.listener != nil {
				s.listener(rep)
			}
		}
	}
}

// Trigger runs one sequence synchronously, outside Run. It returns ErrBusy if
// a sequence is in flight.
func (s *Sequencer) Trigger(ctx context.Context, req Request) Report {
	s.mu.Lock()
	if s.state != StateIdle || s.pending {
		s.mu.Unlock()
		return Report{Request: req, Reached: StateIdle, Err: ErrBusy}
	}
	s.pending = true
	s.mu.Unlock()
	return s.execute(ctx, req)
}

// execute runs the plan once. Callers must hold the pending claim taken by
// Submit or Trigger.
func (s *Sequencer) execute(ctx context.Context, req Request) (rep Report) {
	rep = Report{Request: req, Started: s.clock.Now(), Reached: StateIdle}

	defer func() {
		// Every exit path ends with the motor stopped.
		if err := s.motor.Stop(); err != nil && rep.Err == nil {
			rep.Err = &FaultError{Phase: StateStopped, Op: "stop", Err: err}
		}
		rep.Finished = s.clock.Now()
		s.setState(StateIdle)
	}()

	// Leave IDLE and release the claim in one step so no second request can
	// slip in between.
	s.mu.Lock()
	s.pending = false
	s.state = StateForward
	s.mu.Unlock()

	steps := []struct {
		phase State
		act   func() error
		op    string
		hold  time.Duration
	}{
		{StateForward, func() error { return s.motor.Drive(s.plan.Speed, gpio.Forward) }, "drive forward", s.plan.Forward},
		{StatePaused, s.motor.Stop, "stop", s.plan.Pause},
		{StateReverse, func() error { return s.motor.Drive(s.plan.Speed, gpio.Reverse) }, "drive reverse", s.plan.Reverse},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			rep.Err = ErrInterrupted
			return rep
		}
		s.setState(step.phase)
		rep.Reached = step.phase
		if err := step.act(); err != nil {
			rep.Err = &FaultError{Phase: step.phase, Op: step.op, Err: err}
			return rep
		}
		if !s.hold(ctx, step.hold) {
			rep.Err = ErrInterrupted
			return rep
		}
	}

	s.setState(StateStopped)
	rep.Reached = StateStopped
	return rep
}

// hold waits for d or until ctx is done. Reports whether the full duration
// elapsed.
func (s *Sequencer) hold(ctx context.Context, d time.Duration) bool {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Sequencer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
