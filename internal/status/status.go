// Package status provides a thread-safe status tracker for the door-greeter
// daemon. It is read by the HTTP handlers and the heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/door-greeter/internal/actuation"
	"github.com/sweeney/door-greeter/internal/presence"
)

// Config contains daemon configuration for display.
type Config struct {
	Identities        []string
	AbsenceThreshold  time.Duration
	Plan              actuation.Plan
	HeartbeatInterval time.Duration
	Broker            string
	HTTPAddr          string
}

// Counts are the event counters since startup.
type Counts struct {
	presence.EventCounts
	Completed   int
	Interrupted int
	Faulted     int
	Dropped     int
}

// Sequence summarizes the most recent actuation run.
type Sequence struct {
	Identity presence.Identity
	Outcome  string
	Reached  actuation.State
	Finished time.Time
	Duration time.Duration
	Error    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Identities    []presence.IdentityStatus
	Sequencer     actuation.State
	LastSequence  *Sequence
	Counts        Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Sequencer: actuation.StateIdle,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetNow overrides the clock used to stamp snapshots.
func (t *Tracker) SetNow(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// UpdatePresence replaces the per-identity view and presence counters.
// Called from the sweep loop.
func (t *Tracker) UpdatePresence(ids []presence.IdentityStatus, counts presence.EventCounts) {
	cp := append([]presence.IdentityStatus(nil), ids...)
	t.mu.Lock()
	t.snap.Identities = cp
	t.snap.Counts.EventCounts = counts
	t.mu.Unlock()
}

// SetSequencer sets the current sequencer state.
func (t *Tracker) SetSequencer(state actuation.State) {
	t.mu.Lock()
	t.snap.Sequencer = state
	t.mu.Unlock()
}

// RecordSequence counts a finished run and keeps it as the last sequence.
func (t *Tracker) RecordSequence(r actuation.Report) {
	seq := &Sequence{
		Identity: r.Request.Identity,
		Outcome:  r.Outcome(),
		Reached:  r.Reached,
		Finished: r.Finished,
		Duration: r.Duration(),
	}
	if r.Err != nil {
		seq.Error = r.Err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.LastSequence = seq
	switch seq.Outcome {
	case actuation.OutcomeCompleted:
		t.snap.Counts.Completed++
	case actuation.OutcomeInterrupted:
		t.snap.Counts.Interrupted++
	case actuation.OutcomeFault:
		t.snap.Counts.Faulted++
	}
}

// RequestDropped counts a request the sequencer refused.
func (t *Tracker) RequestDropped() {
	t.mu.Lock()
	t.snap.Counts.Dropped++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Identities = append([]presence.IdentityStatus(nil), t.snap.Identities...)
	if t.snap.LastSequence != nil {
		seq := *t.snap.LastSequence
		s.LastSequence = &seq
	}
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
