package presence

import (
	"sync"
	"time"
)

// TrackerConfig holds the tunables for a Tracker.
type TrackerConfig struct {
	Identities        []Identity
	AbsenceThreshold  time.Duration
	Retention         time.Duration
	MaxEntries        int
	TrendWindow       int
	MovementThreshold float64
}

// Tracker composes the History, Machine and TrendClassifier. Recording a
// sample and applying its presence transition happen under one per-identity
// lock, so two sightings of the same identity never interleave.
type Tracker struct {
	ingest  *Ingest
	history *History
	machine *Machine
	trend   *TrendClassifier
	locks   map[Identity]*sync.Mutex
}

// NewTracker builds a Tracker from cfg.
func NewTracker(cfg TrackerConfig) *Tracker {
	h := NewHistory(cfg.Identities, cfg.Retention, cfg.MaxEntries)
	t := &Tracker{
		ingest:  NewIngest(cfg.Identities),
		history: h,
		machine: NewMachine(cfg.Identities, cfg.AbsenceThreshold),
		trend:   NewTrendClassifier(h, cfg.TrendWindow, cfg.MovementThreshold),
		locks:   make(map[Identity]*sync.Mutex, len(cfg.Identities)),
	}
	for _, id := range cfg.Identities {
		t.locks[id] = &sync.Mutex{}
	}
	return t
}

// Ingest returns the tracker's ingest filter.
func (t *Tracker) Ingest() *Ingest { return t.ingest }

// History returns the underlying signal history.
func (t *Tracker) History() *History { return t.history }

// Machine returns the underlying presence state machine.
func (t *Tracker) Machine() *Machine { return t.machine }

// Observe records obs and applies its presence transition.
func (t *Tracker) Observe(obs Observation) (Event, bool) {
	mu, ok := t.locks[obs.Identity]
	if !ok {
		return Event{}, false
	}
	mu.Lock()
	defer mu.Unlock()

	if !t.history.Record(obs) {
		// Out-of-order sample: keep presence consistent with the history.
		return Event{}, false
	}
	return t.machine.Observe(obs)
}

// Sweep evicts stale history and runs the liveness check. It returns the
// DEPARTED events and the number of evicted samples.
func (t *Tracker) Sweep(now time.Time) ([]Event, int) {
	evicted := t.history.Evict(now)
	return t.machine.Sweep(now), evicted
}

// Trend classifies id from its recent history.
func (t *Tracker) Trend(id Identity) Trend {
	return t.trend.Classify(id)
}

// Snapshot returns the status of every tracked identity in configuration
// order.
func (t *Tracker) Snapshot() []IdentityStatus {
	ids := t.machine.Identities()
	out := make([]IdentityStatus, 0, len(ids))
	for _, id := range ids {
		rec, _ := t.machine.Record(id)
		st := IdentityStatus{
			Identity: id,
			Record:   rec,
			Trend:    t.trend.Classify(id),
			Samples:  t.history.Len(id),
			Nearby:   Nearby(t.history.Window(id, NearbyWindow), NearbyRSSI),
		}
		if last := t.history.Window(id, 1); len(last) == 1 {
			st.LastRSSI = last[0].RSSI
		}
		out = append(out, st)
	}
	return out
}
