package presence

import (
	"sync"
	"time"
)

// DefaultAbsenceThreshold is the absence needed before a sighting counts as a
// reappearance.
const DefaultAbsenceThreshold = 10 * time.Second

// Machine tracks presence per identity and detects transitions.
// The BLE transport has no disconnect event, so departures are found by
// Sweep timing out identities that have not been seen.
type Machine struct {
	threshold time.Duration
	records   map[Identity]*slot
	order     []Identity

	countsMu sync.Mutex
	counts   EventCounts
}

type slot struct {
	mu  sync.Mutex
	rec Record
}

// NewMachine creates a Machine for ids. Every record starts AWAY and unseen.
func NewMachine(ids []Identity, threshold time.Duration) *Machine {
	if threshold <= 0 {
		threshold = DefaultAbsenceThreshold
	}
	m := &Machine{
		threshold: threshold,
		records:   make(map[Identity]*slot, len(ids)),
	}
	for _, id := range ids {
		if _, dup := m.records[id]; dup {
			continue
		}
		m.records[id] = &slot{rec: Record{State: StateAway}}
		m.order = append(m.order, id)
	}
	return m
}

// Threshold returns the absence threshold.
func (m *Machine) Threshold() time.Duration {
	return m.threshold
}

// Observe applies a sighting and returns the resulting event, if any.
// The first-ever sighting of an identity yields FIRST_SEEN, never REAPPEARED.
func (m *Machine) Observe(obs Observation) (Event, bool) {
	s, ok := m.records[obs.Identity]
	if !ok {
		return Event{}, false
	}
	s.mu.Lock()
	ev, ok := s.observe(obs, m.threshold)
	s.mu.Unlock()

	if ok {
		m.count(ev.Type)
	}
	return ev, ok
}

func (s *slot) observe(obs Observation, threshold time.Duration) (Event, bool) {
	prev := s.rec
	s.rec.LastSeen = obs.Time
	s.rec.Seen = true

	if !prev.Seen {
		s.rec.State = StatePresent
		return Event{
			Timestamp: obs.Time,
			Type:      EventFirstSeen,
			Identity:  obs.Identity,
			RSSI:      obs.RSSI,
		}, true
	}

	if prev.State == StatePresent {
		return Event{}, false
	}

	s.rec.State = StatePresent
	absence := obs.Time.Sub(prev.LastSeen)
	if absence <= threshold {
		return Event{}, false
	}
	return Event{
		Timestamp: obs.Time,
		Type:      EventReappeared,
		Identity:  obs.Identity,
		RSSI:      obs.RSSI,
		Absence:   absence,
	}, true
}

// Sweep moves every PRESENT identity not seen for longer than the threshold
// to AWAY and returns a DEPARTED event for each. An elapsed time exactly equal
// to the threshold does not transition.
func (m *Machine) Sweep(now time.Time) []Event {
	var events []Event
	for _, id := range m.order {
		s := m.records[id]
		s.mu.Lock()
		if s.rec.State == StatePresent && now.Sub(s.rec.LastSeen) > m.threshold {
			s.rec.State = StateAway
			events = append(events, Event{
				Timestamp: now,
				Type:      EventDeparted,
				Identity:  id,
			})
		}
		s.mu.Unlock()
	}
	for range events {
		m.count(EventDeparted)
	}
	return events
}

// Identities returns the tracked identities in configuration order.
func (m *Machine) Identities() []Identity {
	return append([]Identity(nil), m.order...)
}

// Record returns the current record for id.
func (m *Machine) Record(id Identity) (Record, bool) {
	s, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, true
}

// EventCountsSnapshot returns a copy of the event counters.
func (m *Machine) EventCountsSnapshot() EventCounts {
	m.countsMu.Lock()
	defer m.countsMu.Unlock()
	return m.counts
}

func (m *Machine) count(t EventType) {
	m.countsMu.Lock()
	defer m.countsMu.Unlock()
	switch t {
	case EventFirstSeen:
		m.counts.FirstSeen++
	case EventReappeared:
		m.counts.Reappeared++
	case EventDeparted:
		m.counts.Departed++
	}
}
