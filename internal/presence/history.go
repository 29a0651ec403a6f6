package presence

import (
	"sync"
	"time"
)

// Default history bounds.
const (
	DefaultRetention  = 60 * time.Second
	DefaultMaxEntries = 50
)

// History is a per-identity signal history bounded by age and count.
// Each identity has its own lock; there is no lock across identities.
// The identity set is fixed at construction.
type History struct {
	retention  time.Duration
	maxEntries int
	series     map[Identity]*series
}

type series struct {
	mu  sync.Mutex
	obs []Observation // ascending by Time, unique timestamps
}

// NewHistory creates a History for ids. Non-positive bounds fall back to the
// defaults.
func NewHistory(ids []Identity, retention time.Duration, maxEntries int) *History {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	h := &History{
		retention:  retention,
		maxEntries: maxEntries,
		series:     make(map[Identity]*series, len(ids)),
	}
	for _, id := range ids {
		h.series[id] = &series{}
	}
	return h
}

// Record appends obs to its identity's history. An observation with the same
// timestamp as the newest entry replaces it; an older one is rejected.
// Returns false if the observation was not stored.
func (h *History) Record(obs Observation) bool {
	s, ok := h.series[obs.Identity]
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.obs); n > 0 {
		last := s.obs[n-1].Time
		if obs.Time.Equal(last) {
			s.obs[n-1] = obs
			return true
		}
		if obs.Time.Before(last) {
			return false
		}
	}
	s.obs = append(s.obs, obs)
	return true
}

// Window returns up to n of the most recent observations for id in
// chronological order. The result is a copy.
func (h *History) Window(id Identity, n int) []Observation {
	s, ok := h.series[id]
	if !ok || n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.obs) - n
	if start < 0 {
		start = 0
	}
	out := make([]Observation, len(s.obs)-start)
	copy(out, s.obs[start:])
	return out
}

// Len returns the number of stored observations for id.
func (h *History) Len(id Identity) int {
	s, ok := h.series[id]
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.obs)
}

// Evict drops, for every identity, observations older than the retention
// interval and then the oldest entries above the count cap. Returns the
// number of observations removed.
func (h *History) Evict(now time.Time) int {
	removed := 0
	for _, s := range h.series {
		removed += s.evict(now, h.retention, h.maxEntries)
	}
	return removed
}

func (s *series) evict(now time.Time, retention time.Duration, maxEntries int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Entries are ascending, so the expired ones form a prefix.
	cut := 0
	for cut < len(s.obs) && now.Sub(s.obs[cut].Time) > retention {
		cut++
	}
	if excess := len(s.obs) - cut - maxEntries; excess > 0 {
		cut += excess
	}
	if cut == 0 {
		return 0
	}
	// Copy into a fresh slice so the dropped prefix can be collected.
	kept := make([]Observation, len(s.obs)-cut)
	copy(kept, s.obs[cut:])
	s.obs = kept
	return cut
}
