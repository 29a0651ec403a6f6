package presence

import "time"

// Ingest normalizes raw scan events into Observations for tracked identities.
// The tracked set is fixed at construction, so Normalize is safe for
// concurrent use.
type Ingest struct {
	tracked map[Identity]struct{}
}

// NewIngest creates an Ingest watching the given identities.
func NewIngest(ids []Identity) *Ingest {
	tracked := make(map[Identity]struct{}, len(ids))
	for _, id := range ids {
		tracked[id] = struct{}{}
	}
	return &Ingest{tracked: tracked}
}

// Normalize returns the Observation for raw stamped at the given time.
// The identity is matched by address first, then by local name. Returns false
// if neither is tracked or the event carries no signal reading.
func (in *Ingest) Normalize(raw RawEvent, at time.Time) (Observation, bool) {
	id, ok := in.match(raw)
	if !ok || !raw.HasRSSI {
		return Observation{}, false
	}
	return Observation{Identity: id, Time: at, RSSI: raw.RSSI}, true
}

// Tracks reports whether id is in the tracked set.
func (in *Ingest) Tracks(id Identity) bool {
	_, ok := in.tracked[id]
	return ok
}

func (in *Ingest) match(raw RawEvent) (Identity, bool) {
	if raw.Address != "" {
		if id := Identity(raw.Address); in.Tracks(id) {
			return id, true
		}
	}
	if raw.Name != "" {
		if id := Identity(raw.Name); in.Tracks(id) {
			return id, true
		}
	}
	return "", false
}
