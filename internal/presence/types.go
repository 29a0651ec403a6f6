// Package presence contains the beacon presence logic: ingest filtering, the
// bounded signal history, the presence state machine and the trend
// classifier. It has no hardware, network or OS dependencies; time is always
// passed in as time.Time values.
package presence

import "time"

// Identity is a stable key for a tracked beacon: an advertised address or
// local name.
type Identity string

// Observation is one normalized sighting of a tracked identity.
type Observation struct {
	Identity Identity
	Time     time.Time
	RSSI     int // dBm, less negative = closer
}

// RawEvent is a detection event as delivered by the scanning transport.
type RawEvent struct {
	Address string
	Name    string
	RSSI    int
	HasRSSI bool
}

// State is the presence state of an identity.
type State string

const (
	StateAway    State = "AWAY"
	StatePresent State = "PRESENT"
)

// EventType identifies a presence transition.
type EventType string

const (
	// EventFirstSeen is emitted on the first-ever sighting of an identity.
	// It is informational and never requests actuation.
	EventFirstSeen EventType = "FIRST_SEEN"
	// EventReappeared is emitted on AWAY -> PRESENT after an absence longer
	// than the threshold.
	EventReappeared EventType = "REAPPEARED"
	// EventDeparted is emitted by the liveness sweep on PRESENT -> AWAY.
	EventDeparted EventType = "DEPARTED"
)

// Event is a presence transition.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Identity  Identity
	RSSI      int           // RSSI of the triggering observation; zero for DEPARTED
	Absence   time.Duration // set for REAPPEARED
}

// Record is the presence state of one identity.
type Record struct {
	State    State
	LastSeen time.Time
	// Seen is false until the first observation. LastSeen is meaningless
	// until then.
	Seen bool
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	FirstSeen  int
	Reappeared int
	Departed   int
}

// Trend is the advisory approach/recession classification.
type Trend string

const (
	TrendUnknown     Trend = "UNKNOWN"
	TrendStable      Trend = "STABLE"
	TrendApproaching Trend = "APPROACHING"
	TrendReceding    Trend = "RECEDING"
)

// IdentityStatus is a point-in-time view of one identity.
type IdentityStatus struct {
	Identity Identity
	Record   Record
	Trend    Trend
	Samples  int
	LastRSSI int
	Nearby   bool
}
