package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Sequencer     string         `json:"sequencer"`
	Identities    []IdentityJSON `json:"identities"`
	LastSequence  *SequenceJSON  `json:"last_sequence,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"event_counts"`
	Config        ConfigJSON     `json:"config"`
}

// IdentityJSON is one tracked identity.
type IdentityJSON struct {
	Identity string `json:"identity"`
	State    string `json:"state"`
	LastSeen string `json:"last_seen,omitempty"`
	Trend    string `json:"trend"`
	Samples  int    `json:"samples"`
	RSSI     *int   `json:"rssi,omitempty"`
	Nearby   bool   `json:"nearby"`
}

// SequenceJSON is the most recent actuation run.
type SequenceJSON struct {
	Identity        string  `json:"identity"`
	Outcome         string  `json:"outcome"`
	Reached         string  `json:"reached"`
	Finished        string  `json:"finished"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	FirstSeen   int `json:"first_seen"`
	Reappeared  int `json:"reappeared"`
	Departed    int `json:"departed"`
	Completed   int `json:"sequences_completed"`
	Interrupted int `json:"sequences_interrupted"`
	Faulted     int `json:"sequences_faulted"`
	Dropped     int `json:"requests_dropped"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Identities       []string `json:"tracked_identities"`
	AbsenceThreshold float64  `json:"absence_threshold_seconds"`
	Forward          float64  `json:"forward_duration_seconds"`
	Pause            float64  `json:"pause_duration_seconds"`
	Reverse          float64  `json:"reverse_duration_seconds"`
	Speed            int      `json:"max_speed"`
	HeartbeatSeconds float64  `json:"heartbeat_seconds"`
	Broker           string   `json:"broker"`
	HTTPAddr         string   `json:"http"`
}

func buildInner(snap Snapshot) StatusInner {
	seq := string(snap.Sequencer)
	if seq == "" {
		seq = "UNKNOWN"
	}

	ids := make([]IdentityJSON, 0, len(snap.Identities))
	for _, st := range snap.Identities {
		j := IdentityJSON{
			Identity: string(st.Identity),
			State:    string(st.Record.State),
			Trend:    string(st.Trend),
			Samples:  st.Samples,
			Nearby:   st.Nearby,
		}
		if st.Record.Seen {
			j.LastSeen = st.Record.LastSeen.UTC().Format(time.RFC3339)
		}
		if st.Samples > 0 {
			rssi := st.LastRSSI
			j.RSSI = &rssi
		}
		ids = append(ids, j)
	}

	cfg := snap.Config
	inner := StatusInner{
		Sequencer:     seq,
		Identities:    ids,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: cfg.Broker},
		Counts: CountsJSON{
			FirstSeen:   snap.Counts.FirstSeen,
			Reappeared:  snap.Counts.Reappeared,
			Departed:    snap.Counts.Departed,
			Completed:   snap.Counts.Completed,
			Interrupted: snap.Counts.Interrupted,
			Faulted:     snap.Counts.Faulted,
			Dropped:     snap.Counts.Dropped,
		},
		Config: ConfigJSON{
			Identities:       append([]string{}, cfg.Identities...),
			AbsenceThreshold: cfg.AbsenceThreshold.Seconds(),
			Forward:          cfg.Plan.Forward.Seconds(),
			Pause:            cfg.Plan.Pause.Seconds(),
			Reverse:          cfg.Plan.Reverse.Seconds(),
			Speed:            cfg.Plan.Speed,
			HeartbeatSeconds: cfg.HeartbeatInterval.Seconds(),
			Broker:           cfg.Broker,
			HTTPAddr:         cfg.HTTPAddr,
		},
	}

	if s := snap.LastSequence; s != nil {
		inner.LastSequence = &SequenceJSON{
			Identity:        string(s.Identity),
			Outcome:         s.Outcome,
			Reached:         string(s.Reached),
			Finished:        s.Finished.UTC().Format(time.RFC3339),
			DurationSeconds: s.Duration.Seconds(),
			Error:           s.Error,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
