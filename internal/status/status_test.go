package status

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/door-greeter/internal/actuation"
	"github.com/sweeney/door-greeter/internal/presence"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Identities:        []string{"sPhone", "sWatch"},
		AbsenceThreshold:  10 * time.Second,
		Plan:              actuation.DefaultPlan(),
		HeartbeatInterval: 15 * time.Minute,
		Broker:            "tcp://localhost:1883",
		HTTPAddr:          ":8080",
	}
}

func TestNewTracker(t *testing.T) {
	tr := NewTracker(start, testConfig())

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Sequencer != actuation.StateIdle {
		t.Errorf("Sequencer: got %q, want IDLE", snap.Sequencer)
	}
	if snap.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q, want %q", snap.Config.HTTPAddr, ":8080")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.LastSequence != nil {
		t.Error("expected no last sequence initially")
	}
}

func TestUpdatePresence(t *testing.T) {
	tr := NewTracker(start, Config{})
	ids := []presence.IdentityStatus{
		{Identity: "sPhone", Record: presence.Record{State: presence.StatePresent, LastSeen: start, Seen: true}, Trend: presence.TrendApproaching, Samples: 4, LastRSSI: -55},
	}
	tr.UpdatePresence(ids, presence.EventCounts{FirstSeen: 1, Reappeared: 2})

	snap := tr.Snapshot()
	if len(snap.Identities) != 1 || snap.Identities[0].Trend != presence.TrendApproaching {
		t.Errorf("Identities: got %+v", snap.Identities)
	}
	if snap.Counts.Reappeared != 2 {
		t.Errorf("Counts.Reappeared: got %d, want 2", snap.Counts.Reappeared)
	}

	ids[0].Trend = presence.TrendReceding
	if tr.Snapshot().Identities[0].Trend != presence.TrendApproaching {
		t.Error("tracker should not alias the caller's slice")
	}
}

func TestRecordSequence(t *testing.T) {
	tr := NewTracker(start, Config{})

	tr.RecordSequence(actuation.Report{
		Request:  actuation.Request{Identity: "sPhone"},
		Started:  start,
		Finished: start.Add(11500 * time.Millisecond),
		Reached:  actuation.StateStopped,
	})
	tr.RecordSequence(actuation.Report{Err: actuation.ErrInterrupted, Reached: actuation.StateForward})
	tr.RecordSequence(actuation.Report{
		Request: actuation.Request{Identity: "sWatch"},
		Reached: actuation.StateReverse,
		Err:     &actuation.FaultError{Phase: actuation.StateReverse, Op: "drive reverse", Err: errors.New("boom")},
	})
	tr.RequestDropped()
	tr.RequestDropped()

	snap := tr.Snapshot()
	c := snap.Counts
	if c.Completed != 1 || c.Interrupted != 1 || c.Faulted != 1 || c.Dropped != 2 {
		t.Errorf("Counts: got %+v", c)
	}
	if snap.LastSequence == nil {
		t.Fatal("expected last sequence")
	}
	if snap.LastSequence.Identity != "sWatch" || snap.LastSequence.Outcome != actuation.OutcomeFault {
		t.Errorf("LastSequence: got %+v", snap.LastSequence)
	}
	if !strings.Contains(snap.LastSequence.Error, "boom") {
		t.Errorf("LastSequence.Error: got %q", snap.LastSequence.Error)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSnapshotUptime(t *testing.T) {
	tr := NewTracker(start, Config{})
	tr.SetNow(func() time.Time { return start.Add(90 * time.Second) })

	if got := tr.Snapshot().Uptime(); got != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", got)
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(start, Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(start, Config{})
	tr.SetSequencer(actuation.StateForward)
	tr.RecordSequence(actuation.Report{Request: actuation.Request{Identity: "sPhone"}})

	snap1 := tr.Snapshot()

	tr.SetSequencer(actuation.StateReverse)
	tr.RecordSequence(actuation.Report{Request: actuation.Request{Identity: "sWatch"}})

	if snap1.Sequencer != actuation.StateForward {
		t.Error("snapshot should be a copy; Sequencer was modified")
	}
	if snap1.LastSequence.Identity != "sPhone" {
		t.Error("snapshot should be a copy; LastSequence was modified")
	}
}

func testSnapshot() Snapshot {
	return Snapshot{
		Identities: []presence.IdentityStatus{
			{
				Identity: "sPhone",
				Record:   presence.Record{State: presence.StatePresent, LastSeen: start.Add(14 * time.Minute), Seen: true},
				Trend:    presence.TrendStable,
				Samples:  7,
				LastRSSI: -60,
				Nearby:   true,
			},
			{Identity: "sWatch", Record: presence.Record{State: presence.StateAway}, Trend: presence.TrendUnknown},
		},
		Sequencer: actuation.StateIdle,
		LastSequence: &Sequence{
			Identity: "sPhone",
			Outcome:  actuation.OutcomeCompleted,
			Reached:  actuation.StateStopped,
			Finished: start.Add(10 * time.Minute),
			Duration: 11500 * time.Millisecond,
		},
		Counts: Counts{
			EventCounts: presence.EventCounts{FirstSeen: 1, Reappeared: 3, Departed: 3},
			Completed:   3,
			Dropped:     1,
		},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        testConfig(),
	}
}

func TestFormatJSON(t *testing.T) {
	data := FormatJSON(testSnapshot())

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status

	if s.Event != "" || s.Reason != "" {
		t.Errorf("web status should carry no event/reason, got %q/%q", s.Event, s.Reason)
	}
	if s.Sequencer != "IDLE" {
		t.Errorf("Sequencer: got %q, want IDLE", s.Sequencer)
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if s.Timestamp != "2026-01-01T00:15:00Z" {
		t.Errorf("Timestamp: got %q", s.Timestamp)
	}
	if len(s.Identities) != 2 {
		t.Fatalf("Identities: got %d, want 2", len(s.Identities))
	}
	phone := s.Identities[0]
	if phone.State != "PRESENT" || phone.LastSeen != "2026-01-01T00:14:00Z" || phone.RSSI == nil || *phone.RSSI != -60 {
		t.Errorf("sPhone: got %+v", phone)
	}
	watch := s.Identities[1]
	if !phone.Nearby {
		t.Error("sPhone: expected nearby=true")
	}
	if watch.LastSeen != "" || watch.RSSI != nil || watch.Nearby {
		t.Errorf("unseen identity should omit last_seen and rssi, got %+v", watch)
	}
	if s.Counts.Reappeared != 3 || s.Counts.Completed != 3 || s.Counts.Dropped != 1 {
		t.Errorf("Counts: got %+v", s.Counts)
	}
	if s.LastSequence == nil || s.LastSequence.DurationSeconds != 11.5 {
		t.Errorf("LastSequence: got %+v", s.LastSequence)
	}
	if s.Config.Forward != 5 || s.Config.Pause != 0.5 || s.Config.Reverse != 6 || s.Config.Speed != 200 {
		t.Errorf("Config plan: got %+v", s.Config)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT: got %+v", s.MQTT)
	}
}

func TestFormatJSONUnknownSequencer(t *testing.T) {
	data := FormatJSON(Snapshot{StartTime: start, Now: start})

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Sequencer != "UNKNOWN" {
		t.Errorf("Sequencer: got %q, want UNKNOWN", parsed.Status.Sequencer)
	}
	if parsed.Status.Identities == nil {
		t.Error("identities should encode as an empty list, not null")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	data := FormatStatusEvent(testSnapshot(), "SHUTDOWN", "SIGTERM")

	if strings.Contains(string(data), "\n") {
		t.Error("MQTT payload should be compact")
	}
	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(testSnapshot(), "HEARTBEAT", "")

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["status"]["reason"]; ok {
		t.Error("reason should be omitted when empty")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.UpdatePresence([]presence.IdentityStatus{{Identity: "sPhone", Samples: j}}, presence.EventCounts{FirstSeen: j})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.RecordSequence(actuation.Report{})
				tr.SetMQTTConnected(j%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = FormatJSON(tr.Snapshot())
			}
		}()
	}
	wg.Wait()

	if got := tr.Snapshot().Counts.Completed; got != 1000 {
		t.Errorf("Completed: got %d, want 1000", got)
	}
}
