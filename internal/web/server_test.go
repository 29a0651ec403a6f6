package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/door-greeter/internal/actuation"
	"github.com/sweeney/door-greeter/internal/metrics"
	"github.com/sweeney/door-greeter/internal/presence"
	"github.com/sweeney/door-greeter/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker, *metrics.Metrics) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		Identities:        []string{"sPhone"},
		AbsenceThreshold:  10 * time.Second,
		Plan:              actuation.DefaultPlan(),
		HeartbeatInterval: 15 * time.Minute,
		Broker:            "tcp://192.168.1.200:1883",
		HTTPAddr:          ":8080",
	}
	tr := status.NewTracker(start, cfg)
	m := metrics.New(prometheus.NewRegistry())
	srv := New(":0", tr, m.Handler())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr, m
}

func getStatus(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	tr.UpdatePresence([]presence.IdentityStatus{{
		Identity: "sPhone",
		Record:   presence.Record{State: presence.StatePresent, Seen: true, LastSeen: time.Now()},
		Trend:    presence.TrendApproaching,
		Samples:  3,
		LastRSSI: -52,
	}}, presence.EventCounts{FirstSeen: 1, Reappeared: 2})
	tr.SetMQTTConnected(true)

	sj := getStatus(t, ts.URL+"/index.json")

	if len(sj.Status.Identities) != 1 || sj.Status.Identities[0].Trend != "APPROACHING" {
		t.Errorf("Identities: got %+v", sj.Status.Identities)
	}
	if sj.Status.Counts.Reappeared != 2 {
		t.Errorf("Counts.Reappeared: got %d, want 2", sj.Status.Counts.Reappeared)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q", sj.Status.MQTT.Broker)
	}
	if sj.Status.Config.Speed != 200 {
		t.Errorf("Config.Speed: got %d, want 200", sj.Status.Config.Speed)
	}
}

func TestRootServesJSON(t *testing.T) {
	ts, _, _ := newTestServer(t)
	sj := getStatus(t, ts.URL+"/")
	if sj.Status.Sequencer != "IDLE" {
		t.Errorf("Sequencer: got %q, want IDLE", sj.Status.Sequencer)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr, _ := newTestServer(t)

	if sj := getStatus(t, ts.URL+"/index.json"); sj.Status.Sequencer != "IDLE" {
		t.Errorf("Sequencer: got %q, want IDLE initially", sj.Status.Sequencer)
	}

	tr.SetSequencer(actuation.StateReverse)

	if sj := getStatus(t, ts.URL+"/index.json"); sj.Status.Sequencer != "REVERSE" {
		t.Errorf("Sequencer: got %q, want REVERSE", sj.Status.Sequencer)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, m := newTestServer(t)
	m.RequestDropped()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "door_greeter_requests_dropped_total 1") {
		t.Errorf("metrics missing dropped counter:\n%s", body)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, path := range []string{"/nonexistent", "/index.html"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != 404 {
			t.Errorf("%s: got %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/index.json", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /index.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", resp.StatusCode)
	}
}

func TestNoMetricsHandler(t *testing.T) {
	tr := status.NewTracker(time.Now(), status.Config{})
	ts := httptest.NewServer(New(":0", tr, nil).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404 without a metrics handler", resp.StatusCode)
	}
}

func getHealth(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestHealthReflectsLastSequence(t *testing.T) {
	ts, tr, _ := newTestServer(t)
	at := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)

	if code, body := getHealth(t, ts.URL); code != 200 || body != "ok\n" {
		t.Errorf("fresh daemon: got %d %q, want 200 ok", code, body)
	}

	tr.RecordSequence(actuation.Report{
		Request:  actuation.Request{Identity: "sPhone"},
		Started:  at,
		Finished: at.Add(time.Second),
		Reached:  actuation.StateForward,
		Err:      errors.New("drive forward: line busy"),
	})
	code, body := getHealth(t, ts.URL)
	if code != http.StatusServiceUnavailable {
		t.Errorf("after fault: got %d, want 503", code)
	}
	if !strings.Contains(body, "line busy") {
		t.Errorf("fault body: got %q", body)
	}

	tr.RecordSequence(actuation.Report{
		Request:  actuation.Request{Identity: "sPhone"},
		Started:  at.Add(time.Minute),
		Finished: at.Add(time.Minute + 2*time.Second),
		Reached:  actuation.StateForward,
		Err:      actuation.ErrInterrupted,
	})
	if code, _ := getHealth(t, ts.URL); code != 200 {
		t.Errorf("after interrupted run: got %d, want 200", code)
	}
}

func TestHealthMethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("got %d, want 405", resp.StatusCode)
	}
}
