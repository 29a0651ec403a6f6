package main

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/door-greeter/internal/actuation"
	"github.com/sweeney/door-greeter/internal/gpio"
	"github.com/sweeney/door-greeter/internal/metrics"
	"github.com/sweeney/door-greeter/internal/mqtt"
	"github.com/sweeney/door-greeter/internal/presence"
	"github.com/sweeney/door-greeter/internal/scan"
	"github.com/sweeney/door-greeter/internal/status"
	"github.com/sweeney/door-greeter/internal/timeutil"
)

// queueSize bounds observations waiting between the scan callback and the
// ingest goroutine.
const queueSize = 64

// loopConfig holds the timing knobs of the daemon loop.
type loopConfig struct {
	Sweep     time.Duration
	ScanRetry time.Duration
	Heartbeat time.Duration // zero disables
}

// loop wires the scanner, presence tracker, sequencer and outputs together.
type loop struct {
	source     scan.Source
	tracker    *presence.Tracker
	seq        *actuation.Sequencer
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	status     *status.Tracker
	metrics    *metrics.Metrics
	clock      timeutil.Clock
	cfg        loopConfig

	queue chan presence.Observation

	dropMu   sync.Mutex
	dropping bool // first queue overflow of a burst already logged

	trends map[presence.Identity]presence.Trend // sweep goroutine only
}

// newLoop builds the loop and the sequencer that reports back to it.
func newLoop(source scan.Source, tracker *presence.Tracker, motor gpio.Motor, plan actuation.Plan,
	publisher mqtt.Publisher, st *status.Tracker, m *metrics.Metrics, clock timeutil.Clock, cfg loopConfig) *loop {
	l := &loop{
		source:    source,
		tracker:   tracker,
		publisher: publisher,
		status:    st,
		metrics:   m,
		clock:     clock,
		cfg:       cfg,
		queue:     make(chan presence.Observation, queueSize),
		trends:    make(map[presence.Identity]presence.Trend),
	}
	if cs, ok := publisher.(mqtt.ConnectionStatus); ok {
		l.mqttStatus = cs
	}
	l.seq = actuation.New(motor, clock, plan, l.onReport)
	return l
}

// run blocks until ctx is done or a goroutine fails. The sequencer stops the
// motor on the way out; its error, if any, is returned.
func (l *loop) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.scan(ctx) })
	g.Go(func() error { return l.ingest(ctx) })
	g.Go(func() error { return l.sweep(ctx) })
	g.Go(func() error { return l.seq.Run(ctx) })
	if l.cfg.Heartbeat > 0 {
		g.Go(func() error { return l.heartbeat(ctx) })
	}
	return g.Wait()
}

// scan runs the source, restarting it after ScanRetry whenever it fails.
func (l *loop) scan(ctx context.Context) error {
	for {
		err := l.source.Scan(ctx, l.found)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("scan ended unexpectedly")
		}
		log.Printf("scan error: %v (retrying in %v)", err, l.cfg.ScanRetry)
		l.metrics.ScanError()

		timer := l.clock.NewTimer(l.cfg.ScanRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}

// found is the scan callback. It never blocks: a full queue drops the
// observation.
func (l *loop) found(raw presence.RawEvent) {
	obs, ok := l.tracker.Ingest().Normalize(raw, l.clock.Now())
	if !ok {
		return
	}
	select {
	case l.queue <- obs:
		l.dropMu.Lock()
		l.dropping = false
		l.dropMu.Unlock()
	default:
		l.metrics.ObservationDropped()
		l.dropMu.Lock()
		if !l.dropping {
			log.Printf("scan: ingest queue full, dropping observations")
			l.dropping = true
		}
		l.dropMu.Unlock()
	}
}

func (l *loop) ingest(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case obs := <-l.queue:
			l.metrics.Observation(obs)
			if ev, ok := l.tracker.Observe(obs); ok {
				l.handleEvent(ev)
			}
		}
	}
}

func (l *loop) sweep(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.cfg.Sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			events, evicted := l.tracker.Sweep(l.clock.Now())
			for _, ev := range events {
				l.handleEvent(ev)
			}
			if evicted > 0 {
				l.metrics.Evicted(evicted)
			}
			l.refresh()
		}
	}
}

// refresh pushes the current presence view into the status tracker and logs
// trend changes of present identities.
func (l *loop) refresh() {
	snap := l.tracker.Snapshot()
	for _, st := range snap {
		if st.Record.State != presence.StatePresent {
			delete(l.trends, st.Identity)
			continue
		}
		if prev, ok := l.trends[st.Identity]; !ok || prev != st.Trend {
			if st.Trend != presence.TrendUnknown {
				log.Printf("trend: %s %s (rssi=%d samples=%d)", st.Identity, st.Trend, st.LastRSSI, st.Samples)
			}
			l.trends[st.Identity] = st.Trend
		}
	}
	l.status.UpdatePresence(snap, l.tracker.Machine().EventCountsSnapshot())
	l.status.SetSequencer(l.seq.State())
	if l.mqttStatus != nil {
		up := l.mqttStatus.IsConnected()
		l.status.SetMQTTConnected(up)
		l.metrics.MQTTConnected(up)
	}
}

func (l *loop) handleEvent(ev presence.Event) {
	switch ev.Type {
	case presence.EventReappeared:
		log.Printf("event: %s %s (rssi=%d absent=%v)", ev.Type, ev.Identity, ev.RSSI, ev.Absence.Round(time.Millisecond))
	case presence.EventDeparted:
		log.Printf("event: %s %s", ev.Type, ev.Identity)
	default:
		log.Printf("event: %s %s (rssi=%d)", ev.Type, ev.Identity, ev.RSSI)
	}
	l.metrics.Event(ev)
	if err := l.publisher.Publish(ev); err != nil {
		log.Printf("publish error: %v", err)
	}

	if ev.Type != presence.EventReappeared {
		return
	}
	if l.seq.Submit(actuation.RequestFor(ev)) {
		log.Printf("actuation: sequence requested by %s", ev.Identity)
		return
	}
	log.Printf("actuation: request from %s dropped, sequence already in flight", ev.Identity)
	l.metrics.RequestDropped()
	l.status.RequestDropped()
}

// onReport is the sequencer listener.
func (l *loop) onReport(r actuation.Report) {
	switch r.Outcome() {
	case actuation.OutcomeCompleted:
		log.Printf("actuation: sequence for %s completed in %v", r.Request.Identity, r.Duration().Round(time.Millisecond))
	case actuation.OutcomeInterrupted:
		log.Printf("actuation: sequence for %s interrupted in %s", r.Request.Identity, r.Reached)
	default:
		log.Printf("actuation: %v", r.Err)
	}
	l.metrics.Sequence(r)
	l.status.RecordSequence(r)
	l.status.SetSequencer(l.seq.State())
	if err := l.publisher.PublishActuation(r); err != nil {
		log.Printf("actuation publish error: %v", err)
	}
}

func (l *loop) heartbeat(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			l.publishSystem("HEARTBEAT", "", false)
		}
	}
}

// publishSystem publishes a lifecycle event carrying the full status
// snapshot.
func (l *loop) publishSystem(event, reason string, retained bool) {
	if l.mqttStatus != nil {
		l.status.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
	snap := l.status.Snapshot()
	c := snap.Counts
	log.Printf("%s: uptime=%v first_seen=%d reappeared=%d departed=%d sequences=%d dropped=%d",
		strings.ToLower(event), snap.Uptime().Truncate(time.Second), c.FirstSeen, c.Reappeared, c.Departed, c.Completed, c.Dropped)

	err := l.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  l.clock.Now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.Printf("failed to publish %s event: %v", strings.ToLower(event), err)
	}
}
