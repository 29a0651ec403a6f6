// Command door-greeter watches for known BLE beacons and, when one returns
// after an absence, runs the door-handle motor through one forward, pause,
// reverse sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/door-greeter/internal/actuation"
	"github.com/sweeney/door-greeter/internal/config"
	"github.com/sweeney/door-greeter/internal/gpio"
	"github.com/sweeney/door-greeter/internal/metrics"
	"github.com/sweeney/door-greeter/internal/mqtt"
	"github.com/sweeney/door-greeter/internal/presence"
	"github.com/sweeney/door-greeter/internal/scan"
	"github.com/sweeney/door-greeter/internal/status"
	"github.com/sweeney/door-greeter/internal/timeutil"
	"github.com/sweeney/door-greeter/internal/web"
)

type options struct {
	configPath  string
	identities  string
	broker      string
	httpAddr    string
	threshold   time.Duration
	heartbeat   time.Duration
	speed       int
	printConfig bool
	testMotor   bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML config file")
	flag.StringVar(&o.identities, "identities", "", "Comma-separated beacon addresses or names to track")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address")
	flag.StringVar(&o.httpAddr, "http", "", "HTTP status address (\"off\" to disable)")
	flag.DurationVar(&o.threshold, "absence-threshold", 0, "Absence before a return triggers the door")
	flag.DurationVar(&o.heartbeat, "heartbeat", 0, "Heartbeat interval (0 to disable)")
	flag.IntVar(&o.speed, "speed", 0, "Motor speed 1-255")
	flag.BoolVar(&o.printConfig, "print-config", false, "Print the effective configuration and exit")
	flag.BoolVar(&o.testMotor, "test-motor", false, "Run one door sequence and exit")

	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if err := run(o, set); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(cfg *config.Config, o options, set map[string]bool) {
	if set["identities"] {
		cfg.TrackedIdentities = config.SplitList(o.identities)
	}
	if set["broker"] {
		cfg.Broker = o.broker
	}
	if set["http"] {
		cfg.HTTP = o.httpAddr
	}
	if set["absence-threshold"] {
		cfg.AbsenceThresholdSeconds = o.threshold.Seconds()
	}
	if set["heartbeat"] {
		cfg.HeartbeatSeconds = o.heartbeat.Seconds()
	}
	if set["speed"] {
		cfg.MaxSpeed = o.speed
	}
}

func run(o options, set map[string]bool) error {
	cfg, err := config.Load(o.configPath, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg, o, set)

	if o.printConfig {
		out, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		os.Stdout.Write(out)
		return cfg.Validate()
	}
	if o.testMotor {
		// The motor test needs no identities.
		if err := cfg.Plan().Validate(); err != nil {
			return err
		}
		return testMotor(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	motor, err := gpio.NewRealMotor(cfg.Motor())
	if err != nil {
		return fmt.Errorf("init motor: %w", err)
	}
	defer func() {
		if err := motor.Close(); err != nil {
			log.Printf("motor close error: %v", err)
		}
	}()

	publisher, err := mqtt.NewRealPublisher(mqtt.Options{Broker: cfg.Broker})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st := status.NewTracker(time.Now(), statusConfig(cfg))
	l := newLoop(scan.NewBLESource(), presence.NewTracker(cfg.Tracker()), motor, cfg.Plan(),
		publisher, st, m, timeutil.RealClock{}, loopConfig{
			Sweep:     cfg.SweepInterval(),
			ScanRetry: cfg.ScanRetry(),
			Heartbeat: cfg.Heartbeat(),
		})
	l.refresh()
	l.publishSystem("STARTUP", "", true)

	if cfg.HTTP != "" && cfg.HTTP != "off" {
		srv := web.New(cfg.HTTP, st, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)
	}

	log.Printf("started: tracking=%v threshold=%v plan=%v/%v/%v speed=%d broker=%s",
		cfg.TrackedIdentities, cfg.Tracker().AbsenceThreshold,
		cfg.Plan().Forward, cfg.Plan().Pause, cfg.Plan().Reverse, cfg.MaxSpeed, cfg.Broker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	reason := make(chan string, 1)
	go func() {
		select {
		case s := <-sigCh:
			log.Printf("received %v, shutting down", s)
			reason <- signalName(s)
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := l.run(ctx)
	why := "ERROR"
	select {
	case why = <-reason:
	default:
	}
	l.publishSystem("SHUTDOWN", why, true)
	return runErr
}

func testMotor(cfg *config.Config) error {
	motor, err := gpio.NewRealMotor(cfg.Motor())
	if err != nil {
		return fmt.Errorf("init motor: %w", err)
	}
	defer motor.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seq := actuation.New(motor, timeutil.RealClock{}, cfg.Plan(), nil)
	log.Printf("test-motor: running %v sequence at speed %d", seq.Plan().Total(), cfg.MaxSpeed)
	r := seq.Trigger(ctx, actuation.Request{Identity: "test-motor", At: time.Now()})
	log.Printf("test-motor: %s after %v (reached %s)", r.Outcome(), r.Duration().Round(time.Millisecond), r.Reached)
	return r.Err
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Identities:        cfg.TrackedIdentities,
		AbsenceThreshold:  cfg.Tracker().AbsenceThreshold,
		Plan:              cfg.Plan(),
		HeartbeatInterval: cfg.Heartbeat(),
		Broker:            cfg.Broker,
		HTTPAddr:          cfg.HTTP,
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
