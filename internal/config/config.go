// Package config loads door-greeter settings: defaults, then an optional
// YAML file, then DOOR_GREETER_* environment overrides. Every scalar YAML key
// has an override named after it in upper case (max_speed is
// DOOR_GREETER_MAX_SPEED); pins and pwm.channel/period_ns are file-only.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/door-greeter/internal/actuation"
	"github.com/sweeney/door-greeter/internal/gpio"
	"github.com/sweeney/door-greeter/internal/presence"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOOR_GREETER_"

// Pins are the BCM line offsets of the H-bridge inputs.
type Pins struct {
	ENA int `yaml:"ena"`
	IN1 int `yaml:"in1"`
	IN2 int `yaml:"in2"`
}

// PWM selects the sysfs PWM channel driving ENA. An empty Chip drives ENA as
// a plain on/off line.
type PWM struct {
	Chip     string `yaml:"chip"`
	Channel  int    `yaml:"channel"`
	PeriodNs int64  `yaml:"period_ns"`
}

// Config defines runtime settings. Durations are in (fractional) seconds.
type Config struct {
	TrackedIdentities []string `yaml:"tracked_identities"`

	AbsenceThresholdSeconds float64 `yaml:"absence_threshold_seconds"`
	ForwardSeconds          float64 `yaml:"forward_duration_seconds"`
	PauseSeconds            float64 `yaml:"pause_duration_seconds"`
	ReverseSeconds          float64 `yaml:"reverse_duration_seconds"`
	MaxSpeed                int     `yaml:"max_speed"`

	RetentionSeconds  float64 `yaml:"retention_interval_seconds"`
	MaxEntries        int     `yaml:"max_entries_per_identity"`
	MovementThreshold float64 `yaml:"movement_threshold_dbm"`
	TrendWindow       int     `yaml:"trend_window_size"`

	SweepIntervalSeconds float64 `yaml:"sweep_interval_seconds"`
	ScanRetrySeconds     float64 `yaml:"scan_retry_seconds"`
	HeartbeatSeconds     float64 `yaml:"heartbeat_seconds"`

	Broker string `yaml:"broker"`
	HTTP   string `yaml:"http"`

	GPIOChip string `yaml:"gpio_chip"`
	Pins     Pins   `yaml:"pins"`
	PWM      PWM    `yaml:"pwm"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AbsenceThresholdSeconds: presence.DefaultAbsenceThreshold.Seconds(),
		ForwardSeconds:          actuation.DefaultForward.Seconds(),
		PauseSeconds:            actuation.DefaultPause.Seconds(),
		ReverseSeconds:          actuation.DefaultReverse.Seconds(),
		MaxSpeed:                actuation.DefaultSpeed,
		RetentionSeconds:        presence.DefaultRetention.Seconds(),
		MaxEntries:              presence.DefaultMaxEntries,
		MovementThreshold:       presence.DefaultMovementThreshold,
		TrendWindow:             presence.DefaultTrendWindow,
		SweepIntervalSeconds:    1,
		ScanRetrySeconds:        5,
		HeartbeatSeconds:        900,
		Broker:                  "tcp://localhost:1883",
		HTTP:                    ":8080",
		GPIOChip:                "gpiochip0",
		Pins:                    Pins{ENA: gpio.DefaultPinENA, IN1: gpio.DefaultPinIN1, IN2: gpio.DefaultPinIN2},
		PWM:                     PWM{Channel: 0, PeriodNs: gpio.DefaultPWMPeriod.Nanoseconds()},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if
// non-empty) and the environment. lookup is usually os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	float := func(key string, dst *float64) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = f
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
		return nil
	}

	if v, ok := lookup(EnvPrefix + "TRACKED_IDENTITIES"); ok && v != "" {
		c.TrackedIdentities = SplitList(v)
	}
	str("BROKER", &c.Broker)
	str("HTTP", &c.HTTP)
	str("GPIO_CHIP", &c.GPIOChip)
	str("PWM_CHIP", &c.PWM.Chip)

	return errors.Join(
		float("ABSENCE_THRESHOLD_SECONDS", &c.AbsenceThresholdSeconds),
		float("FORWARD_DURATION_SECONDS", &c.ForwardSeconds),
		float("PAUSE_DURATION_SECONDS", &c.PauseSeconds),
		float("REVERSE_DURATION_SECONDS", &c.ReverseSeconds),
		float("HEARTBEAT_SECONDS", &c.HeartbeatSeconds),
		float("RETENTION_INTERVAL_SECONDS", &c.RetentionSeconds),
		float("MOVEMENT_THRESHOLD_DBM", &c.MovementThreshold),
		float("SWEEP_INTERVAL_SECONDS", &c.SweepIntervalSeconds),
		float("SCAN_RETRY_SECONDS", &c.ScanRetrySeconds),
		integer("MAX_SPEED", &c.MaxSpeed),
		integer("MAX_ENTRIES_PER_IDENTITY", &c.MaxEntries),
		integer("TREND_WINDOW_SIZE", &c.TrendWindow),
	)
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.TrackedIdentities) == 0 {
		errs = append(errs, errors.New("tracked_identities: at least one identity is required"))
	}
	seen := make(map[string]bool)
	for _, id := range c.TrackedIdentities {
		if seen[id] {
			errs = append(errs, fmt.Errorf("tracked_identities: duplicate %q", id))
		}
		seen[id] = true
	}
	positive := []struct {
		name string
		v    float64
	}{
		{"absence_threshold_seconds", c.AbsenceThresholdSeconds},
		{"retention_interval_seconds", c.RetentionSeconds},
		{"sweep_interval_seconds", c.SweepIntervalSeconds},
		{"scan_retry_seconds", c.ScanRetrySeconds},
		{"movement_threshold_dbm", c.MovementThreshold},
	}
	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %v", p.name, p.v))
		}
	}
	if c.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("max_entries_per_identity: must be at least 1, got %d", c.MaxEntries))
	}
	if c.TrendWindow < 2 {
		errs = append(errs, fmt.Errorf("trend_window_size: must be at least 2, got %d", c.TrendWindow))
	}
	if c.HeartbeatSeconds < 0 {
		errs = append(errs, fmt.Errorf("heartbeat_seconds: must not be negative, got %v", c.HeartbeatSeconds))
	}
	if err := c.Plan().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Pins.IN1 == c.Pins.IN2 || c.Pins.ENA == c.Pins.IN1 || c.Pins.ENA == c.Pins.IN2 {
		errs = append(errs, fmt.Errorf("pins: ena, in1 and in2 must differ, got %+v", c.Pins))
	}
	if c.PWM.Chip != "" && c.PWM.PeriodNs <= 0 {
		errs = append(errs, fmt.Errorf("pwm.period_ns: must be positive, got %d", c.PWM.PeriodNs))
	}
	return errors.Join(errs...)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Identities returns the tracked identities.
func (c *Config) Identities() []presence.Identity {
	ids := make([]presence.Identity, len(c.TrackedIdentities))
	for i, s := range c.TrackedIdentities {
		ids[i] = presence.Identity(s)
	}
	return ids
}

// Tracker returns the presence tracker settings.
func (c *Config) Tracker() presence.TrackerConfig {
	return presence.TrackerConfig{
		Identities:        c.Identities(),
		AbsenceThreshold:  seconds(c.AbsenceThresholdSeconds),
		Retention:         seconds(c.RetentionSeconds),
		MaxEntries:        c.MaxEntries,
		TrendWindow:       c.TrendWindow,
		MovementThreshold: c.MovementThreshold,
	}
}

// Plan returns the actuation plan.
func (c *Config) Plan() actuation.Plan {
	return actuation.Plan{
		Forward: seconds(c.ForwardSeconds),
		Pause:   seconds(c.PauseSeconds),
		Reverse: seconds(c.ReverseSeconds),
		Speed:   c.MaxSpeed,
	}
}

// Motor returns the GPIO motor settings.
func (c *Config) Motor() gpio.Config {
	return gpio.Config{
		Chip:       c.GPIOChip,
		PinENA:     c.Pins.ENA,
		PinIN1:     c.Pins.IN1,
		PinIN2:     c.Pins.IN2,
		PWMChip:    c.PWM.Chip,
		PWMChannel: c.PWM.Channel,
		PWMPeriod:  time.Duration(c.PWM.PeriodNs),
	}
}

// SweepInterval is the liveness sweep cadence.
func (c *Config) SweepInterval() time.Duration { return seconds(c.SweepIntervalSeconds) }

// ScanRetry is the delay before restarting a failed scan.
func (c *Config) ScanRetry() time.Duration { return seconds(c.ScanRetrySeconds) }

// Heartbeat is the heartbeat interval; zero disables it.
func (c *Config) Heartbeat() time.Duration { return seconds(c.HeartbeatSeconds) }

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
