//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Config selects the chip, pins and speed control for a RealMotor.
type Config struct {
	Chip   string // e.g. "gpiochip0"
	PinENA int
	PinIN1 int
	PinIN2 int

	// PWMChip is the sysfs PWM chip directory driving ENA, e.g.
	// "/sys/class/pwm/pwmchip0". Empty drives ENA as a plain output, so any
	// non-zero speed is full speed.
	PWMChip    string
	PWMChannel int
	PWMPeriod  time.Duration // DefaultPWMPeriod if zero
}

// RealMotor drives an L298N-style H-bridge on Raspberry Pi GPIO.
type RealMotor struct {
	mu  sync.Mutex
	in1 *gpiocdev.Line
	in2 *gpiocdev.Line
	ena *gpiocdev.Line // nil when PWM drives ENA
	pwm *SysfsPWM
	dir Direction // direction currently latched on IN1/IN2, "" when stopped
}

// NewRealMotor claims the direction lines (and ENA when no PWM chip is
// configured) as outputs driven low.
func NewRealMotor(cfg Config) (*RealMotor, error) {
	chip := cfg.Chip
	if chip == "" {
		chip = "gpiochip0"
	}

	in1, err := gpiocdev.RequestLine(chip, cfg.PinIN1, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("door-greeter"))
	if err != nil {
		return nil, fmt.Errorf("request IN1 pin %d: %w", cfg.PinIN1, err)
	}
	in2, err := gpiocdev.RequestLine(chip, cfg.PinIN2, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("door-greeter"))
	if err != nil {
		in1.Close()
		return nil, fmt.Errorf("request IN2 pin %d: %w", cfg.PinIN2, err)
	}

	m := &RealMotor{in1: in1, in2: in2}
	if cfg.PWMChip != "" {
		pwm, err := OpenSysfsPWM(cfg.PWMChip, cfg.PWMChannel, cfg.PWMPeriod)
		if err != nil {
			m.releaseLines()
			return nil, fmt.Errorf("open pwm: %w", err)
		}
		m.pwm = pwm
	} else {
		ena, err := gpiocdev.RequestLine(chip, cfg.PinENA, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("door-greeter"))
		if err != nil {
			m.releaseLines()
			return nil, fmt.Errorf("request ENA pin %d: %w", cfg.PinENA, err)
		}
		m.ena = ena
	}
	return m, nil
}

// Drive runs the motor. If the direction changes, power is removed before
// the direction lines are switched.
func (m *RealMotor) Drive(speed int, dir Direction) error {
	if err := checkSpeed(speed); err != nil {
		return err
	}
	in1, in2, err := directionLevels(dir)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dir != dir {
		if err := m.setSpeed(0); err != nil {
			return err
		}
		if err := m.in1.SetValue(in1); err != nil {
			return fmt.Errorf("set IN1: %w", err)
		}
		if err := m.in2.SetValue(in2); err != nil {
			return fmt.Errorf("set IN2: %w", err)
		}
		m.dir = dir
	}
	return m.setSpeed(speed)
}

// Stop removes power and drives both direction lines low.
func (m *RealMotor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop()
}

func (m *RealMotor) stop() error {
	var errs []error
	if err := m.setSpeed(0); err != nil {
		errs = append(errs, err)
	}
	if err := m.in1.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("set IN1: %w", err))
	}
	if err := m.in2.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("set IN2: %w", err))
	}
	m.dir = ""
	return errors.Join(errs...)
}

func (m *RealMotor) setSpeed(speed int) error {
	if m.pwm != nil {
		return m.pwm.SetSpeed(speed)
	}
	v := 0
	if speed > 0 {
		v = 1
	}
	if err := m.ena.SetValue(v); err != nil {
		return fmt.Errorf("set ENA: %w", err)
	}
	return nil
}

// Close stops the motor, then returns the pins to inputs (the Pi boot
// default) and releases them.
func (m *RealMotor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if err := m.stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if m.pwm != nil {
		if err := m.pwm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pwm: %w", err))
		}
	}
	if m.ena != nil {
		if err := m.ena.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure ENA: %w", err))
		}
		if err := m.ena.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ENA: %w", err))
		}
	}
	if err := m.releaseLines(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (m *RealMotor) releaseLines() error {
	var errs []error
	for name, l := range map[string]*gpiocdev.Line{"IN1": m.in1, "IN2": m.in2} {
		if l == nil {
			continue
		}
		if err := l.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", name, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
