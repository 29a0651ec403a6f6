package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultPWMPeriod is 1kHz, well inside the L298N enable input range.
const DefaultPWMPeriod = time.Millisecond

// SysfsPWM drives one channel of a Linux sysfs PWM chip
// (/sys/class/pwm/pwmchipN/pwmM).
type SysfsPWM struct {
	dir    string // channel directory
	period time.Duration
}

// OpenSysfsPWM exports channel on the PWM chip at chipDir if needed, sets the
// period and enables the output with zero duty.
func OpenSysfsPWM(chipDir string, channel int, period time.Duration) (*SysfsPWM, error) {
	if period <= 0 {
		period = DefaultPWMPeriod
	}
	dir := filepath.Join(chipDir, "pwm"+strconv.Itoa(channel))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeAttr(filepath.Join(chipDir, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("export pwm channel %d: %w", channel, err)
		}
		if err := waitForDir(dir, time.Second); err != nil {
			return nil, err
		}
	}

	p := &SysfsPWM{dir: dir, period: period}
	// Duty must not exceed the period, so zero it before changing the period.
	if err := p.attr("duty_cycle", 0); err != nil {
		return nil, err
	}
	if err := p.attr("period", period.Nanoseconds()); err != nil {
		return nil, err
	}
	if err := p.attr("enable", 1); err != nil {
		return nil, err
	}
	return p, nil
}

// SetSpeed sets the duty cycle to speed/MaxSpeed of the period.
func (p *SysfsPWM) SetSpeed(speed int) error {
	if err := checkSpeed(speed); err != nil {
		return err
	}
	duty := p.period.Nanoseconds() * int64(speed) / MaxSpeed
	return p.attr("duty_cycle", duty)
}

// Close zeroes the duty cycle and disables the channel.
func (p *SysfsPWM) Close() error {
	var errs []error
	if err := p.attr("duty_cycle", 0); err != nil {
		errs = append(errs, err)
	}
	if err := p.attr("enable", 0); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *SysfsPWM) attr(name string, v int64) error {
	if err := writeAttr(filepath.Join(p.dir, name), strconv.FormatInt(v, 10)); err != nil {
		return fmt.Errorf("pwm %s: %w", name, err)
	}
	return nil
}

func writeAttr(path, value string) error {
	return os.WriteFile(path, []byte(value), 0o644)
}

// waitForDir waits for udev to create and chown the exported channel.
func waitForDir(dir string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(dir); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pwm channel %s did not appear", dir)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
