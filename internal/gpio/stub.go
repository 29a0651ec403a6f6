//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// Config selects the chip, pins and speed control for a RealMotor.
type Config struct {
	Chip       string
	PinENA     int
	PinIN1     int
	PinIN2     int
	PWMChip    string
	PWMChannel int
	PWMPeriod  time.Duration
}

// RealMotor is not available on non-Linux platforms.
type RealMotor struct{}

// NewRealMotor returns an error on non-Linux platforms.
func NewRealMotor(cfg Config) (*RealMotor, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Drive is not implemented on non-Linux platforms.
func (m *RealMotor) Drive(speed int, dir Direction) error {
	return errors.New("gpio: not supported")
}

// Stop is not implemented on non-Linux platforms.
func (m *RealMotor) Stop() error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (m *RealMotor) Close() error {
	return nil
}
