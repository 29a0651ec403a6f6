// Package gpio drives the door-handle motor through an H-bridge.
// The real implementation uses the Linux GPIO character device for the
// direction lines and sysfs PWM for speed.
// The fake implementation allows testing without hardware.
package gpio

import "fmt"

// Direction is the motor rotation direction.
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// MaxSpeed is the top of the speed range accepted by Drive.
const MaxSpeed = 255

// Motor is a reversible DC motor behind an H-bridge.
// Both methods report failures synchronously.
type Motor interface {
	// Drive runs the motor at speed (0..MaxSpeed) in dir.
	Drive(speed int, dir Direction) error

	// Stop removes power from the motor.
	Stop() error

	// Close stops the motor and releases hardware resources.
	Close() error
}

// Pin definitions (BCM numbering), matching the L298N wiring.
const (
	DefaultPinENA = 18 // speed (hardware PWM0)
	DefaultPinIN1 = 17 // direction 1
	DefaultPinIN2 = 27 // direction 2
)

// directionLevels returns the (IN1, IN2) levels for dir.
func directionLevels(dir Direction) (int, int, error) {
	switch dir {
	case Forward:
		return 1, 0, nil
	case Reverse:
		return 0, 1, nil
	default:
		return 0, 0, fmt.Errorf("gpio: unknown direction %q", dir)
	}
}

func checkSpeed(speed int) error {
	if speed < 0 || speed > MaxSpeed {
		return fmt.Errorf("gpio: speed %d out of range 0..%d", speed, MaxSpeed)
	}
	return nil
}
