package jaw

import "fmt"

// Actuator drives a single servo-like limb
type Actuator interface {
	// SetPosition moves to a normalized position in [-1, 1]
	SetPosition(normalized float64) error

	// Release stops driving the actuator (detach / neutral)
	Release() error

	// CurrentPosition returns the last commanded position, false when detached
	CurrentPosition() (float64, bool)

	// Close releases hardware resources
	Close() error

	// Healthy returns true if the actuator is operational
	Healthy() bool

	// Name returns the actuator type name
	Name() string
}

// ActuatorError wraps a failed best-effort actuator command
type ActuatorError struct {
	Op  string
	Err error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator %s: %v", e.Op, e.Err)
}

func (e *ActuatorError) Unwrap() error {
	return e.Err
}
