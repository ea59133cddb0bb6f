package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-jaw/internal/clock"
	"github.com/teslashibe/go-jaw/internal/playback"
)

// ErrNoSensor is returned when a sensor policy runs without a sensor
var ErrNoSensor = errors.New("no sensor configured")

// Sensor is the motion input
type Sensor interface {
	// WaitForEdge blocks until the next rising edge or ctx is done
	WaitForEdge(ctx context.Context) error
	// IsActive polls the current level without blocking
	IsActive() bool
	Close() error
}

// WaitError is a failure of the sensor or timer primitive
type WaitError struct {
	Op  string
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("trigger %s: %v", e.Op, e.Err)
}

func (e *WaitError) Unwrap() error {
	return e.Err
}

// Monitor evaluates the armed condition during ambient playback
type Monitor struct {
	policy Policy
	state  *State
	sensor Sensor
	clock  clock.Clock
}

// NewMonitor creates a monitor over the shared state
func NewMonitor(policy Policy, state *State, sensor Sensor, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Monitor{policy: policy, state: state, sensor: sensor, clock: clk}
}

// Armed reports whether the timer deadline has passed or the sensor is active
func (m *Monitor) Armed() bool {
	switch m.policy.Kind {
	case Timer:
		return m.state.DeadlinePassed(m.clock.Now())
	case SensorEdge:
		return m.sensor != nil && m.sensor.IsActive()
	default:
		return false
	}
}

// Fire sets the ambient interrupt flag. A second fire while one is pending
// is absorbed.
func (m *Monitor) Fire() {
	m.state.SetInterrupt()
}

var _ playback.Interrupter = (*Monitor)(nil)
