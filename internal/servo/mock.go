package servo

import (
	"sync"

	"github.com/teslashibe/go-jaw/internal/jaw"
)

// Mock is an in-memory actuator for testing
type Mock struct {
	mu        sync.Mutex
	positions []float64
	position  float64
	attached  bool
	releases  int
	closes    int
	err       error
	healthy   bool
}

// NewMock creates a new mock actuator
func NewMock() *Mock {
	return &Mock{healthy: true}
}

// SetPosition records the position, or returns the injected error
func (m *Mock) SetPosition(normalized float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.positions = append(m.positions, normalized)
	m.position = normalized
	m.attached = true
	return nil
}

// Release detaches the mock
func (m *Mock) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	m.attached = false
	return nil
}

// CurrentPosition returns the last recorded position
func (m *Mock) CurrentPosition() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position, m.attached
}

// Close counts the close
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	m.attached = false
	return nil
}

// Healthy returns the configured health
func (m *Mock) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the actuator type name
func (m *Mock) Name() string {
	return "mock"
}

// SetError makes subsequent SetPosition calls fail (nil clears)
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetHealthy sets the mock health status
func (m *Mock) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// Positions returns a copy of every applied position
func (m *Mock) Positions() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.positions))
	copy(out, m.positions)
	return out
}

// Releases returns how many times Release was called
func (m *Mock) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

// Closes returns how many times Close was called
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Nop is used when the jaw is disabled
type Nop struct{}

func (Nop) SetPosition(float64) error        { return nil }
func (Nop) Release() error                   { return nil }
func (Nop) CurrentPosition() (float64, bool) { return 0, false }
func (Nop) Close() error                     { return nil }
func (Nop) Healthy() bool                    { return true }
func (Nop) Name() string                     { return "none" }

// Ensure implementations satisfy the interface
var (
	_ jaw.Actuator = (*Mock)(nil)
	_ jaw.Actuator = Nop{}
	_ jaw.Actuator = (*PWM)(nil)
	_ jaw.Actuator = (*Maestro)(nil)
)
