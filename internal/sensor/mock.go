package sensor

import (
	"context"
	"sync"
)

// MockSensor is a sensor driven by test code
type MockSensor struct {
	edges chan struct{}

	mu      sync.Mutex
	active  bool
	waitErr error
	waits   int
	closes  int
}

// NewMockSensor creates a mock with a buffered edge queue
func NewMockSensor() *MockSensor {
	return &MockSensor{edges: make(chan struct{}, 16)}
}

// Trigger queues one rising edge
func (m *MockSensor) Trigger() {
	m.edges <- struct{}{}
}

// SetActive sets the level reported by IsActive
func (m *MockSensor) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

// SetWaitError makes WaitForEdge fail with err
func (m *MockSensor) SetWaitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitErr = err
}

// WaitForEdge consumes a queued edge or returns when ctx is done
func (m *MockSensor) WaitForEdge(ctx context.Context) error {
	m.mu.Lock()
	m.waits++
	err := m.waitErr
	m.mu.Unlock()

	if err != nil {
		return err
	}

	select {
	case <-m.edges:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsActive returns the configured level
func (m *MockSensor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close counts the close
func (m *MockSensor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Waits returns how many times WaitForEdge was called
func (m *MockSensor) Waits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waits
}

// Closes returns how many times Close was called
func (m *MockSensor) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// MockOutput records output transitions
type MockOutput struct {
	mu     sync.Mutex
	states []bool
	closes int
}

// NewMockOutput creates a new mock output
func NewMockOutput() *MockOutput {
	return &MockOutput{}
}

func (m *MockOutput) On() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, true)
	return nil
}

func (m *MockOutput) Off() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, false)
	return nil
}

func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// States returns every transition in order
func (m *MockOutput) States() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.states))
	copy(out, m.states)
	return out
}

// IsOn returns the last state
func (m *MockOutput) IsOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states) > 0 && m.states[len(m.states)-1]
}

// Closes returns how many times Close was called
func (m *MockOutput) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Ensure implementations satisfy the interface
var (
	_ Output = (*Pin)(nil)
	_ Output = (*MockOutput)(nil)
	_ Output = Disabled{}
)
