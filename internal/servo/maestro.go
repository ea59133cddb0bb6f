// Package servo provides jaw actuators: hardware PWM on a GPIO pin, a
// Pololu Maestro USB servo controller, and mocks for testing
package servo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gousb"
)

// Pololu Maestro USB identifiers
const (
	MaestroVendorID = 0x1FFB
)

// MaestroProductIDs covers the Micro (6ch) and Mini (12/18/24ch) Maestros
var MaestroProductIDs = []gousb.ID{0x0089, 0x008A, 0x008B, 0x008C}

// Maestro native USB control requests
const (
	requestSetTarget = 0x85 // wValue: target in quarter-microseconds, wIndex: channel
)

// MaestroConfig configures the Maestro actuator
type MaestroConfig struct {
	Channel    int
	MinPulseUs float64
	MaxPulseUs float64

	MaxConsecutiveErrors int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
}

// DefaultMaestroConfig returns sensible defaults
func DefaultMaestroConfig() MaestroConfig {
	return MaestroConfig{
		Channel:              0,
		MinPulseUs:           500,
		MaxPulseUs:           2500,
		MaxConsecutiveErrors: 5,
		InitialBackoff:       100 * time.Millisecond,
		MaxBackoff:           5 * time.Second,
	}
}

// Maestro drives one channel of a Pololu Maestro over USB
type Maestro struct {
	cfg    MaestroConfig
	logger *slog.Logger

	mu     sync.Mutex
	ctx    *gousb.Context
	dev    *gousb.Device
	closed bool

	position float64
	attached bool

	// Health tracking
	healthy           bool
	consecutiveErrors int
	lastError         error
	lastErrorTime     time.Time

	// Reconnection is attempted lazily and never blocks the audio path
	reconnectBackoff time.Duration
	nextReconnect    time.Time
}

// NewMaestro opens the first Maestro found on the bus
func NewMaestro(cfg MaestroConfig, logger *slog.Logger) (*Maestro, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Maestro{
		cfg:              cfg,
		logger:           logger,
		healthy:          true,
		reconnectBackoff: cfg.InitialBackoff,
	}

	m.ctx = gousb.NewContext()

	if err := m.openDevice(); err != nil {
		m.ctx.Close()
		return nil, err
	}

	logger.Info("maestro servo controller initialized",
		"vendor_id", fmt.Sprintf("0x%04X", MaestroVendorID),
		"channel", cfg.Channel,
	)

	return m, nil
}

func (m *Maestro) openDevice() error {
	devs, err := m.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != MaestroVendorID {
			return false
		}
		for _, pid := range MaestroProductIDs {
			if desc.Product == pid {
				return true
			}
		}
		return false
	})

	if len(devs) == 0 {
		if err != nil {
			return fmt.Errorf("failed to open maestro: %w", err)
		}
		return fmt.Errorf("maestro not found (VID=0x%04X)", MaestroVendorID)
	}

	// Keep the first controller, close any others
	for _, extra := range devs[1:] {
		extra.Close()
	}

	m.dev = devs[0]
	m.healthy = true
	m.consecutiveErrors = 0

	return nil
}

// quarterMicros converts a normalized position to a Maestro target
func (m *Maestro) quarterMicros(normalized float64) uint16 {
	pulse := m.cfg.MinPulseUs + (normalized+1)/2*(m.cfg.MaxPulseUs-m.cfg.MinPulseUs)
	return uint16(pulse * 4)
}

func (m *Maestro) setTarget(target uint16) error {
	if m.closed {
		return errors.New("device closed")
	}

	if m.dev == nil {
		if err := m.reconnect(); err != nil {
			return err
		}
	}

	_, err := m.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		requestSetTarget,
		target,
		uint16(m.cfg.Channel),
		nil,
	)
	if err != nil {
		m.recordError(err)
		return fmt.Errorf("USB control transfer failed: %w", err)
	}

	m.recordSuccess()
	return nil
}

// SetPosition moves the channel to a normalized position
func (m *Maestro) SetPosition(normalized float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.setTarget(m.quarterMicros(normalized)); err != nil {
		return err
	}

	m.position = normalized
	m.attached = true
	return nil
}

// Release stops sending pulses on the channel (target 0)
func (m *Maestro) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attached = false
	if m.dev == nil {
		return nil
	}
	return m.setTarget(0)
}

// CurrentPosition returns the last commanded position
func (m *Maestro) CurrentPosition() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position, m.attached
}

func (m *Maestro) recordError(err error) {
	m.consecutiveErrors++
	m.lastError = err
	m.lastErrorTime = time.Now()

	if m.consecutiveErrors >= m.cfg.MaxConsecutiveErrors {
		m.healthy = false
		m.logger.Warn("maestro marked unhealthy, will attempt reconnect",
			"consecutive_errors", m.consecutiveErrors,
			"last_error", err,
		)

		// Close device to force reconnect on next call
		if m.dev != nil {
			m.dev.Close()
			m.dev = nil
		}
		m.nextReconnect = time.Now().Add(m.reconnectBackoff)
	}
}

func (m *Maestro) recordSuccess() {
	if m.consecutiveErrors > 0 {
		m.logger.Info("maestro recovered",
			"previous_errors", m.consecutiveErrors,
		)
	}
	m.consecutiveErrors = 0
	m.healthy = true
	m.reconnectBackoff = m.cfg.InitialBackoff
}

func (m *Maestro) reconnect() error {
	if time.Now().Before(m.nextReconnect) {
		return errors.New("maestro disconnected, waiting for reconnect backoff")
	}

	m.logger.Info("attempting maestro reconnect",
		"backoff", m.reconnectBackoff,
	)

	// Increase backoff for next attempt
	m.reconnectBackoff *= 2
	if m.reconnectBackoff > m.cfg.MaxBackoff {
		m.reconnectBackoff = m.cfg.MaxBackoff
	}
	m.nextReconnect = time.Now().Add(m.reconnectBackoff)

	if err := m.openDevice(); err != nil {
		m.logger.Warn("maestro reconnect failed", "error", err)
		return err
	}

	m.logger.Info("maestro reconnect successful")
	return nil
}

// Close releases the USB device
func (m *Maestro) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	if m.dev != nil {
		m.setTarget(0)
		m.dev.Close()
		m.dev = nil
	}
	m.closed = true

	if m.ctx != nil {
		m.ctx.Close()
		m.ctx = nil
	}

	m.logger.Info("maestro closed")

	return nil
}

// Healthy returns true if the controller is operational
func (m *Maestro) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the actuator type name
func (m *Maestro) Name() string {
	return "maestro"
}

// Stats returns USB statistics
func (m *Maestro) Stats() USBStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr string
	if m.lastError != nil {
		lastErr = m.lastError.Error()
	}

	return USBStats{
		Healthy:           m.healthy,
		ConsecutiveErrors: m.consecutiveErrors,
		LastError:         lastErr,
		LastErrorTime:     m.lastErrorTime,
		DeviceConnected:   m.dev != nil,
	}
}

// USBStats contains USB actuator statistics
type USBStats struct {
	Healthy           bool      `json:"healthy"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorTime     time.Time `json:"last_error_time,omitempty"`
	DeviceConnected   bool      `json:"device_connected"`
}
