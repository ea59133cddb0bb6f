package servo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// ServoFrequency is the standard hobby servo refresh rate
const ServoFrequency = 50 * physic.Hertz

const servoPeriod = 20 * time.Millisecond

// PWMConfig configures a GPIO PWM servo
type PWMConfig struct {
	Pin        string
	MinPulseUs float64
	MaxPulseUs float64
}

// DefaultPWMConfig returns sensible defaults for an SG90-class servo
func DefaultPWMConfig() PWMConfig {
	return PWMConfig{
		Pin:        "GPIO18",
		MinPulseUs: 500,
		MaxPulseUs: 2500,
	}
}

// PWM drives a servo from a hardware PWM capable GPIO pin
type PWM struct {
	cfg    PWMConfig
	logger *slog.Logger

	mu       sync.Mutex
	pin      gpio.PinIO
	closed   bool
	position float64
	attached bool
	healthy  bool
}

// NewPWM initializes the host drivers and claims the pin
func NewPWM(cfg PWMConfig, logger *slog.Logger) (*PWM, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init periph host: %w", err)
	}

	pin := gpioreg.ByName(cfg.Pin)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", cfg.Pin)
	}

	logger.Info("pwm servo initialized",
		"pin", pin.Name(),
		"min_pulse_us", cfg.MinPulseUs,
		"max_pulse_us", cfg.MaxPulseUs,
	)

	return &PWM{
		cfg:     cfg,
		logger:  logger,
		pin:     pin,
		healthy: true,
	}, nil
}

// PulseWidth converts a normalized position in [-1, 1] to a pulse width
func PulseWidth(normalized, minUs, maxUs float64) time.Duration {
	if normalized < -1 {
		normalized = -1
	}
	if normalized > 1 {
		normalized = 1
	}
	us := minUs + (normalized+1)/2*(maxUs-minUs)
	return time.Duration(us * float64(time.Microsecond))
}

// DutyFor converts a pulse width to a duty cycle at the servo frequency
func DutyFor(pulse time.Duration) gpio.Duty {
	return gpio.Duty(int64(gpio.DutyMax) * int64(pulse) / int64(servoPeriod))
}

// SetPosition moves the servo to a normalized position
func (p *PWM) SetPosition(normalized float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pwm servo closed")
	}

	duty := DutyFor(PulseWidth(normalized, p.cfg.MinPulseUs, p.cfg.MaxPulseUs))
	if err := p.pin.PWM(duty, ServoFrequency); err != nil {
		p.healthy = false
		return fmt.Errorf("pwm %s: %w", p.pin.Name(), err)
	}

	p.healthy = true
	p.position = normalized
	p.attached = true
	return nil
}

// Release stops the pulse train so the servo goes limp
func (p *PWM) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || !p.attached {
		p.attached = false
		return nil
	}

	p.attached = false
	return p.pin.Out(gpio.Low)
}

// CurrentPosition returns the last commanded position
func (p *PWM) CurrentPosition() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, p.attached
}

// Close halts the pin
func (p *PWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.attached = false

	if err := p.pin.Halt(); err != nil {
		return err
	}
	return p.pin.Out(gpio.Low)
}

// Healthy returns true if the last PWM command succeeded
func (p *PWM) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

// Name returns the actuator type name
func (p *PWM) Name() string {
	return "pwm"
}
