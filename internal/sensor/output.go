package sensor

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Output is a digital on/off output
type Output interface {
	On() error
	Off() error
	Close() error
}

// Pin drives a GPIO output
type Pin struct {
	pin    gpio.PinIO
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewPin claims the named pin as an output, initially low
func NewPin(pinName string, logger *slog.Logger) (*Pin, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init periph host: %w", err)
	}

	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", pinName)
	}

	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("configure %s as output: %w", pinName, err)
	}

	return &Pin{pin: pin, logger: logger}, nil
}

// On drives the pin high
func (p *Pin) On() error {
	return p.pin.Out(gpio.High)
}

// Off drives the pin low
func (p *Pin) Off() error {
	return p.pin.Out(gpio.Low)
}

// Close drives the pin low and releases it
func (p *Pin) Close() error {
	p.closeOnce.Do(func() {
		if err := p.pin.Out(gpio.Low); err != nil {
			p.closeErr = err
			return
		}
		p.closeErr = p.pin.Halt()
	})
	return p.closeErr
}

// Disabled is an output that does nothing
type Disabled struct{}

func (Disabled) On() error    { return nil }
func (Disabled) Off() error   { return nil }
func (Disabled) Close() error { return nil }
