// Package sensor provides the motion trigger input and the digital
// outputs (eyes, trigger-out) of the prop
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultEdgePoll bounds each blocking edge wait so cancellation is observed
const DefaultEdgePoll = 100 * time.Millisecond

// PIR is a passive infrared motion sensor on a GPIO input
type PIR struct {
	pin    gpio.PinIO
	poll   time.Duration
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewPIR claims the named pin as a rising-edge input
func NewPIR(pinName string, logger *slog.Logger) (*PIR, error) {
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

	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("configure %s as input: %w", pinName, err)
	}

	logger.Info("pir sensor initialized", "pin", pin.Name())

	return &PIR{
		pin:    pin,
		poll:   DefaultEdgePoll,
		logger: logger,
	}, nil
}

// WaitForEdge blocks until a rising edge or ctx is done
func (p *PIR) WaitForEdge(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.pin.WaitForEdge(p.poll) {
			p.logger.Debug("pir edge detected")
			return nil
		}
	}
}

// IsActive reports whether motion is currently detected
func (p *PIR) IsActive() bool {
	return p.pin.Read() == gpio.High
}

// Close releases the pin
func (p *PIR) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pin.Halt()
	})
	return p.closeErr
}
