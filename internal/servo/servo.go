package servo

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-jaw/internal/jaw"
)

// Driver names accepted by NewActuator
const (
	DriverPWM     = "pwm"
	DriverMaestro = "maestro"
	DriverMock    = "mock"
)

// Config selects and configures an actuator
type Config struct {
	Driver     string
	Pin        string
	Channel    int
	MinPulseUs float64
	MaxPulseUs float64
}

// NewActuator creates the configured actuator
func NewActuator(cfg Config, logger *slog.Logger) (jaw.Actuator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case DriverPWM:
		pwmCfg := DefaultPWMConfig()
		pwmCfg.Pin = cfg.Pin
		pwmCfg.MinPulseUs = cfg.MinPulseUs
		pwmCfg.MaxPulseUs = cfg.MaxPulseUs
		return NewPWM(pwmCfg, logger)
	case DriverMaestro:
		mCfg := DefaultMaestroConfig()
		mCfg.Channel = cfg.Channel
		mCfg.MinPulseUs = cfg.MinPulseUs
		mCfg.MaxPulseUs = cfg.MaxPulseUs
		return NewMaestro(mCfg, logger)
	case DriverMock:
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown servo driver %q", cfg.Driver)
	}
}

// NewActuatorWithFallback creates an actuator with mock fallback
// Use this for development when the servo hardware is unavailable
func NewActuatorWithFallback(cfg Config, logger *slog.Logger) jaw.Actuator {
	if logger == nil {
		logger = slog.Default()
	}

	act, err := NewActuator(cfg, logger)
	if err == nil {
		return act
	}

	logger.Warn("servo unavailable, using mock actuator",
		"driver", cfg.Driver,
		"error", err,
	)
	return NewMock()
}
