package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-jaw/internal/clock"
	"github.com/teslashibe/go-jaw/internal/playback"
)

// DefaultPollInterval is the granularity of timer waits
const DefaultPollInterval = 100 * time.Millisecond

// Phase is the logical step of the sequencing loop
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseAmbient  Phase = "ambient"
	PhaseVocal    Phase = "vocal"
	PhaseCooldown Phase = "cooldown"
	PhaseStopped  Phase = "stopped"
)

// Cycles performs the playback the controller sequences
type Cycles interface {
	// Vocal plays one jaw-driving cycle
	Vocal(ctx context.Context) error
	// Ambient plays one background track, firing trig when armed
	Ambient(ctx context.Context, trig playback.Interrupter) error
	// Close releases the outputs and the actuator
	Close() error
}

// PhaseObserver is told about every phase change
type PhaseObserver interface {
	PhaseChanged(phase Phase)
}

// Controller runs the trigger policy until its context is canceled
type Controller struct {
	policy  Policy
	cycles  Cycles
	sensor  Sensor
	state   *State
	monitor *Monitor
	clock   clock.Clock
	logger  *slog.Logger

	poll     time.Duration
	observer PhaseObserver

	releaseOnce sync.Once
}

// NewController creates a controller; sensor may be nil unless the policy
// is SensorEdge
func NewController(policy Policy, cycles Cycles, sensor Sensor, clk clock.Clock, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	state := &State{}
	return &Controller{
		policy:  policy,
		cycles:  cycles,
		sensor:  sensor,
		state:   state,
		monitor: NewMonitor(policy, state, sensor, clk),
		clock:   clk,
		logger:  logger,
		poll:    DefaultPollInterval,
	}
}

// WithObserver attaches a phase observer
func (c *Controller) WithObserver(o PhaseObserver) *Controller {
	c.observer = o
	return c
}

// WithPollInterval sets the timer wait granularity
func (c *Controller) WithPollInterval(d time.Duration) *Controller {
	if d > 0 {
		c.poll = d
	}
	return c
}

// State exposes the shared trigger state
func (c *Controller) State() *State {
	return c.state
}

// Policy returns the policy this controller runs
func (c *Controller) Policy() Policy {
	return c.policy
}

func (c *Controller) phase(p Phase) {
	if c.observer != nil {
		c.observer.PhaseChanged(p)
	}
}

// Run sequences playback until ctx is canceled (or, for Immediate, after
// the single cycle). Every hardware handle is released before Run returns,
// whichever way the loop ends. Cancellation is not an error.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer c.release()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("sequencing loop panicked", "panic", r)
			err = fmt.Errorf("sequencing loop panic: %v", r)
		}
	}()

	c.logger.Info("trigger controller started",
		"trigger", c.policy.Kind.String(),
		"delay", c.policy.Delay,
		"ambient", c.policy.Ambient,
	)

	switch {
	case c.policy.Kind == Immediate:
		err = c.vocal(ctx)
	case c.policy.Kind == Timer && c.policy.Ambient:
		err = c.runTimerAmbient(ctx)
	case c.policy.Kind == Timer:
		err = c.runTimer(ctx)
	case c.policy.Kind == SensorEdge && c.policy.Ambient:
		err = c.runSensorAmbient(ctx)
	case c.policy.Kind == SensorEdge:
		err = c.runSensor(ctx)
	default:
		err = fmt.Errorf("unsupported trigger %v", c.policy.Kind)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		c.logger.Error("trigger controller stopped", "error", err)
	}
	return err
}

// runTimerAmbient loops ambient tracks; the deadline is armed once and then
// recomputed only after each vocal cycle completes
func (c *Controller) runTimerAmbient(ctx context.Context) error {
	c.state.SetDeadline(c.clock.Now().Add(c.policy.Delay))

	for {
		if err := c.ambient(ctx); err != nil {
			return err
		}

		if c.state.Interrupted() {
			err := c.vocal(ctx)
			c.state.ClearInterrupt()
			if err != nil {
				return err
			}
			c.state.SetDeadline(c.clock.Now().Add(c.policy.Delay))
		}
	}
}

// runTimer waits out the delay between vocal cycles with no ambient audio
func (c *Controller) runTimer(ctx context.Context) error {
	start := c.clock.Now()

	for {
		c.phase(PhaseWaiting)
		if err := c.waitUntil(ctx, start.Add(c.policy.Delay)); err != nil {
			return err
		}
		if err := c.vocal(ctx); err != nil {
			return err
		}
		start = c.clock.Now()
	}
}

// runSensorAmbient cools down, then plays ambient until motion interrupts
func (c *Controller) runSensorAmbient(ctx context.Context) error {
	for {
		if err := c.cooldown(ctx); err != nil {
			return err
		}
		if err := c.ambient(ctx); err != nil {
			return err
		}

		if c.state.Interrupted() {
			err := c.vocal(ctx)
			c.state.ClearInterrupt()
			if err != nil {
				return err
			}
		}
	}
}

// runSensor blocks on the sensor edge between vocal cycles
func (c *Controller) runSensor(ctx context.Context) error {
	if c.sensor == nil {
		return &WaitError{Op: "wait_for_edge", Err: ErrNoSensor}
	}

	for {
		c.phase(PhaseWaiting)
		if err := c.sensor.WaitForEdge(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &WaitError{Op: "wait_for_edge", Err: err}
		}

		c.logger.Info("motion detected")

		if err := c.vocal(ctx); err != nil {
			return err
		}
		if err := c.cooldown(ctx); err != nil {
			return err
		}
	}
}

// vocal runs one cycle. Only cancellation propagates; setup and other
// failures are logged and the outer loop continues.
func (c *Controller) vocal(ctx context.Context) error {
	c.phase(PhaseVocal)

	err := c.cycles.Vocal(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var setupErr *playback.SetupError
	switch {
	case err == nil:
	case errors.As(err, &setupErr):
		c.logger.Error("vocal cycle could not start", "error", err)
	default:
		c.logger.Warn("vocal cycle failed", "error", err)
	}
	return nil
}

// ambient plays one ambient track. If the track cannot be opened the
// trigger is polled for one interval instead so the loop neither spins nor
// misses a trigger.
func (c *Controller) ambient(ctx context.Context) error {
	c.phase(PhaseAmbient)

	err := c.cycles.Ambient(ctx, c.monitor)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return nil
	}

	c.logger.Warn("ambient cycle failed", "error", err)

	if err := c.clock.Sleep(ctx, c.poll); err != nil {
		return err
	}
	if c.monitor.Armed() {
		c.monitor.Fire()
	}
	return nil
}

func (c *Controller) cooldown(ctx context.Context) error {
	if c.policy.Delay <= 0 {
		return ctx.Err()
	}
	c.phase(PhaseCooldown)
	return c.clock.Sleep(ctx, c.policy.Delay)
}

// waitUntil polls the clock until deadline
func (c *Controller) waitUntil(ctx context.Context, deadline time.Time) error {
	for {
		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return nil
		}
		if remaining > c.poll {
			remaining = c.poll
		}
		if err := c.clock.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}

// release closes the sensor, then the cycles' outputs and actuator. Runs once.
func (c *Controller) release() {
	c.releaseOnce.Do(func() {
		if c.sensor != nil {
			if err := c.sensor.Close(); err != nil {
				c.logger.Warn("closing sensor failed", "error", err)
			}
		}
		if err := c.cycles.Close(); err != nil {
			c.logger.Warn("releasing outputs failed", "error", err)
		}
		c.phase(PhaseStopped)
		c.logger.Info("trigger controller released hardware")
	})
}
