package jaw

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultUpdateInterval caps actuator updates at 50 Hz
const DefaultUpdateInterval = 20 * time.Millisecond

// Recorder receives driver events; implemented by the metrics package
type Recorder interface {
	ActuatorUpdated(target float64)
	ActuatorSkipped()
	ActuatorFailed()
}

// Driver forwards targets to an actuator at most once per interval.
// MaybeUpdate is called from a single audio goroutine per session; Release
// may come from another goroutine and ends all further updates.
type Driver struct {
	act      Actuator
	rng      Range
	interval time.Duration
	logger   *slog.Logger
	rec      Recorder

	mu       sync.Mutex
	last     time.Time
	hasLast  bool
	released bool
}

// NewDriver creates a driver for one playback session
func NewDriver(act Actuator, rng Range, interval time.Duration, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}

	return &Driver{
		act:      act,
		rng:      rng,
		interval: interval,
		logger:   logger,
	}
}

// WithRecorder attaches an event recorder
func (d *Driver) WithRecorder(rec Recorder) *Driver {
	d.rec = rec
	return d
}

// Due reports whether an update at now would be issued
func (d *Driver) Due(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.due(now)
}

func (d *Driver) due(now time.Time) bool {
	return !d.released && (!d.hasLast || now.Sub(d.last) >= d.interval)
}

// MaybeUpdate sends target (an angle within the range) to the actuator
// unless the previous update was less than one interval ago. Drive errors
// are logged and dropped; the returned bool reports whether an update was
// issued. After Release it never issues again.
func (d *Driver) MaybeUpdate(target float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return false
	}
	if !d.due(now) {
		if d.rec != nil {
			d.rec.ActuatorSkipped()
		}
		return false
	}

	d.last = now
	d.hasLast = true

	if err := d.act.SetPosition(d.rng.Normalize(target)); err != nil {
		if d.rec != nil {
			d.rec.ActuatorFailed()
		}
		d.logger.Debug("jaw update dropped",
			"error", &ActuatorError{Op: "set_position", Err: err},
			"target", target,
		)
		return true
	}

	if d.rec != nil {
		d.rec.ActuatorUpdated(target)
	}
	return true
}

// Release issues the final neutral command. Only the first call reaches
// the actuator.
func (d *Driver) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return
	}
	d.released = true

	if err := d.act.Release(); err != nil {
		if d.rec != nil {
			d.rec.ActuatorFailed()
		}
		d.logger.Warn("jaw release failed",
			"error", &ActuatorError{Op: "release", Err: err},
		)
	}
}

// Released reports whether Release has run
func (d *Driver) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}
