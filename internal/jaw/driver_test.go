package jaw

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeActuator is a test double for Actuator
type fakeActuator struct {
	mu        sync.Mutex
	positions []float64
	releases  int
	err       error
}

func (f *fakeActuator) SetPosition(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.positions = append(f.positions, v)
	return nil
}

func (f *fakeActuator) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return nil
}

func (f *fakeActuator) CurrentPosition() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.positions) == 0 {
		return 0, false
	}
	return f.positions[len(f.positions)-1], true
}

func (f *fakeActuator) Close() error  { return nil }
func (f *fakeActuator) Healthy() bool { return true }
func (f *fakeActuator) Name() string  { return "fake" }

type countingRecorder struct {
	updated, skipped, failed int
}

func (c *countingRecorder) ActuatorUpdated(float64) { c.updated++ }
func (c *countingRecorder) ActuatorSkipped()        { c.skipped++ }
func (c *countingRecorder) ActuatorFailed()         { c.failed++ }

func TestDriver_RateLimit(t *testing.T) {
	act := &fakeActuator{}
	d := NewDriver(act, Range{MinAngle: 0, MaxAngle: 90}, 20*time.Millisecond, nil)

	t0 := time.Unix(100, 0)

	if !d.MaybeUpdate(90, t0) {
		t.Fatal("first update should always apply")
	}
	if d.MaybeUpdate(0, t0.Add(10*time.Millisecond)) {
		t.Error("update 10ms later should be a no-op")
	}
	if !d.MaybeUpdate(0, t0.Add(25*time.Millisecond)) {
		t.Error("update 25ms later should apply")
	}

	if len(act.positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(act.positions))
	}
	if act.positions[0] != 1 || act.positions[1] != -1 {
		t.Errorf("unexpected normalized positions %v", act.positions)
	}
}

func TestDriver_TwoCallsApart(t *testing.T) {
	tests := []struct {
		name  string
		gap   time.Duration
		apply bool
	}{
		{"10ms", 10 * time.Millisecond, false},
		{"19ms", 19 * time.Millisecond, false},
		{"20ms", 20 * time.Millisecond, true},
		{"25ms", 25 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDriver(&fakeActuator{}, Range{MinAngle: 0, MaxAngle: 10}, 0, nil)
			t0 := time.Unix(0, 0)

			d.MaybeUpdate(5, t0)
			if got := d.MaybeUpdate(5, t0.Add(tt.gap)); got != tt.apply {
				t.Errorf("second MaybeUpdate() = %v, want %v", got, tt.apply)
			}
		})
	}
}

func TestDriver_ErrorSwallowed(t *testing.T) {
	act := &fakeActuator{err: errors.New("pwm channel not configured")}
	rec := &countingRecorder{}
	d := NewDriver(act, Range{MinAngle: 0, MaxAngle: 90}, 20*time.Millisecond, nil).WithRecorder(rec)

	t0 := time.Unix(0, 0)
	if !d.MaybeUpdate(45, t0) {
		t.Error("failed update still counts as issued")
	}
	d.MaybeUpdate(45, t0.Add(5*time.Millisecond))

	if rec.failed != 1 || rec.skipped != 1 || rec.updated != 0 {
		t.Errorf("unexpected recorder counts %+v", rec)
	}
}

func TestDriver_ReleaseOnce(t *testing.T) {
	act := &fakeActuator{}
	d := NewDriver(act, Range{MinAngle: 0, MaxAngle: 90}, 0, nil)

	d.Release()
	d.Release()

	if act.releases != 1 {
		t.Errorf("expected 1 release, got %d", act.releases)
	}
}

func TestDriver_NoUpdatesAfterRelease(t *testing.T) {
	act := &fakeActuator{}
	d := NewDriver(act, Range{MinAngle: 0, MaxAngle: 90}, 0, nil)

	d.Release()

	if d.MaybeUpdate(45, time.Unix(0, 0)) {
		t.Error("update after release should be a no-op")
	}
	if d.Due(time.Unix(10, 0)) {
		t.Error("released driver should never be due")
	}
	if len(act.positions) != 0 {
		t.Errorf("actuator moved after release: %v", act.positions)
	}
	if !d.Released() {
		t.Error("Released() = false after Release")
	}
}

func TestActuatorError(t *testing.T) {
	base := errors.New("disconnected")
	err := error(&ActuatorError{Op: "set_position", Err: base})

	if !errors.Is(err, base) {
		t.Error("ActuatorError should unwrap to its cause")
	}

	var ae *ActuatorError
	if !errors.As(err, &ae) || ae.Op != "set_position" {
		t.Error("errors.As should find ActuatorError")
	}
}

var _ Actuator = (*fakeActuator)(nil)
