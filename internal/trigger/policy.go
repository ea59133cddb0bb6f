// Package trigger sequences ambient and vocal playback according to the
// configured trigger policy
package trigger

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects when a vocal cycle starts
type Kind int

const (
	// Immediate plays one vocal cycle at startup
	Immediate Kind = iota
	// Timer plays a vocal cycle every Delay
	Timer
	// SensorEdge plays a vocal cycle on motion, with Delay as cooldown
	SensorEdge
)

func (k Kind) String() string {
	switch k {
	case Immediate:
		return "start"
	case Timer:
		return "timer"
	case SensorEdge:
		return "pir"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the configuration names start, timer and pir
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start", "immediate":
		return Immediate, nil
	case "timer":
		return Timer, nil
	case "pir", "sensor":
		return SensorEdge, nil
	default:
		return Immediate, fmt.Errorf("unknown trigger %q (want start, timer or pir)", s)
	}
}

// Policy is the trigger configuration, fixed for one controller run
type Policy struct {
	Kind    Kind          `json:"kind"`
	Delay   time.Duration `json:"delay"`
	Ambient bool          `json:"ambient"`
}

// Validate checks the policy
func (p Policy) Validate() error {
	if p.Kind < Immediate || p.Kind > SensorEdge {
		return fmt.Errorf("invalid trigger kind %d", int(p.Kind))
	}
	if p.Delay < 0 {
		return fmt.Errorf("trigger delay must be >= 0, got %v", p.Delay)
	}
	if p.Kind == Timer && p.Delay == 0 {
		return fmt.Errorf("timer trigger needs a positive delay")
	}
	return nil
}
