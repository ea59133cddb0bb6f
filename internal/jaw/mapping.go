// Package jaw turns loudness into actuator targets and forwards them to
// the actuator at a bounded rate
package jaw

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-jaw/internal/audio"
)

// Style selects how loudness is quantized into a jaw position
type Style int

const (
	// SingleThreshold opens fully above one threshold, closes otherwise
	SingleThreshold Style = iota
	// MultiLevelRaw quantizes raw loudness into four positions
	MultiLevelRaw
	// MultiLevelFiltered quantizes band-passed loudness into four positions
	MultiLevelFiltered
)

func (s Style) String() string {
	switch s {
	case SingleThreshold:
		return "single_threshold"
	case MultiLevelRaw:
		return "multi_level_raw"
	case MultiLevelFiltered:
		return "multi_level_filtered"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

// thresholdCount returns how many thresholds a style carries
func (s Style) thresholdCount() int {
	if s == SingleThreshold {
		return 1
	}
	return 3
}

// Mapping is a style paired with its ascending thresholds
type Mapping struct {
	Style      Style
	Thresholds []int
}

// NewMapping builds and validates a mapping
func NewMapping(style Style, thresholds ...int) (Mapping, error) {
	m := Mapping{Style: style, Thresholds: append([]int(nil), thresholds...)}
	if err := m.Validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

// Validate checks the threshold count and strict ordering
func (m Mapping) Validate() error {
	if m.Style < SingleThreshold || m.Style > MultiLevelFiltered {
		return fmt.Errorf("unknown mapping style %d", int(m.Style))
	}

	if want := m.Style.thresholdCount(); len(m.Thresholds) != want {
		return fmt.Errorf("%s needs %d thresholds, got %d", m.Style, want, len(m.Thresholds))
	}

	for i := 1; i < len(m.Thresholds); i++ {
		if m.Thresholds[i] <= m.Thresholds[i-1] {
			return fmt.Errorf("%s thresholds must be strictly ascending: %v", m.Style, m.Thresholds)
		}
	}

	return nil
}

// Filtered reports whether loudness should be band-passed first
func (m Mapping) Filtered() bool {
	return m.Style == MultiLevelFiltered
}

// Range is the actuator's mechanical travel in degrees. Either angle may be
// the larger one, so actuators mounted in either orientation are supported.
type Range struct {
	MinAngle float64 `json:"min_angle"`
	MaxAngle float64 `json:"max_angle"`
}

// Effective returns the travel bounds used for motion: the angle farther
// from neutral is the open (max) position, whatever its sign.
func (r Range) Effective() (lo, hi float64) {
	if math.Abs(r.MinAngle) > math.Abs(r.MaxAngle) {
		return r.MaxAngle, r.MinAngle
	}
	return r.MinAngle, r.MaxAngle
}

// contains reports whether angle lies within the travel, inclusive
func (r Range) contains(angle float64) bool {
	lo, hi := math.Min(r.MinAngle, r.MaxAngle), math.Max(r.MinAngle, r.MaxAngle)
	return angle >= lo && angle <= hi
}

// Normalize converts an angle to the actuator's [-1, 1] drive value,
// MinAngle mapping to -1 and MaxAngle to +1
func (r Range) Normalize(angle float64) float64 {
	span := r.MaxAngle - r.MinAngle
	if span == 0 {
		return 0
	}

	v := (angle-r.MinAngle)/span*2 - 1
	return math.Max(-1, math.Min(1, v))
}

// Map converts one loudness sample into a target angle within r
func Map(loudness audio.Loudness, m Mapping, r Range) float64 {
	lo, hi := r.Effective()
	v := loudness.Value

	if m.Style == SingleThreshold {
		if len(m.Thresholds) > 0 && v > m.Thresholds[0] {
			return hi
		}
		return lo
	}

	if len(m.Thresholds) < 3 {
		return lo
	}

	step := (hi - lo) / 3
	switch {
	case v > m.Thresholds[2]:
		return hi
	case v > m.Thresholds[1]:
		return lo + 2*step
	case v > m.Thresholds[0]:
		return lo + step
	default:
		return lo
	}
}
