package audio

import "time"

// Loudness is the mean absolute magnitude of one frame
type Loudness struct {
	Value int       `json:"value"`
	At    time.Time `json:"at"`
}

// Filter band-limits a block of mono samples
type Filter interface {
	Apply(samples []int16, sampleRate int) []int16
}

// Extractor computes per-frame loudness, optionally band-limited
type Extractor struct {
	Filter Filter
}

// Extract returns the mean absolute sample value of frame. Stereo frames
// only contribute their right channel. The mean is floor-divided.
func (e Extractor) Extract(frame Frame, filtered bool, at time.Time) Loudness {
	samples := measuredChannel(frame)
	if filtered && e.Filter != nil {
		samples = e.Filter.Apply(samples, frame.Format.SampleRate)
	}

	return Loudness{Value: meanAbs(samples), At: at}
}

// measuredChannel selects the samples that feed the loudness metric
func measuredChannel(frame Frame) []int16 {
	if frame.Format.Channels < 2 {
		return frame.Samples
	}

	ch := frame.Format.Channels
	out := make([]int16, 0, len(frame.Samples)/ch)
	for i := 1; i < len(frame.Samples); i += ch {
		out = append(out, frame.Samples[i])
	}
	return out
}

func meanAbs(samples []int16) int {
	if len(samples) == 0 {
		return 0
	}

	var sum int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}

	return int(sum / int64(len(samples)))
}
