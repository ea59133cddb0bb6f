package audio

import "math"

// BandPass is a second-order band-pass biquad (constant 0 dB peak gain)
// between LowHz and HighHz. Filter state starts at rest on every call.
type BandPass struct {
	LowHz  float64
	HighHz float64
}

// DefaultBandPass keeps the voice band that drives the jaw
func DefaultBandPass() BandPass {
	return BandPass{LowHz: 300, HighHz: 3000}
}

// Apply filters samples and returns a new slice
func (b BandPass) Apply(samples []int16, sampleRate int) []int16 {
	out := make([]int16, len(samples))
	if len(samples) == 0 {
		return out
	}

	b0, b1, b2, a1, a2, ok := b.coefficients(sampleRate)
	if !ok {
		copy(out, samples)
		return out
	}

	var x1, x2, y1, y2 float64
	for i, s := range samples {
		x0 := float64(s)
		y0 := b0*x0 + b1*x1 + b2*x2 - a1*y1 - a2*y2

		x2, x1 = x1, x0
		y2, y1 = y1, y0

		out[i] = clamp16(y0)
	}

	return out
}

func (b BandPass) coefficients(sampleRate int) (b0, b1, b2, a1, a2 float64, ok bool) {
	if sampleRate <= 0 || b.LowHz <= 0 || b.HighHz <= b.LowHz {
		return 0, 0, 0, 0, 0, false
	}

	nyquist := float64(sampleRate) / 2
	high := math.Min(b.HighHz, nyquist*0.95)
	if high <= b.LowHz {
		return 0, 0, 0, 0, 0, false
	}

	center := math.Sqrt(b.LowHz * high)
	q := center / (high - b.LowHz)
	w0 := 2 * math.Pi * center / float64(sampleRate)
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha

	return alpha / a0, 0, -alpha / a0, -2 * math.Cos(w0) / a0, (1 - alpha) / a0, true
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
