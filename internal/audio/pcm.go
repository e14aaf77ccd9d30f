package audio

import "math"

// Downmix averages all channels of b into a single stream normalized to
// [-1, 1].
func Downmix(b *Buffer) []float64 {
	if b == nil || b.Frames <= 0 || b.Format.Channels <= 0 {
		return nil
	}

	out := make([]float64, b.Frames)
	channels := b.Format.Channels
	switch b.Format.Encoding {
	case EncodingFloat32:
		for c := 0; c < channels && c < len(b.Float32); c++ {
			for f, v := range b.Float32[c][:min(b.Frames, len(b.Float32[c]))] {
				out[f] += float64(v)
			}
		}
	case EncodingInt16:
		for c := 0; c < channels && c < len(b.Int16); c++ {
			for f, v := range b.Int16[c][:min(b.Frames, len(b.Int16[c]))] {
				out[f] += float64(v) * int16Scale
			}
		}
	}

	if channels > 1 {
		for i := range out {
			out[i] /= float64(channels)
		}
	}
	return out
}

// Resampler converts a continuous sample stream between rates using linear
// interpolation. It keeps its read position and the previous block's last
// sample, so a stream fed in pieces resamples the same as one fed whole.
type Resampler struct {
	step float64
	pos  float64
	prev float64
}

// NewResampler creates a resampler from one rate to another.
func NewResampler(fromRate, toRate float64) *Resampler {
	return &Resampler{step: fromRate / toRate}
}

// Process resamples the next block of the stream.
func (r *Resampler) Process(in []float64) []float64 {
	if len(in) == 0 {
		return nil
	}
	if r.step == 1 {
		out := make([]float64, len(in))
		copy(out, in)
		return out
	}

	at := func(i int) float64 {
		if i < 0 {
			return r.prev
		}
		return in[i]
	}

	n := len(in)
	out := make([]float64, 0, int(float64(n)/r.step)+1)
	for {
		i := int(math.Floor(r.pos))
		if i+1 > n-1 {
			break
		}
		frac := r.pos - float64(i)
		a, b := at(i), at(i+1)
		out = append(out, a+frac*(b-a))
		r.pos += r.step
	}

	// index -1 of the next block is this block's last sample
	r.pos -= float64(n)
	r.prev = in[n-1]
	return out
}

// Reset forgets stream history.
func (r *Resampler) Reset() {
	r.pos, r.prev = 0, 0
}

// QuantizeInt16 converts normalized samples to 16-bit integer values with
// clipping.
func QuantizeInt16(samples []float64) []int {
	out := make([]int, len(samples))
	for i, v := range samples {
		q := math.Round(v * math.MaxInt16)
		switch {
		case q > math.MaxInt16:
			q = math.MaxInt16
		case q < math.MinInt16:
			q = math.MinInt16
		case math.IsNaN(q):
			q = 0
		}
		out[i] = int(q)
	}
	return out
}
