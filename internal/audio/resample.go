package audio

import (
	"encoding/binary"
	"math"
)

// Resampler converts device-rate mono samples to the target rate by
// linear interpolation. It is stateful: the fractional read position and
// the previous chunk's last sample carry across calls, so feeding the
// same stream in any chunking produces identical output.
type Resampler struct {
	step   float64 // input samples advanced per output sample
	pos    float64 // fractional position into the virtual input stream
	last   int16   // final sample of the previous chunk
	primed bool
}

func NewResampler(nativeRate, targetRate int) *Resampler {
	return &Resampler{step: float64(nativeRate) / float64(targetRate)}
}

// Process consumes one chunk of native-rate samples and returns the
// resampled output for it.
func (r *Resampler) Process(in []int16) []int16 {
	n := len(in)
	if n == 0 {
		return nil
	}
	if !r.primed {
		r.last = in[0]
		r.primed = true
	}

	// Virtual input v[0] = last, v[k] = in[k-1]; pos indexes into v.
	out := make([]int16, 0, int(float64(n)/r.step)+2)
	pos := r.pos
	for int(pos) < n {
		i := int(pos)
		frac := pos - float64(i)
		var s0 int16
		if i == 0 {
			s0 = r.last
		} else {
			s0 = in[i-1]
		}
		s1 := in[i]
		out = append(out, int16(float64(s0)+(float64(s1)-float64(s0))*frac))
		pos += r.step
	}
	r.pos = pos - float64(n)
	r.last = in[n-1]
	return out
}

// Reset returns the resampler to its initial phase for a new stream.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.primed = false
}

// DecodeS16LE converts interleaved little-endian 16-bit PCM bytes to
// samples. A trailing odd byte is ignored.
func DecodeS16LE(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Downmix averages interleaved frames into mono. For channels == 1 the
// input is returned unchanged.
func Downmix(in []int16, channels int) []int16 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(in[f*channels+c])
		}
		out[f] = int16(sum / channels)
	}
	return out
}

// RMS returns the normalized [0,1] root-mean-square level of a window.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(samples))) / 32768.0
}
