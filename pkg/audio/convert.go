package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Resampler converts a chunk of mono samples from srcRate to dstRate. When
// the rates match, implementations return in unchanged (zero allocation).
// Implementations must be safe for concurrent use.
type Resampler interface {
	Resample(in []float32, srcRate, dstRate int) []float32
}

// Resampler names accepted by [ResamplerByName].
const (
	ResamplerNearest = "nearest"
	ResamplerLinear  = "linear"
)

// ResamplerByName returns the resampling strategy registered under name.
// An empty name selects [NearestResampler].
func ResamplerByName(name string) (Resampler, error) {
	switch name {
	case "", ResamplerNearest:
		return NearestResampler{}, nil
	case ResamplerLinear:
		return LinearResampler{}, nil
	default:
		return nil, fmt.Errorf("audio: unknown resampler %q", name)
	}
}

// NearestResampler picks, for every output sample, the source sample at the
// nearest lower index. It is cheap and stateless; chunks are resampled
// independently so boundaries may drop or repeat a single sample.
type NearestResampler struct{}

// Resample implements [Resampler].
func (NearestResampler) Resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	out := make([]float32, n)
	for i := range out {
		out[i] = in[int64(i)*int64(srcRate)/int64(dstRate)]
	}
	return out
}

// LinearResampler interpolates linearly between the two nearest source
// samples.
type LinearResampler struct{}

// Resample implements [Resampler].
func (LinearResampler) Resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// FloatToPCM16 converts mono float samples to 16-bit signed little-endian
// PCM. Values are clipped to [-1, 1], scaled by 32768, rounded and clamped to
// the int16 range so that [PCM16ToFloat] reproduces them within 1/32768.
func FloatToPCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(SampleToInt16(s)))
	}
	return buf
}

// SampleToInt16 quantises a single float sample. See [FloatToPCM16].
func SampleToInt16(s float32) int16 {
	v := math.Round(float64(s) * 32768)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// PCM16ToFloat converts 16-bit signed little-endian PCM to float samples in
// [-1, 1). A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return out
}

// FadeIn returns a copy of chunk whose first n samples are scaled by a
// linear ramp from 0 to 1. When n exceeds the chunk length the ramp is cut
// short at the end of the chunk. n <= 0 returns chunk unchanged.
func FadeIn(chunk []float32, n int) []float32 {
	if n <= 0 || len(chunk) == 0 {
		return chunk
	}
	out := make([]float32, len(chunk))
	copy(out, chunk)
	ramp := min(n, len(chunk))
	for i := range ramp {
		var g float32
		if ramp > 1 {
			g = float32(i) / float32(ramp-1)
		}
		out[i] *= g
	}
	return out
}

// RMS returns the root-mean-square level of samples on the float scale.
// Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SamplesFor returns the number of samples covering d at sampleRate.
func SamplesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// DurationOf returns the playback duration of n samples at sampleRate.
func DurationOf(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}
