package audio

import (
	"encoding/binary"
	"math"
)

// PCM16ToFloat32 decodes little-endian int16 PCM into normalized float32
// samples. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// Float32ToInt16 converts normalized samples to int16, clamping to [-1, 1].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampInt16(s)
	}
	return out
}

func clampInt16(s float32) int16 {
	switch {
	case s >= 1:
		return math.MaxInt16
	case s <= -1:
		return math.MinInt16
	default:
		return int16(s * 32767)
	}
}

// MixToMono averages interleaved multi-channel samples into one channel. If
// channels is 1 (or less) the input is returned unchanged.
func MixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Normalize scales samples in place so that the peak is 1 when the current
// peak exceeds 1. Quieter audio is left untouched. It returns samples.
func Normalize(samples []float32) []float32 {
	peak := Peak(samples)
	if peak <= 1 {
		return samples
	}
	for i := range samples {
		samples[i] /= peak
	}
	return samples
}
