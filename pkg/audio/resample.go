package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// resamplePadDivisor sets the silence appended before resampling to
// 1/resamplePadDivisor of a second.
const resamplePadDivisor = 10

// Resample converts mono samples from srcRate to dstRate with a high-quality
// polyphase resampler. If the rates match the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample: invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate || len(samples) == 0 {
		return samples, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: resample: create resampler: %w", err)
	}

	// Trailing silence pushes the last real samples through the filter
	// pipeline; the surplus is cut below.
	in := make([]float64, len(samples)+srcRate/resamplePadDivisor)
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := r.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("audio: resample: flush: %w", err)
	}
	out = append(out, tail...)
	if want := expectedLen(len(samples), srcRate, dstRate); len(out) > want {
		out = out[:want]
	}

	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}

// expectedLen is the sample count of n samples at srcRate after conversion
// to dstRate, rounded to the nearest sample.
func expectedLen(n, srcRate, dstRate int) int {
	return int((int64(n)*int64(dstRate) + int64(srcRate)/2) / int64(srcRate))
}
