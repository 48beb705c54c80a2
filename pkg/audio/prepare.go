package audio

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors returned by [Prepare]. They are user-facing input problems,
// not pipeline failures.
var (
	ErrEmpty    = errors.New("audio: no audio captured")
	ErrTooShort = errors.New("audio: too short")
	ErrSilent   = errors.New("audio: silent or too quiet")
)

const (
	// MinDuration is the shortest clip accepted for recognition.
	MinDuration = 100 * time.Millisecond

	// MaxRecommendedDuration is the length above which [Prepare] adds a warning.
	MaxRecommendedDuration = 30 * time.Second

	// SilencePeak is the peak amplitude below which a clip counts as silent.
	SilencePeak = 0.001
)

// Prepared is a clip ready for recognition: mono, at the target rate,
// normalized, and validated.
type Prepared struct {
	Samples    []float32
	SampleRate int
	Duration   time.Duration

	// Warning is non-empty when the clip is valid but unusually long.
	Warning string
}

// Prepare mixes clip to mono, resamples it to targetRate, normalizes peaks
// above 1, and validates the result.
func Prepare(clip Clip, targetRate int) (Prepared, error) {
	if len(clip.Samples) == 0 {
		return Prepared{}, ErrEmpty
	}

	mono := MixToMono(clip.Samples, clip.Format.Channels)
	mono, err := Resample(mono, clip.Format.SampleRate, targetRate)
	if err != nil {
		return Prepared{}, err
	}
	mono = Normalize(mono)

	f := Format{SampleRate: targetRate, Channels: 1}
	d := f.Duration(len(mono))
	if d < MinDuration {
		return Prepared{}, fmt.Errorf("%w (%.2fs, minimum %.1fs)", ErrTooShort, d.Seconds(), MinDuration.Seconds())
	}
	if Peak(mono) < SilencePeak {
		return Prepared{}, ErrSilent
	}

	p := Prepared{Samples: mono, SampleRate: targetRate, Duration: d}
	if d > MaxRecommendedDuration {
		p.Warning = fmt.Sprintf("audio is %.1fs, recommended max is %.0fs; processing may be slow",
			d.Seconds(), MaxRecommendedDuration.Seconds())
	}
	return p, nil
}
