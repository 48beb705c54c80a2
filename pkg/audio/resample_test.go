package audio_test

import (
	"testing"

	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/audio/mock"
)

func TestResample_KeepsDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		srcRate int
	}{
		{name: "8 kHz", srcRate: 8000},
		{name: "44.1 kHz", srcRate: 44100},
		{name: "48 kHz", srcRate: 48000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// One second of audio at the source rate.
			out, err := audio.Resample(mock.Tone(tt.srcRate, 0.3), tt.srcRate, 16000)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			// Allow 2 ms of slack for filter edges.
			if got := len(out); got < 16000-32 || got > 16000 {
				t.Errorf("len(out) = %d, want about 16000", got)
			}
		})
	}
}

func TestResample_SameRateIsIdentity(t *testing.T) {
	t.Parallel()

	in := mock.Tone(1600, 0.3)
	out, err := audio.Resample(in, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if len(out) != len(in) {
		t.Errorf("len(out) = %d, want %d", len(out), len(in))
	}
}

func TestResample_RejectsInvalidRates(t *testing.T) {
	t.Parallel()

	if _, err := audio.Resample(mock.Tone(100, 0.3), 0, 16000); err == nil {
		t.Error("Resample with zero source rate: want error, got nil")
	}
}
