package delivery

import (
	"testing"
	"time"

	"github.com/gopxl/beep"
)

func TestCueStreamer_Length(t *testing.T) {
	t.Parallel()

	rate := beep.SampleRate(8000)
	for _, cue := range []Cue{CueStart, CueStop} {
		s, err := cueStreamer(cue, rate, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("cueStreamer(%d): %v", cue, err)
		}

		buf := make([][2]float64, 256)
		total := 0
		for {
			n, ok := s.Stream(buf)
			total += n
			if !ok {
				break
			}
		}
		if want := 2 * rate.N(50*time.Millisecond); total != want {
			t.Errorf("cue %d streamed %d samples, want %d", cue, total, want)
		}
	}
}

func TestCue_Notes(t *testing.T) {
	t.Parallel()

	start, stop := CueStart.notes(), CueStop.notes()
	if start[0] >= start[1] {
		t.Errorf("start cue %v is not rising", start)
	}
	if stop[0] <= stop[1] {
		t.Errorf("stop cue %v is not falling", stop)
	}
}
