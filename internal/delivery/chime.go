package delivery

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"
)

// Cue is an audible signal.
type Cue int

const (
	// CueStart is a short rising two-note tone.
	CueStart Cue = iota
	// CueStop is the falling counterpart of CueStart.
	CueStop
)

const (
	chimeRate = beep.SampleRate(44100)
	chimeNote = 90 * time.Millisecond
)

// notes returns the frequencies of the cue in playing order.
func (c Cue) notes() []float64 {
	if c == CueStop {
		return []float64{880, 660}
	}
	return []float64{660, 880}
}

// Chime plays cues on the default output device. The speaker is opened on
// the first call to Play.
type Chime struct {
	once sync.Once
	err  error
}

// Play starts the cue and returns without waiting for it to finish.
func (c *Chime) Play(cue Cue) error {
	c.once.Do(func() {
		c.err = speaker.Init(chimeRate, chimeRate.N(time.Second/10))
	})
	if c.err != nil {
		return fmt.Errorf("delivery: open speaker: %w", c.err)
	}
	s, err := cueStreamer(cue, chimeRate, chimeNote)
	if err != nil {
		return err
	}
	speaker.Play(s)
	return nil
}

// cueStreamer builds the finite streamer for cue at rate.
func cueStreamer(cue Cue, rate beep.SampleRate, note time.Duration) (beep.Streamer, error) {
	var parts []beep.Streamer
	for _, f := range cue.notes() {
		tone, err := generators.SineTone(rate, f)
		if err != nil {
			return nil, fmt.Errorf("delivery: tone %g Hz: %w", f, err)
		}
		quiet := &effects.Volume{Streamer: tone, Base: 2, Volume: -2}
		parts = append(parts, beep.Take(rate.N(note), quiet))
	}
	return beep.Seq(parts...), nil
}
