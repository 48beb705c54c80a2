package audio

// Clip is a finite buffer of interleaved float32 samples together with its
// format. Clips are produced by [DecodeWAV] and by manual recordings and are
// consumed by [Prepare].
type Clip struct {
	Samples []float32
	Format  Format
}

// Peak returns the largest absolute sample value in samples.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
