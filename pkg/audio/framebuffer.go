package audio

// FrameBuffer accumulates streamed samples and cuts them into fixed-size
// frames for VAD inference. Samples that do not fill a whole frame are kept
// and prepended to the next push, so no audio is lost at chunk boundaries.
//
// A FrameBuffer is owned by a single goroutine and is not safe for concurrent use.
type FrameBuffer struct {
	size    int
	pending []float32
}

// NewFrameBuffer returns a FrameBuffer that emits frames of exactly size samples.
// It panics if size is not positive.
func NewFrameBuffer(size int) *FrameBuffer {
	if size <= 0 {
		panic("audio: frame size must be positive")
	}
	return &FrameBuffer{size: size, pending: make([]float32, 0, size)}
}

// Size returns the frame length in samples.
func (b *FrameBuffer) Size() int { return b.size }

// Pending returns the number of buffered samples not yet emitted as a frame.
func (b *FrameBuffer) Pending() int { return len(b.pending) }

// Push appends samples and returns every complete frame now available, oldest
// first. Each returned frame is a fresh slice the caller may keep.
func (b *FrameBuffer) Push(samples []float32) [][]float32 {
	b.pending = append(b.pending, samples...)
	n := len(b.pending) / b.size
	if n == 0 {
		return nil
	}
	frames := make([][]float32, n)
	for i := range n {
		frame := make([]float32, b.size)
		copy(frame, b.pending[i*b.size:(i+1)*b.size])
		frames[i] = frame
	}
	rest := copy(b.pending, b.pending[n*b.size:])
	b.pending = b.pending[:rest]
	return frames
}

// Reset discards any buffered samples.
func (b *FrameBuffer) Reset() {
	b.pending = b.pending[:0]
}
