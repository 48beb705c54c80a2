// Package mock provides in-memory mock implementations of the [audio.Source]
// and [audio.DeviceLister] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Chunks: mock.Repeat(mock.Tone(1600, 0.5), 20),
//	    Fmt:    audio.Format{SampleRate: 16000, Channels: 1},
//	}
//	chunk, err := src.Read(ctx)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/dictum/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source]. Read returns Chunks in
// order. Once they are exhausted it returns ReadErr, or io.EOF when ReadErr is
// nil, unless BlockWhenDrained is set, in which case Read blocks until the
// context is cancelled or the source is closed.
type Source struct {
	mu sync.Mutex

	// Chunks are returned by successive Read calls.
	Chunks [][]float32

	// Fmt is returned by Format. Defaults to 16 kHz mono when zero.
	Fmt audio.Format

	// ReadErr is returned once Chunks are exhausted.
	ReadErr error

	// BlockWhenDrained makes Read wait for cancellation instead of returning
	// io.EOF once Chunks are exhausted.
	BlockWhenDrained bool

	// CloseError is returned by Close.
	CloseError error

	// CallCountRead records how many times Read was called.
	CallCountRead int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next   int
	closed chan struct{}
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	s.CallCountRead++
	closed := s.closedLocked()
	select {
	case <-closed:
		s.mu.Unlock()
		return nil, audio.ErrClosed
	default:
	}
	if s.next < len(s.Chunks) {
		c := s.Chunks[s.next]
		s.next++
		s.mu.Unlock()
		return c, nil
	}
	block := s.BlockWhenDrained
	err := s.ReadErr
	s.mu.Unlock()

	if !block {
		if err == nil {
			err = io.EOF
		}
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		return nil, audio.ErrClosed
	}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fmt.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.Fmt
}

// Close implements [audio.Source]. Returns CloseError.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	closed := s.closedLocked()
	select {
	case <-closed:
	default:
		close(closed)
	}
	return s.CloseError
}

func (s *Source) closedLocked() chan struct{} {
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return s.closed
}

// Remaining returns the number of chunks not yet read.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Chunks) - s.next
}

// ─── DeviceLister ─────────────────────────────────────────────────────────────

// DeviceLister is a mock implementation of [audio.DeviceLister].
type DeviceLister struct {
	mu sync.Mutex

	// DevicesResult is returned by Devices.
	DevicesResult []audio.Device

	// DevicesError is returned by Devices.
	DevicesError error

	// CallCountDevices records how many times Devices was called.
	CallCountDevices int
}

// Devices implements [audio.DeviceLister].
func (d *DeviceLister) Devices(_ context.Context) ([]audio.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountDevices++
	return d.DevicesResult, d.DevicesError
}

// ─── Chunk helpers ────────────────────────────────────────────────────────────

// Tone returns n samples of a constant amplitude. A constant signal is enough
// to trip the amplitude heuristic; it is not meant to sound like speech.
func Tone(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude
	}
	return out
}

// Silence returns n zero samples.
func Silence(n int) []float32 {
	return make([]float32, n)
}

// Repeat returns count references to chunk.
func Repeat(chunk []float32, count int) [][]float32 {
	out := make([][]float32, count)
	for i := range out {
		out[i] = chunk
	}
	return out
}

// Concat joins chunk lists in order.
func Concat(lists ...[][]float32) [][]float32 {
	var out [][]float32
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// Compile-time assertions.
var (
	_ audio.Source       = (*Source)(nil)
	_ audio.DeviceLister = (*DeviceLister)(nil)
)
