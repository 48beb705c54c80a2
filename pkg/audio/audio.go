// Package audio defines the capture abstractions and sample utilities shared by
// the dictation pipeline.
//
// The two primary abstractions are:
//
//   - [Source] delivers mono float32 chunks at a fixed cadence from a capture device.
//   - [DeviceLister] enumerates the input devices a [Source] can be opened on.
//
// Implementations live in backend-specific packages (audio/portaudio, audio/malgo).
// Everything downstream of a [Source] operates on normalized mono samples in
// [-1, 1] at the VAD sample rate; resampling and channel mixing happen here, before
// frames reach the detector.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by [Source.Read] after the source has been closed.
var ErrClosed = errors.New("audio: source closed")

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Duration returns the playback length of n interleaved samples in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / f.Channels
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Samples returns the number of interleaved samples covering d.
func (f Format) Samples(d time.Duration) int {
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second) * int64(max(f.Channels, 1)))
}

// Device describes one capture device.
type Device struct {
	// Name is the human-readable device name, also accepted by the "audio.device"
	// setting.
	Name string

	// MaxInputChannels is the maximum channel count the device can capture.
	MaxInputChannels int

	// DefaultSampleRate is the device's preferred sample rate in Hz.
	DefaultSampleRate float64

	// IsDefault reports whether this is the host's default input device.
	IsDefault bool
}

// DeviceLister enumerates capture devices.
type DeviceLister interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Source is a pull-based capture stream. Each call to Read blocks until one
// chunk (typically 100 ms) of mono samples at Format().SampleRate is available.
//
// Read returns io.EOF when a finite source is exhausted and [ErrClosed] after
// Close. Any other error is a capture I/O failure and ends the session.
//
// Implementations must be safe for one reader plus a concurrent Close.
type Source interface {
	Read(ctx context.Context) ([]float32, error)
	Format() Format
	Close() error
}

// SourceConfig holds the parameters used to open a [Source].
type SourceConfig struct {
	// Device is a device name or "auto" for the host default.
	Device string

	// SampleRate is the rate delivered to the pipeline (16000 for Silero VAD).
	SampleRate int

	// Channels is the channel count requested from the device. Multi-channel
	// input is mixed down to mono before it is returned from Read.
	Channels int

	// Chunk is the cadence at which Read returns samples.
	Chunk time.Duration
}

// ChunkSamples returns the number of mono samples per chunk.
func (c SourceConfig) ChunkSamples() int {
	return int(int64(c.SampleRate) * int64(c.Chunk) / int64(time.Second))
}
