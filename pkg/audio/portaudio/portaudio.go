// Package portaudio implements [audio.Source] and [audio.DeviceLister] on top
// of the PortAudio C library.
//
// The source uses PortAudio's blocking read API: each [Source.Read] fills one
// chunk-sized buffer, so the caller is paced by the device clock rather than a
// sleep. Multi-channel input is mixed down to mono before it is returned.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/dictum/pkg/audio"
)

// Source captures from a PortAudio input device.
type Source struct {
	cfg    audio.SourceConfig
	stream *pa.Stream
	buf    []float32

	mu     sync.Mutex
	closed bool
}

// Open initializes PortAudio and starts an input stream on the configured
// device. The returned Source must be closed to release the device.
func Open(cfg audio.SourceConfig) (*Source, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	frames := cfg.ChunkSamples()
	if frames <= 0 {
		return nil, fmt.Errorf("portaudio: invalid chunk size for %+v", cfg)
	}

	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := findDevice(cfg.Device)
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}

	buf := make([]float32, frames*cfg.Channels)
	params := pa.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = frames

	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	slog.Info("portaudio: capture started",
		"device", dev.Name,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"chunk", cfg.Chunk,
	)
	return &Source{cfg: cfg, stream: stream, buf: buf}, nil
}

// Read implements [audio.Source]. It blocks until one chunk has been captured.
func (s *Source) Read(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, audio.ErrClosed
	}
	s.mu.Unlock()

	if err := s.stream.Read(); err != nil {
		// Overflow means samples were dropped, not that the device failed.
		if err == pa.InputOverflowed {
			slog.Debug("portaudio: input overflowed")
		} else {
			return nil, fmt.Errorf("portaudio: read: %w", err)
		}
	}

	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return audio.MixToMono(out, s.cfg.Channels), nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}
}

// Close implements [audio.Source]. It is safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("portaudio: stop: %w", err)
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("portaudio: close: %w", err)
	}
	if err := pa.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("portaudio: terminate: %w", err)
	}
	return firstErr
}

// findDevice resolves a device by name. An empty name or "auto" selects the
// host default input device.
func findDevice(name string) (*pa.DeviceInfo, error) {
	if name == "" || strings.EqualFold(name, "auto") {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 && d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: input device %q not found", name)
}

// Lister enumerates PortAudio input devices.
type Lister struct{}

// Devices implements [audio.DeviceLister].
func (Lister) Devices(_ context.Context) ([]audio.Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer pa.Terminate()

	devs, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []audio.Device
	for _, d := range devs {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, audio.Device{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         def != nil && def.Name == d.Name,
		})
	}
	return out, nil
}

// Compile-time assertions.
var (
	_ audio.Source       = (*Source)(nil)
	_ audio.DeviceLister = Lister{}
)
