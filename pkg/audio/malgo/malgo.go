// Package malgo implements [audio.Source] on top of miniaudio via malgo.
//
// miniaudio delivers capture data through a push callback on its own thread.
// The callback re-chunks the incoming PCM to the configured cadence and hands
// complete chunks to Read through a buffered channel; when the reader falls
// behind, the oldest chunk is dropped rather than blocking the audio thread.
package malgo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/dictum/pkg/audio"
)

// chunkQueue is the number of chunks buffered between the callback and Read.
const chunkQueue = 32

// Source captures from a miniaudio capture device.
type Source struct {
	cfg    audio.SourceConfig
	mctx   *malgo.AllocatedContext
	device *malgo.Device

	chunks chan []float32
	done   chan struct{}

	// pending is only touched by the device callback.
	pending []float32

	closeOnce sync.Once
	closeErr  error
}

// Open initializes a miniaudio context and starts capturing.
func Open(cfg audio.SourceConfig) (*Source, error) {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.ChunkSamples() <= 0 {
		return nil, fmt.Errorf("malgo: invalid chunk size for %+v", cfg)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("malgo: backend", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}

	s := &Source{
		cfg:    cfg,
		mctx:   mctx,
		chunks: make(chan []float32, chunkQueue),
		done:   make(chan struct{}),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)

	if cfg.Device != "" && !strings.EqualFold(cfg.Device, "auto") {
		info, err := findDevice(mctx, cfg.Device)
		if err != nil {
			s.freeContext()
			return nil, err
		}
		devCfg.Capture.DeviceID = info.ID.Pointer()
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("malgo: init device: %w", err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		s.freeContext()
		return nil, fmt.Errorf("malgo: start device: %w", err)
	}

	slog.Info("malgo: capture started",
		"device", cfg.Device,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"chunk", cfg.Chunk,
	)
	return s, nil
}

// onData runs on the miniaudio thread.
func (s *Source) onData(_, input []byte, _ uint32) {
	select {
	case <-s.done:
		return
	default:
	}

	s.pending = append(s.pending, audio.MixToMono(audio.PCM16ToFloat32(input), s.cfg.Channels)...)
	size := s.cfg.ChunkSamples()
	for len(s.pending) >= size {
		chunk := make([]float32, size)
		copy(chunk, s.pending[:size])
		s.pending = s.pending[size:]
		s.enqueue(chunk)
	}
}

func (s *Source) enqueue(chunk []float32) {
	for {
		select {
		case s.chunks <- chunk:
			return
		default:
		}
		select {
		case <-s.chunks:
			slog.Debug("malgo: reader behind, dropped oldest chunk")
		default:
		}
	}
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, audio.ErrClosed
	case c := <-s.chunks:
		return c, nil
	}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}
}

// Close implements [audio.Source]. It is safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.device != nil {
			if err := s.device.Stop(); err != nil {
				s.closeErr = fmt.Errorf("malgo: stop device: %w", err)
			}
			s.device.Uninit()
		}
		s.freeContext()
	})
	return s.closeErr
}

func (s *Source) freeContext() {
	if s.mctx == nil {
		return
	}
	_ = s.mctx.Uninit()
	s.mctx.Free()
	s.mctx = nil
}

func findDevice(mctx *malgo.AllocatedContext, name string) (*malgo.DeviceInfo, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: list devices: %w", err)
	}
	for i := range infos {
		if infos[i].Name() == name {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("malgo: capture device %q not found", name)
}

// Lister enumerates miniaudio capture devices.
type Lister struct{}

// Devices implements [audio.DeviceLister].
func (Lister) Devices(_ context.Context) ([]audio.Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo: list devices: %w", err)
	}
	out := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		out = append(out, audio.Device{
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}

// Compile-time assertions.
var (
	_ audio.Source       = (*Source)(nil)
	_ audio.DeviceLister = Lister{}
)
