package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by [DecodeWAV] when the input is not a PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// EncodeWAV encodes interleaved float32 samples as a 16-bit PCM WAV file.
func EncodeWAV(samples []float32, f Format) ([]byte, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid format %+v", f)
	}

	ws := &seekBuffer{}
	enc := wav.NewEncoder(ws, f.SampleRate, 16, f.Channels, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(clampInt16(s))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: encode wav: close: %w", err)
	}
	return ws.Bytes(), nil
}

// DecodeWAV decodes a PCM WAV stream into normalized interleaved samples.
func DecodeWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return Clip{}, ErrInvalidWAV
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	scale := float32(int64(1) << (depth - 1))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return Clip{
		Samples: samples,
		Format:  Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels},
	}, nil
}

// seekBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch the header sizes once all samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: seek: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("audio: seek: negative position %d", next)
	}
	b.pos = int(next)
	return next, nil
}

func (b *seekBuffer) Bytes() []byte { return bytes.Clone(b.buf) }
