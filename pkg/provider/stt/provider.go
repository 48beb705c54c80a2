// Package stt defines the Recognizer interface for speech-to-text backends.
//
// A Recognizer turns one finished speech segment, encoded as a 16-bit PCM WAV
// file, into text. Segmentation happens upstream, so every backend here is a
// batch recognizer from the caller's point of view, even when the wire protocol
// underneath is a streaming one (Deepgram).
//
// Implementations must be safe for concurrent use: the dispatcher issues one
// Recognize call per segment and several may be in flight at once.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a request carries no audio bytes.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// Recognize transcribes req.Audio. An empty Result.Text is a valid outcome
	// (the segment contained no intelligible speech) and is not an error.
	//
	// Returns an error if the backend is unreachable, rejects the audio, or ctx
	// is cancelled before a result arrives.
	Recognize(ctx context.Context, req Request) (*Result, error)
}
