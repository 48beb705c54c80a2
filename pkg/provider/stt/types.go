package stt

import (
	"strings"
	"time"
)

// Request is one recognition job.
type Request struct {
	// Audio is a complete RIFF/WAV file (16-bit PCM, mono).
	Audio []byte

	// Language is an ISO-639-1 hint such as "en" or "de". Empty means
	// auto-detect. Use [HintLanguage] to map a configured setting.
	Language string

	// Keywords are vocabulary hints such as proper nouns. Backends that
	// cannot use hints ignore them.
	Keywords []string
}

// Result is the outcome of a recognition job.
type Result struct {
	// Text is the recognized text with surrounding whitespace removed.
	Text string

	// Language is the language the backend reports having recognized. It may
	// be empty when the backend does not report one.
	Language string

	// Duration is the audio length as reported by the backend, if known.
	Duration time.Duration
}

// HintLanguage maps a configured language setting to the hint sent to a
// backend. "auto" and the empty string mean no hint. Cantonese ("yue") is not
// accepted by whisper-family models and is sent as "zh".
func HintLanguage(setting string) string {
	lang := strings.ToLower(strings.TrimSpace(setting))
	switch lang {
	case "", "auto":
		return ""
	case "yue":
		return "zh"
	default:
		return lang
	}
}
