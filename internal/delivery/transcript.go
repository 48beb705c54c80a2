package delivery

import "strings"

// Transcript accumulates every delivered text with its suffix. Like [Overlay]
// it is owned by the [UI] loop and not safe for concurrent use.
type Transcript struct {
	b strings.Builder
}

// Append adds text verbatim.
func (t *Transcript) Append(text string) { t.b.WriteString(text) }

// Text returns the full transcript.
func (t *Transcript) Text() string { return t.b.String() }

// Len returns the transcript length in bytes.
func (t *Transcript) Len() int { return t.b.Len() }

// Clear empties the transcript.
func (t *Transcript) Clear() { t.b.Reset() }
