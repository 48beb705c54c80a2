package delivery

import (
	"math"
	"strings"
	"time"
)

const (
	// overlayPadding is the vertical padding inside the overlay in pixels.
	overlayPadding = 16

	// overlayMaxHeight caps the overlay height in pixels.
	overlayMaxHeight = 300

	// screenMargin is the distance between the overlay and the work area edge.
	screenMargin = 20

	// charWidthPerPoint approximates the average glyph advance in pixels per
	// point of font size for the overlay's proportional font at 96 DPI.
	charWidthPerPoint = 0.75
)

// Position names the screen corner the overlay is anchored to.
type Position string

// Supported overlay positions.
const (
	BottomRight Position = "bottom-right"
	BottomLeft  Position = "bottom-left"
	TopRight    Position = "top-right"
	TopLeft     Position = "top-left"
)

// Valid reports whether p is one of the supported positions.
func (p Position) Valid() bool {
	switch p {
	case BottomRight, BottomLeft, TopRight, TopLeft:
		return true
	}
	return false
}

func (p Position) right() bool  { return strings.HasSuffix(string(p), "right") }
func (p Position) bottom() bool { return strings.HasPrefix(string(p), "bottom") }

// OverlayConfig holds the appearance settings of the overlay.
type OverlayConfig struct {
	// MaxLines is the number of display lines kept after wrapping to Width.
	// Default: 10.
	MaxLines int

	// FontSize is the font size in points. Default: 11.
	FontSize int

	// Width is the overlay width in pixels. Default: 400.
	Width int

	// Opacity is the window alpha in [0,1]. Default: 0.85.
	Opacity float64

	// Position is the anchor corner. Default: [BottomRight].
	Position Position

	// HideAfter is the auto-hide delay after the last append. Default: 3s.
	HideAfter time.Duration
}

// DefaultOverlayConfig returns the overlay defaults.
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		MaxLines:  10,
		FontSize:  11,
		Width:     400,
		Opacity:   0.85,
		Position:  BottomRight,
		HideAfter: 3 * time.Second,
	}
}

func (c OverlayConfig) withDefaults() OverlayConfig {
	d := DefaultOverlayConfig()
	if c.MaxLines <= 0 {
		c.MaxLines = d.MaxLines
	}
	if c.FontSize <= 0 {
		c.FontSize = d.FontSize
	}
	if c.Width <= 0 {
		c.Width = d.Width
	}
	if c.Opacity <= 0 || c.Opacity > 1 {
		c.Opacity = d.Opacity
	}
	if !c.Position.Valid() {
		c.Position = d.Position
	}
	if c.HideAfter <= 0 {
		c.HideAfter = d.HideAfter
	}
	return c
}

// LineHeight is the pixel height of one text line for the configured font.
func (c OverlayConfig) LineHeight() int {
	return int(math.Ceil(float64(c.FontSize) * 1.5))
}

// CharWidth is the approximate pixel width of one character.
func (c OverlayConfig) CharWidth() int {
	return int(math.Ceil(float64(c.FontSize) * charWidthPerPoint))
}

// Columns is the number of characters that fit on one display line.
func (c OverlayConfig) Columns() int {
	return max(1, (c.Width-overlayPadding)/max(1, c.CharWidth()))
}

// Rect is a screen rectangle in pixels.
type Rect struct {
	X, Y, W, H int
}

// FallbackWorkArea is the work area assumed for a screen of the given size
// when the platform cannot report one. It reserves 48 pixels for a taskbar.
func FallbackWorkArea(screenW, screenH int) Rect {
	return Rect{W: screenW, H: screenH - 48}
}

// Anchor returns the overlay rectangle for the given work area and content
// height. Bottom positions grow upward from the bottom edge.
func (c OverlayConfig) Anchor(work Rect, height int) Rect {
	r := Rect{W: c.Width, H: height}
	if c.Position.right() {
		r.X = work.X + work.W - c.Width - screenMargin
	} else {
		r.X = work.X + screenMargin
	}
	if c.Position.bottom() {
		r.Y = work.Y + work.H - screenMargin - height
	} else {
		r.Y = work.Y + screenMargin
	}
	return r
}

// OverlayState is a copy of the overlay's visible state.
type OverlayState struct {
	Text       string  `json:"text"`
	Visible    bool    `json:"visible"`
	Lines      int     `json:"lines"`
	Columns    int     `json:"columns"`
	Height     int     `json:"height"`
	Width      int     `json:"width"`
	Opacity    float64 `json:"opacity"`
	Position   string  `json:"position"`
	FontSize   int     `json:"font_size"`
	LineHeight int     `json:"line_height"`
}

// Overlay is the headless model of the transient overlay window. It holds the
// text, visibility and the auto-hide generation.
//
// Overlay is not safe for concurrent use. It is owned by the [UI] loop.
type Overlay struct {
	cfg     OverlayConfig
	text    string
	visible bool

	// gen identifies the current auto-hide timer; armed is false when no
	// timer should fire.
	gen   uint64
	armed bool
}

// NewOverlay creates a hidden, empty overlay.
func NewOverlay(cfg OverlayConfig) *Overlay {
	return &Overlay{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (o *Overlay) Config() OverlayConfig { return o.cfg }

// Configure replaces the appearance settings and re-trims the text.
func (o *Overlay) Configure(cfg OverlayConfig) {
	o.cfg = cfg.withDefaults()
	o.trim()
}

// Append adds text, drops the oldest display lines beyond MaxLines and shows
// the overlay. It returns the generation the caller must pass to [Overlay.AutoHide]
// once HideAfter has elapsed. Any earlier generation becomes stale.
func (o *Overlay) Append(text string) uint64 {
	o.text += text
	o.trim()
	o.visible = true
	o.gen++
	o.armed = true
	return o.gen
}

func (o *Overlay) trim() {
	rows := rowStarts(o.text, o.cfg.Columns())
	if extra := len(rows) - o.cfg.MaxLines; extra > 0 {
		o.text = o.text[rows[extra]:]
	}
}

// rowStarts wraps text greedily at spaces to cols characters per row and
// returns the byte offset where each row begins. Words longer than a row are
// broken. Spaces may hang past the right edge. A trailing newline opens an
// empty last row.
func rowStarts(text string, cols int) []int {
	starts := []int{0}
	col := 0
	// brk is the offset just past the last space on the current row, or -1.
	brk, brkCol := -1, 0
	for i, r := range text {
		switch {
		case r == '\n':
			starts = append(starts, i+1)
			col, brk = 0, -1
			continue
		case r == ' ':
			col++
			brk, brkCol = i+1, col
			continue
		case col >= cols && brk >= 0:
			starts = append(starts, brk)
			col -= brkCol
			brk = -1
		case col >= cols:
			starts = append(starts, i)
			col = 0
		}
		col++
	}
	return starts
}

// AutoHide hides the overlay if gen is the latest armed generation and the
// overlay is visible. It reports whether the overlay was hidden. A second
// call with the same generation is a no-op.
func (o *Overlay) AutoHide(gen uint64) bool {
	if !o.armed || gen != o.gen {
		return false
	}
	o.armed = false
	if !o.visible {
		return false
	}
	o.visible = false
	return true
}

// Toggle flips visibility and returns the new state. Hiding cancels a pending
// auto-hide. Showing does not arm one.
func (o *Overlay) Toggle() bool {
	if o.visible {
		o.visible = false
		o.armed = false
		return false
	}
	o.visible = true
	return true
}

// Clear removes all text. Visibility is unchanged.
func (o *Overlay) Clear() { o.text = "" }

// Text returns the current overlay text.
func (o *Overlay) Text() string { return o.text }

// Visible reports whether the overlay is shown.
func (o *Overlay) Visible() bool { return o.visible }

// Lines is the display line count after wrapping to the overlay width.
func (o *Overlay) Lines() int { return len(rowStarts(o.text, o.cfg.Columns())) }

// LineHeight is the pixel height of one line.
func (o *Overlay) LineHeight() int { return o.cfg.LineHeight() }

// Height is the content height in pixels, clamped to one line at minimum and
// 300 pixels at most.
func (o *Overlay) Height() int {
	lh := o.LineHeight()
	h := o.Lines()*lh + overlayPadding
	return max(lh+overlayPadding, min(h, overlayMaxHeight))
}

// Snapshot returns a copy of the overlay state for renderers.
func (o *Overlay) Snapshot() OverlayState {
	return OverlayState{
		Text:       o.text,
		Visible:    o.visible,
		Lines:      o.Lines(),
		Columns:    o.cfg.Columns(),
		Height:     o.Height(),
		Width:      o.cfg.Width,
		Opacity:    o.cfg.Opacity,
		Position:   string(o.cfg.Position),
		FontSize:   o.cfg.FontSize,
		LineHeight: o.LineHeight(),
	}
}
