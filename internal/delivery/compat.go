package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf16"
)

// Window messages and the virtual key used by the compatibility injector.
const (
	wmKeyDown = 0x0100
	wmKeyUp   = 0x0101
	wmChar    = 0x0102
	vkReturn  = 0x0D

	// returnScanCode is the hardware scan code of the Enter key.
	returnScanCode = 0x1C
)

// Key-message lparams for Enter: repeat count 1 and the scan code, plus the
// previous-state and transition bits on release.
const (
	lparamReturnDown = 1 | returnScanCode<<16
	lparamReturnUp   = lparamReturnDown | 1<<30 | 1<<31
)

// windowAPI is the slice of the Win32 user32/kernel32 surface the
// compatibility injector needs. Handles and thread IDs are zero when absent.
type windowAPI interface {
	ForegroundWindow() uintptr
	WindowThreadID(hwnd uintptr) uint32
	CurrentThreadID() uint32
	AttachThreadInput(from, to uint32, attach bool) bool
	Focus() uintptr
	PostMessage(hwnd uintptr, msg uint32, wparam, lparam uintptr) error
}

// CompatOption configures a [Compat] injector.
type CompatOption func(*Compat)

// WithCharDelay sets the pause between posted characters. Zero disables it.
func WithCharDelay(d time.Duration) CompatOption {
	return func(c *Compat) {
		if d >= 0 {
			c.charDelay = d
		}
	}
}

// Compat types text by posting WM_CHAR messages to the focused control of
// the foreground window, the way the system voice typing does. It avoids
// synthesized input events, which some full-screen applications ignore.
type Compat struct {
	api       windowAPI
	charDelay time.Duration
}

var _ Injector = (*Compat)(nil)

// NewCompat creates a compatibility injector over api.
func NewCompat(api windowAPI, opts ...CompatOption) *Compat {
	c := &Compat{api: api, charDelay: 10 * time.Millisecond}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ResolveTarget returns the focused child of the foreground window, or the
// foreground window itself when nothing inside it has focus. Input is
// attached to the target thread only for the GetFocus call.
func (c *Compat) ResolveTarget(context.Context) (Target, error) {
	hwnd := c.api.ForegroundWindow()
	if hwnd == 0 {
		return Target{}, ErrNoTarget
	}

	target := c.api.WindowThreadID(hwnd)
	self := c.api.CurrentThreadID()
	attached := false
	if target != self {
		attached = c.api.AttachThreadInput(self, target, true)
	}
	focused := c.api.Focus()
	if attached {
		c.api.AttachThreadInput(self, target, false)
	}

	if focused != 0 {
		return Target{Handle: focused, Focused: true}, nil
	}
	slog.Debug("compat injector: no focused control, using foreground window", "hwnd", hwnd)
	return Target{Handle: hwnd}, nil
}

// Inject posts one WM_CHAR per rune. Newlines become an Enter key press;
// "\r\n" and a lone '\r' count as one newline.
func (c *Compat) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	t, err := c.ResolveTarget(ctx)
	if err != nil {
		return err
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, r := range text {
		if r == '\n' || r == '\r' {
			if err := c.api.PostMessage(t.Handle, wmKeyDown, vkReturn, lparamReturnDown); err != nil {
				return fmt.Errorf("delivery: post key down: %w", err)
			}
			if err := sleep(ctx, c.charDelay); err != nil {
				return err
			}
			if err := c.api.PostMessage(t.Handle, wmKeyUp, vkReturn, lparamReturnUp); err != nil {
				return fmt.Errorf("delivery: post key up: %w", err)
			}
		} else if err := c.postRune(t.Handle, r); err != nil {
			return err
		}
		if err := sleep(ctx, c.charDelay); err != nil {
			return err
		}
	}
	return nil
}

// postRune posts r as WM_CHAR. Runes outside the BMP are sent as a UTF-16
// surrogate pair.
func (c *Compat) postRune(hwnd uintptr, r rune) error {
	for _, u := range utf16.Encode([]rune{r}) {
		if err := c.api.PostMessage(hwnd, wmChar, uintptr(u), 0); err != nil {
			return fmt.Errorf("delivery: post char: %w", err)
		}
	}
	return nil
}
