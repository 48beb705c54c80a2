package delivery

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
)

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// Paster sends the platform paste shortcut to the focused window.
type Paster interface {
	Paste() error
}

// systemClipboard is the [Clipboard] backed by atotto/clipboard.
type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

// SystemClipboard returns the process-wide system clipboard.
func SystemClipboard() Clipboard { return systemClipboard{} }

// keyboardPaster presses Ctrl+V through keybd_event. The key bonding is
// created on first use because on Linux it opens /dev/uinput and needs a
// moment before the virtual device accepts events.
type keyboardPaster struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

func (p *keyboardPaster) Paste() error {
	p.once.Do(func() {
		p.kb, p.err = keybd_event.NewKeyBonding()
		if p.err == nil && runtime.GOOS == "linux" {
			time.Sleep(2 * time.Second)
		}
	})
	if p.err != nil {
		return fmt.Errorf("delivery: keyboard: %w", p.err)
	}
	p.kb.Clear()
	p.kb.HasCTRL(true)
	p.kb.SetKeys(keybd_event.VK_V)
	if err := p.kb.Launching(); err != nil {
		return fmt.Errorf("delivery: press ctrl+v: %w", err)
	}
	return nil
}

// StandardOption configures a [Standard] injector.
type StandardOption func(*Standard)

// WithRestore controls whether the previous clipboard contents are written
// back after pasting.
func WithRestore(restore bool) StandardOption {
	return func(s *Standard) { s.restore = restore }
}

// WithPasteDelays overrides the wait before pressing Ctrl+V and the wait
// before restoring the clipboard.
func WithPasteDelays(beforePaste, beforeRestore time.Duration) StandardOption {
	return func(s *Standard) {
		s.beforePaste = beforePaste
		s.beforeRestore = beforeRestore
	}
}

// Standard injects text by pasting it through the clipboard.
type Standard struct {
	clip          Clipboard
	paster        Paster
	restore       bool
	beforePaste   time.Duration
	beforeRestore time.Duration
}

var _ Injector = (*Standard)(nil)

// NewStandard creates a clipboard-paste injector. The clipboard is restored
// by default.
func NewStandard(clip Clipboard, paster Paster, opts ...StandardOption) *Standard {
	s := &Standard{
		clip:          clip,
		paster:        paster,
		restore:       true,
		beforePaste:   80 * time.Millisecond,
		beforeRestore: 120 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ResolveTarget reports [ErrNoTarget] when the platform has no clipboard.
// Otherwise the target is whatever window has keyboard focus.
func (s *Standard) ResolveTarget(context.Context) (Target, error) {
	if _, ok := s.clip.(systemClipboard); ok && clipboard.Unsupported {
		return Target{}, ErrNoTarget
	}
	return Target{}, nil
}

// Inject writes text to the clipboard, presses Ctrl+V and, when enabled,
// puts the previous clipboard contents back.
func (s *Standard) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if _, err := s.ResolveTarget(ctx); err != nil {
		return err
	}

	// An unreadable clipboard (empty or non-text) is not worth failing for.
	prev, prevErr := s.clip.ReadAll()
	if err := s.clip.WriteAll(text); err != nil {
		return fmt.Errorf("delivery: write clipboard: %w", err)
	}
	if err := sleep(ctx, s.beforePaste); err != nil {
		return err
	}
	pasteErr := s.paster.Paste()

	if s.restore && prevErr == nil {
		// Restore even when the paste failed or ctx ended.
		_ = sleep(ctx, s.beforeRestore)
		if err := s.clip.WriteAll(prev); err != nil && pasteErr == nil {
			return fmt.Errorf("delivery: restore clipboard: %w", err)
		}
	}
	return pasteErr
}
