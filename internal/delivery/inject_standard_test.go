package delivery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/dictum/internal/delivery"
)

// fakeClipboard records every write.
type fakeClipboard struct {
	content string
	readErr error
	writes  []string
}

func (c *fakeClipboard) ReadAll() (string, error) {
	if c.readErr != nil {
		return "", c.readErr
	}
	return c.content, nil
}

func (c *fakeClipboard) WriteAll(text string) error {
	c.content = text
	c.writes = append(c.writes, text)
	return nil
}

// fakePaster captures the clipboard content at paste time.
type fakePaster struct {
	clip   *fakeClipboard
	pasted []string
	err    error
}

func (p *fakePaster) Paste() error {
	p.pasted = append(p.pasted, p.clip.content)
	return p.err
}

func newStandard(clip *fakeClipboard, paster *fakePaster, opts ...delivery.StandardOption) *delivery.Standard {
	opts = append([]delivery.StandardOption{delivery.WithPasteDelays(0, 0)}, opts...)
	return delivery.NewStandard(clip, paster, opts...)
}

func TestStandard_PastesAndRestores(t *testing.T) {
	t.Parallel()

	clip := &fakeClipboard{content: "previous"}
	paster := &fakePaster{clip: clip}

	if err := newStandard(clip, paster).Inject(context.Background(), "hello "); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if diff := cmp.Diff([]string{"hello "}, paster.pasted); diff != "" {
		t.Errorf("pasted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"hello ", "previous"}, clip.writes); diff != "" {
		t.Errorf("clipboard writes mismatch (-want +got):\n%s", diff)
	}
}

func TestStandard_NoRestore(t *testing.T) {
	t.Parallel()

	clip := &fakeClipboard{content: "previous"}
	paster := &fakePaster{clip: clip}

	if err := newStandard(clip, paster, delivery.WithRestore(false)).Inject(context.Background(), "x"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if clip.content != "x" {
		t.Errorf("clipboard = %q, want the injected text", clip.content)
	}
}

func TestStandard_UnreadableClipboardIsNotRestored(t *testing.T) {
	t.Parallel()

	clip := &fakeClipboard{readErr: errors.New("not text")}
	paster := &fakePaster{clip: clip}

	if err := newStandard(clip, paster).Inject(context.Background(), "x"); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if diff := cmp.Diff([]string{"x"}, clip.writes); diff != "" {
		t.Errorf("clipboard writes mismatch (-want +got):\n%s", diff)
	}
}

func TestStandard_PasteFailureStillRestores(t *testing.T) {
	t.Parallel()

	boom := errors.New("no uinput")
	clip := &fakeClipboard{content: "keep me"}
	paster := &fakePaster{clip: clip, err: boom}

	err := newStandard(clip, paster).Inject(context.Background(), "x")
	if !errors.Is(err, boom) {
		t.Fatalf("Inject error = %v, want %v", err, boom)
	}
	if clip.content != "keep me" {
		t.Errorf("clipboard = %q, want restored", clip.content)
	}
}

func TestStandard_EmptyTextDoesNothing(t *testing.T) {
	t.Parallel()

	clip := &fakeClipboard{content: "c"}
	paster := &fakePaster{clip: clip}
	if err := newStandard(clip, paster).Inject(context.Background(), ""); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if len(clip.writes) != 0 || len(paster.pasted) != 0 {
		t.Errorf("writes=%v pasted=%v, want none", clip.writes, paster.pasted)
	}
}

func TestNewInjector(t *testing.T) {
	t.Parallel()

	for _, strategy := range []string{"", delivery.StrategyStandard, delivery.StrategyCompat, delivery.StrategyNone} {
		if _, err := delivery.NewInjector(delivery.InjectorConfig{Strategy: strategy}); err != nil {
			t.Errorf("NewInjector(%q): %v", strategy, err)
		}
	}
	if _, err := delivery.NewInjector(delivery.InjectorConfig{Strategy: "telepathy"}); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestNop(t *testing.T) {
	t.Parallel()

	var n delivery.Nop
	if _, err := n.ResolveTarget(context.Background()); !errors.Is(err, delivery.ErrNoTarget) {
		t.Errorf("ResolveTarget error = %v, want ErrNoTarget", err)
	}
	if err := n.Inject(context.Background(), "x"); err != nil {
		t.Errorf("Inject: %v", err)
	}
}
