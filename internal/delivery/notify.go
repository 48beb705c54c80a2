package delivery

import (
	"fmt"

	"github.com/gen2brain/beeep"
)

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(title, message string) error
}

// DesktopNotifier sends notifications through the platform notification
// service.
type DesktopNotifier struct {
	// Icon is an optional path to an icon file.
	Icon string
}

// Notify shows title and message.
func (n DesktopNotifier) Notify(title, message string) error {
	if err := beeep.Notify(title, message, n.Icon); err != nil {
		return fmt.Errorf("delivery: notify: %w", err)
	}
	return nil
}

// NopNotifier drops every notification.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(string, string) error { return nil }
