//go:build !windows

package delivery

import "errors"

// noWindows reports no foreground window, so the compat injector always
// returns ErrNoTarget off Windows.
type noWindows struct{}

func newWindowAPI() windowAPI { return noWindows{} }

func (noWindows) ForegroundWindow() uintptr                   { return 0 }
func (noWindows) WindowThreadID(uintptr) uint32               { return 0 }
func (noWindows) CurrentThreadID() uint32                     { return 0 }
func (noWindows) AttachThreadInput(uint32, uint32, bool) bool { return false }
func (noWindows) Focus() uintptr                              { return 0 }

func (noWindows) PostMessage(uintptr, uint32, uintptr, uintptr) error {
	return errors.New("delivery: window messages are only available on Windows")
}
