//go:build windows

package delivery

import (
	"golang.org/x/sys/windows"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procAttachThreadInput        = user32.NewProc("AttachThreadInput")
	procGetFocus                 = user32.NewProc("GetFocus")
	procPostMessageW             = user32.NewProc("PostMessageW")
)

// win32 implements windowAPI with user32.dll.
type win32 struct{}

func newWindowAPI() windowAPI { return win32{} }

func (win32) ForegroundWindow() uintptr {
	r, _, _ := procGetForegroundWindow.Call()
	return r
}

func (win32) WindowThreadID(hwnd uintptr) uint32 {
	r, _, _ := procGetWindowThreadProcessId.Call(hwnd, 0)
	return uint32(r)
}

func (win32) CurrentThreadID() uint32 { return windows.GetCurrentThreadId() }

func (win32) AttachThreadInput(from, to uint32, attach bool) bool {
	var flag uintptr
	if attach {
		flag = 1
	}
	r, _, _ := procAttachThreadInput.Call(uintptr(from), uintptr(to), flag)
	return r != 0
}

func (win32) Focus() uintptr {
	r, _, _ := procGetFocus.Call()
	return r
}

func (win32) PostMessage(hwnd uintptr, msg uint32, wparam, lparam uintptr) error {
	r, _, err := procPostMessageW.Call(hwnd, uintptr(msg), wparam, lparam)
	if r == 0 {
		return err
	}
	return nil
}
