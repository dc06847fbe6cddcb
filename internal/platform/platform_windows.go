//go:build windows
// +build windows

package platform

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"mihomo-launcher/internal/constants"
)

// GetExecutableName returns the platform-specific engine executable name
func GetExecutableName() string {
	return constants.EngineProcessNameWindows
}

// GetProcessNameForCheck returns the process name to check for running instances
func GetProcessNameForCheck() string {
	return constants.EngineProcessNameWindows
}

// KillProcessByPID kills a process and its children by PID
func KillProcessByPID(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
}

// Interrupt sends CTRL_BREAK_EVENT to the process; os.Interrupt is not
// deliverable on Windows.
func Interrupt(p *os.Process) error {
	dll := syscall.NewLazyDLL("kernel32.dll")
	proc := dll.NewProc("GenerateConsoleCtrlEvent")
	if r, _, e := proc.Call(uintptr(syscall.CTRL_BREAK_EVENT), uintptr(p.Pid)); r == 0 {
		return e
	}
	return nil
}

// PrepareCommand prepares a command with platform-specific attributes
func PrepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: 0x08000000 | syscall.CREATE_NEW_PROCESS_GROUP, // CREATE_NO_WINDOW
	}
}
