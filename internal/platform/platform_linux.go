//go:build linux
// +build linux

package platform

import (
	"os"
	"os/exec"
	"strconv"

	"mihomo-launcher/internal/constants"
)

// GetExecutableName returns the platform-specific engine executable name
func GetExecutableName() string {
	return constants.EngineExecName
}

// GetProcessNameForCheck returns the process name to check for running instances
func GetProcessNameForCheck() string {
	return constants.EngineProcessNameUnix
}

// KillProcessByPID kills a process by PID
func KillProcessByPID(pid int) error {
	return exec.Command("kill", "-9", strconv.Itoa(pid)).Run()
}

// Interrupt asks the process to shut down gracefully.
func Interrupt(p *os.Process) error {
	return p.Signal(os.Interrupt)
}

// PrepareCommand prepares a command with platform-specific attributes
func PrepareCommand(cmd *exec.Cmd) {
	// No special attributes needed for Linux
	// Capabilities should be set on the mihomo binary itself
}
