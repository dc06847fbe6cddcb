package debuglog

import (
	"os"
)

// MaxLogFileSize is the size after which a log file is rotated to <name>.old.
const MaxLogFileSize = 10 * 1024 * 1024

// RotateIfNeeded renames logPath to logPath+".old" when it exceeds MaxLogFileSize.
func RotateIfNeeded(logPath string) {
	info, err := os.Stat(logPath)
	if err != nil {
		return
	}
	if info.Size() <= MaxLogFileSize {
		return
	}
	oldPath := logPath + ".old"
	_ = os.Remove(oldPath)
	if err := os.Rename(logPath, oldPath); err != nil {
		WarnLog("RotateIfNeeded: failed to rotate log file %s: %v", logPath, err)
		return
	}
	InfoLog("RotateIfNeeded: rotated log file %s (size: %d bytes)", logPath, info.Size())
}

// OpenFileWithRotation rotates logPath if needed and opens it in append mode.
func OpenFileWithRotation(logPath string) (*os.File, error) {
	RotateIfNeeded(logPath)
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
