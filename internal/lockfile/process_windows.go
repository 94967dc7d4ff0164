//go:build windows

package lockfile

import "os"

// processRunning checks if a process with the given PID is running
func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// FindProcess only succeeds for live processes on Windows.
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
