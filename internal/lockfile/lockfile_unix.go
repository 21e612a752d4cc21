//go:build !windows

package lockfile

import (
	"os"
	"syscall"
)

// IsProcessAlive checks whether a process with the given PID is running.
func IsProcessAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
