//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// Windows has no SIGTERM delivery; both stop paths end in os.Kill.
const (
	sigTerm = syscall.SIGKILL
	sigKill = syscall.SIGKILL
)

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc.Signal(sig)
}
