//go:build !windows

package daemon

import (
	"fmt"
	"syscall"
)

const (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

// alive uses signal 0, which checks for the process without delivering anything.
func alive(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, err := p.Read()
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	return syscall.Kill(pid, sig)
}
