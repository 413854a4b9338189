// Package daemon tracks the background `pomo serve` process through a PID file.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Acquire when a live process owns the PID file.
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Stop when no live process owns the PID file.
	ErrNotRunning = errors.New("not running")
)

// PIDFile manages the PID file of a background server.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write records the current process.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID records pid, creating the parent directory if needed.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read returns the recorded PID.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Acquire records pid unless a live process already owns the file. A stale
// file left by a crashed server is replaced.
func (p *PIDFile) Acquire(pid int) error {
	if owner, running := p.IsRunning(); running {
		return fmt.Errorf("server %w (PID %d)", ErrAlreadyRunning, owner)
	}
	return p.WritePID(pid)
}

// Stop asks the recorded process to terminate and waits up to grace for it to
// exit before killing it. The PID file is removed either way.
func (p *PIDFile) Stop(ctx context.Context, grace time.Duration) (int, error) {
	pid, running := p.IsRunning()
	if !running {
		_ = p.Remove()
		return pid, fmt.Errorf("server %w", ErrNotRunning)
	}
	defer func() { _ = p.Remove() }()

	if err := p.Signal(sigTerm); err != nil {
		return pid, fmt.Errorf("signal PID %d: %w", pid, err)
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return pid, ctx.Err()
		case <-deadline.C:
			if err := p.Signal(sigKill); err != nil {
				return pid, fmt.Errorf("kill PID %d: %w", pid, err)
			}
			return pid, nil
		case <-poll.C:
			if !alive(pid) {
				return pid, nil
			}
		}
	}
}

// IsRunning reports the recorded PID and whether that process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}
