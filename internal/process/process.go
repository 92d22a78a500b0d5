// Package process runs child processes on behalf of the command
// executor and keeps track of every one still alive, so a single Close
// tears the whole set down when the pipeline is cancelled or the CLI is
// interrupted. Exec is synchronous; concurrency lives in the pipeline's
// scheduler, not here.
package process

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// gracePeriod is how long a child gets between the polite stop signal and
// a hard kill during shutdown.
const gracePeriod = 2 * time.Second

// ChildExit reports a child that ran to completion with a non-zero exit
// code. It is deliberately distinct from spawn failures (command not
// found, permission denied), which surface as ordinary errors: callers
// retry and record the two cases differently.
type ChildExit struct {
	ExitCode int
	Command  string
}

func (e *ChildExit) Error() string {
	return fmt.Sprintf("process: %s: exit code %d", e.Command, e.ExitCode)
}

// Manager executes commands and owns their lifetime.
type Manager struct {
	logger hclog.Logger

	mu      sync.Mutex
	running map[*exec.Cmd]struct{}
	closed  bool
}

// NewManager constructs an idle Manager.
func NewManager(logger hclog.Logger) *Manager {
	return &Manager{
		logger:  logger,
		running: make(map[*exec.Cmd]struct{}),
	}
}

// Exec starts cmd and waits for it to finish. A non-zero exit comes back
// as *ChildExit; a failure to start at all comes back as the underlying
// error. After Close, Exec refuses new work so a shutdown can't race
// fresh spawns.
func (m *Manager) Exec(cmd *exec.Cmd) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("process: manager is closed")
	}
	if err := cmd.Start(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.running[cmd] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug("child started", "pid", cmd.Process.Pid, "command", cmd.Path)
	err := cmd.Wait()

	m.mu.Lock()
	delete(m.running, cmd)
	m.mu.Unlock()

	if exitErr, ok := err.(*exec.ExitError); ok {
		return &ChildExit{ExitCode: exitErr.ExitCode(), Command: cmd.Path}
	}
	return err
}

// Close stops accepting work and tears down every running child: first
// the platform's polite stop signal, then a hard kill for anything still
// alive after the grace period. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	count := len(m.running)
	for cmd := range m.running {
		if cmd.Process != nil {
			_ = stopSignal(cmd.Process)
		}
	}
	m.mu.Unlock()

	if count == 0 {
		return
	}
	m.logger.Debug("stopping children", "count", count)

	// Exec removes each child from the running set as its Wait returns,
	// so membership is the liveness signal; no need to poke at
	// ProcessState from a second goroutine.
	deadline := time.After(gracePeriod)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			m.mu.Lock()
			for cmd := range m.running {
				if cmd.Process != nil {
					_ = cmd.Process.Kill()
				}
			}
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.mu.Lock()
			remaining := len(m.running)
			m.mu.Unlock()
			if remaining == 0 {
				return
			}
		}
	}
}
