//go:build !windows
// +build !windows

package process

import (
	"os"
	"syscall"
)

// stopSignal asks a child to shut down cleanly. SIGINT mirrors what the
// child would receive from a Ctrl-C in the controlling terminal.
func stopSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}
