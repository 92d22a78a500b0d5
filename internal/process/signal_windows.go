//go:build windows
// +build windows

package process

import "os"

// stopSignal asks a child to shut down. Windows has no interrupt
// delivery for arbitrary processes, so the polite phase and the hard
// phase are the same operation.
func stopSignal(p *os.Process) error {
	return p.Kill()
}
