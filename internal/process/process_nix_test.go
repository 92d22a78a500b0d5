//go:build !windows
// +build !windows

package process

import (
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

func newTestManager() *Manager {
	return NewManager(hclog.NewNullLogger())
}

func TestExecSuccess(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	assert.NilError(t, m.Exec(exec.Command("true")))
}

func TestExecNonZeroExitIsChildExit(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	err := m.Exec(exec.Command("false"))
	var exit *ChildExit
	assert.Assert(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.ExitCode)
}

func TestExecSpawnFailureIsNotChildExit(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	err := m.Exec(exec.Command("definitely-not-a-real-binary-name"))
	assert.Assert(t, err != nil)
	var exit *ChildExit
	assert.Assert(t, !errors.As(err, &exit))
}

func TestExecAfterCloseRefused(t *testing.T) {
	m := newTestManager()
	m.Close()

	err := m.Exec(exec.Command("true"))
	assert.ErrorContains(t, err, "manager is closed")
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newTestManager()
	m.Close()
	m.Close()
}

func TestCloseStopsRunningChildren(t *testing.T) {
	m := newTestManager()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// A sleep long enough that only Close can end it within the test.
		_ = m.Exec(exec.Command("sleep", "60"))
	}()

	// Give the child a moment to spawn, then tear everything down; the
	// Exec goroutine returning proves the child died.
	for i := 0; ; i++ {
		m.mu.Lock()
		n := len(m.running)
		m.mu.Unlock()
		if n == 1 || i > 1000 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	m.Close()
	wg.Wait()
}

func TestConcurrentExecs(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Check(t, m.Exec(exec.Command("true")) == nil)
		}()
	}
	wg.Wait()
}
