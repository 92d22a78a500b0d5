package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-gatedio"
	"github.com/hashicorp/go-hclog"

	"github.com/moonrepo/moon/internal/colorcache"
	"github.com/moonrepo/moon/internal/process"
)

// IOMode selects how a running command's stdio is wired.
type IOMode int

const (
	// Capture buffers stdout/stderr entirely, emitting nothing until the
	// command finishes. Used when no parent TTY is attached.
	Capture IOMode = iota
	// Stream forwards output line-by-line to the parent while still
	// capturing it into memory, prefixed when more than one task streams
	// concurrently.
	Stream
	// Interactive inherits the parent's stdio directly.
	Interactive
)

const heartbeatInterval = 30 * time.Second

// Result is the outcome of running a BuiltCommand, possibly after retries.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Attempts int
	TimedOut bool
}

// HeartbeatFunc is invoked every 30s a non-persistent, non-interactive
// task keeps running, receiving the elapsed duration.
type HeartbeatFunc func(elapsed time.Duration)

// Executor runs BuiltCommands through a process.Manager, applying I/O
// mode, line prefixing, heartbeats, and retries.
type Executor struct {
	Manager *process.Manager
	Colors  *colorcache.ColorCache
	Logger  hclog.Logger
}

// New constructs an Executor backed by its own process.Manager.
func New(logger hclog.Logger) *Executor {
	return &Executor{
		Manager: process.NewManager(logger.Named("process")),
		Colors:  colorcache.New(),
		Logger:  logger,
	}
}

// Close stops every process the Executor's Manager is still tracking.
func (e *Executor) Close() {
	e.Manager.Close()
}

// Run executes cmd, retrying up to cmd.RetryCount additional times on
// non-zero exit or spawn error, and reports the last
// attempt's outcome. A timeout, if set, applies per attempt.
func (e *Executor) Run(ctx context.Context, cmd BuiltCommand, mode IOMode, prefix string, timeout time.Duration, onHeartbeat HeartbeatFunc) (Result, error) {
	var lastResult Result
	var lastErr error

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	maxAttempts := cmd.RetryCount + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.runOnce(ctx, cmd, mode, prefix, timeout, onHeartbeat)
		result.Attempts = attempt
		lastResult, lastErr = result, err

		if err == nil && result.ExitCode == 0 {
			return result, nil
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return result, ctx.Err()
		}
		if attempt < maxAttempts {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	// A non-zero exit is surfaced as an attempt result, never a Go-level
	// error from the executor's perspective.
	return lastResult, lastErr
}

func (e *Executor) runOnce(ctx context.Context, cmd BuiltCommand, mode IOMode, prefix string, timeout time.Duration, onHeartbeat HeartbeatFunc) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	name, args := shellInvocation(cmd)
	execCmd := exec.CommandContext(runCtx, name, args...)
	execCmd.Dir = cmd.WorkingDir
	execCmd.Env = envSlice(cmd.Env)

	// Gated buffers synchronize the child's pipe goroutines against the
	// post-wait reads below, so a slow pipe flush can't race Result
	// assembly.
	stdout := gatedio.NewByteBuffer()
	stderr := gatedio.NewByteBuffer()
	switch mode {
	case Interactive:
		execCmd.Stdin = os.Stdin
		execCmd.Stdout = os.Stdout
		execCmd.Stderr = os.Stderr
	case Stream:
		execCmd.Stdout = io.MultiWriter(stdout, e.prefixedWriter(os.Stdout, prefix))
		execCmd.Stderr = io.MultiWriter(stderr, e.prefixedWriter(os.Stderr, prefix))
	default: // Capture
		execCmd.Stdout = stdout
		execCmd.Stderr = stderr
	}

	var stop chan struct{}
	var wg sync.WaitGroup
	if onHeartbeat != nil && !cmd.Persistent && !cmd.Interactive {
		stop = make(chan struct{})
		wg.Add(1)
		go e.heartbeat(stop, &wg, onHeartbeat)
		defer func() {
			close(stop)
			wg.Wait()
		}()
	}

	err := e.Manager.Exec(execCmd)

	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	var exitErr *process.ChildExit
	switch {
	case err == nil:
		result.ExitCode = 0
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode
		return result, nil
	default:
		// Spawn-level failure (e.g. executable not found): surfaced as the
		// error path so the retry loop above distinguishes it from a
		// completed-but-failing attempt.
		return result, err
	}
}

func (e *Executor) heartbeat(stop <-chan struct{}, wg *sync.WaitGroup, onHeartbeat HeartbeatFunc) {
	defer wg.Done()
	start := time.Now()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			onHeartbeat(time.Since(start))
		}
	}
}

// prefixedWriter wraps w so each line written to it is prefixed with a
// color-coded label; prefix widths are aligned across concurrently
// streaming tasks by the caller.
func (e *Executor) prefixedWriter(w io.Writer, prefix string) io.Writer {
	if prefix == "" {
		return w
	}
	return &linePrefixWriter{out: w, prefix: e.Colors.PrefixWithColor(prefix, prefix)}
}

// linePrefixWriter buffers partial lines and emits the configured prefix
// at the start of every complete line, so interleaved output from
// concurrent tasks stays attributable.
type linePrefixWriter struct {
	out    io.Writer
	prefix string
	buf    bytes.Buffer
	mu     sync.Mutex
}

func (p *linePrefixWriter) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(data)
	p.buf.Write(data)
	for {
		line, err := p.buf.ReadString('\n')
		if err != nil {
			// Not a complete line yet; put it back for the next Write.
			p.buf.Reset()
			p.buf.WriteString(line)
			break
		}
		if _, err := io.WriteString(p.out, p.prefix+line); err != nil {
			return n, err
		}
	}
	return n, nil
}

func envSlice(env map[string]string) []string {
	out := os.Environ()
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
