// Package cmd holds the root cobra command and its verbs for moon's CLI,
// a thin binding layer: it discovers the workspace root, loads config,
// and wires workspace.Load's result through actiongraph.Builder and
// pipeline.Pipeline exactly once per invocation. None of the action
// pipeline's own logic lives here.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	hclog "github.com/hashicorp/go-hclog"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/yookoala/realpath"

	"github.com/moonrepo/moon/internal/config"
	"github.com/moonrepo/moon/internal/moonpath"
	"github.com/moonrepo/moon/internal/signals"
)

// globalFlags are the persistent flags bound on the root command, read by
// every verb's RunE.
type globalFlags struct {
	workspaceRoot string
	cacheMode     string
	concurrency   int
	logLevel      string
}

func (f *globalFlags) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.workspaceRoot, "workspace-root", "", "workspace root directory (default: discovered by walking up for .moon)")
	flags.StringVar(&f.cacheMode, "cache", "", "cache mode: off, read, write, read-write (default: from workspace.yml)")
	flags.IntVar(&f.concurrency, "concurrency", 0, "max concurrent non-persistent actions (default: logical CPU count)")
	flags.StringVar(&f.logLevel, "log", "", "log level: trace, debug, info, warn, error (default: info)")
}

// discoverRoot resolves the workspace root: an explicit
// --workspace-root flag wins (after "~" expansion and symlink resolution);
// otherwise it walks up from cwd looking for a ".moon" directory, so the
// monorepo root is found from an arbitrary subdirectory.
func discoverRoot(explicit string) (string, error) {
	if explicit != "" {
		expanded, err := homedir.Expand(explicit)
		if err != nil {
			return "", fmt.Errorf("cmd: expanding --workspace-root %q: %w", explicit, err)
		}
		resolved, err := realpath.Realpath(expanded)
		if err != nil {
			return "", fmt.Errorf("cmd: resolving --workspace-root %q: %w", expanded, err)
		}
		return resolved, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("cmd: reading cwd: %w", err)
	}
	resolved, err := realpath.Realpath(cwd)
	if err != nil {
		resolved = cwd
	}

	found, err := moonpath.FindupFrom(".moon", resolved)
	if err != nil {
		return "", fmt.Errorf("cmd: searching for .moon directory: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("cmd: no .moon directory found in %q or any parent", resolved)
	}
	return filepath.Dir(found), nil
}

// resolvedConfig is the merged env-overlay + flag + file configuration one
// verb invocation runs against.
type resolvedConfig struct {
	root        string
	cacheMode   string
	concurrency int
	logLevel    string
}

// resolve applies the precedence flag > MOON_* env var > workspace.yml.
func (f *globalFlags) resolve() (resolvedConfig, error) {
	env := config.LoadEnvOverlay()
	explicitRoot := f.workspaceRoot
	if explicitRoot == "" {
		explicitRoot = env.WorkspaceRoot
	}
	root, err := discoverRoot(explicitRoot)
	if err != nil {
		return resolvedConfig{}, withExitCode(err, 2)
	}

	rc := resolvedConfig{root: root, cacheMode: f.cacheMode, concurrency: f.concurrency, logLevel: f.logLevel}
	if rc.cacheMode == "" {
		rc.cacheMode = env.Cache
	}
	if rc.concurrency == 0 {
		rc.concurrency = env.Concurrency
	}
	if rc.logLevel == "" {
		rc.logLevel = env.Log
	}
	return rc, nil
}

// RunWithArgs runs moon with the specified arguments (excluding the binary
// name itself), returning the process exit code.
func RunWithArgs(args []string) int {
	signalWatcher := signals.NewWatcher()
	root := newRootCmd(signalWatcher)
	root.SetArgs(args)

	doneCh := make(chan struct{})
	var execErr error
	go func() {
		execErr = root.Execute()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		signalWatcher.Close()
		return exitCodeFor(execErr)
	case <-signalWatcher.Done():
		return 3
	}
}

func newRootCmd(signalWatcher *signals.Watcher) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:              "moon",
		Short:            "A polyglot monorepo task orchestrator and build runner",
		TraverseChildren: true,
		SilenceUsage:     true,
	}
	flags.addFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newCheckCmd(flags))
	root.AddCommand(newCiCmd(flags, signalWatcher))
	root.AddCommand(newQueryCmd(flags))
	root.AddCommand(newCleanCmd(flags))
	root.AddCommand(newSyncCmd(flags))

	return root
}

// newLogger builds the root hclog.Logger for one CLI invocation, level
// selected by MOON_LOG/--log.
func newLogger(level string) hclog.Logger {
	if level == "" {
		level = "info"
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "moon",
		Level: hclog.LevelFromString(level),
	})
}
