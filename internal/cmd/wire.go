package cmd

import (
	"context"
	"fmt"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/moonrepo/moon/internal/actiongraph"
	"github.com/moonrepo/moon/internal/cacheengine"
	"github.com/moonrepo/moon/internal/command"
	"github.com/moonrepo/moon/internal/config"
	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/pipeline"
	"github.com/moonrepo/moon/internal/projectgraph"
	"github.com/moonrepo/moon/internal/reporter"
	"github.com/moonrepo/moon/internal/runner"
	"github.com/moonrepo/moon/internal/target"
	"github.com/moonrepo/moon/internal/toolchainadapter"
	"github.com/moonrepo/moon/internal/vcsadapter"
	"github.com/moonrepo/moon/internal/workspace"
)

// wired bundles every long-lived collaborator one CLI invocation needs,
// assembled once per verb and then driven through a single
// actiongraph.Builder.Build -> pipeline.Run cycle.
type wired struct {
	logger     hclog.Logger
	ws         *workspace.Workspace
	projects   *projectgraph.Graph
	cache      *cacheengine.Engine
	toolchains map[id.Id]toolchainadapter.Adapter
	executor   *command.Executor
}

// buildToolchains constructs one toolchainadapter.Adapter per plugin entry
// in toolchain.yml, defaulting to an npm-flavored node adapter when config
// does not name a specific package manager. Every real ToolchainAdapter is
// a plugin process, so this in-process reference adapter is what actually
// executes install/sync/exec work in this repo.
func buildToolchains(tc *config.ToolchainConfig) (map[id.Id]toolchainadapter.Adapter, error) {
	out := make(map[id.Id]toolchainadapter.Adapter, len(tc.Plugins))
	for name, plugin := range tc.Plugins {
		tcId, err := id.New(name)
		if err != nil {
			return nil, fmt.Errorf("cmd: toolchain id %q: %w", name, err)
		}
		packageManager := plugin.Config["packageManager"]
		if packageManager == "" {
			packageManager = "npm"
		}
		lockFile := plugin.Config["lockFile"]
		if lockFile == "" {
			lockFile = defaultLockFile(packageManager)
		}
		out[tcId] = &toolchainadapter.Node{
			Id:              tcId,
			PackageManager:  packageManager,
			LockFile:        lockFile,
			ManifestFile:    "package.json",
			VendorDir:       "node_modules",
			VersionFilePath: plugin.Config["versionFile"],
		}
	}
	return out, nil
}

func defaultLockFile(packageManager string) string {
	switch packageManager {
	case "yarn":
		return "yarn.lock"
	case "pnpm":
		return "pnpm-lock.yaml"
	case "bun":
		return "bun.lockb"
	default:
		return "package-lock.json"
	}
}

// wire loads the workspace, its project graph, cache engine, toolchain
// adapters, and command executor for one CLI invocation.
func wire(rc resolvedConfig) (*wired, error) {
	log := newLogger(rc.logLevel)

	ws, err := workspace.Load(rc.root, log)
	if err != nil {
		return nil, withExitCode(fmt.Errorf("cmd: loading workspace: %w", err), 2)
	}

	projects, err := ws.BuildProjectGraph()
	if err != nil {
		return nil, withExitCode(fmt.Errorf("cmd: building project graph: %w", err), 2)
	}

	cacheMode := rc.cacheMode
	if cacheMode == "" {
		cacheMode = ws.Config.Runner.CacheMode
	}
	mode, err := cacheengine.ParseMode(cacheMode)
	if err != nil {
		return nil, withExitCode(err, 2)
	}
	cache, err := cacheengine.New(rc.root, mode, log)
	if err != nil {
		return nil, err
	}

	toolchains, err := buildToolchains(ws.Toolchain)
	if err != nil {
		return nil, withExitCode(err, 2)
	}

	return &wired{
		logger:     log,
		ws:         ws,
		projects:   projects,
		cache:      cache,
		toolchains: toolchains,
		executor:   command.New(log),
	}, nil
}

func (w *wired) Close() {
	w.executor.Close()
}

// parseTargets parses each "project:task"-shaped CLI argument into a
// target.Target, the root set the Action Graph Builder walks out from.
func parseTargets(args []string) ([]target.Target, error) {
	targets := make([]target.Target, 0, len(args))
	for _, a := range args {
		t, err := target.Parse(a)
		if err != nil {
			return nil, withExitCode(fmt.Errorf("cmd: %q: %w", a, err), 2)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// runOptions collects the per-verb knobs that differ between `run`, `check`,
// and `ci`: which targets to include, how far affected-detection
// widens the dependent closure, and whether the run is non-interactive.
type runOptions struct {
	targets         []string
	affected        bool
	baseRevision    string
	downstream      actiongraph.DownstreamScope
	ci              bool
	ciCheck         bool
	passthroughArgs []string
	concurrency     int
	quiet           bool
}

// execute wires a built wired bundle through one Action Graph Builder ->
// Action Pipeline cycle and prints the final summary, the single operation
// the run and check verbs reduce to.
func execute(rc resolvedConfig, opts runOptions) error {
	w, err := wire(rc)
	if err != nil {
		return err
	}
	defer w.Close()

	targets, err := parseTargets(opts.targets)
	if err != nil {
		return err
	}

	builder := actiongraph.NewBuilder(w.projects)
	reqs := actiongraph.RunRequirements{
		CI:         opts.ci,
		CICheck:    opts.ciCheck,
		Dependents: opts.downstream,
	}
	graph, err := builder.Build(targets, reqs, opts.affected)
	if err != nil {
		return withExitCode(fmt.Errorf("cmd: building action graph: %w", err), 2)
	}

	return executeGraph(rc, w, graph, opts)
}

// executeGraph drives an already-built Action Graph through a Runner and
// Pipeline and prints the final summary. It is the shared tail of execute
// (run/check), of the ci verb, which builds its own graph with CI run
// requirements, and of the sync verb, which builds its graph via
// actiongraph.Builder.BuildSync instead of Build.
func executeGraph(rc resolvedConfig, w *wired, graph *actiongraph.Graph, opts runOptions) error {
	var vcs vcsadapter.Adapter = w.ws.Vcs
	r := runner.New(rc.root, w.projects, w.cache, vcs, w.toolchains, w.executor, w.logger)
	r.PassthroughArgs = opts.passthroughArgs
	r.BaseRevision = opts.baseRevision
	if opts.affected {
		if err := r.LoadTouchedFiles(); err != nil {
			return err
		}
	}

	console := reporter.NewConsole(w.logger, opts.quiet)
	p := pipeline.New(graph, r, pipeline.Options{
		Concurrency: opts.concurrency,
		Bail:        pipeline.Failed,
		Hooks:       console.Hooks(),
	})

	summary, err := p.Run(context.Background())
	if err != nil {
		return err
	}
	console.Summary(summary)
	if summary.Aborted {
		abortErr := summary.Err()
		if abortErr == nil {
			abortErr = fmt.Errorf("cmd: pipeline aborted")
		}
		return withExitCode(abortErr, 3)
	}
	return summary.Err()
}
