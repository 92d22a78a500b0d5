// Package runner wires the Action Graph Builder's output to the Action
// Pipeline: it implements pipeline.ActionExecutor,
// dispatching each of the six ActionNode kinds to the ToolchainAdapter,
// Hasher, Cache Engine, and Command Executor. The pipeline itself stays
// oblivious to what a node "does" (scheduling/bail/concurrency only); this
// package is where the six kinds become actual work.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"

	"github.com/moonrepo/moon/internal/actiongraph"
	"github.com/moonrepo/moon/internal/cacheengine"
	"github.com/moonrepo/moon/internal/command"
	"github.com/moonrepo/moon/internal/globby"
	"github.com/moonrepo/moon/internal/hasher"
	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/moonpath"
	"github.com/moonrepo/moon/internal/pipeline"
	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/projectgraph"
	"github.com/moonrepo/moon/internal/toolchainadapter"
	"github.com/moonrepo/moon/internal/vcsadapter"
)

// Runner implements pipeline.ActionExecutor and pipeline.DetailedExecutor
// over a built project graph, wiring every ActionNode kind to its real
// collaborators.
type Runner struct {
	WorkspaceRoot string
	Projects      *projectgraph.Graph
	Cache         *cacheengine.Engine
	Vcs           vcsadapter.Adapter
	Toolchains    map[id.Id]toolchainadapter.Adapter
	Executor      *command.Executor
	Logger        hclog.Logger

	// PassthroughArgs are appended to every RunTask invocation (everything
	// after the CLI's literal "--").
	PassthroughArgs []string
	// BaseRevision is the VCS revision affected-file detection diffs
	// against; empty means "working tree vs HEAD" (the adapter's default).
	BaseRevision string

	touched *projectTouched
}

var _ pipeline.ActionExecutor = (*Runner)(nil)
var _ pipeline.DetailedExecutor = (*Runner)(nil)

// passthroughAdapter is installed for tasks that declare no toolchains
// (plain shell tasks): ExecCommand reports no base invocation so
// command.Build falls through to the task's own command/script, and every
// other Adapter method is an inert zero value since nothing in the graph
// ever depends on a node keyed by this adapter's toolchain id.
type passthroughAdapter struct{}

func (passthroughAdapter) ToolchainId() id.Id { return "" }
func (passthroughAdapter) RegisterToolchain() (toolchainadapter.RegisterToolchainResponse, error) {
	return toolchainadapter.RegisterToolchainResponse{}, nil
}
func (passthroughAdapter) InitializeToolchain(toolchainadapter.InitializeToolchainRequest) (toolchainadapter.InitializeToolchainResponse, error) {
	return toolchainadapter.InitializeToolchainResponse{}, nil
}
func (passthroughAdapter) SyncWorkspace() error { return nil }
func (passthroughAdapter) SyncProject(toolchainadapter.SyncProjectRequest) (toolchainadapter.SyncProjectResponse, error) {
	return toolchainadapter.SyncProjectResponse{}, nil
}
func (passthroughAdapter) InstallDependencies(toolchainadapter.InstallDependenciesRequest) (toolchainadapter.InstallDependenciesResponse, error) {
	return toolchainadapter.InstallDependenciesResponse{}, nil
}
func (passthroughAdapter) DetectVersion(string) (string, error)    { return "", nil }
func (passthroughAdapter) ParseVersionFile(string) (string, error) { return "", nil }
func (passthroughAdapter) ExecCommand(string, []string) toolchainadapter.CommandSpec {
	return toolchainadapter.CommandSpec{}
}

var _ toolchainadapter.Adapter = passthroughAdapter{}

// New constructs a Runner. toolchains maps a toolchain id to the adapter
// that implements it (normally one entry per ".moon/toolchain.yml" plugin
// entry); a task whose toolchains are not present here fails at dispatch
// time with a clear error rather than a nil-pointer panic.
func New(workspaceRoot string, projects *projectgraph.Graph, cache *cacheengine.Engine, vcs vcsadapter.Adapter, toolchains map[id.Id]toolchainadapter.Adapter, exec *command.Executor, logger hclog.Logger) *Runner {
	return &Runner{
		WorkspaceRoot: workspaceRoot,
		Projects:      projects,
		Cache:         cache,
		Vcs:           vcs,
		Toolchains:    toolchains,
		Executor:      exec,
		Logger:        logger.Named("runner"),
	}
}

// skipEnvVar returns the "MOON_SKIP_<ACTION>" env var name that gates one
// ActionKind, or "" for kinds that cannot be skipped this way.
func skipEnvVar(kind actiongraph.ActionKind) string {
	switch kind {
	case actiongraph.KindSyncWorkspace:
		return "MOON_SKIP_SYNC_WORKSPACE"
	case actiongraph.KindSetupToolchain:
		return "MOON_SKIP_SETUP_TOOLCHAIN"
	case actiongraph.KindSetupProto:
		return "MOON_SKIP_SETUP_PROTO"
	case actiongraph.KindInstallDependencies:
		return "MOON_SKIP_INSTALL_DEPS"
	case actiongraph.KindSyncProject:
		return "MOON_SKIP_SYNC_PROJECT"
	default:
		return ""
	}
}

// skippedByEnv honors MOON_SKIP_<ACTION> vars: a value of "true"
// (or a comma list naming this node's toolchain/project id) skips the
// action entirely, with no plugin invocation and no cache write.
func skippedByEnv(node actiongraph.ActionNode) bool {
	varName := skipEnvVar(node.Kind)
	if varName == "" {
		return false
	}
	val := os.Getenv(varName)
	if val == "" {
		return false
	}
	if val == "true" {
		return true
	}
	needle := node.ToolchainId.String()
	if needle == "" {
		needle = node.ProjectId.String()
	}
	for _, part := range strings.Split(val, ",") {
		if strings.TrimSpace(part) == needle {
			return true
		}
	}
	return false
}

// Execute adapts ExecuteDetailed to the plain pipeline.ActionExecutor
// contract the scheduler's bail/skip logic drives.
func (r *Runner) Execute(ctx context.Context, node actiongraph.ActionNode) error {
	_, err := r.ExecuteDetailed(ctx, node)
	return err
}

// ExecuteDetailed dispatches node to its kind-specific handler.
func (r *Runner) ExecuteDetailed(ctx context.Context, node actiongraph.ActionNode) (pipeline.DetailedStatus, error) {
	if skippedByEnv(node) {
		return pipeline.DetailSkipped, nil
	}

	switch node.Kind {
	case actiongraph.KindSetupProto:
		return r.setupProto()
	case actiongraph.KindSetupToolchain:
		return r.setupToolchain(node)
	case actiongraph.KindInstallDependencies:
		return r.installDependencies(ctx, node)
	case actiongraph.KindSyncProject:
		return r.syncProject(node)
	case actiongraph.KindSyncWorkspace:
		return r.syncWorkspace()
	case actiongraph.KindRunTask:
		return r.runTask(ctx, node)
	default:
		return pipeline.DetailInvalid, fmt.Errorf("runner: unknown action kind %d", node.Kind)
	}
}

func (r *Runner) adapterFor(tc id.Id) (toolchainadapter.Adapter, error) {
	a, ok := r.Toolchains[tc]
	if !ok {
		return nil, fmt.Errorf("runner: no ToolchainAdapter registered for toolchain %q", tc)
	}
	return a, nil
}

// protoInstallDir is the shared toolchain install root, kept outside any
// project tree so it survives a `moon clean` of the workspace's own cache.
// One subdirectory per tool, anchored at xdg.DataHome, shared by every
// toolchain this workspace registers.
func protoInstallDir() string {
	return filepath.Join(xdg.DataHome, "moon", "proto")
}

// setupProto prepares the shared toolchain install root (the "proto"
// layer every SetupToolchain node depends on). Downloading toolchain
// binaries belongs to the plugin host; this ensures the directory every
// adapter's installs land under exists.
func (r *Runner) setupProto() (pipeline.DetailedStatus, error) {
	if err := os.MkdirAll(protoInstallDir(), 0755); err != nil {
		return pipeline.DetailFailed, fmt.Errorf("runner: preparing proto install dir: %w", err)
	}
	return pipeline.DetailPassed, nil
}

func (r *Runner) setupToolchain(node actiongraph.ActionNode) (pipeline.DetailedStatus, error) {
	adapter, err := r.adapterFor(node.ToolchainId)
	if err != nil {
		return pipeline.DetailInvalid, err
	}
	if _, err := adapter.RegisterToolchain(); err != nil {
		return pipeline.DetailFailed, fmt.Errorf("runner: registering toolchain %s: %w", node.ToolchainId, err)
	}
	if _, err := adapter.InitializeToolchain(toolchainadapter.InitializeToolchainRequest{WorkspaceRoot: r.WorkspaceRoot}); err != nil {
		return pipeline.DetailFailed, fmt.Errorf("runner: initializing toolchain %s: %w", node.ToolchainId, err)
	}
	return pipeline.DetailPassed, nil
}

// installDependencies always runs when not skipped. It still computes and
// records the hash manifest so a future dedupe pass has real data to read.
// TODO caching: consult Cache.ExecuteIfChanged once install caching
// semantics are settled.
func (r *Runner) installDependencies(ctx context.Context, node actiongraph.ActionNode) (pipeline.DetailedStatus, error) {
	adapter, err := r.adapterFor(node.ToolchainId)
	if err != nil {
		return pipeline.DetailInvalid, err
	}

	reg, err := adapter.RegisterToolchain()
	if err != nil {
		return pipeline.DetailFailed, fmt.Errorf("runner: %s: %w", node.ToolchainId, err)
	}

	lockMtimeMs := int64(0)
	for _, name := range reg.LockFileNames {
		if info, err := os.Stat(filepath.Join(node.Root, name)); err == nil {
			lockMtimeMs = info.ModTime().UnixMilli()
			break
		}
	}
	vendorExists := false
	if reg.VendorDirName != "" {
		if _, err := os.Stat(filepath.Join(node.Root, reg.VendorDirName)); err == nil {
			vendorExists = true
		}
	}

	hash, err := hasher.InstallDependenciesHash(hasher.InstallDependenciesFragments{
		ToolchainId:     node.ToolchainId.String(),
		Root:            node.Root,
		ProjectId:       node.ProjectId.String(),
		LockfileMtimeMs: lockMtimeMs,
		VendorDirExists: vendorExists,
	})
	if err != nil {
		return pipeline.DetailFailed, err
	}

	resp, err := adapter.InstallDependencies(toolchainadapter.InstallDependenciesRequest{
		Project: node.ProjectId.String(),
		Root:    node.Root,
	})
	if err != nil {
		return pipeline.DetailFailed, fmt.Errorf("runner: install-dependencies %s: %w", node.ToolchainId, err)
	}

	if resp.InstallCommand != nil {
		built := command.BuiltCommand{
			Command:    resp.InstallCommand.Command,
			Args:       resp.InstallCommand.Args,
			Env:        resp.InstallCommand.Env,
			WorkingDir: node.Root,
			RetryCount: resp.InstallCommand.RetryCount,
		}
		if built.WorkingDir == "" {
			built.WorkingDir = node.Root
		}
		result, err := r.Executor.Run(ctx, built, command.Capture, "install-deps:"+node.ToolchainId.String(), 0, nil)
		if err != nil {
			return pipeline.DetailFailed, err
		}
		if result.ExitCode != 0 {
			return pipeline.DetailFailed, fmt.Errorf("runner: install-dependencies %s: exit code %d: %s", node.ToolchainId, result.ExitCode, result.Stderr)
		}
	}

	_ = r.Cache.CreateHashManifest(hash, map[string]interface{}{
		"toolchainId": node.ToolchainId.String(),
		"root":        node.Root,
		"projectId":   node.ProjectId.String(),
	})

	return pipeline.DetailPassed, nil
}

func (r *Runner) syncProject(node actiongraph.ActionNode) (pipeline.DetailedStatus, error) {
	p, err := r.Projects.Get(node.ProjectId.String())
	if err != nil {
		return pipeline.DetailInvalid, err
	}

	deps := make([]string, 0, len(p.Dependencies))
	for depId := range p.Dependencies {
		deps = append(deps, depId.String())
	}
	sort.Strings(deps)

	for _, tc := range node.ToolchainIds {
		adapter, err := r.adapterFor(tc)
		if err != nil {
			return pipeline.DetailInvalid, err
		}
		if _, err := adapter.SyncProject(toolchainadapter.SyncProjectRequest{
			Project:      p.Id.String(),
			Dependencies: deps,
			Config:       p.Config,
		}); err != nil {
			return pipeline.DetailFailed, fmt.Errorf("runner: sync-project %s (%s): %w", p.Id, tc, err)
		}
	}

	if err := r.Cache.CreateSnapshot(p.Id.String(), p); err != nil {
		r.Logger.Warn("snapshot write failed", "project", p.Id.String(), "error", err)
	}
	return pipeline.DetailPassed, nil
}

func (r *Runner) syncWorkspace() (pipeline.DetailedStatus, error) {
	for _, adapter := range r.Toolchains {
		if err := adapter.SyncWorkspace(); err != nil {
			return pipeline.DetailFailed, err
		}
	}
	return pipeline.DetailPassed, nil
}

// resolvePath turns one expanded InputPath/OutputPath entry into an
// absolute filesystem path: workspace-relative entries keep their leading
// "/" and resolve against WorkspaceRoot; everything else
// is project-relative.
func resolvePath(workspaceRoot string, p *project.Project, entry string) string {
	if strings.HasPrefix(entry, "/") {
		return filepath.Join(workspaceRoot, filepath.FromSlash(strings.TrimPrefix(entry, "/")))
	}
	return filepath.Join(p.Root, filepath.FromSlash(entry))
}

// resolveGlob expands one glob entry against the right anchor (workspace
// or project root, per the same "/"-prefix rule) and returns absolute
// matches.
func resolveGlob(workspaceRoot string, p *project.Project, entry string) []string {
	if strings.HasPrefix(entry, "/") {
		return globby.GlobFiles(workspaceRoot, []string{strings.TrimPrefix(entry, "/")}, nil)
	}
	return globby.GlobFiles(p.Root, []string{entry}, nil)
}

// expandedInputFiles resolves a task's InputFiles/InputGlobs into the
// concrete, absolute file list the Hasher and affected-filter need.
func expandedInputFiles(workspaceRoot string, p *project.Project, task project.Task) []string {
	files := make([]string, 0, len(task.InputFiles))
	for _, f := range task.InputFiles {
		files = append(files, resolvePath(workspaceRoot, p, f))
	}
	for _, g := range task.InputGlobs {
		files = append(files, resolveGlob(workspaceRoot, p, g)...)
	}
	sort.Strings(files)
	return files
}

func (r *Runner) runTask(ctx context.Context, node actiongraph.ActionNode) (pipeline.DetailedStatus, error) {
	p, err := r.Projects.Get(node.ProjectId.String())
	if err != nil {
		return pipeline.DetailInvalid, err
	}
	task, ok := p.Tasks[node.Target.Task]
	if !ok {
		return pipeline.DetailInvalid, fmt.Errorf("runner: project %s has no task %s", p.Id, node.Target.Task)
	}

	var adapter toolchainadapter.Adapter = passthroughAdapter{}
	if len(task.Toolchains) > 0 {
		adapter, err = r.adapterFor(task.Toolchains[0])
		if err != nil {
			return pipeline.DetailInvalid, err
		}
	}

	depVersions := make(map[string]string, len(task.Toolchains))
	for _, tc := range task.Toolchains {
		tcAdapter, err := r.adapterFor(tc)
		if err != nil {
			return pipeline.DetailInvalid, err
		}
		version, err := tcAdapter.DetectVersion(p.Root)
		if err != nil {
			return pipeline.DetailFailed, fmt.Errorf("runner: detecting %s version for %s: %w", tc, node.Target, err)
		}
		depVersions[tc.String()] = version
	}

	inputFiles := expandedInputFiles(r.WorkspaceRoot, p, task)
	var inputHashes map[string]string
	if r.Vcs != nil {
		inputHashes, err = hasher.ResolveInputFileHashes(ctx, r.Vcs, inputFiles, 4)
		if err != nil {
			return pipeline.DetailFailed, fmt.Errorf("runner: hashing inputs for %s: %w", node.Target, err)
		}
	}

	hash, err := hasher.TaskHash(hasher.TaskFragments{
		Task:               task,
		InputFileHashes:    inputHashes,
		DependencyVersions: depVersions,
	})
	if err != nil {
		return pipeline.DetailFailed, err
	}

	anchor := moonpath.AbsoluteSystemPath(p.Root)

	if task.Options.Cache && r.Cache.Mode.IsReadable() {
		if _, hit, err := r.Cache.RestoreOutputs(hash, anchor); err == nil && hit != cacheengine.HitNone {
			detail := pipeline.DetailCached
			if hit == cacheengine.HitRemote {
				detail = pipeline.DetailCachedFromRemote
			}
			_, _ = r.Cache.CacheRunTargetState(node.Target.String(), func(s *cacheengine.RunTargetState) {
				s.Hash = hash
				s.Target = node.Target.String()
			})
			return detail, nil
		}
	}

	affected := r.affectedFiles(inputFiles)
	built, err := command.Build(p, task, adapter, command.BuildOptions{
		WorkspaceRoot:     r.WorkspaceRoot,
		CacheDir:          filepath.Join(r.WorkspaceRoot, ".moon", "cache"),
		PassthroughArgs:   r.PassthroughArgs,
		AffectedFiles:     affected,
		ProjectSnapshotID: p.Id.String(),
	})
	if err != nil {
		return pipeline.DetailFailed, err
	}

	// Capture only when no parent TTY is attached; with a terminal on the
	// other end, output streams live with a per-task prefix.
	mode := command.Capture
	if isatty.IsTerminal(os.Stdout.Fd()) {
		mode = command.Stream
	}
	if task.Options.Interactive {
		mode = command.Interactive
	} else if task.Options.Persistent {
		mode = command.Stream
	}

	result, runErr := r.Executor.Run(ctx, built, mode, node.Target.String(), 0, nil)

	if _, err := r.Cache.CacheRunTargetState(node.Target.String(), func(s *cacheengine.RunTargetState) {
		s.ExitCode = result.ExitCode
		s.Hash = hash
		s.LastRunTime = time.Now().UnixMilli()
		s.Target = node.Target.String()
		s.Stdout = result.Stdout
		s.Stderr = result.Stderr
	}); err != nil {
		r.Logger.Warn("run-state write failed", "target", node.Target.String(), "error", err)
	}

	if runErr != nil {
		return pipeline.DetailFailed, runErr
	}
	if result.ExitCode != 0 {
		return pipeline.DetailFailed, fmt.Errorf("runner: %s: exit code %d", node.Target, result.ExitCode)
	}

	if task.Options.Cache {
		outputs := make([]moonpath.AnchoredSystemPath, 0, len(task.OutputFiles))
		for _, o := range task.OutputFiles {
			if strings.HasPrefix(o, "/") {
				continue // workspace-relative outputs are outside this anchor; not archived here.
			}
			outputs = append(outputs, moonpath.AnchoredSystemPath(filepath.FromSlash(o)))
		}
		for _, g := range task.OutputGlobs {
			for _, match := range resolveGlob(r.WorkspaceRoot, p, g) {
				rel, err := filepath.Rel(p.Root, match)
				if err != nil || strings.HasPrefix(rel, "..") {
					continue
				}
				outputs = append(outputs, moonpath.AnchoredSystemPath(rel))
			}
		}
		if err := r.Cache.StoreOutputs(hash, anchor, outputs, result2Duration(result.Attempts)); err != nil {
			r.Logger.Warn("store-outputs failed", "target", node.Target.String(), "error", err)
		}
	}

	return pipeline.DetailPassed, nil
}

// result2Duration is a placeholder cost metric (attempts as a proxy for
// elapsed work) since command.Result does not carry wall-clock duration;
// the cache engine only uses it for remote-artifact telemetry.
func result2Duration(attempts int) time.Duration {
	return time.Duration(attempts) * time.Millisecond
}

// affectedFiles intersects candidateInputs with the touched-file set
// ; nil when no VCS-aware touched
// set has been configured (LoadTouchedFiles was never called).
func (r *Runner) affectedFiles(candidateInputs []string) []string {
	if r.touched == nil {
		return nil
	}
	var out []string
	for _, f := range candidateInputs {
		if r.touched.set[f] {
			out = append(out, f)
		}
	}
	return out
}

// projectTouched memoizes the workspace's touched-file set for the
// lifetime of one pipeline run.
type projectTouched struct {
	set map[string]bool
}

// LoadTouchedFiles resolves the VCS adapter's touched-file set once per
// run and caches it for affected-files injection.
func (r *Runner) LoadTouchedFiles() error {
	if r.Vcs == nil {
		return nil
	}
	touched, err := r.Vcs.TouchedFiles(r.BaseRevision)
	if err != nil {
		return fmt.Errorf("runner: loading touched files: %w", err)
	}
	set := make(map[string]bool, len(touched.All))
	for _, f := range touched.All {
		set[filepath.Join(r.WorkspaceRoot, filepath.FromSlash(f))] = true
	}
	r.touched = &projectTouched{set: set}
	return nil
}
