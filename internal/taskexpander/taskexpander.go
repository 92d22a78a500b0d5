// Package taskexpander implements the Task Expander: turns a
// merged RawTask (after the config inheritance chain has been resolved)
// into a fully-expanded project.Task, running seven ordered steps; the
// order is load-bearing because later steps consume earlier steps' output.
package taskexpander

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/moonrepo/moon/internal/env"
	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/target"
	"github.com/moonrepo/moon/internal/token"
	"github.com/moonrepo/moon/internal/vcsadapter"
	"github.com/moonrepo/moon/internal/wspath"
)

// Raw is the merged, inheritance-resolved task shape the expander
// consumes. It mirrors config.RawTask's fields but is package-independent
// so taskexpander does not need to import config directly.
type Raw struct {
	Command    []string
	Script     string
	Args       []string
	Env        map[string]string
	Deps       []RawDep
	Inputs     *[]string
	Outputs    []string
	Toolchains []string
	Options    RawOptions
	Preset     string
	Type       string
}

// RawDep mirrors config.RawDep.
type RawDep struct {
	Target   string
	Args     []string
	Env      map[string]string
	Optional bool
}

// RawOptions mirrors config.RawTaskOptions, with the Local legacy flag
// resolved per the Open Question decision in DESIGN.md.
type RawOptions struct {
	Cache                *bool
	RetryCount           *int
	RunFromWorkspaceRoot bool
	AffectedFiles        bool
	Shell                *bool
	OutputStyle          string
	Persistent           bool
	Interactive          bool
	RunInCI              *bool
	Local                bool
}

// Expander runs the ordered expansion pipeline for one project's tasks.
type Expander struct {
	Vcs vcsadapter.Adapter
	// WorkspaceRoot feeds the "$workspaceRoot" token variable;
	// empty when the caller does not yet know it (tests mostly).
	WorkspaceRoot string
}

// New constructs an Expander backed by the given VcsAdapter (used to
// resolve directory-vs-file classification is not needed here; Vcs is
// retained for symmetry with the Hasher, which does need it to resolve
// file hashes from the expanded input set).
func New(vcs vcsadapter.Adapter) *Expander {
	return &Expander{Vcs: vcs}
}

// WithWorkspaceRoot returns a copy of e with WorkspaceRoot set, so callers
// that know the root (internal/workspace) can feed "$workspaceRoot" without
// every caller (tests included) having to thread it through.
func (e *Expander) WithWorkspaceRoot(root string) *Expander {
	clone := *e
	clone.WorkspaceRoot = root
	return &clone
}

// Expand runs the seven-step pipeline for one task belonging
// to p, producing a fully-expanded project.Task.
func (e *Expander) Expand(p *project.Project, taskId id.Id, raw Raw) (project.Task, error) {
	tgt := target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: p.Id}, Task: taskId}

	now := time.Now()
	vars := token.Vars{
		ProjectRoot:   p.Root,
		WorkspaceRoot: e.WorkspaceRoot,
		Target:        tgt.String(),
		ProjectSource: p.Source,
		ProjectId:     p.Id.String(),
		TaskType:      normalizeType(raw.Type),
		Date:          now.Format("2006-01-02"),
		Time:          now.Format("15:04:05"),
		Datetime:      now.Format("2006-01-02_15-04-05"),
		Timestamp:     strconv.FormatInt(now.Unix(), 10),
	}
	ctx := token.Context{Vars: vars, FileGroups: p.FileGroups, Env: processEnvSnapshot(), Meta: p.Config}

	task := project.Task{Target: tgt, Preset: raw.Preset, Type: taskTypeFromString(raw.Type)}

	// Step 1: script OR command; script overrides command+args.
	if raw.Script != "" {
		expanded, err := token.ExpandString(ctx, token.FieldCommand, raw.Script)
		if err != nil {
			return project.Task{}, fmt.Errorf("taskexpander: %s: expanding script: %w", tgt, err)
		}
		task.Script = expanded
	} else {
		cmd := make([]string, 0, len(raw.Command))
		for _, c := range raw.Command {
			expanded, err := token.ExpandString(ctx, token.FieldCommand, c)
			if err != nil {
				return project.Task{}, fmt.Errorf("taskexpander: %s: expanding command: %w", tgt, err)
			}
			cmd = append(cmd, expanded)
		}
		task.Command = cmd
	}

	// Step 2: env, precedence global process env < task-local env < dep env
	// (dep env applied per-dependency at use time, not merged globally here).
	task.Env = make(map[string]string, len(raw.Env))
	for k, v := range raw.Env {
		expanded, err := token.ExpandString(ctx, token.FieldEnv, v)
		if err != nil {
			return project.Task{}, fmt.Errorf("taskexpander: %s: expanding env %s: %w", tgt, k, err)
		}
		task.Env[k] = expanded
	}

	// Step 3: deps (args parsed, env substituted; All scope rejected).
	for _, d := range raw.Deps {
		depTarget, err := target.ParseAsDependency(d.Target)
		if err != nil {
			return project.Task{}, fmt.Errorf("taskexpander: %s: dep %q: %w", tgt, d.Target, err)
		}
		depEnv := make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			expanded, err := token.ExpandString(ctx, token.FieldEnv, v)
			if err != nil {
				return project.Task{}, err
			}
			depEnv[k] = expanded
		}
		task.Deps = append(task.Deps, project.TaskDep{
			Target:   depTarget,
			Args:     d.Args,
			Env:      depEnv,
			Optional: d.Optional,
		})
	}

	// Step 4: inputs -> input_files, input_globs, input_env.
	inputFiles, inputGlobs, inputEnv, err := expandPaths(ctx, inputsOrDefault(raw.Inputs), true)
	if err != nil {
		return project.Task{}, fmt.Errorf("taskexpander: %s: expanding inputs: %w", tgt, err)
	}
	task.InputFiles = inputFiles
	task.InputGlobs = inputGlobs
	task.InputEnv = inputEnv

	// Step 5: outputs -> output_files, output_globs.
	outputFiles, outputGlobs, _, err := expandPaths(ctx, raw.Outputs, false)
	if err != nil {
		return project.Task{}, fmt.Errorf("taskexpander: %s: expanding outputs: %w", tgt, err)
	}
	task.OutputFiles = outputFiles
	task.OutputGlobs = outputGlobs

	// Step 6: args.
	ctx.InputFiles = task.InputFiles
	ctx.OutputFiles = task.OutputFiles
	for _, a := range raw.Args {
		expanded, err := token.ExpandToken(ctx, a)
		if err != nil {
			return project.Task{}, fmt.Errorf("taskexpander: %s: expanding args: %w", tgt, err)
		}
		task.Args = append(task.Args, expanded...)
	}

	// Step 7: post-expansion cleanup.
	// 7a: remove any input that also appears as an output.
	outputSet := make(map[string]struct{}, len(task.OutputFiles))
	for _, o := range task.OutputFiles {
		outputSet[o] = struct{}{}
	}
	cleanedInputs := task.InputFiles[:0]
	for _, in := range task.InputFiles {
		if _, isOutput := outputSet[in]; !isOutput {
			cleanedInputs = append(cleanedInputs, in)
		}
	}
	task.InputFiles = cleanedInputs
	// 7b: directory-typed inputs were already rewritten to <dir>/**/* globs
	// in expandPaths via wspath.AsDirGlob, per invariant 5.

	for _, tc := range raw.Toolchains {
		tcId, err := id.New(tc)
		if err != nil {
			return project.Task{}, fmt.Errorf("taskexpander: %s: toolchain id: %w", tgt, err)
		}
		task.Toolchains = append(task.Toolchains, tcId)
	}

	task.Options = resolveOptions(raw.Options)

	if err := task.Validate(); err != nil {
		return project.Task{}, err
	}
	return task, nil
}

func inputsOrDefault(inputs *[]string) []string {
	if inputs == nil {
		// invariant 3: inputs=None means "all project files".
		return []string{"**/*"}
	}
	return *inputs
}

// expandPaths resolves a list of raw input/output path entries into
// concrete files, globs, and (for inputs) env var names, applying the
// directory-to-glob rewrite (invariant 5) along the way.
func expandPaths(ctx token.Context, raw []string, isInput bool) (files, globs, envNames []string, err error) {
	for _, r := range raw {
		var p wspath.Path
		if isInput {
			p, err = wspath.ParseInput(r)
		} else {
			p, err = wspath.ParseOutput(r)
		}
		if err != nil {
			return nil, nil, nil, err
		}

		switch {
		case p.IsToken():
			expanded, terr := token.ExpandToken(ctx, p.Raw)
			if terr != nil {
				return nil, nil, nil, terr
			}
			for _, e := range expanded {
				files = append(files, e)
			}
		case isEnvKind(p):
			envNames = append(envNames, p.Raw)
		case p.IsGlob():
			globs = append(globs, p.Raw)
		default:
			if isDir(ctx, p) {
				globs = append(globs, wspath.AsDirGlob(wspath.WorkspaceRelativePath(p.Raw)).Raw)
			} else {
				files = append(files, p.Raw)
			}
		}
	}
	return files, globs, envNames, nil
}

func isEnvKind(p wspath.Path) bool {
	return p.Kind == wspath.KindEnvVar || p.Kind == wspath.KindEnvVarGlob
}

// isDir decides whether a literal path entry names a directory, which
// must be rewritten to a "<dir>/**/*" glob since directories cannot be
// hashed directly. The filesystem is authoritative: an extensionless file
// like Makefile or LICENSE must stay a file, or it silently drops out of
// hashing. Only when the path does not exist yet (declared inputs ahead
// of generation, unit tests with fake roots) does the no-extension
// heuristic decide.
func isDir(ctx token.Context, p wspath.Path) bool {
	root := ctx.Vars.ProjectRoot
	rel := p.Raw
	if p.IsWorkspaceRelative() {
		root = ctx.Vars.WorkspaceRoot
		rel = strings.TrimPrefix(rel, "/")
	}
	if root != "" {
		if info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel))); err == nil {
			return info.IsDir()
		}
	}
	return looksLikeDir(p.Raw)
}

func looksLikeDir(raw string) bool {
	base := raw
	if idx := strings.LastIndex(raw, "/"); idx >= 0 {
		base = raw[idx+1:]
	}
	return !strings.Contains(base, ".")
}

func normalizeType(t string) string {
	if t == "" {
		return "build"
	}
	return t
}

func taskTypeFromString(t string) project.TaskType {
	switch t {
	case "run":
		return project.TaskRun
	case "test":
		return project.TaskTest
	default:
		return project.TaskBuild
	}
}

// resolveOptions applies defaults and the Local legacy flag (DESIGN.md
// Open Question 1): local:true sets persistent, and turns cache off unless
// cache is set explicitly. The task's preset is not consulted here.
func resolveOptions(raw RawOptions) project.TaskOptions {
	opts := project.TaskOptions{
		Cache:                true,
		RetryCount:           0,
		RunFromWorkspaceRoot: raw.RunFromWorkspaceRoot,
		AffectedFiles:        raw.AffectedFiles,
		Shell:                true,
		OutputStyle:          outputStyleFromString(raw.OutputStyle),
		Persistent:           raw.Persistent,
		Interactive:          raw.Interactive,
		RunInCI:              true,
	}
	if raw.Cache != nil {
		opts.Cache = *raw.Cache
	}
	if raw.RunInCI != nil {
		opts.RunInCI = *raw.RunInCI
	}
	if raw.RetryCount != nil {
		opts.RetryCount = *raw.RetryCount
	}
	if raw.Shell != nil {
		opts.Shell = *raw.Shell
	}
	if raw.Local {
		if raw.Cache == nil {
			opts.Cache = false
		}
		opts.Persistent = true
	}
	return opts
}

func outputStyleFromString(s string) project.OutputStyle {
	switch s {
	case "stream":
		return project.OutputStyleStream
	case "hash":
		return project.OutputStyleHash
	case "none":
		return project.OutputStyleNone
	default:
		return project.OutputStyleBuffer
	}
}

// processEnvSnapshot isolates task expansion from the live process
// environment: values are read once through a single accessor and never
// mutated on the process itself.
func processEnvSnapshot() env.EnvironmentVariableMap {
	return snapshotFunc()
}

// snapshotFunc is overridable by tests; defaults to the real process env
// via internal/env.
var snapshotFunc = env.GetEnvMap
