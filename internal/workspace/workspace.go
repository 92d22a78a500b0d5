// Package workspace discovers a monorepo's projects: it
// loads the root workspace/toolchain config, resolves the project id ->
// source directory map (explicit entries plus glob-discovered ones), then
// loads and merges each project's config through the task inheritance
// chain before handing the result to the task expander and project graph.
package workspace

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/moonrepo/moon/internal/config"
	"github.com/moonrepo/moon/internal/filegroup"
	"github.com/moonrepo/moon/internal/globby"
	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/projectgraph"
	"github.com/moonrepo/moon/internal/taskexpander"
	"github.com/moonrepo/moon/internal/vcsadapter"
)

// Workspace is a loaded monorepo root: its configs plus the VCS adapter
// every downstream component (hasher, task expander) is wired through.
type Workspace struct {
	Root      string
	Loader    *config.Loader
	Config    *config.WorkspaceConfig
	Toolchain *config.ToolchainConfig
	Vcs       vcsadapter.Adapter
	Logger    hclog.Logger
}

// Load reads ".moon/workspace.yml" and ".moon/toolchain.yml" from root and
// constructs the Git-backed VcsAdapter (falling back to vcsadapter.Stub
// when root is not a Git repository).
func Load(root string, logger hclog.Logger) (*Workspace, error) {
	loader := config.NewLoader(root)

	wc, err := loader.LoadWorkspace()
	if err != nil {
		return nil, fmt.Errorf("workspace: loading workspace.yml: %w", err)
	}
	tc, err := loader.LoadToolchain()
	if err != nil {
		return nil, fmt.Errorf("workspace: loading toolchain.yml: %w", err)
	}

	var vcs vcsadapter.Adapter
	if git, ok := vcsadapter.New(root, logger); ok {
		vcs = git
	} else {
		vcs = vcsadapter.Stub{}
	}

	return &Workspace{Root: root, Loader: loader, Config: wc, Toolchain: tc, Vcs: vcs, Logger: logger}, nil
}

// projectSource pairs a discovered project id with its workspace-relative
// source directory.
type projectSource struct {
	Id     string
	Source string
}

// discoverSources resolves the full id -> source directory map: explicit
// "projects" entries first, then every directory matched by a
// "projectGlobs" entry that contains a moon.yml, deriving the id from the
// directory's base name unless an explicit entry already claimed it.
func (w *Workspace) discoverSources() ([]projectSource, error) {
	seen := make(map[string]bool)
	var out []projectSource

	for projectId, source := range w.Config.Projects {
		seen[source] = true
		out = append(out, projectSource{Id: projectId, Source: source})
	}

	if len(w.Config.ProjectGlobs) > 0 {
		patterns := make([]string, len(w.Config.ProjectGlobs))
		for i, g := range w.Config.ProjectGlobs {
			patterns[i] = filepath.ToSlash(filepath.Join(g, "moon.yml"))
		}
		matches := globby.GlobFiles(w.Root, patterns, nil)
		for _, m := range matches {
			rel, err := filepath.Rel(w.Root, m)
			if err != nil {
				continue
			}
			source := filepath.ToSlash(filepath.Dir(rel))
			if seen[source] {
				continue
			}
			seen[source] = true
			out = append(out, projectSource{Id: filepath.Base(source), Source: source})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

// resolveTasks merges a project's own TaskConfigMap onto the inheritance
// chain for every task it declares, returning the final
// per-task RawTask map.
func (w *Workspace) resolveTasks(pc *config.ProjectConfig) (config.TaskConfigMap, error) {
	layerCache := make(map[string]config.TaskConfigMap)
	loadLayer := func(scope string) (config.TaskConfigMap, error) {
		if layer, ok := layerCache[scope]; ok {
			return layer, nil
		}
		layer, err := w.Loader.LoadTasksLayer(scope)
		if err != nil {
			return nil, err
		}
		layerCache[scope] = layer
		return layer, nil
	}

	resolved := make(config.TaskConfigMap, len(pc.Tasks))
	for taskName, ownTask := range pc.Tasks {
		chain := config.InheritanceChain(pc.Language, pc.Language, ownTask.Type, pc.Tags)
		merged := config.RawTask{}
		for _, scope := range chain {
			layer, err := loadLayer(scope)
			if err != nil {
				return nil, err
			}
			if layerTask, ok := layer[taskName]; ok {
				merged = config.MergeTaskLayer(merged, layerTask)
			}
		}
		merged = config.MergeTaskLayer(merged, ownTask)
		resolved[taskName] = merged
	}
	return resolved, nil
}

func toDependencyScope(s string) project.DependencyScope {
	switch s {
	case "development":
		return project.ScopeDevelopment
	case "peer":
		return project.ScopePeer
	case "build":
		return project.ScopeBuild
	case "root":
		return project.ScopeRoot
	default:
		return project.ScopeProduction
	}
}

func toRaw(t config.RawTask) taskexpander.Raw {
	deps := make([]taskexpander.RawDep, len(t.Deps))
	for i, d := range t.Deps {
		deps[i] = taskexpander.RawDep{Target: d.Target, Args: d.Args, Env: d.Env, Optional: d.Optional}
	}
	return taskexpander.Raw{
		Command:    []string(t.Command),
		Script:     t.Script,
		Args:       t.Args,
		Env:        t.Env,
		Deps:       deps,
		Inputs:     t.Inputs,
		Outputs:    t.Outputs,
		Toolchains: t.Toolchains,
		Preset:     t.Preset,
		Type:       t.Type,
		Options: taskexpander.RawOptions{
			Cache:                t.Options.Cache,
			RetryCount:           t.Options.RetryCount,
			RunFromWorkspaceRoot: t.Options.RunFromWorkspaceRoot,
			AffectedFiles:        t.Options.AffectedFiles,
			Shell:                t.Options.Shell,
			OutputStyle:          t.Options.OutputStyle,
			Persistent:           t.Options.Persistent,
			Interactive:          t.Options.Interactive,
			RunInCI:              t.Options.RunInCI,
			Local:                t.Options.Local,
		},
	}
}

// BuildProjectGraph discovers every project, loads and expands its tasks,
// and assembles the resulting projectgraph.Graph.
func (w *Workspace) BuildProjectGraph() (*projectgraph.Graph, error) {
	sources, err := w.discoverSources()
	if err != nil {
		return nil, err
	}

	expander := taskexpander.New(w.Vcs).WithWorkspaceRoot(w.Root)
	graph := projectgraph.New(w.Logger)

	for _, s := range sources {
		projectId, err := id.New(s.Id)
		if err != nil {
			return nil, fmt.Errorf("workspace: project %q: %w", s.Source, err)
		}

		pc, err := w.Loader.LoadProject(s.Source)
		if err != nil {
			return nil, fmt.Errorf("workspace: loading %s/moon.yml: %w", s.Source, err)
		}

		p := project.New(projectId, s.Source, filepath.Join(w.Root, filepath.FromSlash(s.Source)))
		p.Language = pc.Language
		p.Layer = pc.Layer
		p.Stack = pc.Stack

		for _, tag := range pc.Tags {
			tagId, err := id.New(tag)
			if err != nil {
				return nil, fmt.Errorf("workspace: project %s: tag %q: %w", projectId, tag, err)
			}
			p.Tags = append(p.Tags, tagId)
		}

		for name, raw := range pc.FileGroups {
			fg, err := filegroup.New(name, raw)
			if err != nil {
				return nil, fmt.Errorf("workspace: project %s: file group %q: %w", projectId, name, err)
			}
			p.FileGroups[name] = fg
		}

		for _, tc := range pc.Toolchains {
			tcId, err := id.New(tc)
			if err != nil {
				return nil, fmt.Errorf("workspace: project %s: toolchain %q: %w", projectId, tc, err)
			}
			p.Toolchains = append(p.Toolchains, tcId)
		}

		for _, dep := range pc.DependsOn {
			depId, err := id.New(dep.Id)
			if err != nil {
				return nil, fmt.Errorf("workspace: project %s: dependsOn %q: %w", projectId, dep.Id, err)
			}
			p.AddDependency(depId, toDependencyScope(dep.Scope), project.SourceExplicit)
		}

		tasks, err := w.resolveTasks(pc)
		if err != nil {
			return nil, fmt.Errorf("workspace: project %s: resolving task inheritance: %w", projectId, err)
		}
		for taskName, raw := range tasks {
			taskId, err := id.New(taskName)
			if err != nil {
				return nil, fmt.Errorf("workspace: project %s: task %q: %w", projectId, taskName, err)
			}
			task, err := expander.Expand(p, taskId, toRaw(raw))
			if err != nil {
				return nil, err
			}
			p.Tasks[taskId] = task
		}

		graph.AddProject(p)
	}

	if err := graph.Build(); err != nil {
		return nil, err
	}
	return graph, nil
}
