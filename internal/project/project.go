// Package project implements the Project/Task Model: Project,
// Task, dependency scopes/sources, and the task invariants checked after
// inheritance finalization and expansion.
package project

import (
	"fmt"

	"github.com/moonrepo/moon/internal/filegroup"
	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/target"
)

// DependencyScope classifies why/how a project depends on another.
type DependencyScope int

const (
	ScopeProduction DependencyScope = iota
	ScopeDevelopment
	ScopePeer
	ScopeBuild
	ScopeRoot
)

func (s DependencyScope) String() string {
	switch s {
	case ScopeProduction:
		return "production"
	case ScopeDevelopment:
		return "development"
	case ScopePeer:
		return "peer"
	case ScopeBuild:
		return "build"
	case ScopeRoot:
		return "root"
	default:
		return "unknown"
	}
}

// DependencySource records where a project dependency edge came from.
type DependencySource int

const (
	SourceExplicit DependencySource = iota
	SourceImplicit
	SourceExtends
	SourceRoot
)

func (s DependencySource) String() string {
	switch s {
	case SourceExplicit:
		return "explicit"
	case SourceImplicit:
		return "implicit"
	case SourceExtends:
		return "extends"
	case SourceRoot:
		return "root"
	default:
		return "unknown"
	}
}

// ProjectDependency is one edge out of a project's dependency map.
type ProjectDependency struct {
	Scope  DependencyScope
	Source DependencySource
}

// TaskType classifies a task's default behavior for affected-filtering and
// reporting purposes.
type TaskType int

const (
	TaskBuild TaskType = iota
	TaskRun
	TaskTest
)

func (t TaskType) String() string {
	switch t {
	case TaskBuild:
		return "build"
	case TaskRun:
		return "run"
	case TaskTest:
		return "test"
	default:
		return "unknown"
	}
}

// OutputStyle controls how a task's output is rendered by the reporter.
type OutputStyle int

const (
	OutputStyleBuffer OutputStyle = iota
	OutputStyleStream
	OutputStyleHash
	OutputStyleNone
)

// TaskDep is one entry in a task's `deps` list: a target plus args/env
// overrides applied only for that dependency edge.
type TaskDep struct {
	Target   target.Target
	Args     []string
	Env      map[string]string
	Optional bool
}

// TaskOptions mirrors the config-layer RawTaskOptions after defaults and
// inheritance have been resolved to concrete values.
type TaskOptions struct {
	Cache                bool
	RetryCount           int
	RunFromWorkspaceRoot bool
	AffectedFiles        bool
	Shell                bool
	OutputStyle          OutputStyle
	Persistent           bool
	Interactive          bool
	// RunInCI is the task's runInCI setting (true unless configured
	// false). Neither the Action Graph Builder nor the pipeline reads it:
	// with RunRequirements.CICheck set, a task with RunInCI false is still
	// built and run like any other.
	RunInCI bool
}

// Task is the fully-expanded unit of work the Action Graph Builder and
// Command Executor consume. Construction happens in internal/taskexpander;
// this type only carries the shape and the invariant checks.
type Task struct {
	Target target.Target

	Command []string
	Script  string
	Args    []string
	Env     map[string]string

	Deps []TaskDep

	InputFiles []string
	InputGlobs []string
	InputEnv   []string

	OutputFiles []string
	OutputGlobs []string

	Toolchains []id.Id
	Options    TaskOptions
	Preset     string
	Type       TaskType
}

// Validate checks Task invariants 1, 2, and 4. Invariant 3
// ("inputs=None means all project files") is a config-layer distinction
// resolved before a Task value exists, so it has no runtime check here.
// Invariant 5 (directories rewritten to globs) is enforced by the task
// expander's post-expansion cleanup step, not re-validated here since by
// construction a Task never carries a directory-typed input.
func (t Task) Validate() error {
	if len(t.Command) == 0 && t.Script == "" {
		return fmt.Errorf("project: task %s: either command or script must be defined", t.Target)
	}
	for _, d := range t.Deps {
		if d.Target.Scope.Kind == target.ScopeAll {
			return fmt.Errorf("project: task %s: dependency %s must not use scope All", t.Target, d.Target)
		}
	}
	outputs := make(map[string]struct{}, len(t.OutputFiles))
	for _, o := range t.OutputFiles {
		outputs[o] = struct{}{}
	}
	for _, in := range t.InputFiles {
		if _, ok := outputs[in]; ok {
			return fmt.Errorf("project: task %s: output path %q must not also appear in inputs", t.Target, in)
		}
	}
	return nil
}

// Project is a node in the Project Graph: an owning directory with its
// metadata, file groups, tasks, and declared dependencies.
type Project struct {
	Id       id.Id
	Source   string // workspace-relative directory
	Root     string // absolute directory
	Language string
	Layer    string
	Stack    string
	Tags     []id.Id

	Dependencies map[id.Id]ProjectDependency

	FileGroups map[string]filegroup.FileGroup

	// Tasks holds the expanded tasks: internal/workspace merges each
	// task's inheritance chain and runs it through internal/taskexpander
	// before the project is added to the project graph.
	Tasks map[id.Id]Task

	Toolchains []id.Id
	Config     map[string]string
}

// New constructs an empty Project shell ready to have file groups and
// tasks attached by the config loader / task expander.
func New(projectId id.Id, source, root string) *Project {
	return &Project{
		Id:           projectId,
		Source:       source,
		Root:         root,
		Dependencies: make(map[id.Id]ProjectDependency),
		FileGroups:   make(map[string]filegroup.FileGroup),
		Tasks:        make(map[id.Id]Task),
	}
}

// AddDependency records a dependency edge, overwriting any prior entry for
// the same id (later declarations win, matching config-layer override
// semantics).
func (p *Project) AddDependency(dep id.Id, scope DependencyScope, source DependencySource) {
	p.Dependencies[dep] = ProjectDependency{Scope: scope, Source: source}
}

// HasTag reports whether the project is tagged with t.
func (p *Project) HasTag(t id.Id) bool {
	for _, tag := range p.Tags {
		if tag == t {
			return true
		}
	}
	return false
}
