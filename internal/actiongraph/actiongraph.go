// Package actiongraph implements the Action Graph Builder: it
// takes target locators, run requirements, and the affected-file set, and
// produces a typed ActionNode DAG. It returns only the graph; there is no
// separate ActionContext value.
//
// The graph is built by a traversal that adds vertices and edges as it
// discovers them, then walked once fully built. Cycle detection uses
// Cycles() rather than Validate() because the graph legitimately has
// multiple roots.
package actiongraph

import (
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/pyr-sh/dag"

	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/projectgraph"
	"github.com/moonrepo/moon/internal/target"
)

// ActionKind tags the variant of an ActionNode.
type ActionKind int

const (
	KindSyncWorkspace ActionKind = iota
	KindSetupToolchain
	KindSetupProto
	KindInstallDependencies
	KindSyncProject
	KindRunTask
)

// DownstreamScope gates how far the dependent closure extends during
// affected filtering.
type DownstreamScope int

const (
	DownstreamNone DownstreamScope = iota
	DownstreamDirect
	DownstreamDeep
)

// ActionNode is a tagged-variant node in the ActionGraph.
type ActionNode struct {
	Kind ActionKind

	ToolchainId  id.Id   // SetupToolchain, InstallDependencies
	Runtime      string  // SetupToolchain
	Root         string  // InstallDependencies
	ProjectId    id.Id   // InstallDependencies (optional), SyncProject, RunTask's owning project
	ToolchainIds []id.Id // SyncProject

	Target      target.Target // RunTask
	Args        []string      // RunTask
	Env         map[string]string
	Interactive bool
	Persistent  bool
	Priority    int
}

// Key returns the node's dedupe fingerprint. Exposed so callers outside
// this package (the action pipeline) can correlate dependency edges
// reported by DependsOn back to the nodes that own them.
func (n ActionNode) Key() string {
	return n.key()
}

// key uniquely fingerprints a node for dedupe: multiple projects under
// the same dependency root share one install node, fingerprinted by
// (toolchain id, root, project id).
func (n ActionNode) key() string {
	switch n.Kind {
	case KindSyncWorkspace:
		return "sync-workspace"
	case KindSetupToolchain:
		return "setup-toolchain:" + n.ToolchainId.String()
	case KindSetupProto:
		return "setup-proto"
	case KindInstallDependencies:
		return "install-deps:" + n.ToolchainId.String() + ":" + n.Root + ":" + n.ProjectId.String()
	case KindSyncProject:
		return "sync-project:" + n.ProjectId.String()
	case KindRunTask:
		return "run-task:" + n.Target.String()
	default:
		return "unknown"
	}
}

// RunRequirements controls which tasks are included and how.
type RunRequirements struct {
	CI           bool
	CICheck      bool
	Dependents   DownstreamScope
	Interactive  bool
	SkipAffected bool
}

// CycleError reports an action-graph dependency cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("actiongraph: cyclic action dependency: %s", strings.Join(e.Path, " -> "))
}

// Graph is the built ActionGraph: a DAG of ActionNodes keyed by their
// fingerprint, plus edge data recoverable via dag.AcyclicGraph.
type Graph struct {
	dag   dag.AcyclicGraph
	nodes map[string]ActionNode
	// order records insertion order for deterministic iteration in tests
	// and dry-run output, since Go map iteration is randomized.
	order []string
}

func newGraph() *Graph {
	return &Graph{nodes: make(map[string]ActionNode)}
}

func (g *Graph) upsert(n ActionNode) string {
	k := n.key()
	if _, exists := g.nodes[k]; !exists {
		g.nodes[k] = n
		g.order = append(g.order, k)
		g.dag.Add(k)
	}
	return k
}

func (g *Graph) dependOn(from, on string) {
	g.dag.Connect(dag.BasicEdge(from, on))
}

// Nodes returns every node in insertion order.
func (g *Graph) Nodes() []ActionNode {
	out := make([]ActionNode, len(g.order))
	for i, k := range g.order {
		out[i] = g.nodes[k]
	}
	return out
}

// RunTaskNodes returns every RunTask node, sorted by target string so
// the builder stays a pure function of its inputs.
func (g *Graph) RunTaskNodes() []ActionNode {
	var out []ActionNode
	for _, k := range g.order {
		if g.nodes[k].Kind == KindRunTask {
			out = append(out, g.nodes[k])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target.String() < out[j].Target.String() })
	return out
}

// DependsOn returns the fingerprint keys a node directly depends on.
func (g *Graph) DependsOn(n ActionNode) []string {
	var deps []string
	for _, e := range g.dag.DownEdges(n.key()).List() {
		deps = append(deps, e.(string))
	}
	sort.Strings(deps)
	return deps
}

// NodeByKey looks up a node by the fingerprint returned from Key/DependsOn.
func (g *Graph) NodeByKey(key string) (ActionNode, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

// Builder constructs an ActionGraph from a project graph and a set of
// requested targets.
type Builder struct {
	Projects *projectgraph.Graph
	// TouchedFiles is used only when filtering by affected; empty means
	// "no filtering" from this field's perspective (callers gate that via
	// RunRequirements/affectedOnly instead of an implicit empty check).
	TouchedFiles map[string]bool

	// affectedProjects is populated per-Build call when Dependents requests
	// a downstream closure; nil means "file-intersection only" (no Direct/Deep
	// widening).
	affectedProjects map[id.Id]bool
}

// NewBuilder constructs a Builder over a project graph.
func NewBuilder(projects *projectgraph.Graph) *Builder {
	return &Builder{Projects: projects}
}

// Build inserts actions for each requested target and its transitive
// requirements.
func (b *Builder) Build(targets []target.Target, reqs RunRequirements, affectedOnly bool) (*Graph, error) {
	g := newGraph()

	if affectedOnly && reqs.Dependents != DownstreamNone {
		b.affectedProjects = b.expandDependents(b.directlyAffectedProjects(), reqs.Dependents)
	} else {
		b.affectedProjects = nil
	}

	requiresProto := false
	for _, t := range targets {
		projects, err := b.resolveScope(t)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			task, ok := p.Tasks[t.Task]
			if !ok {
				continue
			}
			if len(task.Toolchains) > 0 {
				requiresProto = true
			}
		}
	}

	var protoKey string
	if requiresProto {
		protoKey = g.upsert(ActionNode{Kind: KindSetupProto})
	}

	visitedTasks := mapset.NewSet()
	syncedProjects := mapset.NewSet()

	var visitTask func(t target.Target) error
	visitTask = func(t target.Target) error {
		taskKey := "run-task:" + t.String()
		if visitedTasks.Contains(taskKey) {
			return nil
		}
		visitedTasks.Add(taskKey)

		projects, err := b.resolveScope(t)
		if err != nil {
			return err
		}

		for _, p := range projects {
			task, ok := p.Tasks[t.Task]
			if !ok {
				continue
			}

			if affectedOnly && !b.isAffected(p, task) {
				continue
			}

			runKey := g.upsert(ActionNode{
				Kind:        KindRunTask,
				Target:      target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: p.Id}, Task: t.Task},
				ProjectId:   p.Id,
				Args:        task.Args,
				Env:         task.Env,
				Interactive: task.Options.Interactive,
				Persistent:  task.Options.Persistent,
			})

			if err := b.ensureProjectChain(g, p, protoKey, syncedProjects); err != nil {
				return err
			}
			for _, tc := range task.Toolchains {
				tcKey, instKey := b.ensureToolchain(g, tc, protoKey, p)
				g.dependOn(runKey, tcKey)
				if instKey != "" {
					g.dependOn(runKey, instKey)
				}
			}
			syncKey := "sync-project:" + p.Id.String()
			if _, ok := g.nodes[syncKey]; ok {
				g.dependOn(runKey, syncKey)
			}

			for _, dep := range task.Deps {
				depProjects, err := b.resolveDepScope(p, dep.Target)
				if err != nil {
					return err
				}
				for _, dp := range depProjects {
					depTarget := target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: dp.Id}, Task: dep.Target.Task}
					if err := visitTask(depTarget); err != nil {
						return err
					}
					depRunKey := "run-task:" + depTarget.String()
					if _, ok := g.nodes[depRunKey]; ok {
						g.dependOn(runKey, depRunKey)
					}
				}
			}
		}
		return nil
	}

	for _, t := range targets {
		if t.Scope.Kind == target.ScopeAll {
			for _, p := range b.Projects.GetAll() {
				if _, ok := p.Tasks[t.Task]; ok {
					pt := target.Target{Scope: target.Scope{Kind: target.ScopeProject, Project: p.Id}, Task: t.Task}
					if err := visitTask(pt); err != nil {
						return nil, err
					}
				}
			}
			continue
		}
		if err := visitTask(t); err != nil {
			return nil, err
		}
	}

	if err := checkCycles(g); err != nil {
		return nil, err
	}
	return g, nil
}

// BuildSync produces an ActionGraph of only SyncWorkspace/SetupProto/
// SetupToolchain/InstallDependencies/SyncProject nodes for every project
// in the graph, with no RunTask nodes. This is the graph `moon sync`
// executes: it brings every project's toolchain and dependency state up
// to date without running any task.
func (b *Builder) BuildSync() (*Graph, error) {
	g := newGraph()
	g.upsert(ActionNode{Kind: KindSyncWorkspace})

	requiresProto := false
	for _, p := range b.Projects.GetAll() {
		if len(p.Toolchains) > 0 {
			requiresProto = true
		}
	}
	var protoKey string
	if requiresProto {
		protoKey = g.upsert(ActionNode{Kind: KindSetupProto})
	}

	synced := mapset.NewSet()
	for _, p := range b.Projects.GetAll() {
		if err := b.ensureProjectChain(g, p, protoKey, synced); err != nil {
			return nil, err
		}
	}

	if err := checkCycles(g); err != nil {
		return nil, err
	}
	return g, nil
}

// ensureProjectChain inserts SyncProject(p) depending on the SetupToolchain
// of each toolchain the project uses and on SyncProject of each dependency
// , memoized via syncedProjects so shared dependencies are only
// wired once.
func (b *Builder) ensureProjectChain(g *Graph, p *project.Project, protoKey string, synced mapset.Set) error {
	key := "sync-project:" + p.Id.String()
	if synced.Contains(key) {
		return nil
	}
	synced.Add(key)

	syncKey := g.upsert(ActionNode{Kind: KindSyncProject, ProjectId: p.Id, ToolchainIds: p.Toolchains})
	for _, tc := range p.Toolchains {
		tcKey, _ := b.ensureToolchain(g, tc, protoKey, p)
		g.dependOn(syncKey, tcKey)
	}
	for depId := range p.Dependencies {
		dep, err := b.Projects.Get(depId.String())
		if err != nil {
			return err
		}
		if err := b.ensureProjectChain(g, dep, protoKey, synced); err != nil {
			return err
		}
		g.dependOn(syncKey, "sync-project:"+dep.Id.String())
	}
	return nil
}

// ensureToolchain inserts SetupToolchain(tc) (depending on SetupProto) and
// InstallDependencies(tc, root, project) (depending on SetupToolchain),
// returning both keys.
func (b *Builder) ensureToolchain(g *Graph, tc id.Id, protoKey string, p *project.Project) (tcKey, instKey string) {
	tcKey = g.upsert(ActionNode{Kind: KindSetupToolchain, ToolchainId: tc, Runtime: tc.String()})
	if protoKey != "" {
		g.dependOn(tcKey, protoKey)
	}

	instKey = g.upsert(ActionNode{Kind: KindInstallDependencies, ToolchainId: tc, Root: p.Root, ProjectId: p.Id})
	g.dependOn(instKey, tcKey)
	return tcKey, instKey
}

// resolveScope expands a Target's scope into the set of concrete projects
// it addresses.
func (b *Builder) resolveScope(t target.Target) ([]*project.Project, error) {
	switch t.Scope.Kind {
	case target.ScopeProject:
		p, err := b.Projects.Get(t.Scope.Project.String())
		if err != nil {
			return nil, err
		}
		return []*project.Project{p}, nil
	case target.ScopeTag:
		var out []*project.Project
		for _, p := range b.Projects.GetAll() {
			if p.HasTag(t.Scope.Tag) {
				out = append(out, p)
			}
		}
		return out, nil
	case target.ScopeAll:
		return b.Projects.GetAll(), nil
	default:
		// ScopeDependencies/ScopeSelf require the invoking project's
		// context, which the caller resolves before reaching the builder;
		// by this point a bare "^"/"~" target is a configuration error.
		return nil, fmt.Errorf("actiongraph: target %q must be resolved to a concrete project before graph building", t)
	}
}

// resolveDepScope resolves a TaskDep's target relative to the project that
// declared it, additionally handling the dependency-relative scopes
// ("^" = every project dependency, "~" = the declaring project itself)
// that only make sense inside a task's own deps list.
func (b *Builder) resolveDepScope(owner *project.Project, t target.Target) ([]*project.Project, error) {
	switch t.Scope.Kind {
	case target.ScopeDependencies:
		var out []*project.Project
		for depId := range owner.Dependencies {
			dp, err := b.Projects.Get(depId.String())
			if err != nil {
				return nil, err
			}
			out = append(out, dp)
		}
		return out, nil
	case target.ScopeSelf:
		return []*project.Project{owner}, nil
	default:
		return b.resolveScope(t)
	}
}

// isAffected reports whether a task's expanded inputs intersect the
// touched-file set, or whether the owning project was pulled in by a
// Direct/Deep Dependents widening of another directly-affected project.
// Empty Inputs ([]) means "always unaffected"; that is represented by the task simply
// having no InputFiles/InputGlobs, which this check naturally treats as
// non-intersecting.
func (b *Builder) isAffected(p *project.Project, task project.Task) bool {
	if b.affectedProjects != nil && b.affectedProjects[p.Id] {
		return true
	}
	if len(b.TouchedFiles) == 0 {
		return false
	}
	for _, f := range task.InputFiles {
		if b.TouchedFiles[f] {
			return true
		}
	}
	return false
}

// directlyAffectedProjects returns the set of project ids whose tasks have
// at least one input file in TouchedFiles, scanning every task on every
// project (not just the requested targets) so a Dependents widening can
// start from the project's full affected footprint.
func (b *Builder) directlyAffectedProjects() map[id.Id]bool {
	direct := make(map[id.Id]bool)
	if len(b.TouchedFiles) == 0 {
		return direct
	}
	for _, p := range b.Projects.GetAll() {
		for _, task := range p.Tasks {
			for _, f := range task.InputFiles {
				if b.TouchedFiles[f] {
					direct[p.Id] = true
				}
			}
		}
	}
	return direct
}

// expandDependents widens a directly-affected project set to include their
// dependents: Direct adds immediate dependents only, Deep repeats to a
// fixpoint across the full dependent chain.
func (b *Builder) expandDependents(direct map[id.Id]bool, scope DownstreamScope) map[id.Id]bool {
	if scope == DownstreamNone {
		return direct
	}

	all := b.Projects.GetAll()
	widened := make(map[id.Id]bool, len(direct))
	for k := range direct {
		widened[k] = true
	}

	grow := func() bool {
		changed := false
		for _, p := range all {
			if widened[p.Id] {
				continue
			}
			for depId := range p.Dependencies {
				if widened[depId] {
					widened[p.Id] = true
					changed = true
					break
				}
			}
		}
		return changed
	}

	if scope == DownstreamDirect {
		grow()
		return widened
	}
	for grow() {
	}
	return widened
}

func checkCycles(g *Graph) error {
	if cycles := g.dag.Cycles(); len(cycles) > 0 {
		path := make([]string, len(cycles[0]))
		for i, v := range cycles[0] {
			path[i] = v.(string)
		}
		return &CycleError{Path: path}
	}
	return nil
}
