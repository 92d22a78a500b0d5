// Package projectgraph implements the Project Graph: a
// directed acyclic graph of projects keyed by dependency scope, with
// alias resolution, path-based lookup, and focus (sub-DAG) extraction.
//
// dag.AcyclicGraph backs the structure with string vertex names. Cycle
// detection uses Cycles() instead of Validate() because the graph
// legitimately has multiple roots.
package projectgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/pyr-sh/dag"

	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/project"
)

// UnconfiguredId is returned when a referenced project id is unknown to
// the graph.
type UnconfiguredId struct {
	Id string
}

func (e *UnconfiguredId) Error() string {
	return fmt.Sprintf("projectgraph: unconfigured project id %q", e.Id)
}

// MissingFromPath is returned when no project source is a prefix of a
// queried file path.
type MissingFromPath struct {
	Path string
}

func (e *MissingFromPath) Error() string {
	return fmt.Sprintf("projectgraph: no project source matches path %q", e.Path)
}

// CycleError reports a dependency cycle found during Build.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("projectgraph: cyclic project dependency: %s", strings.Join(e.Path, " -> "))
}

// Graph is the Project Graph: a dag.AcyclicGraph of projects keyed by Id
// string, plus the alias index and source-path index used by lookups.
type Graph struct {
	dag dag.AcyclicGraph

	projects map[id.Id]*project.Project
	aliases  map[string]id.Id

	logger hclog.Logger
	built  bool
}

// New constructs an empty Graph.
func New(logger hclog.Logger) *Graph {
	return &Graph{
		projects: make(map[id.Id]*project.Project),
		aliases:  make(map[string]id.Id),
		logger:   logger.Named("project-graph"),
	}
}

// AddProject registers a project's node. Must be called before Build.
func (g *Graph) AddProject(p *project.Project) {
	g.projects[p.Id] = p
	g.dag.Add(p.Id.String())
}

// AddAlias registers an alternate name for a project id (e.g. a package
// manifest name). An alias that duplicates an existing id is ignored
// with a warning; aliases are never stored as primary keys.
func (g *Graph) AddAlias(alias string, target id.Id) {
	if _, isPrimary := g.projects[id.Id(alias)]; isPrimary {
		g.logger.Warn("alias duplicates an existing project id, ignoring", "alias", alias, "project", target.String())
		return
	}
	if existing, ok := g.aliases[alias]; ok && existing != target {
		g.logger.Warn("alias already bound, keeping first-inserted winner", "alias", alias, "existing", existing.String(), "ignored", target.String())
		return
	}
	g.aliases[alias] = target
}

// Build connects dependency edges for every registered project and checks
// for cycles. Call once after all projects and aliases are added.
func (g *Graph) Build() error {
	for projectId, p := range g.projects {
		for depId := range p.Dependencies {
			if _, ok := g.projects[depId]; !ok {
				return &UnconfiguredId{Id: depId.String()}
			}
			// Edge direction: project -> dependency, so Ancestors(project)
			// gives "things project depends on" and Descendents(dependency)
			// gives "things that depend on dependency" (dependents).
			g.dag.Connect(dag.BasicEdge(projectId.String(), depId.String()))
		}
	}

	if cycles := g.dag.Cycles(); len(cycles) > 0 {
		path := make([]string, len(cycles[0]))
		for i, v := range cycles[0] {
			path[i] = v.(string)
		}
		return &CycleError{Path: path}
	}
	for _, e := range g.dag.Edges() {
		if e.Source() == e.Target() {
			return &CycleError{Path: []string{e.Source().(string), e.Target().(string)}}
		}
	}

	g.built = true
	return nil
}

// Get resolves an id or alias to its Project.
func (g *Graph) Get(idOrAlias string) (*project.Project, error) {
	if p, ok := g.projects[id.Id(idOrAlias)]; ok {
		return p, nil
	}
	if target, ok := g.aliases[idOrAlias]; ok {
		if p, ok := g.projects[target]; ok {
			return p, nil
		}
	}
	return nil, &UnconfiguredId{Id: idOrAlias}
}

// GetAll returns every project in the graph, sorted by id for determinism.
func (g *Graph) GetAll() []*project.Project {
	ids := make([]id.Id, 0, len(g.projects))
	for projectId := range g.projects {
		ids = append(ids, projectId)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	out := make([]*project.Project, len(ids))
	for i, projectId := range ids {
		out[i] = g.projects[projectId]
	}
	return out
}

// GetFromPath finds the project whose source is the deepest prefix of
// path: smallest remaining suffix length, with an exact match winning
// any tie.
func (g *Graph) GetFromPath(path string) (*project.Project, error) {
	var best *project.Project
	bestSuffixLen := -1

	for _, p := range g.projects {
		source := strings.Trim(p.Source, "/")
		trimmedPath := strings.Trim(path, "/")

		if source == trimmedPath {
			return p, nil
		}
		if source == "" || strings.HasPrefix(trimmedPath, source+"/") {
			suffixLen := len(trimmedPath) - len(source)
			if best == nil || suffixLen < bestSuffixLen {
				best = p
				bestSuffixLen = suffixLen
			}
		}
	}

	if best == nil {
		return nil, &MissingFromPath{Path: path}
	}
	return best, nil
}

// Focus restricts the graph to the transitive closure of dependencies
// rooted at projectId, optionally unioning the closure of its dependents
// . Returns a new Graph with freshly built edges;
// node indices are therefore "remapped" relative to the source graph, per
// the ProjectGraph invariant that focusing produces new indices.
func (g *Graph) Focus(projectId id.Id, withDependents bool) (*Graph, error) {
	if _, ok := g.projects[projectId]; !ok {
		return nil, &UnconfiguredId{Id: projectId.String()}
	}

	keep := make(map[id.Id]bool)
	g.collectAncestors(projectId, keep)
	keep[projectId] = true

	if withDependents {
		dependents := make(map[id.Id]bool)
		g.collectDescendants(projectId, dependents)
		for d := range dependents {
			keep[d] = true
			g.collectAncestors(d, keep)
		}
	}

	focused := New(g.logger)
	for projId, isKept := range keep {
		if isKept {
			focused.AddProject(g.projects[projId])
		}
	}
	for alias, target := range g.aliases {
		if keep[target] {
			focused.AddAlias(alias, target)
		}
	}
	if err := focused.Build(); err != nil {
		return nil, err
	}
	return focused, nil
}

func (g *Graph) collectAncestors(start id.Id, into map[id.Id]bool) {
	p, ok := g.projects[start]
	if !ok {
		return
	}
	for depId := range p.Dependencies {
		if !into[depId] {
			into[depId] = true
			g.collectAncestors(depId, into)
		}
	}
}

func (g *Graph) collectDescendants(start id.Id, into map[id.Id]bool) {
	for projId, p := range g.projects {
		if _, dependsOnStart := p.Dependencies[start]; dependsOnStart && !into[projId] {
			into[projId] = true
			g.collectDescendants(projId, into)
		}
	}
}

// Len returns the number of projects in the graph.
func (g *Graph) Len() int { return len(g.projects) }
