package actiongraph

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"gotest.tools/v3/assert"

	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/projectgraph"
	"github.com/moonrepo/moon/internal/target"
)

func mustTarget(t *testing.T, raw string) target.Target {
	t.Helper()
	tg, err := target.Parse(raw)
	assert.NilError(t, err)
	return tg
}

func buildProjectGraph(t *testing.T) *projectgraph.Graph {
	t.Helper()
	g := projectgraph.New(hclog.NewNullLogger())

	a := project.New(id.MustNew("a"), "packages/a", "/repo/packages/a")
	a.Toolchains = []id.Id{id.MustNew("node")}
	a.Tasks[id.MustNew("build")] = project.Task{
		Target:     mustTarget(t, "a:build"),
		Command:    []string{"tsc"},
		Toolchains: []id.Id{id.MustNew("node")},
		InputFiles: []string{"packages/a/src/index.ts"},
	}

	b := project.New(id.MustNew("b"), "packages/b", "/repo/packages/b")
	b.Toolchains = []id.Id{id.MustNew("node")}
	b.AddDependency(id.MustNew("a"), project.ScopeProduction, project.SourceExplicit)
	b.Tasks[id.MustNew("build")] = project.Task{
		Target:     mustTarget(t, "b:build"),
		Command:    []string{"tsc"},
		Toolchains: []id.Id{id.MustNew("node")},
		InputFiles: []string{"packages/b/src/index.ts"},
		Deps:       []project.TaskDep{{Target: mustTarget(t, "^:build")}},
	}

	g.AddProject(a)
	g.AddProject(b)
	assert.NilError(t, g.Build())
	return g
}

func TestBuildWiresDependencyChain(t *testing.T) {
	pg := buildProjectGraph(t)
	b := NewBuilder(pg)

	graph, err := b.Build([]target.Target{mustTarget(t, "b:build")}, RunRequirements{}, false)
	assert.NilError(t, err)

	runTasks := graph.RunTaskNodes()
	assert.Equal(t, 2, len(runTasks))
	assert.Equal(t, "a:build", runTasks[0].Target.String())
	assert.Equal(t, "b:build", runTasks[1].Target.String())

	bDeps := graph.DependsOn(runTasks[1])
	found := false
	for _, d := range bDeps {
		if d == "run-task:a:build" {
			found = true
		}
	}
	assert.Assert(t, found, "b:build must depend on a:build")
}

func TestBuildInsertsToolchainAndInstallNodes(t *testing.T) {
	pg := buildProjectGraph(t)
	b := NewBuilder(pg)

	graph, err := b.Build([]target.Target{mustTarget(t, "a:build")}, RunRequirements{}, false)
	assert.NilError(t, err)

	var sawToolchain, sawInstall, sawSyncProject bool
	for _, n := range graph.Nodes() {
		switch n.Kind {
		case KindSetupToolchain:
			sawToolchain = true
		case KindInstallDependencies:
			sawInstall = true
		case KindSyncProject:
			sawSyncProject = true
		}
	}
	assert.Assert(t, sawToolchain)
	assert.Assert(t, sawInstall)
	assert.Assert(t, sawSyncProject)
}

func TestBuildAllScopeExpandsEveryProject(t *testing.T) {
	pg := buildProjectGraph(t)
	b := NewBuilder(pg)

	graph, err := b.Build([]target.Target{mustTarget(t, ":build")}, RunRequirements{}, false)
	assert.NilError(t, err)
	assert.Equal(t, 2, len(graph.RunTaskNodes()))
}

func TestBuildAffectedFilteringSkipsUntouchedProjects(t *testing.T) {
	pg := buildProjectGraph(t)
	b := NewBuilder(pg)
	b.TouchedFiles = map[string]bool{"packages/b/src/index.ts": true}

	graph, err := b.Build([]target.Target{mustTarget(t, ":build")}, RunRequirements{}, true)
	assert.NilError(t, err)

	runTasks := graph.RunTaskNodes()
	assert.Equal(t, 1, len(runTasks))
	assert.Equal(t, "b:build", runTasks[0].Target.String())
}

func TestBuildDependentsWideningIncludesDownstreamProject(t *testing.T) {
	pg := buildProjectGraph(t)
	b := NewBuilder(pg)
	b.TouchedFiles = map[string]bool{"packages/a/src/index.ts": true}

	graph, err := b.Build(
		[]target.Target{mustTarget(t, ":build")},
		RunRequirements{Dependents: DownstreamDirect},
		true,
	)
	assert.NilError(t, err)

	runTasks := graph.RunTaskNodes()
	assert.Equal(t, 2, len(runTasks))
	assert.Equal(t, "a:build", runTasks[0].Target.String())
	assert.Equal(t, "b:build", runTasks[1].Target.String())
}

func TestBuildSyncWiresEveryProjectWithNoRunTasks(t *testing.T) {
	pg := buildProjectGraph(t)
	b := NewBuilder(pg)

	graph, err := b.BuildSync()
	assert.NilError(t, err)
	assert.Equal(t, 0, len(graph.RunTaskNodes()))

	var sawWorkspace, sawToolchain, sawSyncA, sawSyncB bool
	for _, n := range graph.Nodes() {
		switch n.Kind {
		case KindSyncWorkspace:
			sawWorkspace = true
		case KindSetupToolchain:
			sawToolchain = true
		case KindSyncProject:
			if n.ProjectId.String() == "a" {
				sawSyncA = true
			}
			if n.ProjectId.String() == "b" {
				sawSyncB = true
			}
		}
	}
	assert.Assert(t, sawWorkspace)
	assert.Assert(t, sawToolchain)
	assert.Assert(t, sawSyncA)
	assert.Assert(t, sawSyncB)
}

func TestBuildDetectsCycle(t *testing.T) {
	g := projectgraph.New(hclog.NewNullLogger())

	a := project.New(id.MustNew("a"), "packages/a", "/repo/packages/a")
	a.Tasks[id.MustNew("build")] = project.Task{
		Target:  mustTarget(t, "a:build"),
		Command: []string{"noop"},
		Deps:    []project.TaskDep{{Target: mustTarget(t, "b:build")}},
	}
	b := project.New(id.MustNew("b"), "packages/b", "/repo/packages/b")
	b.Tasks[id.MustNew("build")] = project.Task{
		Target:  mustTarget(t, "b:build"),
		Command: []string{"noop"},
		Deps:    []project.TaskDep{{Target: mustTarget(t, "a:build")}},
	}
	g.AddProject(a)
	g.AddProject(b)
	assert.NilError(t, g.Build())

	builder := NewBuilder(g)
	_, err := builder.Build([]target.Target{mustTarget(t, "a:build")}, RunRequirements{}, false)
	assert.ErrorContains(t, err, "cyclic action dependency")
}
