package projectgraph

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"gotest.tools/v3/assert"

	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/project"
)

func testLogger() hclog.Logger {
	return hclog.NewNullLogger()
}

func buildGraph(t *testing.T) *Graph {
	t.Helper()
	g := New(testLogger())

	a := project.New(id.MustNew("a"), "packages/a", "/repo/packages/a")
	b := project.New(id.MustNew("b"), "packages/b", "/repo/packages/b")
	c := project.New(id.MustNew("c"), "packages/c", "/repo/packages/c")
	b.AddDependency(id.MustNew("a"), project.ScopeProduction, project.SourceExplicit)
	c.AddDependency(id.MustNew("b"), project.ScopeProduction, project.SourceExplicit)

	g.AddProject(a)
	g.AddProject(b)
	g.AddProject(c)
	assert.NilError(t, g.Build())
	return g
}

func TestGetResolvesById(t *testing.T) {
	g := buildGraph(t)
	p, err := g.Get("b")
	assert.NilError(t, err)
	assert.Equal(t, id.Id("b"), p.Id)
}

func TestGetUnconfiguredId(t *testing.T) {
	g := buildGraph(t)
	_, err := g.Get("missing")
	assert.ErrorContains(t, err, "unconfigured project id")
}

func TestCycleDetection(t *testing.T) {
	g := New(testLogger())
	a := project.New(id.MustNew("a"), "packages/a", "/repo/packages/a")
	b := project.New(id.MustNew("b"), "packages/b", "/repo/packages/b")
	a.AddDependency(id.MustNew("b"), project.ScopeProduction, project.SourceExplicit)
	b.AddDependency(id.MustNew("a"), project.ScopeProduction, project.SourceExplicit)
	g.AddProject(a)
	g.AddProject(b)

	err := g.Build()
	assert.ErrorContains(t, err, "cyclic project dependency")
}

func TestGetFromPathDeepestPrefixWins(t *testing.T) {
	g := New(testLogger())
	root := project.New(id.MustNew("root"), "", "/repo")
	nested := project.New(id.MustNew("nested"), "packages/a", "/repo/packages/a")
	g.AddProject(root)
	g.AddProject(nested)
	assert.NilError(t, g.Build())

	p, err := g.GetFromPath("packages/a/src/index.ts")
	assert.NilError(t, err)
	assert.Equal(t, id.Id("nested"), p.Id)
}

func TestGetFromPathMissing(t *testing.T) {
	g := New(testLogger())
	assert.NilError(t, g.Build())
	_, err := g.GetFromPath("packages/a/index.ts")
	assert.ErrorContains(t, err, "no project source matches")
}

func TestAliasDuplicatingPrimaryIdIsIgnored(t *testing.T) {
	g := buildGraph(t)
	g.AddAlias("a", id.MustNew("b"))
	p, err := g.Get("a")
	assert.NilError(t, err)
	assert.Equal(t, id.Id("a"), p.Id)
}

func TestFocusWithoutDependents(t *testing.T) {
	g := buildGraph(t)
	focused, err := g.Focus(id.MustNew("b"), false)
	assert.NilError(t, err)
	assert.Equal(t, 2, focused.Len()) // b and its dependency a

	_, err = focused.Get("c")
	assert.ErrorContains(t, err, "unconfigured project id")
}

func TestFocusWithDependents(t *testing.T) {
	g := buildGraph(t)
	focused, err := g.Focus(id.MustNew("b"), true)
	assert.NilError(t, err)
	assert.Equal(t, 3, focused.Len()) // a, b, c
}
