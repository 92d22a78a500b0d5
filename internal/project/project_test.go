package project

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moonrepo/moon/internal/id"
	"github.com/moonrepo/moon/internal/target"
)

func mustTarget(t *testing.T, raw string) target.Target {
	t.Helper()
	tg, err := target.Parse(raw)
	assert.NilError(t, err)
	return tg
}

func TestTaskValidateRequiresCommandOrScript(t *testing.T) {
	task := Task{Target: mustTarget(t, "app:build")}
	err := task.Validate()
	assert.ErrorContains(t, err, "either command or script")
}

func TestTaskValidateRejectsAllScopeDependency(t *testing.T) {
	task := Task{
		Target:  mustTarget(t, "app:build"),
		Command: []string{"webpack"},
		Deps:    []TaskDep{{Target: mustTarget(t, ":lint")}},
	}
	err := task.Validate()
	assert.ErrorContains(t, err, "scope All")
}

func TestTaskValidateRejectsOutputAlsoInInputs(t *testing.T) {
	task := Task{
		Target:      mustTarget(t, "app:build"),
		Command:     []string{"webpack"},
		InputFiles:  []string{"dist/bundle.js"},
		OutputFiles: []string{"dist/bundle.js"},
	}
	err := task.Validate()
	assert.ErrorContains(t, err, "must not also appear in inputs")
}

func TestTaskValidateOK(t *testing.T) {
	task := Task{
		Target:      mustTarget(t, "app:build"),
		Command:     []string{"webpack"},
		InputFiles:  []string{"src/index.ts"},
		OutputFiles: []string{"dist/bundle.js"},
	}
	assert.NilError(t, task.Validate())
}

func TestProjectAddDependencyAndHasTag(t *testing.T) {
	p := New(id.MustNew("app"), "apps/app", "/repo/apps/app")
	p.Tags = []id.Id{id.MustNew("frontend")}
	p.AddDependency(id.MustNew("utils"), ScopeProduction, SourceExplicit)

	assert.Assert(t, p.HasTag(id.MustNew("frontend")))
	assert.Assert(t, !p.HasTag(id.MustNew("backend")))

	dep, ok := p.Dependencies[id.MustNew("utils")]
	assert.Assert(t, ok)
	assert.Equal(t, ScopeProduction, dep.Scope)
	assert.Equal(t, SourceExplicit, dep.Source)
}
