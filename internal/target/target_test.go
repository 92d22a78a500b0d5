package target

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseProjectScope(t *testing.T) {
	tg, err := Parse("app:build")
	assert.NilError(t, err)
	assert.Equal(t, ScopeProject, tg.Scope.Kind)
	assert.Equal(t, "app", tg.Scope.Project.String())
	assert.Equal(t, "build", tg.Task.String())
}

func TestParseRoundTrips(t *testing.T) {
	for _, raw := range []string{"app:build", "^:build", "~:test", ":lint", "#frontend:build"} {
		tg, err := Parse(raw)
		assert.NilError(t, err)
		assert.Equal(t, raw, tg.String())
	}
}

func TestParseScopeKinds(t *testing.T) {
	cases := map[string]ScopeKind{
		"app:build":       ScopeProject,
		"^:build":         ScopeDependencies,
		"~:build":         ScopeSelf,
		":build":          ScopeAll,
		"#frontend:build": ScopeTag,
	}
	for raw, kind := range cases {
		tg, err := Parse(raw)
		assert.NilError(t, err)
		assert.Equal(t, kind, tg.Scope.Kind)
	}
}

func TestParseTagScopeCarriesTag(t *testing.T) {
	tg, err := Parse("#frontend:build")
	assert.NilError(t, err)
	assert.Equal(t, "frontend", tg.Scope.Tag.String())
}

func TestParseRejectsMissingSeparator(t *testing.T) {
	_, err := Parse("build")
	assert.ErrorContains(t, err, "missing the ':'")
}

func TestParseRejectsEmptyTask(t *testing.T) {
	_, err := Parse("app:")
	assert.ErrorContains(t, err, "task segment")
}

func TestParseRejectsBadProjectId(t *testing.T) {
	_, err := Parse("app les:build")
	assert.ErrorContains(t, err, "project segment")
}

func TestParseAsDependencyRejectsAllScope(t *testing.T) {
	_, err := ParseAsDependency(":lint")
	assert.ErrorContains(t, err, "not a legal task dependency")
}

func TestParseAsDependencyAllowsOtherScopes(t *testing.T) {
	for _, raw := range []string{"app:build", "^:build", "~:build", "#frontend:build"} {
		_, err := ParseAsDependency(raw)
		assert.NilError(t, err)
	}
}
