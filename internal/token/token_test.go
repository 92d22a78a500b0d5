package token

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moonrepo/moon/internal/env"
	"github.com/moonrepo/moon/internal/filegroup"
)

func baseContext(t *testing.T) Context {
	t.Helper()
	sources, err := filegroup.New("sources", []string{"src/**/*.ts"})
	assert.NilError(t, err)
	return Context{
		Vars: Vars{
			ProjectRoot:   "/repo/apps/app",
			WorkspaceRoot: "/repo",
			Target:        "app:build",
		},
		FileGroups: map[string]filegroup.FileGroup{"sources": sources},
		Env:        env.EnvironmentVariableMap{"NODE_ENV": "production", "API_KEY": "secret"},
	}
}

func TestExpandStringSubstitutesVars(t *testing.T) {
	ctx := baseContext(t)
	out, err := ExpandString(ctx, FieldArgs, "$projectRoot/dist")
	assert.NilError(t, err)
	assert.Equal(t, "/repo/apps/app/dist", out)
}

func TestExpandStringFallsBackToProcessEnv(t *testing.T) {
	ctx := baseContext(t)
	out, err := ExpandString(ctx, FieldArgs, "$NODE_ENV")
	assert.NilError(t, err)
	assert.Equal(t, "production", out)
}

func TestExpandTokenGlobsFunction(t *testing.T) {
	ctx := baseContext(t)
	out, err := ExpandToken(ctx, "@globs(sources)")
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{"src/**/*.ts"}, out)
}

func TestExpandTokenUnknownFileGroup(t *testing.T) {
	ctx := baseContext(t)
	_, err := ExpandToken(ctx, "@files(missing)")
	var unk *UnknownFileGroup
	assert.Assert(t, errors.As(err, &unk))
}

func TestExpandTokenInOutBounds(t *testing.T) {
	ctx := baseContext(t)
	ctx.InputFiles = []string{"src/a.ts", "src/b.ts"}
	out, err := ExpandToken(ctx, "@in(1)")
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{"src/b.ts"}, out)

	_, err = ExpandToken(ctx, "@in(5)")
	var bounds *IndexOutOfBounds
	assert.Assert(t, errors.As(err, &bounds))
}

func TestExpandEnvWildcard(t *testing.T) {
	ctx := baseContext(t)
	ctx.Env["PUBLIC_FOO"] = "1"
	ctx.Env["PUBLIC_BAR"] = "2"
	out, err := ExpandToken(ctx, "$PUBLIC_*")
	assert.NilError(t, err)
	assert.Equal(t, 2, len(out))
}

func TestExpandTokenMeta(t *testing.T) {
	ctx := baseContext(t)
	ctx.Meta = map[string]string{"owner": "platform-team"}
	out, err := ExpandToken(ctx, "@meta(owner)")
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{"platform-team"}, out)

	_, err = ExpandToken(ctx, "@meta(missing)")
	assert.ErrorContains(t, err, "no such metadata key")
}
