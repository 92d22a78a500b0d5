package hasher

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/target"
	"github.com/moonrepo/moon/internal/vcsadapter"
)

func mustTarget(t *testing.T, raw string) target.Target {
	t.Helper()
	tg, err := target.Parse(raw)
	assert.NilError(t, err)
	return tg
}

func TestTaskHashIsDeterministic(t *testing.T) {
	task := project.Task{
		Target:      mustTarget(t, "app:build"),
		Command:     []string{"webpack", "build"},
		Args:        []string{"--mode", "production"},
		Env:         map[string]string{"NODE_ENV": "production"},
		OutputFiles: []string{"dist/bundle.js"},
	}
	f := TaskFragments{Task: task, InputFileHashes: map[string]string{"src/a.ts": "abc123"}}

	h1, err := TaskHash(f)
	assert.NilError(t, err)
	h2, err := TaskHash(f)
	assert.NilError(t, err)
	assert.Equal(t, h1, h2)
}

func TestTaskHashStableUnderEnvMapPermutation(t *testing.T) {
	base := project.Task{Target: mustTarget(t, "app:build"), Command: []string{"build"}}

	a := base
	a.Env = map[string]string{"A": "1", "B": "2"}
	b := base
	b.Env = map[string]string{"B": "2", "A": "1"}

	h1, err := TaskHash(TaskFragments{Task: a})
	assert.NilError(t, err)
	h2, err := TaskHash(TaskFragments{Task: b})
	assert.NilError(t, err)
	assert.Equal(t, h1, h2)
}

func TestTaskHashDiffersOnCommandChange(t *testing.T) {
	base := project.Task{Target: mustTarget(t, "app:build")}
	a := base
	a.Command = []string{"webpack"}
	b := base
	b.Command = []string{"rollup"}

	h1, err := TaskHash(TaskFragments{Task: a})
	assert.NilError(t, err)
	h2, err := TaskHash(TaskFragments{Task: b})
	assert.NilError(t, err)
	assert.Assert(t, h1 != h2)
}

func TestResolveInputFileHashesEmpty(t *testing.T) {
	hashes, err := ResolveInputFileHashes(context.Background(), vcsadapter.Stub{}, nil, 4)
	assert.NilError(t, err)
	assert.Equal(t, 0, len(hashes))
}

func TestInstallDependenciesHashDeterministic(t *testing.T) {
	f := InstallDependenciesFragments{
		ToolchainId:     "node",
		Root:            "/repo",
		LockfileMtimeMs: 1234,
		ToolchainConfig: map[string]string{"packageManager": "npm"},
	}
	h1, err := InstallDependenciesHash(f)
	assert.NilError(t, err)
	h2, err := InstallDependenciesHash(f)
	assert.NilError(t, err)
	assert.Equal(t, h1, h2)
}
