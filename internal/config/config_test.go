package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestInheritanceChain(t *testing.T) {
	chain := InheritanceChain("unix", "node", "test", []string{"frontend", "backend"})
	assert.DeepEqual(t, []string{"*", "unix", "node", "unix-test", "node-test", "tag-backend", "tag-frontend"}, chain)
}

func TestRawCommandUnmarshalScalarAndList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, filepath.Join(".moon", "tasks.yml"), `
tasks:
  build:
    command: "webpack build"
  lint:
    command: ["eslint", "."]
`)
	loader := NewLoader(root)
	layer, err := loader.LoadTasksLayer("")
	assert.NilError(t, err)
	assert.DeepEqual(t, RawCommand{"webpack build"}, layer["build"].Command)
	assert.DeepEqual(t, RawCommand{"eslint", "."}, layer["lint"].Command)
}

func TestMergeTaskLayerFieldByField(t *testing.T) {
	base := RawTask{Command: RawCommand{"build"}, Env: map[string]string{"A": "1"}}
	overlay := RawTask{Env: map[string]string{"B": "2"}}
	merged := MergeTaskLayer(base, overlay)

	assert.DeepEqual(t, RawCommand{"build"}, merged.Command)
	assert.DeepEqual(t, map[string]string{"A": "1", "B": "2"}, merged.Env)
}

func TestMergeTaskLayerScriptOverridesCommand(t *testing.T) {
	base := RawTask{Command: RawCommand{"build"}}
	overlay := RawTask{Script: "./build.sh"}
	merged := MergeTaskLayer(base, overlay)

	assert.Equal(t, "./build.sh", merged.Script)
	assert.Assert(t, merged.Command == nil)
}

func TestLoadProjectMissingFileIsNotError(t *testing.T) {
	root := t.TempDir()
	loader := NewLoader(root)
	cfg, err := loader.LoadProject("packages/missing")
	assert.NilError(t, err)
	assert.DeepEqual(t, &ProjectConfig{}, cfg)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	assert.NilError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	assert.NilError(t, os.WriteFile(full, []byte(content), 0o644))
}
