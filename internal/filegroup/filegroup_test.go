package filegroup

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moonrepo/moon/internal/wspath"
)

func mustGroup(t *testing.T, name string, raw []string) FileGroup {
	t.Helper()
	g, err := New(name, raw)
	assert.NilError(t, err)
	return g
}

func rawPaths(paths []wspath.Path) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, p.Raw)
	}
	return out
}

func TestNewRejectsBadEntry(t *testing.T) {
	_, err := New("sources", []string{"src/index.ts", ""})
	assert.ErrorContains(t, err, "empty path entry")
}

func TestFilesExcludesGlobsAndTokens(t *testing.T) {
	g := mustGroup(t, "sources", []string{
		"src/index.ts",
		"src/**/*.ts",
		"@files(other)",
		"package.json",
	})
	assert.DeepEqual(t, []string{"src/index.ts", "package.json"}, rawPaths(g.Files()))
}

func TestGlobs(t *testing.T) {
	g := mustGroup(t, "sources", []string{
		"src/index.ts",
		"src/**/*.ts",
		"/configs/*.yml",
	})
	assert.DeepEqual(t, []string{"src/**/*.ts", "/configs/*.yml"}, rawPaths(g.Globs()))
}

func TestDirsHeuristic(t *testing.T) {
	g := mustGroup(t, "sources", []string{
		"src",
		"assets/img",
		"package.json",
	})
	assert.DeepEqual(t, []string{"src", "assets/img"}, rawPaths(g.Dirs()))
}

func TestRootCommonPrefix(t *testing.T) {
	g := mustGroup(t, "sources", []string{
		"src/lib/a.ts",
		"src/lib/b.ts",
		"src/lib/deep/c.ts",
	})
	assert.Equal(t, "src/lib", g.Root())
}

func TestRootNoCommonPrefix(t *testing.T) {
	g := mustGroup(t, "sources", []string{
		"src/a.ts",
		"docs/b.md",
	})
	assert.Equal(t, "", g.Root())
}

func TestRootIgnoresGlobs(t *testing.T) {
	g := mustGroup(t, "sources", []string{
		"src/lib/a.ts",
		"src/lib/b.ts",
		"dist/**/*",
	})
	assert.Equal(t, "src/lib", g.Root())
}

func TestRootEmptyGroup(t *testing.T) {
	g := mustGroup(t, "empty", nil)
	assert.Equal(t, "", g.Root())
}
