package globby

import (
	"io/fs"
	"sort"
	"testing"
	"testing/fstest"

	"gotest.tools/v3/assert"
)

// repoFS builds an in-memory filesystem rooted at "/" from absolute file
// paths (io/fs names carry no leading slash, so it is stripped).
func repoFS(files ...string) fs.FS {
	fsys := fstest.MapFS{}
	for _, f := range files {
		fsys[f[1:]] = &fstest.MapFile{Mode: 0o644}
	}
	return fsys
}

var monorepo = repoFS(
	"/work/app/moon.yml",
	"/work/app/src/main.go",
	"/work/app/src/util/strings.go",
	"/work/app/src/util/strings_test.go",
	"/work/app/out/bundle.js",
	"/work/app/out/assets/logo.svg",
	"/work/app/vendor/dep/dep.go",
	"/work/other/file.txt",
)

func globFiles(t *testing.T, base string, includes, excludes []string) []string {
	t.Helper()
	got, err := globFilesFs(monorepo, "/", base, includes, excludes)
	assert.NilError(t, err)
	sort.Strings(got)
	return got
}

func globAll(t *testing.T, base string, includes, excludes []string) []string {
	t.Helper()
	got, err := globAllFs(monorepo, "/", base, includes, excludes)
	assert.NilError(t, err)
	sort.Strings(got)
	return got
}

func TestLiteralInclude(t *testing.T) {
	got := globFiles(t, "/work/app", []string{"moon.yml"}, nil)
	assert.DeepEqual(t, []string{"/work/app/moon.yml"}, got)
}

func TestStarMatchesOneSegment(t *testing.T) {
	got := globFiles(t, "/work/app/src", []string{"*.go"}, nil)
	assert.DeepEqual(t, []string{"/work/app/src/main.go"}, got)
}

func TestDoublestarRecurses(t *testing.T) {
	got := globFiles(t, "/work/app", []string{"src/**/*.go"}, nil)
	assert.DeepEqual(t, []string{
		"/work/app/src/main.go",
		"/work/app/src/util/strings.go",
		"/work/app/src/util/strings_test.go",
	}, got)
}

func TestGlobAllIncludesDirectories(t *testing.T) {
	got := globAll(t, "/work/app", []string{"out/**"}, nil)
	assert.DeepEqual(t, []string{
		"/work/app/out",
		"/work/app/out/assets",
		"/work/app/out/assets/logo.svg",
		"/work/app/out/bundle.js",
	}, got)
}

func TestGlobFilesDropsDirectories(t *testing.T) {
	got := globFiles(t, "/work/app", []string{"out/**"}, nil)
	assert.DeepEqual(t, []string{
		"/work/app/out/assets/logo.svg",
		"/work/app/out/bundle.js",
	}, got)
}

func TestBareDirectoryIncludeMatchesOnlyTheDirectory(t *testing.T) {
	assert.DeepEqual(t, []string{"/work/app/out"}, globAll(t, "/work/app", []string{"out"}, nil))
	assert.DeepEqual(t, []string{}, append([]string{}, globFiles(t, "/work/app", []string{"out"}, nil)...))
}

func TestBaseDirItselfIsNeverAResult(t *testing.T) {
	got := globAll(t, "/work/app/out", []string{"**"}, nil)
	for _, p := range got {
		assert.Assert(t, p != "/work/app/out", "base dir leaked into results")
	}
}

func TestOverlappingIncludesDoNotDuplicate(t *testing.T) {
	got := globFiles(t, "/work/app", []string{"**", "out/**"}, nil)
	counts := map[string]int{}
	for _, p := range got {
		counts[p]++
	}
	for p, n := range counts {
		assert.Equal(t, 1, n, "duplicated %s", p)
	}
}

func TestExcludeSingleFile(t *testing.T) {
	got := globFiles(t, "/work/app/src", []string{"**"}, []string{"**/strings_test.go"})
	assert.DeepEqual(t, []string{
		"/work/app/src/main.go",
		"/work/app/src/util/strings.go",
	}, got)
}

func TestExcludedDirectoryTakesItsSubtree(t *testing.T) {
	// A bare directory exclude strikes the directory and everything
	// beneath it.
	got := globAll(t, "/work/app", []string{"out/**"}, []string{"out/assets"})
	assert.DeepEqual(t, []string{
		"/work/app/out",
		"/work/app/out/bundle.js",
	}, got)
}

func TestTrailingSlashExcludeIsADirectoryExclude(t *testing.T) {
	got := globFiles(t, "/work/app", []string{"**"}, []string{"**/vendor/"})
	for _, p := range got {
		assert.Assert(t, p != "/work/app/vendor/dep/dep.go", "excluded subtree leaked")
	}
}

func TestSlashStarStarExcludeKeepsTheDirectory(t *testing.T) {
	// "out/**" as an exclude strikes the children but not "out" itself.
	got := globAll(t, "/work/app", []string{"out/**"}, []string{"out/**"})
	assert.DeepEqual(t, []string{"/work/app/out"}, got)
}

func TestExcludeEverything(t *testing.T) {
	assert.DeepEqual(t, []string{}, append([]string{}, globAll(t, "/work/app", []string{"**"}, []string{"**"})...))
}

func TestDotSlashExcludeAppliesAtBase(t *testing.T) {
	assert.DeepEqual(t, []string{}, append([]string{}, globAll(t, "/work/app", []string{"**"}, []string{"./"})...))
}

func TestTraversalWithinBaseIsFolded(t *testing.T) {
	got := globFiles(t, "/work/app", []string{"src/util/../**/*.go"}, nil)
	assert.DeepEqual(t, []string{
		"/work/app/src/main.go",
		"/work/app/src/util/strings.go",
		"/work/app/src/util/strings_test.go",
	}, got)
}

func TestIncludeEscapingBaseIsAnError(t *testing.T) {
	_, err := globFilesFs(monorepo, "/", "/work/app", []string{"../other/**"}, nil)
	assert.ErrorContains(t, err, "escapes the base path")

	_, err = globAllFs(monorepo, "/", "/work/app", []string{"**/../../other/**"}, nil)
	assert.ErrorContains(t, err, "escapes the base path")
}

func TestExcludeEscapingBaseIsDropped(t *testing.T) {
	// An exclude pointing outside the base cannot strike anything inside
	// it, so it is ignored rather than failing the whole call.
	got := globFiles(t, "/work/app", []string{"moon.yml"}, []string{"../other/**"})
	assert.DeepEqual(t, []string{"/work/app/moon.yml"}, got)
}

func TestBaseWithTrailingSlash(t *testing.T) {
	with := globFiles(t, "/work/app/", []string{"src/**"}, nil)
	without := globFiles(t, "/work/app", []string{"src/**"}, nil)
	assert.DeepEqual(t, with, without)
}

func TestUnmatchedPatternIsNotAnError(t *testing.T) {
	got := globFiles(t, "/work/app", []string{"no/such/dir/**"}, nil)
	assert.DeepEqual(t, []string{}, append([]string{}, got...))
}
