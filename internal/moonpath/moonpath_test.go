package moonpath

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestJoinAndRestoreAnchor(t *testing.T) {
	anchor := AbsoluteSystemPath(filepath.Join("/", "repo", "apps"))
	rel := AnchoredUnixPath("web/dist/index.html").ToSystemPath()

	want := filepath.Join("/", "repo", "apps", "web", "dist", "index.html")
	assert.Equal(t, want, rel.RestoreAnchor(anchor).ToString())
}

func TestUnixSystemRoundTrip(t *testing.T) {
	p := AnchoredUnixPath("a/b/c")
	assert.Equal(t, p, p.ToSystemPath().ToUnixPath())
}

func TestEscapes(t *testing.T) {
	cases := map[AnchoredUnixPath]bool{
		"dist/index.html":   false,
		"a/../b":            false,
		"./a":               false,
		"..":                true,
		"../outside":        true,
		"a/../../outside":   true,
		"/etc/passwd":       true,
		"":                  true,
		"a/b/../../../deep": true,
	}
	for p, want := range cases {
		assert.Equal(t, want, p.Escapes(), "path %q", p)
	}
}

func TestFindupFrom(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	assert.NilError(t, os.MkdirAll(nested, 0o755))
	assert.NilError(t, os.MkdirAll(filepath.Join(root, "a", ".moon"), 0o755))

	found, err := FindupFrom(".moon", nested)
	assert.NilError(t, err)
	assert.Equal(t, filepath.Join(root, "a", ".moon"), found)
}

func TestFindupFromNoMatch(t *testing.T) {
	found, err := FindupFrom("definitely-not-a-real-marker-name", t.TempDir())
	assert.NilError(t, err)
	assert.Equal(t, "", found)
}
