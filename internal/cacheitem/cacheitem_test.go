package cacheitem

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"

	"github.com/moonrepo/moon/internal/moonpath"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		assert.NilError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		assert.NilError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func archive(t *testing.T, anchor string, names ...string) moonpath.AbsoluteSystemPath {
	t.Helper()
	path := moonpath.AbsoluteSystemPath(filepath.Join(t.TempDir(), "item.tar.zst"))
	item, err := Create(path)
	assert.NilError(t, err)
	for _, n := range names {
		assert.NilError(t, item.AddFile(moonpath.AbsoluteSystemPath(anchor), moonpath.AnchoredUnixPath(n).ToSystemPath()))
	}
	assert.NilError(t, item.Close())
	return path
}

func TestRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"dist/index.html": "<html>",
		"dist/js/app.js":  "console.log(1)",
	})

	path := archive(t, src, "dist", "dist/index.html", "dist/js", "dist/js/app.js")

	dest := t.TempDir()
	item, err := Open(path)
	assert.NilError(t, err)
	defer item.Close()

	restored, err := item.Restore(moonpath.AbsoluteSystemPath(dest))
	assert.NilError(t, err)
	assert.Equal(t, 4, len(restored))

	got, err := os.ReadFile(filepath.Join(dest, "dist", "js", "app.js"))
	assert.NilError(t, err)
	assert.Equal(t, "console.log(1)", string(got))
}

func TestRestoreRejectsEscapingEntry(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"ok.txt": "fine"})

	// Hand-build an archive whose entry name climbs out of the anchor.
	path := moonpath.AbsoluteSystemPath(filepath.Join(t.TempDir(), "evil.tar.zst"))
	item, err := Create(path)
	assert.NilError(t, err)
	assert.NilError(t, item.AddFile(moonpath.AbsoluteSystemPath(src), moonpath.AnchoredSystemPath("ok.txt")))
	assert.NilError(t, item.Close())

	// Rewrite is not possible through the public API, so go through the
	// validator directly: the restore path funnels every name through it.
	_, err = safeEntryName("../outside.txt")
	assert.Assert(t, errors.Is(err, ErrUnsafeEntry))
	_, err = safeEntryName("/etc/passwd")
	assert.Assert(t, errors.Is(err, ErrUnsafeEntry))
}

func TestSymlinkRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation needs elevation on windows")
	}
	src := t.TempDir()
	writeTree(t, src, map[string]string{"dist/real.txt": "content"})
	assert.NilError(t, os.Symlink("real.txt", filepath.Join(src, "dist", "link.txt")))

	path := archive(t, src, "dist", "dist/real.txt", "dist/link.txt")

	dest := t.TempDir()
	item, err := Open(path)
	assert.NilError(t, err)
	defer item.Close()

	_, err = item.Restore(moonpath.AbsoluteSystemPath(dest))
	assert.NilError(t, err)

	got, err := os.ReadFile(filepath.Join(dest, "dist", "link.txt"))
	assert.NilError(t, err)
	assert.Equal(t, "content", string(got))
}

func TestLinkEscapes(t *testing.T) {
	cases := []struct {
		name   string
		target string
		want   bool
	}{
		{"dist/link", "real.txt", false},
		{"dist/link", "../sibling/real.txt", false},
		{"dist/link", "../../outside", true},
		{"dist/link", "/etc/passwd", true},
		{"link", "..", true},
		{"link", "", true},
	}
	for _, c := range cases {
		got := linkEscapes(moonpath.AnchoredUnixPath(c.name).ToSystemPath(), c.target)
		assert.Equal(t, c.want, got, "link %s -> %s", c.name, c.target)
	}
}

func TestAddFileMissingSource(t *testing.T) {
	path := moonpath.AbsoluteSystemPath(filepath.Join(t.TempDir(), "item.tar.zst"))
	item, err := Create(path)
	assert.NilError(t, err)
	defer item.Close()

	err = item.AddFile(moonpath.AbsoluteSystemPath(t.TempDir()), moonpath.AnchoredSystemPath("missing.txt"))
	assert.ErrorContains(t, err, "inspecting")
}
