// Package filegroup implements FileGroup: a named, reusable set of input
// paths declared on a project, and the operations the token expander needs
// on it (expand to directories/files/globs, compute a lowest common root).
package filegroup

import (
	"path"
	"strings"

	"github.com/moonrepo/moon/internal/wspath"
)

// FileGroup is a named set of input paths belonging to one project.
type FileGroup struct {
	Name  string
	Paths []wspath.Path
}

// New constructs a FileGroup, parsing each raw entry as an InputPath.
func New(name string, raw []string) (FileGroup, error) {
	paths := make([]wspath.Path, 0, len(raw))
	for _, r := range raw {
		p, err := wspath.ParseInput(r)
		if err != nil {
			return FileGroup{}, err
		}
		paths = append(paths, p)
	}
	return FileGroup{Name: name, Paths: paths}, nil
}

// Files returns the non-glob, non-token literal paths in the group.
func (g FileGroup) Files() []wspath.Path {
	out := make([]wspath.Path, 0, len(g.Paths))
	for _, p := range g.Paths {
		if !p.IsGlob() && !p.IsToken() {
			out = append(out, p)
		}
	}
	return out
}

// Globs returns the glob-classified paths in the group.
func (g FileGroup) Globs() []wspath.Path {
	out := make([]wspath.Path, 0, len(g.Paths))
	for _, p := range g.Paths {
		if p.IsGlob() {
			out = append(out, p)
		}
	}
	return out
}

// Dirs returns the directory-looking literal entries in the group: those
// whose raw text has no file extension component in its final segment.
// This is a heuristic consulted before filesystem resolution; the task
// expander re-derives the authoritative answer by stat'ing the path.
func (g FileGroup) Dirs() []wspath.Path {
	out := make([]wspath.Path, 0)
	for _, p := range g.Files() {
		base := path.Base(p.Raw)
		if !strings.Contains(base, ".") {
			out = append(out, p)
		}
	}
	return out
}

// Root computes the lowest common root of the group's literal paths,
// relative to the owning project. Glob and token entries are excluded
// since they do not pin a concrete root.
func (g FileGroup) Root() string {
	files := g.Files()
	if len(files) == 0 {
		return ""
	}
	segments := make([][]string, len(files))
	for i, p := range files {
		segments[i] = strings.Split(strings.Trim(p.Raw, "/"), "/")
	}
	common := segments[0]
	for _, segs := range segments[1:] {
		common = commonPrefix(common, segs)
		if len(common) == 0 {
			return ""
		}
	}
	// If the prefix covers an entire entry, its final segment is that
	// entry's own name, not a shared directory.
	for _, segs := range segments {
		if len(segs) == len(common) {
			common = common[:len(common)-1]
			break
		}
	}
	return strings.Join(common, "/")
}

func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
