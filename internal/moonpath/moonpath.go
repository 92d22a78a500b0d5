// Package moonpath gives filesystem paths distinct types by anchor and
// separator convention. Cache archives store workspace-anchored,
// forward-slash names regardless of host OS; restoring them means
// converting back to host separators and re-rooting under an absolute
// anchor. Keeping those three shapes as separate types makes the
// conversions explicit and stops an archive entry from being handed to
// os.Open unconverted.
package moonpath

import (
	"os"
	"path/filepath"
	"strings"
)

// AbsoluteSystemPath is an absolute path in the host OS's separator
// convention: an anchor that archive entries are resolved against.
type AbsoluteSystemPath string

// ToString returns the path as a plain string for APIs that take one.
func (p AbsoluteSystemPath) ToString() string {
	return string(p)
}

// Join resolves anchored segments beneath the absolute path.
func (p AbsoluteSystemPath) Join(segments ...AnchoredSystemPath) AbsoluteSystemPath {
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, string(p))
	for _, s := range segments {
		parts = append(parts, string(s))
	}
	return AbsoluteSystemPath(filepath.Join(parts...))
}

// AnchoredSystemPath is a path relative to some anchor, in the host OS's
// separator convention.
type AnchoredSystemPath string

// ToString returns the path as a plain string for APIs that take one.
func (p AnchoredSystemPath) ToString() string {
	return string(p)
}

// ToUnixPath rewrites the path to the forward-slash convention archives
// use.
func (p AnchoredSystemPath) ToUnixPath() AnchoredUnixPath {
	return AnchoredUnixPath(filepath.ToSlash(string(p)))
}

// RestoreAnchor resolves the path beneath anchor, producing the absolute
// location it names on this host.
func (p AnchoredSystemPath) RestoreAnchor(anchor AbsoluteSystemPath) AbsoluteSystemPath {
	return anchor.Join(p)
}

// AnchoredUnixPath is a path relative to some anchor, always
// forward-slash separated. This is the wire form stored in cache
// archives, so equal trees hash and restore identically across OSes.
type AnchoredUnixPath string

// ToString returns the path as a plain string for APIs that take one.
func (p AnchoredUnixPath) ToString() string {
	return string(p)
}

// ToSystemPath rewrites the path to the host OS's separator convention.
func (p AnchoredUnixPath) ToSystemPath() AnchoredSystemPath {
	return AnchoredSystemPath(filepath.FromSlash(string(p)))
}

// Escapes reports whether the path lexically climbs out of its anchor:
// an absolute path, or one whose ".." segments outrun the segments before
// them. Archive restoration refuses such names outright.
func (p AnchoredUnixPath) Escapes() bool {
	s := string(p)
	if s == "" || strings.HasPrefix(s, "/") {
		return true
	}
	depth := 0
	for _, seg := range strings.Split(s, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// FindupFrom walks from dir toward the filesystem root looking for a
// directory entry called name, returning the full path of the first match
// or "" when no ancestor contains one.
func FindupFrom(name, dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, name)
		if _, err := os.Lstat(candidate); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
