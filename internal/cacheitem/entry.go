package cacheitem

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/moonrepo/moon/internal/moonpath"
)

// safeEntryName validates an archive entry name and converts it to the
// host's separator convention. Restoration trusts nothing about the
// archive: names must be anchored (no leading /, no escaping ..) and
// carry no NUL bytes, whatever wrote the file.
func safeEntryName(raw string) (moonpath.AnchoredSystemPath, error) {
	trimmed := strings.TrimSuffix(raw, "/")
	if strings.ContainsRune(trimmed, 0) {
		return "", errors.Wrapf(ErrUnsafeEntry, "entry %q", raw)
	}
	unix := moonpath.AnchoredUnixPath(trimmed)
	if unix.Escapes() {
		return "", errors.Wrapf(ErrUnsafeEntry, "entry %q", raw)
	}
	return unix.ToSystemPath(), nil
}

// linkEscapes reports whether a symlink's target, resolved relative to
// the link's own directory, points outside the anchor. Absolute targets
// always do.
func linkEscapes(name moonpath.AnchoredSystemPath, target string) bool {
	if target == "" || path.IsAbs(target) || filepath.IsAbs(target) {
		return true
	}
	resolved := path.Join(path.Dir(name.ToUnixPath().ToString()), filepath.ToSlash(target))
	return moonpath.AnchoredUnixPath(resolved).Escapes()
}

func dirOf(p moonpath.AbsoluteSystemPath) string {
	return filepath.Dir(p.ToString())
}
