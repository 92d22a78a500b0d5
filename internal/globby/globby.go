// Package globby expands include/exclude glob pattern sets against a
// base directory. Includes are resolved lexically under the base and may
// not climb out of it; excludes name files or whole subtrees (a matched
// directory excludes everything beneath it), mirroring how task inputs,
// outputs, and project-source globs are written in config.
package globby

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// osFS adapts the real filesystem to io/fs for doublestar. The empty
// fsysRoot below keeps OS paths absolute end to end.
var osFS = afero.NewIOFS(afero.NewOsFs())

// GlobFiles returns the files (never directories) under basePath matched
// by includePatterns and not struck by excludePatterns. Resolution
// failures degrade to "no matches": callers feed config-authored globs
// where an unmatched pattern is routine, not exceptional.
func GlobFiles(basePath string, includePatterns []string, excludePatterns []string) []string {
	matches, err := globFilesFs(osFS, "", basePath, includePatterns, excludePatterns)
	if err != nil {
		return nil
	}
	return matches
}

// GlobAll is GlobFiles with matched directories included.
func GlobAll(basePath string, includePatterns []string, excludePatterns []string) ([]string, error) {
	return globAllFs(osFS, "", basePath, includePatterns, excludePatterns)
}

func globFilesFs(fsys fs.FS, fsysRoot string, basePath string, includePatterns []string, excludePatterns []string) ([]string, error) {
	return globFs(fsys, fsysRoot, basePath, includePatterns, excludePatterns, false)
}

func globAllFs(fsys fs.FS, fsysRoot string, basePath string, includePatterns []string, excludePatterns []string) ([]string, error) {
	return globFs(fsys, fsysRoot, basePath, includePatterns, excludePatterns, true)
}

// globFs walks each include pattern in turn, filtering matches through
// the exclude set. The base directory itself is never a result.
func globFs(fsys fs.FS, fsysRoot string, basePath string, includePatterns []string, excludePatterns []string, withDirs bool) ([]string, error) {
	base := normalizeBase(basePath)

	includes := make([]string, 0, len(includePatterns))
	for _, raw := range includePatterns {
		resolved, err := resolveUnderBase(base, raw)
		if err != nil {
			return nil, err
		}
		includes = append(includes, resolved)
	}

	// An exclude that resolves outside the base can't strike anything
	// inside it, so it is dropped rather than treated as an error.
	excludes := make([]string, 0, len(excludePatterns))
	for _, raw := range excludePatterns {
		resolved, err := resolveUnderBase(base, strings.TrimSuffix(raw, "/"))
		if err != nil {
			continue
		}
		excludes = append(excludes, resolved)
	}

	seen := make(map[string]struct{})
	var out []string

	for _, pattern := range includes {
		walkErr := doublestar.GlobWalk(fsys, toFsPath(fsysRoot, pattern), func(p string, entry fs.DirEntry) error {
			abs := fromFsPath(fsysRoot, p)
			if abs == base {
				return nil
			}
			if !withDirs && entry.IsDir() {
				return nil
			}
			if isExcluded(excludes, abs) {
				return nil
			}
			if _, dup := seen[abs]; !dup {
				seen[abs] = struct{}{}
				out = append(out, abs)
			}
			return nil
		})
		// A pattern whose static prefix doesn't exist on disk simply
		// matches nothing.
		if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
			return nil, errors.Wrapf(walkErr, "globby: walking %q", pattern)
		}
	}

	sort.Strings(out)
	return out, nil
}

// normalizeBase puts the base directory into slash form with no trailing
// separator, the shape every resolved pattern builds on.
func normalizeBase(basePath string) string {
	base := strings.TrimSuffix(filepath.ToSlash(basePath), "/")
	if base == "" {
		base = "/"
	}
	return base
}

// resolveUnderBase lexically joins a pattern to the base and rejects any
// result that climbs out of it. Glob metacharacters survive path.Join
// untouched; only "." and ".." segments are folded.
func resolveUnderBase(base, raw string) (string, error) {
	joined := path.Join(base, filepath.ToSlash(raw))
	if base == "/" {
		return joined, nil
	}
	if joined != base && !strings.HasPrefix(joined, base+"/") {
		return "", errors.Errorf("globby: pattern %q escapes the base path %q", raw, base)
	}
	return joined, nil
}

// isExcluded reports whether abs is struck by any exclude: a direct
// match, or a match on an ancestor (an excluded directory takes its
// whole subtree with it).
func isExcluded(excludes []string, abs string) bool {
	for _, e := range excludes {
		// "dir/**" strikes what lies beneath dir, not dir itself.
		if strings.HasSuffix(e, "/**") && abs == strings.TrimSuffix(e, "/**") {
			continue
		}
		if ok, err := doublestar.Match(e, abs); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(e+"/**", abs); err == nil && ok {
			return true
		}
	}
	return false
}

// toFsPath converts an absolute slash path into the name space of the
// backing fs.FS. An empty fsysRoot means the FS speaks absolute paths
// natively (the OS adapter).
func toFsPath(fsysRoot, abs string) string {
	if fsysRoot == "" {
		return abs
	}
	return strings.TrimPrefix(strings.TrimPrefix(abs, fsysRoot), "/")
}

// fromFsPath is the inverse of toFsPath.
func fromFsPath(fsysRoot, p string) string {
	if fsysRoot == "" {
		return p
	}
	return filepath.ToSlash(filepath.Join(fsysRoot, p))
}
