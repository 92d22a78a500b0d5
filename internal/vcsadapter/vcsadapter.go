// Package vcsadapter defines the VcsAdapter capability consumed
// by the Task Expander, Hasher, and Command Executor, and provides a
// git-backed implementation.
package vcsadapter

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/hashicorp/go-hclog"
	"github.com/karrick/godirwalk"

	"github.com/moonrepo/moon/internal/encoding/gitoutput"
)

// TouchedFiles is the result of TouchedFiles(), one bucket per VCS state
// plus the union.
type TouchedFiles struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Staged    []string
	Unstaged  []string
	Untracked []string
	All       []string
}

// Adapter is the VcsAdapter capability: touched files, file
// hashing, file tree listing, enabled/ignored checks.
type Adapter interface {
	IsEnabled() bool
	TouchedFiles(baseRevision string) (TouchedFiles, error)
	FileHashes(paths []string, allowIgnored bool) (map[string]string, error)
	FileTree(dir string) ([]string, error)
	IsIgnored(path string) bool
}

// memoEntry is one cached subprocess result, along with the time it was
// recorded. The time bound keeps repeated subprocess cost down without
// serving stale results forever.
type memoEntry struct {
	value interface{}
	at    time.Time
}

// Git is a git-backed VcsAdapter. Only TouchedFiles is memoized (for ttl,
// keyed by base revision); FileHashes, FileTree and IsIgnored run git on
// every call.
type Git struct {
	repoRoot string
	logger   hclog.Logger
	ttl      time.Duration

	mu      sync.Mutex
	memo    map[string]memoEntry
	ignorer *gitignore.GitIgnore
}

// New constructs a Git adapter rooted at repoRoot. Returns (nil, false) if
// repoRoot does not contain a .git directory, mirroring scm.New's
// "returns nil if there is no known implementation" contract.
func New(repoRoot string, logger hclog.Logger) (*Git, bool) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, false
	}
	if !pathExists(filepath.Join(repoRoot, ".git")) {
		return nil, false
	}
	g := &Git{
		repoRoot: repoRoot,
		logger:   logger.Named("vcs.git"),
		ttl:      2 * time.Second,
		memo:     make(map[string]memoEntry),
	}
	g.loadIgnoreFile()
	return g, true
}

func pathExists(p string) bool {
	_, err := exec.Command("test", "-e", p).CombinedOutput()
	return err == nil
}

func (g *Git) loadIgnoreFile() {
	path := filepath.Join(g.repoRoot, ".moonignore")
	if ignorer, err := gitignore.CompileIgnoreFile(path); err == nil {
		g.ignorer = ignorer
	}
}

// IsEnabled reports whether this adapter can answer VCS queries.
func (g *Git) IsEnabled() bool { return g != nil }

// memoize runs fn and caches its result for ttl, keyed by key. Concurrent
// callers requesting the same key within the window observe one
// subprocess invocation.
func (g *Git) memoize(key string, fn func() (interface{}, error)) (interface{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.memo[key]; ok && time.Since(entry.at) < g.ttl {
		return entry.value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}

	g.memo[key] = memoEntry{value: value, at: time.Now()}
	return value, nil
}

func (g *Git) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("vcsadapter: git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

func splitLines(out string) []string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	result := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return result
}

// gitZ runs args plus "-z" and parses the NUL-delimited output with the
// given gitoutput reader constructor, grounded on internal/hashing's
// getPackageFileHashesFromGitIndex use of gitoutput over `git ls-files -z`.
func (g *Git) gitZ(newReader func(r *bytes.Reader) *gitoutput.Reader, args ...string) ([][]string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.repoRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("vcsadapter: git %s: %w", strings.Join(args, " "), err)
	}
	return newReader(bytes.NewReader(out)).ReadAll()
}

// TouchedFiles reports files changed relative to baseRevision. Staged, unstaged,
// and untracked files are derived from a single `git status --porcelain -z`
// call parsed with gitoutput.NewStatusReader, rather than three separate
// `git diff`/`git ls-files` invocations.
func (g *Git) TouchedFiles(baseRevision string) (TouchedFiles, error) {
	key := "touched:" + baseRevision
	value, err := g.memoize(key, func() (interface{}, error) {
		var t TouchedFiles

		records, err := g.gitZ(func(r *bytes.Reader) *gitoutput.Reader {
			return gitoutput.NewStatusReader(r)
		}, "status", "--porcelain=1", "-z", "--untracked-files=all")
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			entry := gitoutput.StatusEntry(rec)
			x := entry.GetField(gitoutput.StatusX)
			y := entry.GetField(gitoutput.StatusY)
			path := entry.GetField(gitoutput.Path)

			if x == "?" && y == "?" {
				t.Untracked = append(t.Untracked, path)
				continue
			}
			if x != " " && x != "?" {
				t.Staged = append(t.Staged, path)
			}
			if y != " " {
				t.Unstaged = append(t.Unstaged, path)
			}
		}

		if baseRevision != "" {
			statusOut, err := g.git("diff", "--name-status", baseRevision+"...HEAD")
			if err != nil {
				return nil, err
			}
			for _, line := range splitLines(statusOut) {
				parts := strings.SplitN(line, "\t", 2)
				if len(parts) != 2 {
					continue
				}
				switch parts[0][0] {
				case 'A':
					t.Added = append(t.Added, parts[1])
				case 'M':
					t.Modified = append(t.Modified, parts[1])
				case 'D':
					t.Deleted = append(t.Deleted, parts[1])
				}
			}
		}

		seen := make(map[string]bool)
		for _, group := range [][]string{t.Added, t.Modified, t.Staged, t.Unstaged, t.Untracked} {
			for _, f := range group {
				if !seen[f] {
					seen[f] = true
					t.All = append(t.All, f)
				}
			}
		}
		return t, nil
	})
	if err != nil {
		return TouchedFiles{}, err
	}
	return value.(TouchedFiles), nil
}

// FileHashes resolves content hashes for paths.
// Uses "git hash-object" so hashes match git's own blob hashing scheme,
// keeping hashes stable with what a developer would see via `git show`.
func (g *Git) FileHashes(paths []string, allowIgnored bool) (map[string]string, error) {
	result := make(map[string]string, len(paths))
	if len(paths) == 0 {
		return result, nil
	}

	toHash := paths
	if !allowIgnored {
		toHash = make([]string, 0, len(paths))
		for _, p := range paths {
			if !g.IsIgnored(p) {
				toHash = append(toHash, p)
			}
		}
	}
	if len(toHash) == 0 {
		return result, nil
	}

	args := append([]string{"hash-object"}, toHash...)
	out, err := g.git(args...)
	if err != nil {
		return nil, err
	}
	hashes := splitLines(out)
	if len(hashes) != len(toHash) {
		return nil, fmt.Errorf("vcsadapter: hash-object returned %d hashes for %d paths", len(hashes), len(toHash))
	}
	for i, p := range toHash {
		result[p] = hashes[i]
	}
	return result, nil
}

// FileTree lists every file under dir, recursively. Tracked files are read straight from git's index via
// `git ls-files -z --stage` (parsed with gitoutput.NewLSFilesReader),
// avoiding a filesystem walk for the common case; untracked files still
// need a walk since the index doesn't know about them.
func (g *Git) FileTree(dir string) ([]string, error) {
	if tracked, err := g.gitZ(func(r *bytes.Reader) *gitoutput.Reader {
		return gitoutput.NewLSFilesReader(r)
	}, "ls-files", "-z", "--stage", "--", dir); err == nil {
		files := make([]string, 0, len(tracked))
		for _, rec := range tracked {
			files = append(files, gitoutput.LsFilesEntry(rec).GetField(gitoutput.Path))
		}
		untracked, err := g.git("ls-files", "--others", "--exclude-standard", "--", dir)
		if err == nil {
			files = append(files, splitLines(untracked)...)
		}
		return files, nil
	}

	root := filepath.Join(g.repoRoot, dir)
	var files []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				if de.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, err := filepath.Rel(g.repoRoot, osPathname)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if g.IsIgnored(rel) {
				return nil
			}
			files = append(files, rel)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vcsadapter: walking %s: %w", dir, err)
	}
	return files, nil
}

// IsIgnored consults .moonignore in addition to whatever git itself would report.
func (g *Git) IsIgnored(path string) bool {
	if g.ignorer != nil && g.ignorer.MatchesPath(path) {
		return true
	}
	cmd := exec.Command("git", "check-ignore", "-q", path)
	cmd.Dir = g.repoRoot
	return cmd.Run() == nil
}

// Stub is a no-op VcsAdapter used when no VCS is detected; affected
// detection is disabled in that case.
type Stub struct{}

func (Stub) IsEnabled() bool { return false }
func (Stub) TouchedFiles(string) (TouchedFiles, error) {
	return TouchedFiles{}, nil
}
func (Stub) FileHashes([]string, bool) (map[string]string, error) {
	return map[string]string{}, nil
}

// FileTree falls back to a plain filesystem walk (no VCS to consult for
// ignore rules), used only when no repository is detected.
func (Stub) FileTree(dir string) ([]string, error) {
	var files []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				files = append(files, osPathname)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vcsadapter: walking %s: %w", dir, err)
	}
	return files, nil
}
func (Stub) IsIgnored(string) bool { return false }
