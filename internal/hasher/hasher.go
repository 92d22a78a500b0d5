// Package hasher implements the Hasher: a versioned, ordered,
// typed-fragment SHA-256 hasher used to compute cache keys for tasks and
// install-dependencies actions.
//
// Built on stdlib crypto/sha256 + encoding/json (json.Marshal already
// emits map keys in sorted order, which gives deterministic map iteration
// for free) plus golang.org/x/sync/errgroup for the fan-out file hashing
// stage.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/moonrepo/moon/internal/project"
	"github.com/moonrepo/moon/internal/vcsadapter"
)

// protocolVersion is hashed first, so the algorithm can evolve without
// old and new digests colliding.
const protocolVersion byte = 1

// Hasher accumulates labeled fragments and finalizes them into a single
// hex digest.
type Hasher struct {
	fragments []fragment
	err       error
}

type fragment struct {
	label string
	data  []byte
}

// New constructs an empty Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Add appends a labeled fragment, serialized as JSON. Once an error has
// been recorded, further calls are no-ops so callers can chain without
// checking every intermediate step.
func (h *Hasher) Add(label string, value interface{}) *Hasher {
	if h.err != nil {
		return h
	}
	data, err := json.Marshal(value)
	if err != nil {
		h.err = fmt.Errorf("hasher: marshaling fragment %q: %w", label, err)
		return h
	}
	h.fragments = append(h.fragments, fragment{label: label, data: data})
	return h
}

// Finalize computes the hex SHA-256 digest over the protocol version byte
// followed by each fragment's label and length-prefixed content, in the
// order they were added.
func (h *Hasher) Finalize() (string, error) {
	if h.err != nil {
		return "", h.err
	}
	sum := sha256.New()
	sum.Write([]byte{protocolVersion})
	for _, f := range h.fragments {
		fmt.Fprintf(sum, "%s:%d:", f.label, len(f.data))
		sum.Write(f.data)
	}
	return fmt.Sprintf("%x", sum.Sum(nil)), nil
}

// sortedCopy returns a sorted copy of ss, leaving the input untouched so
// callers that reuse the slice elsewhere are not surprised by reordering.
func sortedCopy(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

// TaskFragments are the ordered inputs to a task hash, resolved by the
// caller (typically the action graph builder) before calling TaskHash.
type TaskFragments struct {
	Task               project.Task
	InputFileHashes    map[string]string // path -> content hash, from VcsAdapter.FileHashes
	DependencyVersions map[string]string // toolchain id -> resolved version
}

// TaskHash computes the cache key for a RunTask action: command, sorted args, sorted deps, sorted env, resolved
// input file hashes, resolved dependency versions, and outputs (included
// for cache-key identity only, never as content).
func TaskHash(f TaskFragments) (string, error) {
	sortedDeps := make([]string, 0, len(f.Task.Deps))
	for _, d := range f.Task.Deps {
		sortedDeps = append(sortedDeps, d.Target.String())
	}
	sort.Strings(sortedDeps)

	h := New().
		Add("command", f.Task.Command).
		Add("script", f.Task.Script).
		Add("args", sortedCopy(f.Task.Args)).
		Add("deps", sortedDeps).
		Add("env", f.Task.Env). // map[string]string marshals with sorted keys
		Add("inputFileHashes", f.InputFileHashes).
		Add("dependencyVersions", f.DependencyVersions).
		Add("outputs", append(sortedCopy(f.Task.OutputFiles), sortedCopy(f.Task.OutputGlobs)...))

	return h.Finalize()
}

// InstallDependenciesFragments are the ordered inputs to an
// install-dependencies action hash.
type InstallDependenciesFragments struct {
	ToolchainId     string
	Root            string
	ProjectId       string // empty for a workspace-root install
	LockfileMtimeMs int64  // 0 when no lockfile is present
	ProjectFragment interface{}
	ToolchainConfig map[string]string
	VendorDirExists bool
}

// InstallDependenciesHash computes the cache key for an InstallDependencies
// action.
func InstallDependenciesHash(f InstallDependenciesFragments) (string, error) {
	h := New().
		Add("toolchainId", f.ToolchainId).
		Add("root", f.Root).
		Add("projectId", f.ProjectId).
		Add("lockfileMtimeMs", f.LockfileMtimeMs).
		Add("project", f.ProjectFragment).
		Add("toolchainConfig", f.ToolchainConfig).
		Add("vendorDirExists", f.VendorDirExists)

	return h.Finalize()
}

// ResolveInputFileHashes resolves content hashes for a task's expanded
// input file set via the VcsAdapter, in parallel, bounded by workerCount.
func ResolveInputFileHashes(ctx context.Context, vcs vcsadapter.Adapter, files []string, workerCount int) (map[string]string, error) {
	if len(files) == 0 {
		return map[string]string{}, nil
	}
	if workerCount <= 0 {
		workerCount = 1
	}

	type chunkResult struct {
		hashes map[string]string
	}

	chunks := chunkStrings(files, workerCount)
	results := make([]chunkResult, len(chunks))

	g, _ := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			hashes, err := vcs.FileHashes(chunk, false)
			if err != nil {
				return err
			}
			results[i] = chunkResult{hashes: hashes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("hasher: resolving input file hashes: %w", err)
	}

	merged := make(map[string]string, len(files))
	for _, r := range results {
		for path, hash := range r.hashes {
			merged[path] = hash
		}
	}
	return merged, nil
}

func chunkStrings(ss []string, n int) [][]string {
	if n > len(ss) {
		n = len(ss)
	}
	if n == 0 {
		return nil
	}
	chunkSize := (len(ss) + n - 1) / n
	var chunks [][]string
	for i := 0; i < len(ss); i += chunkSize {
		end := i + chunkSize
		if end > len(ss) {
			end = len(ss)
		}
		chunks = append(chunks, ss[i:end])
	}
	return chunks
}

// NormalizePath converts an OS path separator into the workspace's
// canonical forward-slash form, keeping hashes identical across OSes.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
