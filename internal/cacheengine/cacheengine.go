// Package cacheengine implements the Cache Engine: a content
// addressed store rooted at "<workspace>/.moon/cache/" with hash
// manifests, per-hash file locks, task output archives, and per-target
// run-state snapshots.
//
// Artifact archives are created and restored by internal/cacheitem
// (tar+zstd); hash locks use github.com/nightlyone/lockfile so only one
// process works a given fingerprint at a time.
package cacheengine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"

	"github.com/moonrepo/moon/internal/cacheitem"
	"github.com/moonrepo/moon/internal/moonpath"
)

// Mode gates which cache operations are permitted.
type Mode int

const (
	Off Mode = iota
	Read
	Write
	ReadWrite
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "off":
		return Off, nil
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	case "read-write", "readwrite":
		return ReadWrite, nil
	default:
		return Off, errors.Errorf("cacheengine: invalid cache mode %q", s)
	}
}

func (m Mode) IsReadable() bool  { return m == Read || m == ReadWrite }
func (m Mode) IsWritable() bool  { return m == Write || m == ReadWrite }
func (m Mode) IsWriteOnly() bool { return m == Write }

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// RunTargetState is the persisted shape of a "states/<target-path>/lastRun.json"
// entry.
type RunTargetState struct {
	ExitCode    int    `json:"exitCode"`
	Hash        string `json:"hash"`
	LastRunTime int64  `json:"lastRunTime"`
	Target      string `json:"target"`
	Stdout      string `json:"stdout,omitempty"`
	Stderr      string `json:"stderr,omitempty"`
}

// Engine is the cache engine rooted at <workspace>/.moon/cache.
type Engine struct {
	Root   moonpath.AbsoluteSystemPath
	Mode   Mode
	Remote *RemoteClient
	logger hclog.Logger
}

// HitKind distinguishes a local archive hit from one served over the
// remote artifact protocol, so callers (the Action Pipeline's RunTask
// executor) can report ActionStatus Cached vs CachedFromRemote.
type HitKind int

const (
	HitNone HitKind = iota
	HitLocal
	HitRemote
)

// New prepares the cache directory layout (hashes/, outputs/, states/,
// CACHEDIR.TAG) under workspaceRoot and returns an Engine bound to mode.
func New(workspaceRoot string, mode Mode, logger hclog.Logger) (*Engine, error) {
	root := moonpath.AbsoluteSystemPath(filepath.Join(workspaceRoot, ".moon", "cache"))
	for _, dir := range []string{"hashes", "outputs", "states"} {
		if err := os.MkdirAll(filepath.Join(root.ToString(), dir), 0755); err != nil {
			return nil, errors.Wrapf(err, "cacheengine: preparing %s", dir)
		}
	}
	tagPath := filepath.Join(root.ToString(), "CACHEDIR.TAG")
	if _, err := os.Stat(tagPath); errors.Is(err, os.ErrNotExist) {
		const tag = "Signature: 8a477f597d28d172789f06886806bc55\n# This file marks the directory as a cache directory tagged by moon.\n"
		if err := os.WriteFile(tagPath, []byte(tag), 0644); err != nil {
			return nil, errors.Wrap(err, "cacheengine: writing CACHEDIR.TAG")
		}
	}
	return &Engine{Root: root, Mode: mode, logger: logger.Named("cache")}, nil
}

func (e *Engine) hashManifestPath(hash string) string {
	return filepath.Join(e.Root.ToString(), "hashes", hash+".json")
}

func (e *Engine) outputArchivePath(hash string) moonpath.AbsoluteSystemPath {
	return moonpath.AbsoluteSystemPath(filepath.Join(e.Root.ToString(), "outputs", hash+".tar.zst"))
}

// CreateHashManifest writes "hashes/<hash>.json" atomically (write to a
// temp file, then rename) so a reader never observes a partial manifest.
func (e *Engine) CreateHashManifest(hash string, content interface{}) error {
	if !e.Mode.IsWritable() {
		return nil
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "cacheengine: marshaling hash manifest %s", hash)
	}
	dest := e.hashManifestPath(hash)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "cacheengine: writing hash manifest %s", hash)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return errors.Wrapf(err, "cacheengine: renaming hash manifest %s", hash)
	}
	return nil
}

// Lock is a per-hash file lock held for the duration of work on a
// fingerprint, preventing concurrent processes from redoing it.
type Lock struct {
	lock lockfile.Lockfile
	path string
}

// Release releases the lock.
func (l *Lock) Release() error {
	return l.lock.Unlock()
}

// CreateHashLock attempts to acquire the per-hash lock for prefix. It
// returns (nil, nil) — meaning "no lock needed" — when the cache is off,
// write-only (a write-only cache never needs to guard a read-before-build
// race), or the manifest content is unchanged since the last run.
func (e *Engine) CreateHashLock(prefix string, content interface{}) (*Lock, error) {
	if e.Mode == Off || e.Mode.IsWriteOnly() {
		return nil, nil
	}

	data, err := json.Marshal(content)
	if err != nil {
		return nil, errors.Wrapf(err, "cacheengine: marshaling lock content %s", prefix)
	}
	if existing, err := os.ReadFile(e.hashManifestPath(prefix)); err == nil {
		if string(existing) == string(mustIndent(data)) {
			return nil, nil
		}
	}

	lockPath := filepath.Join(e.Root.ToString(), "hashes", prefix+".lock")
	lf, err := lockfile.New(lockPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cacheengine: constructing lock %s", prefix)
	}
	if err := lf.TryLock(); err != nil {
		return nil, errors.Wrapf(err, "cacheengine: acquiring lock %s", prefix)
	}
	return &Lock{lock: lf, path: lockPath}, nil
}

func mustIndent(data []byte) []byte {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return data
	}
	return out
}

// BuildFunc produces an artifact for ExecuteIfChanged on a cache miss.
type BuildFunc func() (interface{}, error)

// ExecuteIfChanged returns the result already stored for key if content
// is unchanged since the last write, otherwise invokes build and stores
// its result under key alongside content.
func (e *Engine) ExecuteIfChanged(key string, content interface{}, build BuildFunc) (interface{}, error) {
	expected, err := json.Marshal(content)
	if err != nil {
		return nil, errors.Wrapf(err, "cacheengine: marshaling content %s", key)
	}
	if e.Mode.IsReadable() {
		if existing, err := os.ReadFile(e.hashManifestPath(key)); err == nil {
			var stored struct {
				Content json.RawMessage `json:"content"`
				Result  interface{}     `json:"result"`
			}
			if err := json.Unmarshal(existing, &stored); err == nil && string(mustIndent(stored.Content)) == string(mustIndent(expected)) {
				return stored.Result, nil
			}
		}
	}

	result, err := build()
	if err != nil {
		return nil, err
	}
	if e.Mode.IsWritable() {
		if err := e.CreateHashManifest(key, map[string]interface{}{"content": json.RawMessage(expected), "result": result}); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CreateSnapshot writes "states/<id>/snapshot.json".
func (e *Engine) CreateSnapshot(id string, value interface{}) error {
	if !e.Mode.IsWritable() {
		return nil
	}
	dir := filepath.Join(e.Root.ToString(), "states", id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "cacheengine: preparing snapshot dir %s", id)
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "cacheengine: marshaling snapshot %s", id)
	}
	return os.WriteFile(filepath.Join(dir, "snapshot.json"), data, 0644)
}

// CacheRunTargetState loads or creates "states/<targetPath>/lastRun.json"
// per CacheMode: Off never reads nor writes; Read reads only; Write
// writes only; ReadWrite does both.
func (e *Engine) CacheRunTargetState(targetPath string, update func(*RunTargetState)) (RunTargetState, error) {
	path := filepath.Join(e.Root.ToString(), "states", filepath.FromSlash(targetPath), "lastRun.json")

	var state RunTargetState
	if e.Mode.IsReadable() {
		if data, err := os.ReadFile(path); err == nil {
			_ = json.Unmarshal(data, &state)
		}
	}

	if update != nil {
		update(&state)
	}

	if e.Mode.IsWritable() {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return state, errors.Wrapf(err, "cacheengine: preparing state dir %s", targetPath)
		}
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return state, errors.Wrapf(err, "cacheengine: marshaling run state %s", targetPath)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return state, errors.Wrapf(err, "cacheengine: writing run state %s", targetPath)
		}
	}
	return state, nil
}

// StoreOutputs archives outputFiles (paths relative to anchor) under hash
// and writes them to outputs/<hash>.tar.zst, then pushes the same archive
// to the remote store (if one is configured) followed by CompleteArtifact.
// A no-op when the cache is not writable; the remote push is best-effort
// and its failure does not fail the local store.
func (e *Engine) StoreOutputs(hash string, anchor moonpath.AbsoluteSystemPath, outputFiles []moonpath.AnchoredSystemPath, duration time.Duration) error {
	if !e.Mode.IsWritable() {
		return nil
	}
	item, err := cacheitem.Create(e.outputArchivePath(hash))
	if err != nil {
		return errors.Wrapf(err, "cacheengine: creating output archive %s", hash)
	}

	for _, f := range outputFiles {
		if err := item.AddFile(anchor, f); err != nil {
			item.Close()
			return errors.Wrapf(err, "cacheengine: archiving %s for %s", f, hash)
		}
	}
	if err := item.Close(); err != nil {
		return errors.Wrapf(err, "cacheengine: finalizing output archive %s", hash)
	}

	if e.Remote != nil {
		path := e.outputArchivePath(hash).ToString()
		if err := e.Remote.WriteArtifact(hash, path, duration); err != nil {
			e.logger.Warn("remote artifact write failed", "hash", hash, "error", err)
			return nil
		}
		if err := e.Remote.CompleteArtifact(hash); err != nil {
			e.logger.Warn("remote artifact complete failed", "hash", hash, "error", err)
		}
	}
	return nil
}

// RestoreOutputs restores a previously stored archive to anchor: first the
// local outputs/<hash>.tar.zst, falling back to the remote store (if
// configured) on a local miss, downloading into the same local path so a
// later RestoreOutputs of the same hash is served locally. Reports which
// tier served the restore (HitNone on a miss in both).
func (e *Engine) RestoreOutputs(hash string, anchor moonpath.AbsoluteSystemPath) (restored []moonpath.AnchoredSystemPath, hit HitKind, err error) {
	if !e.Mode.IsReadable() {
		return nil, HitNone, nil
	}
	path := e.outputArchivePath(hash)
	hit = HitLocal
	if info, statErr := os.Stat(path.ToString()); statErr != nil || info.IsDir() {
		if e.Remote == nil {
			return nil, HitNone, nil
		}
		downloaded, err := e.Remote.ReadArtifact(hash, path.ToString())
		if err != nil {
			return nil, HitNone, errors.Wrapf(err, "cacheengine: fetching remote artifact %s", hash)
		}
		if !downloaded {
			return nil, HitNone, nil
		}
		hit = HitRemote
	}

	item, err := cacheitem.Open(path)
	if err != nil {
		return nil, HitNone, errors.Wrapf(err, "cacheengine: opening output archive %s", hash)
	}
	defer item.Close()

	restored, err = item.Restore(anchor)
	if err != nil {
		return nil, HitNone, errors.Wrapf(err, "cacheengine: restoring output archive %s", hash)
	}
	return restored, hit, nil
}
