// Package cacheitem reads and writes the task output archives stored
// under .moon/cache/outputs: zstd-compressed tarballs whose entry names
// are anchored, forward-slash paths. Entry names are normalized on write
// so the same outputs produce the same archive bytes on every OS, and
// validated on read so a hostile or corrupted archive can never write
// outside the restore anchor.
package cacheitem

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/DataDog/zstd"
	"github.com/moby/sys/sequential"
	"github.com/pkg/errors"

	"github.com/moonrepo/moon/internal/moonpath"
)

// ErrUnsafeEntry is wrapped into restore errors for archive entries whose
// names escape the anchor or whose link targets do.
var ErrUnsafeEntry = errors.New("cacheitem: entry would land outside the restore anchor")

// archiveEpoch is the fixed modification time written into every entry.
// Output hashing keys on content, never on mtime, so stamping a constant
// keeps archive bytes reproducible run to run.
var archiveEpoch = time.Unix(0, 0)

// CacheItem is an archive open for either writing (via Create) or reading
// (via Open), never both.
type CacheItem struct {
	path moonpath.AbsoluteSystemPath

	handle *os.File
	zw     io.WriteCloser
	tw     *tar.Writer

	zr io.ReadCloser
	tr *tar.Reader
}

// Create opens a new archive for writing at path, truncating any previous
// archive for the same hash.
func Create(path moonpath.AbsoluteSystemPath) (*CacheItem, error) {
	handle, err := sequential.OpenFile(path.ToString(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "cacheitem: creating archive %s", path)
	}
	zw := zstd.NewWriter(handle)
	return &CacheItem{
		path:   path,
		handle: handle,
		zw:     zw,
		tw:     tar.NewWriter(zw),
	}, nil
}

// Open opens an existing archive for reading.
func Open(path moonpath.AbsoluteSystemPath) (*CacheItem, error) {
	handle, err := sequential.OpenFile(path.ToString(), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "cacheitem: opening archive %s", path)
	}
	zr := zstd.NewReader(handle)
	return &CacheItem{
		path:   path,
		handle: handle,
		zr:     zr,
		tr:     tar.NewReader(zr),
	}, nil
}

// Close flushes and closes whichever pipeline is open. A CacheItem must
// be closed exactly once; an archive abandoned before Close is not a
// valid cache entry.
func (ci *CacheItem) Close() error {
	if ci.tw != nil {
		if err := ci.tw.Close(); err != nil {
			return errors.Wrapf(err, "cacheitem: finalizing tar %s", ci.path)
		}
		if err := ci.zw.Close(); err != nil {
			return errors.Wrapf(err, "cacheitem: finalizing compression %s", ci.path)
		}
	}
	if ci.zr != nil {
		if err := ci.zr.Close(); err != nil {
			return errors.Wrapf(err, "cacheitem: closing decompression %s", ci.path)
		}
	}
	return ci.handle.Close()
}

// AddFile appends the file, directory, or symlink at anchor/name to the
// archive under name's forward-slash form. Directories are stored as
// entries of their own; their contents are added by the caller walking
// them explicitly, so an archive holds exactly the paths the task
// declared as outputs.
func (ci *CacheItem) AddFile(anchor moonpath.AbsoluteSystemPath, name moonpath.AnchoredSystemPath) error {
	source := name.RestoreAnchor(anchor)
	info, err := os.Lstat(source.ToString())
	if err != nil {
		return errors.Wrapf(err, "cacheitem: inspecting %s", source)
	}

	header, err := ci.header(name, info, source)
	if err != nil {
		return err
	}
	if err := ci.tw.WriteHeader(header); err != nil {
		return errors.Wrapf(err, "cacheitem: writing header for %s", name)
	}
	if header.Typeflag != tar.TypeReg {
		return nil
	}

	file, err := sequential.OpenFile(source.ToString(), os.O_RDONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "cacheitem: reading %s", source)
	}
	defer file.Close()
	if _, err := io.Copy(ci.tw, file); err != nil {
		return errors.Wrapf(err, "cacheitem: archiving %s", name)
	}
	return nil
}

// header builds a tar header by hand rather than through
// tar.FileInfoHeader: names, times, and ownership are pinned to
// archive-stable values instead of whatever the local filesystem reports.
func (ci *CacheItem) header(name moonpath.AnchoredSystemPath, info fs.FileInfo, source moonpath.AbsoluteSystemPath) (*tar.Header, error) {
	header := &tar.Header{
		Name:    name.ToUnixPath().ToString(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: archiveEpoch,
		Format:  tar.FormatPAX,
	}

	switch {
	case info.Mode().IsRegular():
		header.Typeflag = tar.TypeReg
		header.Size = info.Size()
	case info.IsDir():
		header.Typeflag = tar.TypeDir
		header.Name += "/"
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(source.ToString())
		if err != nil {
			return nil, errors.Wrapf(err, "cacheitem: reading symlink %s", source)
		}
		header.Typeflag = tar.TypeSymlink
		// Stored verbatim; the target is validated against the anchor at
		// restore time, where the anchor is actually known.
		header.Linkname = target
	default:
		return nil, errors.Errorf("cacheitem: %s: unsupported file type %v", name, info.Mode().Type())
	}
	return header, nil
}

// Restore unpacks every entry beneath anchor and reports the anchored
// paths it wrote. Entries restore in two phases: directories and regular
// files first, then symlinks, so a link never has to exist before the
// tree it points into does. Any entry whose name escapes the anchor
// aborts the restore.
func (ci *CacheItem) Restore(anchor moonpath.AbsoluteSystemPath) ([]moonpath.AnchoredSystemPath, error) {
	type pendingLink struct {
		name   moonpath.AnchoredSystemPath
		target string
	}

	var restored []moonpath.AnchoredSystemPath
	var links []pendingLink

	for {
		header, err := ci.tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, errors.Wrapf(err, "cacheitem: reading archive %s", ci.path)
		}

		name, err := safeEntryName(header.Name)
		if err != nil {
			return restored, err
		}
		dest := name.RestoreAnchor(anchor)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest.ToString(), fs.FileMode(header.Mode).Perm()|0o700); err != nil {
				return restored, errors.Wrapf(err, "cacheitem: restoring directory %s", name)
			}
		case tar.TypeReg:
			if err := restoreRegular(dest, ci.tr, fs.FileMode(header.Mode).Perm()); err != nil {
				return restored, errors.Wrapf(err, "cacheitem: restoring %s", name)
			}
		case tar.TypeSymlink:
			links = append(links, pendingLink{name: name, target: header.Linkname})
			continue
		default:
			return restored, errors.Errorf("cacheitem: %s: unsupported entry type %q", name, header.Typeflag)
		}
		restored = append(restored, name)
	}

	for _, link := range links {
		if linkEscapes(link.name, link.target) {
			return restored, errors.Wrapf(ErrUnsafeEntry, "symlink %s -> %s", link.name, link.target)
		}
		dest := link.name.RestoreAnchor(anchor)
		if err := os.MkdirAll(dirOf(dest), 0o755); err != nil {
			return restored, errors.Wrapf(err, "cacheitem: restoring symlink %s", link.name)
		}
		if err := os.Remove(dest.ToString()); err != nil && !os.IsNotExist(err) {
			return restored, errors.Wrapf(err, "cacheitem: replacing symlink %s", link.name)
		}
		if err := os.Symlink(link.target, dest.ToString()); err != nil {
			return restored, errors.Wrapf(err, "cacheitem: restoring symlink %s", link.name)
		}
		restored = append(restored, link.name)
	}

	sort.Slice(restored, func(i, j int) bool { return restored[i] < restored[j] })
	return restored, nil
}

func restoreRegular(dest moonpath.AbsoluteSystemPath, contents io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(dirOf(dest), 0o755); err != nil {
		return err
	}
	file, err := sequential.OpenFile(dest.ToString(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, contents); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
