package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ErrDirSync indicates the parent directory could not be synced after rename.
//
// When returned, the new file is in place but the rename may not survive a
// power loss. Callers can detect this with errors.Is(err, ErrDirSync).
var ErrDirSync = errors.New("dir sync")

// AtomicWriter replaces files so that readers observe either the old or the
// new content, never a partial write.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter on fs. Panics if fs is nil.
func NewAtomicWriter(fs FS) *AtomicWriter {
	if fs == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fs}
}

// WriteOptions configures [AtomicWriter.Write].
type WriteOptions struct {
	// SyncDir syncs the parent directory after the rename.
	SyncDir bool

	// Perm is applied to the new file regardless of umask. Must be non-zero.
	Perm os.FileMode
}

// DefaultWriteOptions returns SyncDir=true and Perm=0o644.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{SyncDir: true, Perm: 0o644}
}

// Write streams r into a temp sibling of path, syncs it, and renames it over
// path. On failure the temp file is removed and path keeps its old content.
func (w *AtomicWriter) Write(path string, r io.Reader, opts WriteOptions) error {
	if r == nil {
		panic("reader is nil")
	}

	if opts.Perm == 0 {
		return errors.New("write options: perm must be non-zero")
	}

	dir, base := filepath.Split(path)
	if base == "" || base == "." || base == string(os.PathSeparator) {
		return fmt.Errorf("invalid path %q", path)
	}

	if dir == "" {
		dir = "."
	}

	dir = filepath.Clean(dir)

	tmp, tmpPath, err := w.createTemp(dir, base, opts.Perm)
	if err != nil {
		return err
	}

	discard := func() error {
		return errors.Join(closeFile(tmpPath, tmp), w.removeTemp(tmpPath))
	}

	if err := tmp.Chmod(opts.Perm); err != nil {
		return errors.Join(fmt.Errorf("chmod %q: %w", tmpPath, err), discard())
	}

	if _, err := io.Copy(tmp, r); err != nil {
		return errors.Join(fmt.Errorf("write %q: %w", tmpPath, err), discard())
	}

	if err := tmp.Sync(); err != nil {
		return errors.Join(fmt.Errorf("sync %q: %w", tmpPath, err), discard())
	}

	if err := closeFile(tmpPath, tmp); err != nil {
		return errors.Join(err, w.removeTemp(tmpPath))
	}

	if err := w.fs.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("rename: %w", err), w.removeTemp(tmpPath))
	}

	if opts.SyncDir {
		return w.syncDir(dir)
	}

	return nil
}

// WriteBytes writes data to path atomically with [DefaultWriteOptions].
func (w *AtomicWriter) WriteBytes(path string, data []byte) error {
	return w.Write(path, bytes.NewReader(data), DefaultWriteOptions())
}

const maxTempAttempts = 1000

var tempSeq atomic.Uint64

// createTemp opens ".<base>.tmp-<n>" next to the target with O_EXCL.
func (w *AtomicWriter) createTemp(dir, base string, perm os.FileMode) (File, string, error) {
	for range maxTempAttempts {
		path := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d", base, tempSeq.Add(1)))

		f, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if err == nil {
			return f, path, nil
		}

		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("create temp file: %w", err)
		}
	}

	return nil, "", fmt.Errorf("no free temp file name in %q", dir)
}

func (w *AtomicWriter) syncDir(dir string) error {
	d, err := w.fs.Open(dir)
	if err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("open %q: %w", dir, err))
	}

	if err := d.Sync(); err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("%q: %w", dir, err), closeFile(dir, d))
	}

	return closeFile(dir, d)
}

func (w *AtomicWriter) removeTemp(path string) error {
	err := w.fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp file %q: %w", path, err)
	}

	return nil
}

func closeFile(path string, f File) error {
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %q: %w", path, err)
	}

	return nil
}
