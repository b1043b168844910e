package fs

import (
	"os"
	"path/filepath"
	"sync"
)

// Faulty wraps an [FS] and fails selected operations with an injected error.
//
// Rules match on the base name of the path argument using
// [filepath.Match] patterns. An empty pattern matches every path.
// Faulty is meant for tests that simulate a crash or a full disk at a
// specific step, for example between the temp file write and the rename
// of an atomic write.
type Faulty struct {
	inner FS

	mu    sync.Mutex
	rules []faultRule
	hits  map[string]int
}

type faultRule struct {
	op      string
	pattern string
	err     error
}

// Operation names accepted by [Faulty.Fail].
const (
	OpOpenFile = "openfile"
	OpReadFile = "readfile"
	OpReadDir  = "readdir"
	OpRemove   = "remove"
	OpRename   = "rename"
)

// NewFaulty wraps inner. Panics if inner is nil.
func NewFaulty(inner FS) *Faulty {
	if inner == nil {
		panic("inner fs is nil")
	}

	return &Faulty{inner: inner, hits: make(map[string]int)}
}

// Fail makes op fail with err for paths whose base name matches pattern.
// For rename the pattern is matched against the destination path.
func (f *Faulty) Fail(op, pattern string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = append(f.rules, faultRule{op: op, pattern: pattern, err: err})
}

// Reset removes all rules. Hit counts are kept.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = nil
}

// Hits reports how many times op was failed.
func (f *Faulty) Hits(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.hits[op]
}

// fault returns the injected error for op on path, or nil.
func (f *Faulty) fault(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	base := filepath.Base(path)

	for _, r := range f.rules {
		if r.op != op {
			continue
		}

		if r.pattern != "" {
			ok, err := filepath.Match(r.pattern, base)
			if err != nil || !ok {
				continue
			}
		}

		f.hits[op]++

		return r.err
	}

	return nil
}

func (f *Faulty) Open(path string) (File, error) {
	return f.inner.Open(path)
}

func (f *Faulty) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if err := f.fault(OpOpenFile, path); err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	return f.inner.OpenFile(path, flag, perm)
}

func (f *Faulty) ReadFile(path string) ([]byte, error) {
	if err := f.fault(OpReadFile, path); err != nil {
		return nil, &os.PathError{Op: "read", Path: path, Err: err}
	}

	return f.inner.ReadFile(path)
}

func (f *Faulty) ReadDir(path string) ([]os.DirEntry, error) {
	if err := f.fault(OpReadDir, path); err != nil {
		return nil, &os.PathError{Op: "readdirent", Path: path, Err: err}
	}

	return f.inner.ReadDir(path)
}

func (f *Faulty) MkdirAll(path string, perm os.FileMode) error {
	return f.inner.MkdirAll(path, perm)
}

func (f *Faulty) Stat(path string) (os.FileInfo, error) {
	return f.inner.Stat(path)
}

func (f *Faulty) Remove(path string) error {
	if err := f.fault(OpRemove, path); err != nil {
		return &os.PathError{Op: "remove", Path: path, Err: err}
	}

	return f.inner.Remove(path)
}

func (f *Faulty) Rename(oldpath, newpath string) error {
	if err := f.fault(OpRename, newpath); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}

	return f.inner.Rename(oldpath, newpath)
}

var _ FS = (*Faulty)(nil)
