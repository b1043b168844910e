package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/lockfile"
	"github.com/calvinalkan/mdboard/internal/metrics"
	"github.com/calvinalkan/mdboard/pkg/fs"
)

// Ext is the extension of board documents.
const Ext = ".md"

const dirPerm = 0o755

// DirConfig configures a [Dir].
type DirConfig struct {
	// Root is the data directory holding one document per board. Required.
	Root string

	// FS defaults to [fs.NewReal].
	FS fs.FS

	// Locks defaults to a manager on <Root>/.lock.
	Locks       *lockfile.Manager
	LockOptions lockfile.Options

	// AfterCommit runs after every successful write or delete of a board
	// document, before the board's lock is released.
	AfterCommit func(id string)

	Logger  log.FieldLogger
	Metrics *metrics.Metrics
}

// Dir reads and writes board documents under a root directory.
//
// Every read, write and delete holds the board's lock for the duration of
// the filesystem operation. Writes replace the document atomically.
type Dir struct {
	root        string
	fs          fs.FS
	writer      *fs.AtomicWriter
	locks       *lockfile.Manager
	lockOpts    lockfile.Options
	afterCommit func(id string)
	log         log.FieldLogger
	metrics     *metrics.Metrics
}

// NewDir creates a Dir. The root directory is created on first write.
func NewDir(cfg DirConfig) (*Dir, error) {
	if cfg.Root == "" {
		return nil, errors.New("document: root is required")
	}

	if cfg.FS == nil {
		cfg.FS = fs.NewReal()
	}

	if cfg.Logger == nil {
		l := log.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}

	if cfg.Locks == nil {
		locks, err := lockfile.New(lockfile.Config{
			Dir:     filepath.Join(cfg.Root, lockfile.DirName),
			FS:      cfg.FS,
			Logger:  cfg.Logger,
			Metrics: cfg.Metrics,
		})
		if err != nil {
			return nil, err
		}

		cfg.Locks = locks
	}

	if cfg.AfterCommit == nil {
		cfg.AfterCommit = func(string) {}
	}

	return &Dir{
		root:        cfg.Root,
		fs:          cfg.FS,
		writer:      fs.NewAtomicWriter(cfg.FS),
		locks:       cfg.Locks,
		lockOpts:    cfg.LockOptions,
		afterCommit: cfg.AfterCommit,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Root returns the data directory.
func (d *Dir) Root() string {
	return d.root
}

// Locks returns the lock manager guarding the documents.
func (d *Dir) Locks() *lockfile.Manager {
	return d.locks
}

// FileStem maps a board id to its filename without extension. Path
// separators and dots become "-", so an id can never address a file outside
// the data directory.
func FileStem(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.':
			return '-'
		}

		return r
	}, id)
}

// Path returns the document path for a board id.
func (d *Dir) Path(id string) string {
	return filepath.Join(d.root, FileStem(id)+Ext)
}

// Read loads the board with id. A missing document returns an error
// matching both [ErrRead] and [ErrNotFound]; a malformed one matches [ErrParse].
func (d *Dir) Read(ctx context.Context, id string) (board.Board, error) {
	path := d.Path(id)

	lock, err := d.locks.Acquire(ctx, path, d.lockOpts)
	if err != nil {
		return board.Board{}, wrap(ErrRead, err, id, path)
	}
	defer lock.Release()

	return d.read(id, path)
}

// Write stores b, replacing any existing document for b.ID.
func (d *Dir) Write(ctx context.Context, b board.Board) error {
	path := d.Path(b.ID)

	lock, err := d.locks.Acquire(ctx, path, d.lockOpts)
	if err != nil {
		return wrap(ErrWrite, err, b.ID, path)
	}
	defer lock.Release()

	return d.write(b, path)
}

// Update runs a read-modify-write of one board under a single hold of its
// lock. fn receives a private copy and returns the new aggregate; errors
// from fn are returned unchanged and nothing is written.
func (d *Dir) Update(ctx context.Context, id string, fn func(board.Board) (board.Board, error)) (board.Board, error) {
	path := d.Path(id)

	lock, err := d.locks.Acquire(ctx, path, d.lockOpts)
	if err != nil {
		return board.Board{}, wrap(ErrWrite, err, id, path)
	}
	defer lock.Release()

	cur, err := d.read(id, path)
	if err != nil {
		return board.Board{}, err
	}

	next, err := fn(cur)
	if err != nil {
		return board.Board{}, err
	}

	next.ID = cur.ID

	if err := d.write(next, path); err != nil {
		return board.Board{}, err
	}

	return next, nil
}

// Delete removes the document for id. A missing document returns an error
// matching both [ErrDelete] and [ErrNotFound].
func (d *Dir) Delete(ctx context.Context, id string) error {
	path := d.Path(id)

	lock, err := d.locks.Acquire(ctx, path, d.lockOpts)
	if err != nil {
		return wrap(ErrDelete, err, id, path)
	}
	defer lock.Release()

	err = d.fs.Remove(path)
	d.metrics.DocumentWritten("delete", err)

	if err != nil {
		if os.IsNotExist(err) {
			return &Error{Kind: ErrDelete, ID: id, Path: path, Err: ErrNotFound}
		}

		return &Error{Kind: ErrDelete, ID: id, Path: path, Err: err}
	}

	d.afterCommit(id)

	return nil
}

// Exists reports whether a document for id exists. It does not lock.
func (d *Dir) Exists(id string) (bool, error) {
	ok, err := fs.Exists(d.fs, d.Path(id))
	if err != nil {
		return false, wrap(ErrRead, err, id, d.Path(id))
	}

	return ok, nil
}

// ListAll returns the file stems of all documents, sorted. The stem of a
// board whose id needs no sanitizing equals its id. A missing root yields
// an empty list.
func (d *Dir) ListAll() ([]string, error) {
	entries, err := d.fs.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, wrap(ErrRead, fmt.Errorf("list documents: %w", err), "", d.root)
	}

	var ids []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, Ext) {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, Ext))
	}

	return ids, nil
}

func (d *Dir) read(id, path string) (board.Board, error) {
	data, err := d.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return board.Board{}, &Error{Kind: ErrRead, ID: id, Path: path, Err: ErrNotFound}
		}

		return board.Board{}, &Error{Kind: ErrRead, ID: id, Path: path, Err: err}
	}

	b, err := Unmarshal(data)
	if err != nil {
		d.metrics.ParseFailure()

		return board.Board{}, wrap(ErrParse, err, id, path)
	}

	return b, nil
}

func (d *Dir) write(b board.Board, path string) error {
	data, err := Marshal(b)
	if err != nil {
		return &Error{Kind: ErrWrite, ID: b.ID, Path: path, Err: err}
	}

	if err := d.fs.MkdirAll(d.root, dirPerm); err != nil {
		return &Error{Kind: ErrWrite, ID: b.ID, Path: path, Err: err}
	}

	err = d.writer.WriteBytes(path, data)
	d.metrics.DocumentWritten("write", err)

	if err != nil {
		if errors.Is(err, fs.ErrDirSync) {
			d.log.WithError(err).WithField("board", b.ID).Warn("document replaced but directory sync failed")
		} else {
			return &Error{Kind: ErrWrite, ID: b.ID, Path: path, Err: err}
		}
	}

	d.afterCommit(b.ID)

	return nil
}
