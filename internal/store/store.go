// Package store is the board storage engine. It keeps one markdown document
// per board in a data directory, serializes writers through lock markers,
// reads through a TTL cache and migrates a legacy db.json on first start.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/boardcache"
	"github.com/calvinalkan/mdboard/internal/document"
	"github.com/calvinalkan/mdboard/internal/lockfile"
	"github.com/calvinalkan/mdboard/internal/metrics"
	"github.com/calvinalkan/mdboard/pkg/fs"
)

// ErrNotReady is returned by board operations before [Store.Init] completed
// or after [Store.Close].
var ErrNotReady = errors.New("storage not initialized")

// State is the lifecycle state of a [Store].
type State int

// Lifecycle states.
const (
	StateUninitialized State = iota
	StateMigrating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateMigrating:
		return "migrating"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// collectionLock serializes operations that look at the whole set of boards.
const collectionLock = ".boards"

// migrationLock keeps two processes from migrating the same legacy file.
const migrationLock = ".migration"

// Config configures a [Store].
type Config struct {
	// DataDir holds the board documents. Required.
	DataDir string

	// FS defaults to the real filesystem.
	FS fs.FS

	// CacheTTL defaults to [boardcache.DefaultTTL].
	CacheTTL time.Duration

	// CacheCleanupInterval is how often expired cache entries are evicted.
	// Zero disables the janitor; expired entries are then dropped on read.
	CacheCleanupInterval time.Duration

	// Lock is the default retry policy for board locks.
	Lock lockfile.Options

	// LockStaleAfter defaults to [lockfile.DefaultStaleAfter].
	LockStaleAfter time.Duration

	// Redis enables the shared cache tier when non-nil.
	Redis       *redis.Client
	RedisPrefix string

	// Watch invalidates cached boards when their documents change on disk
	// outside this process.
	Watch bool

	Logger     log.FieldLogger
	Registerer prometheus.Registerer

	// Now defaults to [board.Now].
	Now func() time.Time
}

// Store is safe for concurrent use. Multiple processes may share a data
// directory; the lock markers under <DataDir>/.lock coordinate them.
type Store struct {
	dir     string
	fs      fs.FS
	docs    *document.Dir
	locks   *lockfile.Manager
	cache   *boardcache.Tiered
	lockOpt lockfile.Options
	log     log.FieldLogger
	metrics *metrics.Metrics
	now     func() time.Time
	watch   bool

	cleanupEvery time.Duration

	mu      sync.Mutex
	state   State
	stop    chan struct{}
	wg      sync.WaitGroup
	watcher *Watcher
}

// New builds a Store. It does not touch the data directory; call
// [Store.Init] before using it.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("store: data directory is required")
	}

	if cfg.FS == nil {
		cfg.FS = fs.NewReal()
	}

	if cfg.Logger == nil {
		l := log.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}

	if cfg.Now == nil {
		cfg.Now = board.Now
	}

	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = boardcache.DefaultTTL
	}

	dir := filepath.Clean(cfg.DataDir)
	logger := cfg.Logger.WithField("data_dir", dir)

	var m *metrics.Metrics
	if cfg.Registerer != nil {
		m = metrics.New(cfg.Registerer)
	}

	locks, err := lockfile.New(lockfile.Config{
		Dir:        filepath.Join(dir, lockfile.DirName),
		FS:         cfg.FS,
		Defaults:   cfg.Lock,
		StaleAfter: cfg.LockStaleAfter,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var shared *boardcache.Redis
	if cfg.Redis != nil {
		shared = boardcache.NewRedis(cfg.Redis, cfg.RedisPrefix, cfg.CacheTTL)
	}

	s := &Store{
		dir:          dir,
		fs:           cfg.FS,
		locks:        locks,
		cache:        boardcache.NewTiered(boardcache.New(cfg.CacheTTL), shared, logger, m),
		lockOpt:      cfg.Lock,
		log:          logger,
		metrics:      m,
		now:          func() time.Time { return board.Timestamp(cfg.Now()) },
		watch:        cfg.Watch,
		cleanupEvery: cfg.CacheCleanupInterval,
	}

	docs, err := document.NewDir(document.DirConfig{
		Root:        dir,
		FS:          cfg.FS,
		Locks:       locks,
		LockOptions: cfg.Lock,
		AfterCommit: s.invalidate,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	s.docs = docs

	return s, nil
}

// Open is New followed by Init.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// Init prepares the data directory: it clears abandoned lock markers, runs
// the legacy migration when needed and creates the default board when no
// board exists. Init is idempotent.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReady {
		return nil
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("init storage: create data directory: %w", err)
	}

	removed, err := s.locks.CleanupStale()
	if err != nil {
		s.log.WithError(err).Warn("stale lock cleanup failed")
	} else if removed > 0 {
		s.log.WithField("removed", removed).Info("removed stale lock markers")
	}

	needed, err := s.needsMigration()
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	if needed {
		s.state = StateMigrating

		if _, err := s.migrate(ctx); err != nil {
			s.state = StateUninitialized

			return fmt.Errorf("init storage: %w", err)
		}
	}

	if err := s.ensureDefaultBoard(ctx); err != nil {
		s.state = StateUninitialized

		return fmt.Errorf("init storage: %w", err)
	}

	if err := s.startBackground(); err != nil {
		s.state = StateUninitialized

		return fmt.Errorf("init storage: %w", err)
	}

	s.state = StateReady
	s.log.Debug("storage ready")

	return nil
}

// Close stops the background janitor and watcher. Board operations return
// [ErrNotReady] afterwards until Init runs again.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil
	}

	s.state = StateUninitialized

	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}

	s.wg.Wait()

	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil

		if err != nil {
			return fmt.Errorf("close storage: %w", err)
		}
	}

	return nil
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// DataDir returns the data directory.
func (s *Store) DataDir() string {
	return s.dir
}

// Locks returns the lock manager coordinating writers on the data directory.
func (s *Store) Locks() *lockfile.Manager {
	return s.locks
}

// CacheStats reports the in-process cache tier.
func (s *Store) CacheStats() boardcache.Stats {
	return s.cache.Local().Stats()
}

// ClearCache drops every cached board.
func (s *Store) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

func (s *Store) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return ErrNotReady
	}

	return nil
}

func (s *Store) ensureDefaultBoard(ctx context.Context) error {
	stems, err := s.docs.ListAll()
	if err != nil {
		return err
	}

	if len(stems) > 0 {
		return nil
	}

	b, err := s.newBoard(board.DefaultBoardID, board.DefaultBoardTitle)
	if err != nil {
		return err
	}

	if err := s.docs.Write(ctx, b); err != nil {
		return fmt.Errorf("create default board: %w", err)
	}

	s.log.WithField("board", b.ID).Info("created default board")

	return nil
}

func (s *Store) startBackground() error {
	if s.watch {
		w, err := NewWatcher(s.dir, s.invalidate, s.log)
		if err != nil {
			return err
		}

		if err := w.Start(); err != nil {
			_ = w.Close()

			return err
		}

		s.watcher = w
	}

	if s.cleanupEvery > 0 {
		s.stop = make(chan struct{})
		s.wg.Add(1)

		go s.janitor(s.stop, s.cleanupEvery)
	}

	return nil
}

func (s *Store) janitor(stop <-chan struct{}, every time.Duration) {
	defer s.wg.Done()

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if n := s.cache.Cleanup(); n > 0 {
				s.log.WithField("evicted", n).Debug("cache cleanup")
			}
		}
	}
}

// key is the cache key for a board id. It matches the document's file stem
// so filesystem events and writes invalidate the same entry.
func key(id string) string {
	return document.FileStem(id)
}

// invalidate drops id from the cache. It runs after every committed write
// while the board lock is still held, and cancels cache fills from reads
// that started before the write.
func (s *Store) invalidate(id string) {
	s.cache.Invalidate(context.Background(), key(id))
}

// load reads a board through the cache.
func (s *Store) load(ctx context.Context, id string) (board.Board, error) {
	k := key(id)

	if b, ok := s.cache.Get(ctx, k); ok {
		return b, nil
	}

	res := s.cache.Reserve(ctx, k)

	b, err := s.docs.Read(ctx, id)
	if err != nil {
		return board.Board{}, err
	}

	s.cache.Fill(ctx, k, b, res)

	return b, nil
}
