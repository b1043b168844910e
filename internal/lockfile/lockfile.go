// Package lockfile provides named mutual exclusion backed by marker files.
//
// Holding a lock means having exclusively created (O_CREATE|O_EXCL) the file
// <dir>/<base>.lock, where base is the base filename of the locked resource.
// Because exclusive create is atomic on every local filesystem, the scheme
// works across processes without an external lock service.
//
// Each marker records the owner's pid and host, a random token, and a lease
// expiry. [Lock.Release] only removes a marker that still carries its own
// token, so a holder whose lease ran out can never delete a marker that a
// later holder created. [Manager.CleanupStale] removes markers left behind
// by crashed processes.
//
// Within one process, acquisitions of the same name are additionally
// serialized by a per-name slot, so goroutines queue in memory instead of
// spinning on the filesystem.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/calvinalkan/mdboard/internal/metrics"
	"github.com/calvinalkan/mdboard/pkg/fs"
)

var (
	// ErrAcquire is returned when a lock could not be acquired within the
	// retry budget, or the context ended while waiting.
	ErrAcquire = errors.New("lock acquisition failed")

	// ErrInvalidName is returned for names without a usable base filename.
	ErrInvalidName = errors.New("invalid lock name")
)

const (
	// DirName is the conventional lock directory inside a data directory.
	DirName = ".lock"

	markerSuffix = ".lock"
	markerPerm   = 0o644
	dirPerm      = 0o755

	backoffFactor = 1.5
)

// Defaults applied to zero [Options] fields.
const (
	DefaultMaxRetries = 10
	DefaultRetryDelay = 50 * time.Millisecond
	DefaultTimeout    = 5 * time.Second
	DefaultStaleAfter = 30 * time.Second
)

// Options controls one acquisition.
type Options struct {
	// MaxRetries is the number of exclusive-create attempts before giving up.
	MaxRetries int

	// RetryDelay is the base delay. Attempt n waits RetryDelay * 1.5^n.
	RetryDelay time.Duration

	// Timeout is the lease length. The lock is released automatically when
	// it expires.
	Timeout time.Duration
}

func (o Options) withDefaults(base Options) Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = base.MaxRetries
	}

	if o.RetryDelay <= 0 {
		o.RetryDelay = base.RetryDelay
	}

	if o.Timeout <= 0 {
		o.Timeout = base.Timeout
	}

	return o
}

// backoff returns the delay after the given zero-based attempt.
func (o Options) backoff(attempt int) time.Duration {
	return time.Duration(float64(o.RetryDelay) * math.Pow(backoffFactor, float64(attempt)))
}

// budget is the total time the retry loop may sleep.
func (o Options) budget() time.Duration {
	var total time.Duration
	for i := range o.MaxRetries - 1 {
		total += o.backoff(i)
	}

	return total
}

// Config configures a [Manager].
type Config struct {
	// Dir is the lock directory. Required. Created on first acquisition.
	Dir string

	// FS defaults to [fs.NewReal].
	FS fs.FS

	// Defaults fill zero fields of per-call [Options].
	Defaults Options

	// StaleAfter is the minimum marker age before CleanupStale considers it.
	StaleAfter time.Duration

	Logger  log.FieldLogger
	Metrics *metrics.Metrics
}

// Manager hands out locks for names under one lock directory.
// It is safe for concurrent use.
type Manager struct {
	dir        string
	fs         fs.FS
	defaults   Options
	staleAfter time.Duration
	log        log.FieldLogger
	metrics    *metrics.Metrics

	pid  int
	host string

	// slots serializes holders inside this process, one per marker path.
	// An entry lives while any caller holds or waits for it.
	slotsMu sync.Mutex
	slots   map[string]*holderSlot
}

type holderSlot struct {
	ch   chan struct{}
	refs int
}

// New creates a Manager. It does not touch the filesystem.
func New(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("lockfile: dir is required")
	}

	if cfg.FS == nil {
		cfg.FS = fs.NewReal()
	}

	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}

	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}

	host, _ := os.Hostname()

	return &Manager{
		dir: cfg.Dir,
		fs:  cfg.FS,
		defaults: cfg.Defaults.withDefaults(Options{
			MaxRetries: DefaultMaxRetries,
			RetryDelay: DefaultRetryDelay,
			Timeout:    DefaultTimeout,
		}),
		staleAfter: cfg.StaleAfter,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		pid:        os.Getpid(),
		host:       host,
		slots:      make(map[string]*holderSlot),
	}, nil
}

// Dir returns the lock directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Lock is a held lock. Release it with [Lock.Release].
type Lock struct {
	m     *Manager
	name  string
	path  string
	token string
	slot  *holderSlot

	once  sync.Once
	timer *time.Timer
}

// Name returns the resource name the lock was acquired for.
func (l *Lock) Name() string {
	return l.name
}

// Release drops the lock. It is idempotent and never fails: the auto-release
// timer is stopped first, then the marker is removed if it still carries
// this lock's token. A marker that is already gone counts as released.
// Cleanup failures are logged.
func (l *Lock) Release() {
	l.release(false)
}

func (l *Lock) release(expired bool) {
	l.once.Do(func() {
		if l.timer != nil {
			l.timer.Stop()
		}

		if expired {
			l.m.log.WithField("lock", l.name).Warn("lock lease expired, releasing")
		}

		l.m.removeOwned(l.path, l.token)
		<-l.slot.ch
		l.m.unref(l.path, l.slot)
	})
}

// Acquire takes the lock for name, retrying with exponential backoff while
// another holder has it. Exhausted retries and context cancellation return
// an error wrapping [ErrAcquire].
//
// The lock is released automatically after opts.Timeout if the caller does
// not release it first.
func (m *Manager) Acquire(ctx context.Context, name string, opts Options) (*Lock, error) {
	opts = opts.withDefaults(m.defaults)

	path, err := m.markerPath(name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logger := m.log.WithField("lock", name)

	slot := m.ref(path)

	if err := m.waitSlot(ctx, slot.ch, opts.budget()); err != nil {
		m.unref(path, slot)
		m.metrics.LockFailure()
		m.metrics.ObserveLockWait(time.Since(start))

		return nil, fmt.Errorf("%w: %s: %w", ErrAcquire, name, err)
	}

	for attempt := 0; ; attempt++ {
		lock, ok, err := m.create(name, path, slot, opts.Timeout)
		if err != nil {
			m.leave(path, slot)
			m.metrics.LockFailure()

			return nil, fmt.Errorf("%w: %s: %w", ErrAcquire, name, err)
		}

		if ok {
			m.metrics.ObserveLockWait(time.Since(start))

			return lock, nil
		}

		if attempt+1 >= opts.MaxRetries {
			m.leave(path, slot)
			m.metrics.LockFailure()
			m.metrics.ObserveLockWait(time.Since(start))

			return nil, fmt.Errorf("%w: %s: still held after %d attempts", ErrAcquire, name, attempt+1)
		}

		m.metrics.LockRetry()

		delay := opts.backoff(attempt)
		logger.WithFields(log.Fields{"attempt": attempt + 1, "delay": delay}).Debug("lock busy, retrying")

		if err := sleep(ctx, delay); err != nil {
			m.leave(path, slot)
			m.metrics.LockFailure()

			return nil, fmt.Errorf("%w: %s: %w", ErrAcquire, name, err)
		}
	}
}

// TryAcquire makes a single attempt. It returns (nil, nil) when the lock is
// held by someone else, so callers can poll instead of block.
func (m *Manager) TryAcquire(name string) (*Lock, error) {
	path, err := m.markerPath(name)
	if err != nil {
		return nil, err
	}

	slot := m.ref(path)

	select {
	case slot.ch <- struct{}{}:
	default:
		m.unref(path, slot)

		return nil, nil
	}

	lock, ok, err := m.create(name, path, slot, m.defaults.Timeout)
	if err != nil || !ok {
		m.leave(path, slot)

		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrAcquire, name, err)
		}

		return nil, nil
	}

	return lock, nil
}

// WithLock runs fn while holding the lock for name.
func (m *Manager) WithLock(ctx context.Context, name string, opts Options, fn func() error) error {
	lock, err := m.Acquire(ctx, name, opts)
	if err != nil {
		return err
	}

	defer lock.Release()

	return fn()
}

// IsLocked reports whether a marker for name exists. The answer is advisory
// and may be stale by the time the caller acts on it.
func (m *Manager) IsLocked(name string) bool {
	path, err := m.markerPath(name)
	if err != nil {
		return false
	}

	ok, _ := fs.Exists(m.fs, path)

	return ok
}

// create attempts the exclusive create once. ok is false if the marker exists.
func (m *Manager) create(name, path string, slot *holderSlot, lease time.Duration) (*Lock, bool, error) {
	now := time.Now().UTC()
	mk := Marker{
		PID:        m.pid,
		Host:       m.host,
		Token:      uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(lease),
	}

	data, err := json.Marshal(mk)
	if err != nil {
		return nil, false, fmt.Errorf("encode marker: %w", err)
	}

	f, err := m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, markerPerm)
	if os.IsNotExist(err) {
		if mkErr := m.fs.MkdirAll(m.dir, dirPerm); mkErr != nil {
			return nil, false, fmt.Errorf("create lock dir: %w", mkErr)
		}

		f, err = m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, markerPerm)
	}

	if os.IsExist(err) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("create marker: %w", err)
	}

	_, writeErr := f.Write(data)
	closeErr := f.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = m.fs.Remove(path)

		return nil, false, fmt.Errorf("write marker: %w", err)
	}

	lock := &Lock{m: m, name: name, path: path, token: mk.Token, slot: slot}
	lock.timer = time.AfterFunc(lease, func() { lock.release(true) })

	return lock, true, nil
}

// removeOwned deletes the marker at path if it carries token.
func (m *Manager) removeOwned(path, token string) {
	logger := m.log.WithField("path", path)

	data, err := m.fs.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).Error("read lock marker on release")
		}

		return
	}

	mk, err := parseMarker(data)
	if err == nil && mk.Token != token {
		logger.Debug("lock marker now owned by another holder, leaving it")

		return
	}

	if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Error("remove lock marker")
	}
}

func (m *Manager) markerPath(name string) (string, error) {
	base := filepath.Base(name)
	if name == "" || base == "." || base == ".." || base == string(os.PathSeparator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return filepath.Join(m.dir, base+markerSuffix), nil
}

// ref returns the slot for path, creating it, and counts the caller as a user.
func (m *Manager) ref(path string) *holderSlot {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()

	s := m.slots[path]
	if s == nil {
		s = &holderSlot{ch: make(chan struct{}, 1)}
		m.slots[path] = s
	}

	s.refs++

	return s
}

// unref drops a use of s and forgets the slot when nobody holds or waits.
func (m *Manager) unref(path string, s *holderSlot) {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()

	s.refs--
	if s.refs == 0 && m.slots[path] == s {
		delete(m.slots, path)
	}
}

// leave gives up a taken slot.
func (m *Manager) leave(path string, s *holderSlot) {
	<-s.ch
	m.unref(path, s)
}

// waitSlot takes the in-process slot, giving up after budget.
func (*Manager) waitSlot(ctx context.Context, slot chan struct{}, budget time.Duration) error {
	select {
	case slot <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return nil
	case <-timer.C:
		return errors.New("held in this process beyond retry budget")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Marker is the content of a lock marker file.
type Marker struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host,omitempty"`
	Token      string    `json:"token,omitempty"`
	AcquiredAt time.Time `json:"acquired_at,omitzero"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

// parseMarker accepts the JSON marker and the bare-pid format.
func parseMarker(data []byte) (Marker, error) {
	trimmed := strings.TrimSpace(string(data))

	if pid, err := strconv.Atoi(trimmed); err == nil {
		return Marker{PID: pid}, nil
	}

	var mk Marker
	if err := json.Unmarshal([]byte(trimmed), &mk); err != nil {
		return Marker{}, fmt.Errorf("parse lock marker: %w", err)
	}

	return mk, nil
}

func discardLogger() log.FieldLogger {
	l := log.New()
	l.SetOutput(io.Discard)

	return l
}
