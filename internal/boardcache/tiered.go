package boardcache

import (
	"context"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/calvinalkan/mdboard/internal/board"
	"github.com/calvinalkan/mdboard/internal/metrics"
)

// Tiered is the cache the store reads through: a local [Memory] in front of
// an optional shared [Redis]. Redis failures are logged and treated as
// misses, so the documents on disk stay the only hard dependency.
//
// Readers that go to disk bracket the read with [Tiered.Reserve] and
// [Tiered.Fill]. A fill is dropped when an invalidation happened after the
// reservation, locally or (for the shared tier) in any process.
type Tiered struct {
	local   *Memory
	shared  *Redis
	log     log.FieldLogger
	metrics *metrics.Metrics

	// mu guards seq and orders local fills against invalidations. It is
	// never held across a Redis call.
	mu  sync.Mutex
	seq uint64
}

// NewTiered combines local and shared. shared, logger and m may be nil.
func NewTiered(local *Memory, shared *Redis, logger log.FieldLogger, m *metrics.Metrics) *Tiered {
	if local == nil {
		local = New(DefaultTTL)
	}

	if logger == nil {
		l := log.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	return &Tiered{local: local, shared: shared, log: logger, metrics: m}
}

// Local returns the in-process tier.
func (t *Tiered) Local() *Memory {
	return t.local
}

func (t *Tiered) current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.seq
}

// Get looks in the local tier, then the shared tier. A shared hit is copied
// into the local tier with the age it already has in Redis, so it expires
// locally when it expires there.
func (t *Tiered) Get(ctx context.Context, id string) (board.Board, bool) {
	if b, ok := t.local.Get(id); ok {
		t.metrics.CacheHit()
		t.log.WithField("board", id).Debug("cache hit")

		return b, true
	}

	if t.shared != nil {
		seq := t.current()

		b, remaining, ok, err := t.shared.Lookup(ctx, id)
		if err != nil {
			t.log.WithError(err).WithField("board", id).Warn("shared cache read failed")
		}

		if ok {
			t.mu.Lock()
			if t.seq == seq {
				storedAt := t.local.now().Add(remaining - t.shared.TTL())
				t.local.SetAt(id, b, storedAt)
			}
			t.mu.Unlock()

			t.metrics.CacheHit()
			t.log.WithField("board", id).Debug("shared cache hit")

			return b, true
		}
	}

	t.metrics.CacheMiss()
	t.log.WithField("board", id).Debug("cache miss")

	return board.Board{}, false
}

// Reservation records the cache state before a disk read. See [Tiered.Fill].
type Reservation struct {
	seq     uint64
	version int64
	shared  bool
}

// Reserve must be called before reading the board that will be passed to
// [Tiered.Fill].
func (t *Tiered) Reserve(ctx context.Context, id string) Reservation {
	r := Reservation{seq: t.current()}

	if t.shared != nil {
		v, err := t.shared.Version(ctx, id)
		if err != nil {
			t.log.WithError(err).WithField("board", id).Warn("shared cache version read failed")
		} else {
			r.version = v
			r.shared = true
		}
	}

	return r
}

// Fill caches b if nothing was invalidated since r was taken. It reports
// whether the local tier took the board.
func (t *Tiered) Fill(ctx context.Context, id string, b board.Board, r Reservation) bool {
	t.mu.Lock()
	fresh := t.seq == r.seq
	if fresh {
		t.local.Set(id, b)
	}
	t.mu.Unlock()

	if !fresh {
		t.log.WithField("board", id).Debug("cache fill dropped, invalidated meanwhile")

		return false
	}

	if t.shared != nil && r.shared {
		stored, err := t.shared.SetIfVersion(ctx, id, b, r.version)
		if err != nil {
			t.log.WithError(err).WithField("board", id).Warn("shared cache write failed")
		} else if !stored {
			t.log.WithField("board", id).Debug("shared cache fill dropped, invalidated meanwhile")
		}
	}

	return true
}

// Set stores b in both tiers without any check. Readers racing writers use
// [Tiered.Reserve] and [Tiered.Fill] instead.
func (t *Tiered) Set(ctx context.Context, id string, b board.Board) {
	t.local.Set(id, b)

	if t.shared != nil {
		if err := t.shared.Set(ctx, id, b); err != nil {
			t.log.WithError(err).WithField("board", id).Warn("shared cache write failed")
		}
	}
}

// Invalidate removes id from both tiers and cancels fills reserved before it.
func (t *Tiered) Invalidate(ctx context.Context, id string) {
	t.mu.Lock()
	t.seq++
	t.local.Invalidate(id)
	t.mu.Unlock()

	if t.shared != nil {
		if err := t.shared.Invalidate(ctx, id); err != nil {
			t.log.WithError(err).WithField("board", id).Error("shared cache invalidate failed")
		}
	}
}

// Clear empties both tiers.
func (t *Tiered) Clear(ctx context.Context) {
	t.mu.Lock()
	t.seq++
	t.local.Clear()
	t.mu.Unlock()

	if t.shared != nil {
		if err := t.shared.Clear(ctx); err != nil {
			t.log.WithError(err).Error("shared cache clear failed")
		}
	}
}

// Cleanup evicts expired local entries. Redis expires its own.
func (t *Tiered) Cleanup() int {
	return t.local.Cleanup()
}
