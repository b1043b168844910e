// Package boardcache keeps recently read boards in memory for a bounded time.
//
// The cache is never written through. Whoever writes a board document must
// invalidate the board's entry; the store does this as part of every write.
package boardcache

import (
	"sort"
	"sync"
	"time"

	"github.com/calvinalkan/mdboard/internal/board"
)

// DefaultTTL is the maximum age of a served snapshot.
const DefaultTTL = 30 * time.Second

type entry struct {
	board    board.Board
	storedAt time.Time
}

// Memory is an in-process TTL map from board id to snapshot.
// It is safe for concurrent use. Snapshots are copied on the way in and out.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// Option configures a [Memory].
type Option func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// New creates a Memory cache. A ttl <= 0 uses [DefaultTTL].
func New(ttl time.Duration, opts ...Option) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	m := &Memory{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// TTL returns the configured time-to-live.
func (m *Memory) TTL() time.Duration {
	return m.ttl
}

func (m *Memory) expired(e entry, now time.Time) bool {
	return now.Sub(e.storedAt) > m.ttl
}

// Get returns the snapshot for id if it is no older than the TTL.
// An expired entry is evicted.
func (m *Memory) Get(id string) (board.Board, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return board.Board{}, false
	}

	if m.expired(e, m.now()) {
		delete(m.entries, id)

		return board.Board{}, false
	}

	return e.board.Clone(), true
}

// Set stores a snapshot of b, replacing any previous entry.
func (m *Memory) Set(id string, b board.Board) {
	m.SetAt(id, b, m.now())
}

// SetAt stores a snapshot of b that counts as stored at storedAt, so it
// expires one TTL after that instead of one TTL from now. Used for copies of
// snapshots that already aged elsewhere.
func (m *Memory) SetAt(id string, b board.Board, storedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expired(entry{storedAt: storedAt}, m.now()) {
		delete(m.entries, id)

		return
	}

	m.entries[id] = entry{board: b.Clone(), storedAt: storedAt}
}

// Invalidate removes the entry for id.
func (m *Memory) Invalidate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
}

// Delete is an alias of [Memory.Invalidate].
func (m *Memory) Delete(id string) {
	m.Invalidate(id)
}

// InvalidateFunc removes every entry whose id satisfies match and returns
// the number removed.
func (m *Memory) InvalidateFunc(match func(id string) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0

	for id := range m.entries {
		if match(id) {
			delete(m.entries, id)
			n++
		}
	}

	return n
}

// Clear drops every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.entries)
}

// Has reports whether a fresh entry exists for id without evicting.
func (m *Memory) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]

	return ok && !m.expired(e, m.now())
}

// Cleanup evicts all expired entries and returns how many were removed.
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0

	for id, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, id)
			n++
		}
	}

	return n
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Size int
	Keys []string
	TTL  time.Duration
}

// Stats returns the number of entries and their ids, sorted. Expired
// entries that have not been evicted yet are included.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for id := range m.entries {
		keys = append(keys, id)
	}

	sort.Strings(keys)

	return Stats{Size: len(keys), Keys: keys, TTL: m.ttl}
}
