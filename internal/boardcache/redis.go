package boardcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calvinalkan/mdboard/internal/board"
)

const scanBatch = 100

// Redis is a cache tier shared by every process that points at the same
// Redis server. Entries expire through Redis TTLs.
//
// Each board also has a version counter that [Redis.Invalidate] bumps.
// Readers note the version before going to disk and fill the cache with
// [Redis.SetIfVersion], so a slow reader can never put back a board that
// another process replaced in the meantime.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps client. Keys are "<prefix>:board:<id>" and
// "<prefix>:version:<id>". Panics if client is nil.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if client == nil {
		panic("boardcache.NewRedis: client is nil")
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if prefix == "" {
		prefix = "mdboard"
	}

	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// TTL returns the expiry given to stored boards.
func (r *Redis) TTL() time.Duration {
	return r.ttl
}

func (r *Redis) key(id string) string {
	return r.prefix + ":board:" + id
}

func (r *Redis) versionKey(id string) string {
	return r.prefix + ":version:" + id
}

// Get returns the cached board. A missing key is a miss, not an error.
func (r *Redis) Get(ctx context.Context, id string) (board.Board, bool, error) {
	b, _, ok, err := r.Lookup(ctx, id)

	return b, ok, err
}

// Lookup is [Redis.Get] that also reports how long the entry has left
// before it expires. Entries without a TTL are treated as misses.
func (r *Redis) Lookup(ctx context.Context, id string) (board.Board, time.Duration, bool, error) {
	k := r.key(id)

	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, k)
	pttl := pipe.PTTL(ctx, k)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return board.Board{}, 0, false, fmt.Errorf("redis get: %w", err)
	}

	raw, err := get.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return board.Board{}, 0, false, nil
		}

		return board.Board{}, 0, false, fmt.Errorf("redis get: %w", err)
	}

	remaining := pttl.Val()
	if remaining <= 0 {
		return board.Board{}, 0, false, nil
	}

	var b board.Board
	if err := json.Unmarshal(raw, &b); err != nil {
		// Unreadable payloads are dropped so the next read goes to disk.
		_ = r.client.Del(ctx, k).Err()

		return board.Board{}, 0, false, fmt.Errorf("decode cached board: %w", err)
	}

	return b, remaining, true, nil
}

// Set stores b with the tier's TTL, unconditionally.
func (r *Redis) Set(ctx context.Context, id string, b board.Board) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode board: %w", err)
	}

	if err := r.client.Set(ctx, r.key(id), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Version returns the invalidation counter of id. Unknown boards are at 0.
func (r *Redis) Version(ctx context.Context, id string) (int64, error) {
	v, err := readVersion(ctx, r.client, r.versionKey(id))
	if err != nil {
		return 0, fmt.Errorf("redis version: %w", err)
	}

	return v, nil
}

// SetIfVersion stores b only while id's version still equals version.
// stored is false when the board was invalidated since version was read.
func (r *Redis) SetIfVersion(ctx context.Context, id string, b board.Board, version int64) (stored bool, err error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return false, fmt.Errorf("encode board: %w", err)
	}

	vk := r.versionKey(id)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readVersion(ctx, tx, vk)
		if err != nil {
			return err
		}

		if cur != version {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key(id), payload, r.ttl)

			return nil
		})
		if err != nil {
			return err
		}

		stored = true

		return nil
	}, vk)

	// The version moved between WATCH and EXEC.
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("redis set: %w", err)
	}

	return stored, nil
}

// Invalidate deletes the entry for id and bumps its version in one
// transaction.
func (r *Redis) Invalidate(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key(id))
		pipe.Incr(ctx, r.versionKey(id))

		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}

	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readVersion(ctx context.Context, c getter, key string) (int64, error) {
	v, err := c.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	return v, err
}

// Clear deletes every board entry under the prefix.
func (r *Redis) Clear(ctx context.Context) error {
	var keys []string

	iter := r.client.Scan(ctx, 0, r.prefix+":board:*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}
