// Package redischeckpoint stores projection checkpoints in Redis, one string
// key per projection.
package redischeckpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/ripkitten-co/purr/projections"
)

// Client is the subset of *redis.Client the store uses.
type Client interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ Client = (*redis.Client)(nil)

// advanceScript sets the key only when it is missing or not above ARGV[1].
var advanceScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false or tonumber(current) <= tonumber(ARGV[1]) then
  redis.call("SET", KEYS[1], ARGV[1])
  return 1
end
return 0
`)

// Store keeps each projection position in a Redis string under Key(name).
type Store struct {
	rdb    Client
	prefix string
}

var _ projections.CheckpointStore = (*Store)(nil)

// New returns a store that keys checkpoints as <prefix>:<projection>.
// An empty prefix defaults to "purr:checkpoint".
func New(rdb Client, prefix string) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "purr:checkpoint"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Key returns the Redis key holding the named projection's checkpoint.
func (s *Store) Key(name string) string {
	return s.prefix + ":" + name
}

// GetLastCheckpoint returns ok=false when the key does not exist.
func (s *Store) GetLastCheckpoint(ctx context.Context, name string) (int64, bool, error) {
	pos, err := s.rdb.Get(ctx, s.Key(name)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: load: %w", name, err)
	}
	return pos, true, nil
}

// SetLastCheckpoint raises the stored position to pos; lower values are ignored.
func (s *Store) SetLastCheckpoint(ctx context.Context, name string, pos int64) error {
	if err := advanceScript.Run(ctx, s.rdb, []string{s.Key(name)}, pos).Err(); err != nil {
		return fmt.Errorf("checkpoint %s: save: %w", name, err)
	}
	return nil
}

// Reset deletes the checkpoint so the projection replays from the beginning.
func (s *Store) Reset(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, s.Key(name)).Err(); err != nil {
		return fmt.Errorf("checkpoint %s: reset: %w", name, err)
	}
	return nil
}
