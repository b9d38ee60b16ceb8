// Package redis provides a Redis repository.SnapshotStore. Snapshots of an
// aggregate are stored as JSON records in a sorted set scored by version.
// Combine it with an event store using backend.Compose.
package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/codec"
	"github.com/redis/go-redis/v9"
)

var _ repository.SnapshotStore = (*SnapshotStore)(nil)

const maxWatchAttempts = 5

// SnapshotStore is a Redis repository.SnapshotStore.
type SnapshotStore struct {
	client redis.UniversalClient
	addr   string
	codec  *codec.Codec
	prefix string
	policy repository.SnapshotPolicy
}

// Option is a SnapshotStore option.
type Option func(*SnapshotStore)

// Addr returns an Option that sets the address of the Redis server. Defaults
// to the environment variable "REDIS_ADDR". Addr is ignored if a Client is
// provided.
func Addr(addr string) Option {
	return func(s *SnapshotStore) {
		s.addr = addr
	}
}

// Client returns an Option that specifies the underlying redis client.
func Client(c redis.UniversalClient) Option {
	return func(s *SnapshotStore) {
		s.client = c
	}
}

// KeyPrefix returns an Option that prefixes all keys. Defaults to "mnemo:".
func KeyPrefix(prefix string) Option {
	return func(s *SnapshotStore) {
		s.prefix = prefix
	}
}

// WithSnapshotPolicy returns an Option that sets the SnapshotPolicy of the
// store. Defaults to repository.Overwrite.
func WithSnapshotPolicy(p repository.SnapshotPolicy) Option {
	return func(s *SnapshotStore) {
		s.policy = p
	}
}

// NewSnapshotStore returns a SnapshotStore that encodes snapshots with c.
func NewSnapshotStore(c *codec.Codec, opts ...Option) *SnapshotStore {
	s := &SnapshotStore{codec: c, prefix: "mnemo:"}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		if s.addr == "" {
			s.addr = os.Getenv("REDIS_ADDR")
		}
		s.client = redis.NewClient(&redis.Options{Addr: s.addr})
	}
	return s
}

// Close closes the underlying client.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}

func (s *SnapshotStore) key(id uuid.UUID) string {
	return s.prefix + "snapshots:" + id.String()
}

// GetSnapshot returns the latest snapshot of the aggregate at or before
// maxVersion.
func (s *SnapshotStore) GetSnapshot(ctx context.Context, id uuid.UUID, maxVersion int) (repository.SnapshotFrame, error) {
	upper := "+inf"
	if maxVersion != repository.Latest {
		upper = strconv.Itoa(maxVersion)
	}

	members, err := s.client.ZRevRangeByScore(ctx, s.key(id), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   upper,
		Count: 1,
	}).Result()
	if err != nil {
		return repository.SnapshotFrame{}, fmt.Errorf("redis: %w", err)
	}

	if len(members) == 0 {
		return repository.SnapshotFrame{}, fmt.Errorf("snapshot of %s: %w", id, repository.ErrNotFound)
	}

	rec, err := codec.UnmarshalRecord([]byte(members[0]))
	if err != nil {
		return repository.SnapshotFrame{}, err
	}

	typ, err := s.codec.AggregateType(rec)
	if err != nil {
		return repository.SnapshotFrame{}, fmt.Errorf("aggregate type: %w", err)
	}

	snap, err := s.codec.Snapshot(rec)
	if err != nil {
		return repository.SnapshotFrame{}, err
	}

	return repository.SnapshotFrame{Type: typ, AggregateID: id, Snapshot: snap}, nil
}

// SaveSnapshot stores the snapshot of frame according to the SnapshotPolicy
// of the store.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, frame repository.SnapshotFrame) error {
	rec, err := s.codec.SnapshotRecord(frame.Type, frame.Snapshot)
	if err != nil {
		return err
	}

	b, err := codec.MarshalRecord(rec)
	if err != nil {
		return err
	}

	key := s.key(frame.AggregateID)
	score := strconv.Itoa(rec.Version)
	member := redis.Z{Score: float64(rec.Version), Member: string(b)}

	save := func(tx *redis.Tx) error {
		if s.policy == repository.RejectResave {
			n, err := tx.ZCount(ctx, key, score, score).Result()
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			if n > 0 {
				return fmt.Errorf("snapshot of %s at version %d: %w", frame.AggregateID, rec.Version, repository.ErrSnapshotExists)
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, key, score, score)
			pipe.ZAdd(ctx, key, member)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchAttempts; i++ {
		err := s.client.Watch(ctx, save, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}

	return fmt.Errorf("save snapshot of %s: %w", frame.AggregateID, redis.TxFailedErr)
}
