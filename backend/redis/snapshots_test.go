//go:build redis

package redis_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/backend"
	"github.com/modernice/mnemo/backend/backendtest"
	"github.com/modernice/mnemo/backend/memory"
	"github.com/modernice/mnemo/backend/redis"
	"github.com/modernice/mnemo/codec"
)

func TestSnapshotStore(t *testing.T) {
	backendtest.Run(t, "redis", func(t *testing.T, c *codec.Codec, policy repository.SnapshotPolicy) repository.Backend {
		snapshots := redis.NewSnapshotStore(c,
			redis.KeyPrefix("mnemo-test:"+uuid.NewString()+":"),
			redis.WithSnapshotPolicy(policy),
		)
		t.Cleanup(func() {
			if err := snapshots.Close(); err != nil {
				t.Errorf("Close() failed: %v", err)
			}
		})
		return backend.Compose(memory.New(), snapshots)
	})
}
