// Package backend provides helpers shared by the storage backends of the
// aggregate repository.
package backend

import (
	"github.com/modernice/mnemo/aggregate/repository"
)

type composed struct {
	repository.EventStore
	repository.SnapshotStore
}

// Compose returns a repository.Backend that stores events in events and
// snapshots in snapshots.
//
//	b := backend.Compose(postgresStore, redisSnapshots)
func Compose(events repository.EventStore, snapshots repository.SnapshotStore) repository.Backend {
	return composed{
		EventStore:    events,
		SnapshotStore: snapshots,
	}
}
