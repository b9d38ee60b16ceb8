// Package snapshot provides point-in-time captures of aggregate state.
package snapshot

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/internal"
	"github.com/modernice/mnemo/internal/xtime"
)

// ErrIncomparable is returned by Compare for snapshots of different data
// types or different aggregates.
var ErrIncomparable = errors.New("incomparable snapshots")

// Snapshot is an immutable capture of the state of an aggregate at a specific
// version. The state is carried as Data and dispatched to the snapshot
// handlers of the aggregate by its runtime type.
type Snapshot struct {
	id          uuid.UUID
	aggregateID uuid.UUID
	version     int
	time        time.Time
	data        any
}

// Option is a Snapshot option.
type Option func(*Snapshot)

// ID returns an Option that overrides the generated UUID of a Snapshot.
func ID(id uuid.UUID) Option {
	return func(s *Snapshot) {
		s.id = id
	}
}

// Time returns an Option that sets the Time of a Snapshot.
func Time(t time.Time) Option {
	return func(s *Snapshot) {
		s.time = t.UTC()
	}
}

// New returns a Snapshot of the aggregate with the given id at version v.
func New(aggregateID uuid.UUID, v int, data any, opts ...Option) Snapshot {
	snap := Snapshot{
		id:          internal.NewUUID(),
		aggregateID: aggregateID,
		version:     v,
		time:        xtime.Now(),
		data:        data,
	}
	for _, opt := range opts {
		opt(&snap)
	}
	return snap
}

// ID returns the id of the Snapshot.
func (s Snapshot) ID() uuid.UUID { return s.id }

// AggregateID returns the id of the snapshotted aggregate.
func (s Snapshot) AggregateID() uuid.UUID { return s.aggregateID }

// Version returns the aggregate version the Snapshot represents.
func (s Snapshot) Version() int { return s.version }

// Time returns the UTC time the Snapshot was taken.
func (s Snapshot) Time() time.Time { return s.time }

// Data returns the captured state.
func (s Snapshot) Data() any { return s.data }

// DataType returns the runtime type of the captured state.
func (s Snapshot) DataType() reflect.Type { return reflect.TypeOf(s.data) }

// IsZero reports whether s is the zero Snapshot.
func (s Snapshot) IsZero() bool {
	return s.id == uuid.Nil && s.version == 0 && s.data == nil
}

// Compare orders two snapshots of the same aggregate and data type by
// version. It returns -1, 0 or 1 and fails with ErrIncomparable for
// snapshots of different data types or aggregates.
func (s Snapshot) Compare(other Snapshot) (int, error) {
	if s.DataType() != other.DataType() {
		return 0, fmt.Errorf("%w: data types %v and %v", ErrIncomparable, s.DataType(), other.DataType())
	}
	if s.aggregateID != other.aggregateID {
		return 0, fmt.Errorf("%w: aggregates %s and %s", ErrIncomparable, s.aggregateID, other.aggregateID)
	}
	switch {
	case s.version < other.version:
		return -1, nil
	case s.version > other.version:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal reports whether a and b are the same Snapshot.
func Equal(a, b Snapshot) bool {
	return a.id == b.id &&
		a.aggregateID == b.aggregateID &&
		a.version == b.version &&
		a.time.Equal(b.time) &&
		reflect.DeepEqual(a.data, b.data)
}
