package aggregate

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotInitialized is returned when events are applied to an aggregate
	// that was neither created with Init nor rehydrated with Initialize.
	ErrNotInitialized = errors.New("aggregate not initialized")

	// ErrAlreadyInitialized is returned when an aggregate is initialized a
	// second time.
	ErrAlreadyInitialized = errors.New("aggregate already initialized")

	// ErrInvalidVersion is returned when an event with a version < 1 is
	// applied to an aggregate.
	ErrInvalidVersion = errors.New("invalid event version")

	// ErrUnsupportedSnapshot is returned when a snapshot is requested from an
	// aggregate whose type does not take snapshots.
	ErrUnsupportedSnapshot = errors.New("aggregate does not support snapshots")

	// ErrInvalidType is returned when an aggregate cannot be allocated from a
	// runtime type.
	ErrInvalidType = errors.New("invalid aggregate type")

	// ErrTypeMismatch is returned when a Memento is used to initialize an
	// aggregate of another type.
	ErrTypeMismatch = errors.New("aggregate type mismatch")
)

// ConcurrencyError is returned by event stores when the optimistic version
// check of an append fails: another writer appended events to the aggregate
// since it was loaded.
type ConcurrencyError struct {
	AggregateID uuid.UUID

	// Expected is the version the writer expected the stored aggregate to
	// have.
	Expected int

	// Actual is the version of the stored aggregate at the time of the check.
	Actual int
}

func (err *ConcurrencyError) Error() string {
	return fmt.Sprintf(
		"concurrency conflict: aggregate %s has version %d, expected %d",
		err.AggregateID, err.Actual, err.Expected,
	)
}

// IsConcurrencyError reports whether err is or wraps a *ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var cerr *ConcurrencyError
	return errors.As(err, &cerr)
}
