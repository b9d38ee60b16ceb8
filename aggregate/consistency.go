package aggregate

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/event"
)

const (
	// InconsistentID is a ConsistencyKind indicating that an event belongs to
	// another aggregate.
	InconsistentID = ConsistencyKind(iota + 1)

	// InconsistentVersion indicates that an event does not directly follow
	// the current version of the aggregate or its preceding event.
	InconsistentVersion

	// InconsistentTime indicates that an event was recorded before its
	// preceding event.
	InconsistentTime
)

// ConsistencyKind is the kind of inconsistency found in the events of an
// aggregate.
type ConsistencyKind int

// ConsistencyError is returned when events cannot be applied to or stored for
// an aggregate because they are inconsistent with it.
type ConsistencyError struct {
	Kind           ConsistencyKind
	AggregateID    uuid.UUID
	CurrentVersion int
	Events         []event.Event
	EventIndex     int
}

// IsConsistencyError reports whether err is or wraps a *ConsistencyError.
func IsConsistencyError(err error) bool {
	var cerr *ConsistencyError
	return errors.As(err, &cerr)
}

// ConsistencyOption is an option for ValidateConsistency.
type ConsistencyOption func(*consistencyValidation)

// IgnoreTime returns a ConsistencyOption that disables the time ordering
// check.
func IgnoreTime(ignore bool) ConsistencyOption {
	return func(cfg *consistencyValidation) {
		cfg.ignoreTime = ignore
	}
}

type consistencyValidation struct {
	ignoreTime bool
}

// ValidateConsistency checks that events can be appended to the aggregate
// with the given id at currentVersion: every event must belong to the
// aggregate, the versions must continue currentVersion without gaps, and the
// times must be strictly increasing.
func ValidateConsistency(id uuid.UUID, currentVersion int, events []event.Event, opts ...ConsistencyOption) error {
	var cfg consistencyValidation
	for _, opt := range opts {
		opt(&cfg)
	}

	for i, evt := range events {
		fail := func(kind ConsistencyKind) error {
			return &ConsistencyError{
				Kind:           kind,
				AggregateID:    id,
				CurrentVersion: currentVersion,
				Events:         events,
				EventIndex:     i,
			}
		}

		if evt.AggregateID() != id {
			return fail(InconsistentID)
		}
		if evt.Version() != currentVersion+i+1 {
			return fail(InconsistentVersion)
		}
		if i > 0 && !cfg.ignoreTime && !evt.Time().After(events[i-1].Time()) {
			return fail(InconsistentTime)
		}
	}

	return nil
}

// Event returns the event that caused the error, or the zero Event if
// EventIndex is out of range.
func (err *ConsistencyError) Event() event.Event {
	if err.EventIndex < 0 || err.EventIndex >= len(err.Events) {
		return event.Event{}
	}
	return err.Events[err.EventIndex]
}

func (err *ConsistencyError) Error() string {
	evt := err.Event()

	switch err.Kind {
	case InconsistentID:
		return fmt.Sprintf(
			"consistency: %T event has invalid AggregateID. want=%s got=%s",
			evt.Data(), err.AggregateID, evt.AggregateID(),
		)
	case InconsistentVersion:
		return fmt.Sprintf(
			"consistency: %T event has invalid version. want=%d got=%d",
			evt.Data(), err.CurrentVersion+err.EventIndex+1, evt.Version(),
		)
	case InconsistentTime:
		return fmt.Sprintf(
			"consistency: %T event has invalid Time. want=after %v got=%v",
			evt.Data(), err.Events[err.EventIndex-1].Time(), evt.Time(),
		)
	default:
		return fmt.Sprintf("consistency: invalid inconsistency kind=%d", err.Kind)
	}
}

func (k ConsistencyKind) String() string {
	switch k {
	case InconsistentID:
		return "<InconsistentID>"
	case InconsistentVersion:
		return "<InconsistentVersion>"
	case InconsistentTime:
		return "<InconsistentTime>"
	default:
		return "<UnknownInconsistency>"
	}
}
