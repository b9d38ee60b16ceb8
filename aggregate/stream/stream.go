// Package stream provides the in-memory, append-only event stream of an
// aggregate.
package stream

import (
	"errors"
	"fmt"

	"github.com/modernice/mnemo/event"
)

// ErrIntegrity is returned when an event would break the gap-free version
// order of a Stream.
var ErrIntegrity = errors.New("stream integrity violation")

// IntegrityError is returned by Stream.Append for out-of-order events.
type IntegrityError struct {
	// Want is the version the event should have had. Want is 0 if any positive
	// version would have been accepted.
	Want int
	// Event is the rejected event.
	Event event.Event
}

func (err *IntegrityError) Error() string {
	if err.Want == 0 {
		return fmt.Sprintf("%v: event %s has version %d, want >= 1", ErrIntegrity, err.Event.ID(), err.Event.Version())
	}
	return fmt.Sprintf("%v: event %s has version %d, want %d", ErrIntegrity, err.Event.ID(), err.Event.Version(), err.Want)
}

// Unwrap returns ErrIntegrity.
func (err *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// Stream is the ordered event sequence of a single aggregate, partitioned
// into committed (persisted) and uncommitted events. The zero Stream is empty
// and ready to use. A Stream is not safe for concurrent use.
type Stream struct {
	events    []event.Event
	start     int
	committed int
}

// Append appends evt to the stream. The version of evt must be exactly one
// greater than the version of the last event. The first event of an empty
// stream may have any positive version; it becomes the start version of the
// stream. On failure the stream is left unchanged.
func (s *Stream) Append(evt event.Event) error {
	if err := s.Check(evt); err != nil {
		return err
	}
	if len(s.events) == 0 {
		s.start = evt.Version()
	}
	s.events = append(s.events, evt)
	return nil
}

// Check returns the error Append would return for evt without appending it.
func (s *Stream) Check(evt event.Event) error {
	if len(s.events) == 0 {
		if evt.Version() < 1 {
			return &IntegrityError{Event: evt}
		}
		return nil
	}
	if want := s.Version() + 1; evt.Version() != want {
		return &IntegrityError{Want: want, Event: evt}
	}
	return nil
}

// Commit marks all appended events as committed.
func (s *Stream) Commit() {
	s.committed = len(s.events)
}

// CommitUpTo sets the commit boundary so that exactly the events with a
// version less than or equal to v are committed.
func (s *Stream) CommitUpTo(v int) {
	if len(s.events) == 0 {
		return
	}
	s.committed = max(0, min(len(s.events), v-s.start+1))
}

// Reset empties the stream.
func (s *Stream) Reset() {
	s.events = nil
	s.start = 0
	s.committed = 0
}

// Events returns all events of the stream.
func (s *Stream) Events() []event.Event {
	return clone(s.events)
}

// Committed returns the committed events.
func (s *Stream) Committed() []event.Event {
	return clone(s.events[:s.committed])
}

// Uncommitted returns the events that were appended after the last commit.
func (s *Stream) Uncommitted() []event.Event {
	return clone(s.events[s.committed:])
}

// HasUncommitted reports whether the stream has uncommitted events.
func (s *Stream) HasUncommitted() bool {
	return s.committed < len(s.events)
}

// Len returns the number of events in the stream.
func (s *Stream) Len() int {
	return len(s.events)
}

// Version returns the version of the last event, or 0 if the stream is empty.
func (s *Stream) Version() int {
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].Version()
}

// CommittedVersion returns the version of the last committed event, or 0 if
// no event is committed.
func (s *Stream) CommittedVersion() int {
	if s.committed == 0 {
		return 0
	}
	return s.events[s.committed-1].Version()
}

// StartVersion returns the version of the first event, or 0 if the stream is
// empty.
func (s *Stream) StartVersion() int {
	return s.start
}

// IsTruncated reports whether the stream does not begin at version 1, which
// implies that a snapshot precedes it.
func (s *Stream) IsTruncated() bool {
	return s.start > 1
}

func clone(events []event.Event) []event.Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]event.Event, len(events))
	copy(out, events)
	return out
}
