// Package event provides the immutable facts that are recorded against an
// aggregate.
package event

import (
	"context"
	"reflect"
	stdtime "time"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/internal"
	"github.com/modernice/mnemo/internal/slice"
	"github.com/modernice/mnemo/internal/xtime"
)

// Data is the payload of an Event. Aggregates dispatch events to their apply
// handlers by the runtime type of the Data.
type Data any

// An Event is an immutable fact that happened to an aggregate. Events are
// values; WithVersion returns a re-versioned copy.
//
//	evt := event.New(accountID, 3, bank.Deposited{Amount: 100})
type Event struct {
	id          uuid.UUID
	aggregateID uuid.UUID
	version     int
	time        stdtime.Time
	data        Data
}

// Option is an Event option.
type Option func(*Event)

// ID returns an Option that overrides the generated UUID of an Event.
func ID(id uuid.UUID) Option {
	return func(evt *Event) {
		evt.id = id
	}
}

// Time returns an Option that overrides the recording time of an Event. The
// time is converted to UTC.
func Time(t stdtime.Time) Option {
	return func(evt *Event) {
		evt.time = t.UTC()
	}
}

// New returns an Event of the aggregate with the given id at version v. A UUID
// is generated for the Event and its time is set to xtime.Now().
func New(aggregateID uuid.UUID, v int, data Data, opts ...Option) Event {
	evt := Event{
		id:          internal.NewUUID(),
		aggregateID: aggregateID,
		version:     v,
		time:        xtime.Now(),
		data:        data,
	}
	for _, opt := range opts {
		opt(&evt)
	}
	return evt
}

// ID returns the unique id of the Event.
func (evt Event) ID() uuid.UUID {
	return evt.id
}

// AggregateID returns the id of the aggregate the Event belongs to.
func (evt Event) AggregateID() uuid.UUID {
	return evt.aggregateID
}

// Version returns the aggregate version the Event produces.
func (evt Event) Version() int {
	return evt.version
}

// Time returns the UTC time at which the Event was recorded.
func (evt Event) Time() stdtime.Time {
	return evt.time
}

// Data returns the payload of the Event.
func (evt Event) Data() Data {
	return evt.data
}

// DataType returns the runtime type of the payload.
func (evt Event) DataType() reflect.Type {
	return reflect.TypeOf(evt.data)
}

// IsZero reports whether evt is the zero Event.
func (evt Event) IsZero() bool {
	return evt.id == uuid.Nil && evt.version == 0 && evt.data == nil
}

// WithVersion returns a copy of evt with the given version. The aggregate
// repository uses WithVersion to re-version unsaved events after a false
// concurrency conflict.
func (evt Event) WithVersion(v int) Event {
	evt.version = v
	return evt
}

// Equal reports whether a and b are the same Event. Times are compared with
// time.Time.Equal and payloads with reflect.DeepEqual.
func Equal(a, b Event) bool {
	return a.id == b.id &&
		a.aggregateID == b.aggregateID &&
		a.version == b.version &&
		a.time.Equal(b.time) &&
		reflect.DeepEqual(a.data, b.data)
}

// Versions returns the versions of the given events.
func Versions(events []Event) []int {
	return slice.Map(events, Event.Version)
}

// Handler is the read-side collaborator that builds read models from
// persisted events. Handlers receive events in version order per aggregate.
type Handler interface {
	HandleEvents(ctx context.Context, events ...Event) error
}

// HandlerFunc allows a function to be used as a Handler.
type HandlerFunc func(context.Context, ...Event) error

// HandleEvents returns fn(ctx, events...).
func (fn HandlerFunc) HandleEvents(ctx context.Context, events ...Event) error {
	return fn(ctx, events...)
}
