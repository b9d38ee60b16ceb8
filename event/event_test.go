package event_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/event"
)

type fooData struct{ A string }

func TestNew(t *testing.T) {
	aggregateID := uuid.New()
	evt := event.New(aggregateID, 3, fooData{A: "foo"})

	if evt.ID() == uuid.Nil {
		t.Errorf("ID() should return a generated UUID")
	}
	if evt.AggregateID() != aggregateID {
		t.Errorf("AggregateID() should return %s; got %s", aggregateID, evt.AggregateID())
	}
	if evt.Version() != 3 {
		t.Errorf("Version() should return %d; got %d", 3, evt.Version())
	}
	if evt.Time().Location() != time.UTC {
		t.Errorf("Time() should be UTC; got %v", evt.Time().Location())
	}
	if evt.Data() != (fooData{A: "foo"}) {
		t.Errorf("Data() should return %v; got %v", fooData{A: "foo"}, evt.Data())
	}
}

func TestNew_options(t *testing.T) {
	id := uuid.New()
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, loc)

	evt := event.New(uuid.New(), 1, fooData{}, event.ID(id), event.Time(now))

	if evt.ID() != id {
		t.Errorf("ID() should return %s; got %s", id, evt.ID())
	}
	if !evt.Time().Equal(now) {
		t.Errorf("Time() should return %v; got %v", now, evt.Time())
	}
	if evt.Time().Location() != time.UTC {
		t.Errorf("Time() should be converted to UTC; got %v", evt.Time().Location())
	}
}

func TestEvent_WithVersion(t *testing.T) {
	evt := event.New(uuid.New(), 1, fooData{A: "foo"})
	moved := evt.WithVersion(5)

	if evt.Version() != 1 {
		t.Fatalf("WithVersion should not modify the original event; got version %d", evt.Version())
	}
	if moved.Version() != 5 {
		t.Fatalf("WithVersion should return an event with version %d; got %d", 5, moved.Version())
	}
	if moved.ID() != evt.ID() || moved.AggregateID() != evt.AggregateID() || !moved.Time().Equal(evt.Time()) {
		t.Fatalf("WithVersion should only change the version")
	}
}

func TestEqual(t *testing.T) {
	evt := event.New(uuid.New(), 1, fooData{A: "foo"})
	if !event.Equal(evt, evt) {
		t.Fatalf("an event should equal itself")
	}
	if event.Equal(evt, evt.WithVersion(2)) {
		t.Fatalf("events with different versions should not be equal")
	}
}
