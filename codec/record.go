package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/event"
)

// Record is the storage form of an event or snapshot. Records are used by
// backends that store whole documents, and as the wire format of published
// events.
type Record struct {
	ID            uuid.UUID `json:"id"`
	AggregateID   uuid.UUID `json:"aggregateId"`
	AggregateType string    `json:"aggregateType"`
	Version       int       `json:"version"`
	Time          int64     `json:"time"`
	DataType      string    `json:"dataType"`
	Data          []byte    `json:"data"`
}

// EventRecord returns the Record of evt, which belongs to an aggregate of
// type aggregateType.
func (c *Codec) EventRecord(aggregateType reflect.Type, evt event.Event) (Record, error) {
	return c.record(aggregateType, evt.ID(), evt.AggregateID(), evt.Version(), evt.Time(), evt.Data())
}

// SnapshotRecord returns the Record of snap, which belongs to an aggregate of
// type aggregateType.
func (c *Codec) SnapshotRecord(aggregateType reflect.Type, snap snapshot.Snapshot) (Record, error) {
	return c.record(aggregateType, snap.ID(), snap.AggregateID(), snap.Version(), snap.Time(), snap.Data())
}

func (c *Codec) record(aggregateType reflect.Type, id, aggregateID uuid.UUID, v int, t time.Time, data any) (Record, error) {
	typeName, err := c.TypeName(aggregateType)
	if err != nil {
		return Record{}, fmt.Errorf("aggregate type: %w", err)
	}

	dataType, b, err := c.Encode(data)
	if err != nil {
		return Record{}, err
	}

	return Record{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: typeName,
		Version:       v,
		Time:          t.UnixNano(),
		DataType:      dataType,
		Data:          b,
	}, nil
}

// Event decodes the event of r.
func (c *Codec) Event(r Record) (event.Event, error) {
	data, err := c.Decode(r.DataType, r.Data)
	if err != nil {
		return event.Event{}, fmt.Errorf("event %s: %w", r.ID, err)
	}
	return event.New(r.AggregateID, r.Version, data, event.ID(r.ID), event.Time(time.Unix(0, r.Time))), nil
}

// Snapshot decodes the snapshot of r.
func (c *Codec) Snapshot(r Record) (snapshot.Snapshot, error) {
	data, err := c.Decode(r.DataType, r.Data)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("snapshot %s: %w", r.ID, err)
	}
	return snapshot.New(r.AggregateID, r.Version, data, snapshot.ID(r.ID), snapshot.Time(time.Unix(0, r.Time))), nil
}

// AggregateType resolves the aggregate type of r.
func (c *Codec) AggregateType(r Record) (reflect.Type, error) {
	return c.Resolve(r.AggregateType)
}

// MarshalRecord encodes r as JSON.
func MarshalRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord decodes a JSON-encoded Record.
func UnmarshalRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}
