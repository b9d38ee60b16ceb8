package codec_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/codec"
	"github.com/modernice/mnemo/event"
	"github.com/modernice/mnemo/internal/bank"
	"github.com/modernice/mnemo/logical"
)

type upper string

func (u upper) MarshalText() ([]byte, error) { return []byte("<" + string(u) + ">"), nil }

func (u *upper) UnmarshalText(b []byte) error {
	*u = upper(b[1 : len(b)-1])
	return nil
}

func newRegistry(t *testing.T) *logical.Registry {
	t.Helper()
	reg := bank.NewRegistry()
	if err := reg.AddMapping(logical.MustParse("test:Upper"), reflect.TypeOf(upper(""))); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestCodec_roundTrip(t *testing.T) {
	for _, format := range []codec.Format{codec.JSON, codec.Gob} {
		t.Run(format.String(), func(t *testing.T) {
			c := codec.New(newRegistry(t), codec.WithFormat(format))

			name, b, err := c.Encode(bank.Deposited{Amount: 42})
			if err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}
			if name != "bank:Deposited:v1" {
				t.Fatalf("Encode() should tag the payload with %q; got %q", "bank:Deposited:v1", name)
			}

			data, err := c.Decode(name, b)
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if diff := cmp.Diff(bank.Deposited{Amount: 42}, data); diff != "" {
				t.Fatalf("decoded payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCodec_customMarshaler(t *testing.T) {
	c := codec.New(newRegistry(t))

	name, b, err := c.Encode(upper("foo"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "<foo>" {
		t.Fatalf("Encode() should use MarshalText; got %q", b)
	}

	data, err := c.Decode(name, b)
	if err != nil {
		t.Fatal(err)
	}
	if data != upper("foo") {
		t.Fatalf("Decode() should use UnmarshalText; got %v", data)
	}
}

func TestCodec_mapstructure(t *testing.T) {
	c := codec.New(newRegistry(t), codec.UseMapstructure(true))

	data, err := c.Decode("bank:Deposited:v1", []byte(`{"Amount": "17"}`))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if diff := cmp.Diff(bank.Deposited{Amount: 17}, data); diff != "" {
		t.Fatalf("decoded payload mismatch (-want +got):\n%s", diff)
	}

	if _, err := codec.New(newRegistry(t)).Decode("bank:Deposited:v1", []byte(`{"Amount": "17"}`)); err == nil {
		t.Fatalf("plain JSON decoding should reject a string amount")
	}
}

func TestCodec_unregistered(t *testing.T) {
	c := codec.New(newRegistry(t))

	if _, _, err := c.Encode(struct{}{}); !errors.Is(err, codec.ErrUnregistered) {
		t.Errorf("Encode() of an unregistered type should fail with %q; got %v", codec.ErrUnregistered, err)
	}
	if _, err := c.Decode("bank:Unknown", nil); !errors.Is(err, codec.ErrUnregistered) {
		t.Errorf("Decode() of an unknown type should fail with %q; got %v", codec.ErrUnregistered, err)
	}
	if _, err := c.Decode("not a type", nil); !errors.Is(err, logical.ErrMalformed) {
		t.Errorf("Decode() of a malformed type should fail with %q; got %v", logical.ErrMalformed, err)
	}
}

func TestCodec_records(t *testing.T) {
	c := codec.New(newRegistry(t))
	typ := reflect.TypeOf(&bank.Account{})
	id := uuid.New()

	evt := event.New(id, 3, bank.Withdrawn{Amount: 5})
	rec, err := c.EventRecord(typ, evt)
	if err != nil {
		t.Fatalf("EventRecord() failed: %v", err)
	}
	if rec.AggregateType != "bank:Account:v1" {
		t.Errorf("record should carry the aggregate type; got %q", rec.AggregateType)
	}

	b, err := codec.MarshalRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := codec.UnmarshalRecord(b)
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Event(decoded)
	if err != nil {
		t.Fatalf("Event() failed: %v", err)
	}
	if !event.Equal(evt, got) {
		t.Errorf("decoded event mismatch: want %v got %v", evt, got)
	}

	gotType, err := c.AggregateType(decoded)
	if err != nil || gotType != typ {
		t.Errorf("AggregateType() should return %v; got %v (%v)", typ, gotType, err)
	}

	snap := snapshot.New(id, 3, bank.AccountState{Owner: "bob", Balance: 5})
	srec, err := c.SnapshotRecord(typ, snap)
	if err != nil {
		t.Fatal(err)
	}
	gotSnap, err := c.Snapshot(srec)
	if err != nil {
		t.Fatal(err)
	}
	if !snapshot.Equal(snap, gotSnap) {
		t.Errorf("decoded snapshot mismatch: want %v got %v", snap, gotSnap)
	}
}
