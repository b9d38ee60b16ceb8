package nats

import (
	"testing"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/backend/backendtest"
	"github.com/nats-io/nats.go"
)

func TestBus_natsURL(t *testing.T) {
	t.Setenv("NATS_URL", "")

	bus := New(backendtest.NewCodec())
	if url := bus.natsURL(); url != nats.DefaultURL {
		t.Fatalf("natsURL() should return %q; got %q", nats.DefaultURL, url)
	}

	want := "foo://bar:123"
	t.Setenv("NATS_URL", want)

	bus = New(backendtest.NewCodec())
	if url := bus.natsURL(); url != want {
		t.Fatalf("natsURL() should return %q; got %q", want, url)
	}

	bus = New(backendtest.NewCodec(), URL("nats://explicit:4222"))
	if url := bus.natsURL(); url != "nats://explicit:4222" {
		t.Fatalf("natsURL() should prefer the URL option; got %q", url)
	}
}

func TestBus_subject(t *testing.T) {
	id := uuid.New()

	bus := New(backendtest.NewCodec())
	if got, want := bus.subject(id), "mnemo.events."+id.String(); got != want {
		t.Errorf("subject() should return %q; got %q", want, got)
	}

	bus = New(backendtest.NewCodec(), SubjectPrefix("bank."))
	if got, want := bus.subject(id), "bank."+id.String(); got != want {
		t.Errorf("subject() should return %q; got %q", want, got)
	}
}
