//go:build mongo

package mongo_test

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/backend/backendtest"
	"github.com/modernice/mnemo/backend/mongo"
	"github.com/modernice/mnemo/codec"
	"github.com/modernice/mnemo/event"
	"github.com/modernice/mnemo/internal/bank"
	"go.mongodb.org/mongo-driver/bson"
)

func TestBackend(t *testing.T) {
	backendtest.Run(t, "mongo", func(t *testing.T, c *codec.Codec, policy repository.SnapshotPolicy) repository.Backend {
		return newBackend(t, c, policy)
	})
}

func TestBackend_transactions(t *testing.T) {
	backendtest.Run(t, "mongo-tx", func(t *testing.T, c *codec.Codec, policy repository.SnapshotPolicy) repository.Backend {
		return newBackend(t, c, policy, mongo.Transactions(true))
	})
}

func TestBackend_SaveEvents_rollback(t *testing.T) {
	ctx := context.Background()
	c := backendtest.NewCodec()
	db := newDatabaseName()
	b := newBackend(t, c, repository.Overwrite, mongo.Database(db))
	id := uuid.New()

	opened := event.New(id, 1, bank.Opened{Owner: "bob"})
	if err := b.SaveEvents(ctx, accountFrame(id, repository.NoStream, opened)); err != nil {
		t.Fatalf("SaveEvents() failed: %v", err)
	}

	// An event stored outside of SaveEvents occupies version 3.
	client, err := b.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	events := client.Database(db).Collection("events")
	if _, err := events.InsertOne(ctx, bson.D{
		{Key: "id", Value: uuid.NewString()},
		{Key: "aggregateId", Value: id.String()},
		{Key: "version", Value: 3},
	}); err != nil {
		t.Fatal(err)
	}

	attempted := []event.Event{
		event.New(id, 2, bank.Deposited{Amount: 10}),
		event.New(id, 3, bank.Deposited{Amount: 20}),
	}
	err = b.SaveEvents(ctx, accountFrame(id, 1, attempted...))
	if err == nil || aggregate.IsConcurrencyError(err) {
		t.Fatalf("SaveEvents() should fail with the insert error; got %v", err)
	}

	if _, err := events.DeleteMany(ctx, bson.D{{Key: "aggregateId", Value: id.String()}, {Key: "version", Value: 3}}); err != nil {
		t.Fatal(err)
	}

	frame, err := b.GetEvents(ctx, id, 1, repository.Latest)
	if err != nil {
		t.Fatalf("GetEvents() failed: %v", err)
	}
	backendtest.AssertEqualEvents(t, []event.Event{opened}, frame.Events)

	if err := b.SaveEvents(ctx, accountFrame(id, 1, attempted...)); err != nil {
		t.Fatalf("SaveEvents() should succeed at the rolled back version; got %v", err)
	}
}

func accountFrame(id uuid.UUID, expected int, events ...event.Event) repository.EventFrame {
	return repository.EventFrame{
		Type:            reflect.TypeOf(&bank.Account{}),
		AggregateID:     id,
		ExpectedVersion: expected,
		Events:          events,
	}
}

func newDatabaseName() string {
	return fmt.Sprintf("mnemo_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func newBackend(t *testing.T, c *codec.Codec, policy repository.SnapshotPolicy, opts ...mongo.Option) *mongo.Backend {
	b := mongo.New(c, append([]mongo.Option{
		mongo.Database(newDatabaseName()),
		mongo.WithSnapshotPolicy(policy),
	}, opts...)...)

	t.Cleanup(func() {
		if err := b.Disconnect(context.Background()); err != nil {
			t.Errorf("Disconnect() failed: %v", err)
		}
	})

	return b
}
