// Package mongo provides a MongoDB repository.Backend.
//
// The current version of every aggregate is kept in a states collection.
// Saving events inserts the state document of a new aggregate, or updates it
// with a filter on the expected version, before the events are inserted. A
// write that matches no document is a concurrency conflict. If the event
// insert fails, the state update is rolled back. Enable Transactions on
// replica sets to make the state update and the event insert atomic.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/codec"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver"
)

var _ repository.Backend = (*Backend)(nil)

// Backend is a MongoDB repository.Backend.
type Backend struct {
	codec        *codec.Codec
	url          string
	dbname       string
	transactions bool
	policy       repository.SnapshotPolicy

	client    *mongo.Client
	db        *mongo.Database
	states    *mongo.Collection
	events    *mongo.Collection
	snapshots *mongo.Collection

	onceConnect sync.Once
	connectErr  error
}

type state struct {
	AggregateID   string `bson:"aggregateId"`
	AggregateType string `bson:"aggregateType"`
	Version       int    `bson:"version"`
}

type document struct {
	ID            string `bson:"id"`
	AggregateID   string `bson:"aggregateId"`
	AggregateType string `bson:"aggregateType,omitempty"`
	Version       int    `bson:"version"`
	TimeNano      int64  `bson:"timeNano"`
	DataType      string `bson:"dataType"`
	Data          []byte `bson:"data"`
}

// Option is a Backend option.
type Option func(*Backend)

// URL returns an Option that specifies the URL to the MongoDB instance.
// Defaults to the environment variable "MONGO_URL".
func URL(url string) Option {
	return func(b *Backend) {
		b.url = url
	}
}

// Client returns an Option that specifies the underlying mongo.Client to be
// used by the Backend.
func Client(c *mongo.Client) Option {
	return func(b *Backend) {
		b.client = c
	}
}

// Database returns an Option that sets the mongo database. Defaults to
// "mnemo".
func Database(name string) Option {
	return func(b *Backend) {
		b.dbname = name
	}
}

// Transactions returns an Option that, if tx is true, saves events in a
// MongoDB transaction. Transactions can only be used in replica sets or
// sharded clusters.
func Transactions(tx bool) Option {
	return func(b *Backend) {
		b.transactions = tx
	}
}

// WithSnapshotPolicy returns an Option that sets the SnapshotPolicy of the
// Backend. Defaults to repository.Overwrite.
func WithSnapshotPolicy(p repository.SnapshotPolicy) Option {
	return func(b *Backend) {
		b.policy = p
	}
}

// New returns a MongoDB backend that encodes payloads with c.
func New(c *codec.Codec, opts ...Option) *Backend {
	b := &Backend{codec: c}
	for _, opt := range opts {
		opt(b)
	}
	if strings.TrimSpace(b.dbname) == "" {
		b.dbname = "mnemo"
	}
	return b
}

// Client returns the underlying mongo.Client, or nil until the Backend is
// connected.
func (b *Backend) Client() *mongo.Client {
	return b.client
}

// Connect establishes the connection to MongoDB and creates the indexes.
// Connect is called automatically by every method of the Backend.
func (b *Backend) Connect(ctx context.Context, opts ...*options.ClientOptions) (*mongo.Client, error) {
	b.onceConnect.Do(func() {
		if b.connectErr = b.connect(ctx, opts...); b.connectErr != nil {
			return
		}
		if err := b.ensureIndexes(ctx); err != nil {
			b.connectErr = fmt.Errorf("ensure indexes: %w", err)
		}
	})
	return b.client, b.connectErr
}

// Disconnect disconnects the underlying mongo.Client.
func (b *Backend) Disconnect(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(ctx)
}

func (b *Backend) connect(ctx context.Context, opts ...*options.ClientOptions) error {
	if b.client == nil {
		uri := b.url
		if uri == "" {
			uri = os.Getenv("MONGO_URL")
		}
		opts = append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, opts...)

		client, err := mongo.Connect(ctx, opts...)
		if err != nil {
			return fmt.Errorf("mongo.Connect: %w", err)
		}
		b.client = client
	}

	b.db = b.client.Database(b.dbname)
	b.states = b.db.Collection("states")
	b.events = b.db.Collection("events")
	b.snapshots = b.db.Collection("snapshots")

	return nil
}

func (b *Backend) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		col   *mongo.Collection
		model mongo.IndexModel
	}{
		{
			col: b.states,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "aggregateId", Value: 1}},
				Options: options.Index().SetName("mnemo_state").SetUnique(true),
			},
		},
		{
			col: b.events,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "aggregateId", Value: 1}, {Key: "version", Value: 1}},
				Options: options.Index().SetName("mnemo_event_version").SetUnique(true),
			},
		},
		{
			col: b.snapshots,
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "aggregateId", Value: 1}, {Key: "version", Value: -1}},
				Options: options.Index().SetName("mnemo_snapshot_version").SetUnique(true),
			},
		},
	}

	for _, idx := range indexes {
		if _, err := idx.col.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("create %q index: %w", *idx.model.Options.Name, err)
		}
	}

	return nil
}

// GetEvents returns the events of the aggregate in [minVersion, maxVersion].
func (b *Backend) GetEvents(ctx context.Context, id uuid.UUID, minVersion, maxVersion int) (repository.EventFrame, error) {
	if _, err := b.Connect(ctx); err != nil {
		return repository.EventFrame{}, fmt.Errorf("connect: %w", err)
	}

	frame := repository.EventFrame{AggregateID: id}

	var st state
	if err := b.states.FindOne(ctx, bson.D{{Key: "aggregateId", Value: id.String()}}).Decode(&st); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return frame, nil
		}
		return frame, fmt.Errorf("decode state: %w", err)
	}

	typ, err := b.codec.Resolve(st.AggregateType)
	if err != nil {
		return frame, fmt.Errorf("aggregate type: %w", err)
	}
	frame.Type = typ

	cur, err := b.events.Find(ctx, bson.D{
		{Key: "aggregateId", Value: id.String()},
		{Key: "version", Value: bson.D{
			{Key: "$gte", Value: minVersion},
			{Key: "$lte", Value: maxVersion},
		}},
	}, options.Find().SetSort(bson.D{{Key: "version", Value: 1}}))
	if err != nil {
		return frame, fmt.Errorf("mongo: %w", err)
	}

	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return frame, fmt.Errorf("decode events: %w", err)
	}

	for _, doc := range docs {
		rec, err := doc.record()
		if err != nil {
			return frame, err
		}
		evt, err := b.codec.Event(rec)
		if err != nil {
			return frame, err
		}
		frame.Events = append(frame.Events, evt)
	}

	return frame, nil
}

// SaveEvents appends the events of frame if the stored version of the
// aggregate equals frame.ExpectedVersion.
func (b *Backend) SaveEvents(ctx context.Context, frame repository.EventFrame) error {
	if _, err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if len(frame.Events) == 0 {
		return nil
	}

	if err := aggregate.ValidateConsistency(frame.AggregateID, frame.ExpectedVersion, frame.Events); err != nil {
		return err
	}

	typeName, err := b.codec.TypeName(frame.Type)
	if err != nil {
		return fmt.Errorf("aggregate type: %w", err)
	}

	docs := make([]any, len(frame.Events))
	for i, evt := range frame.Events {
		rec, err := b.codec.EventRecord(frame.Type, evt)
		if err != nil {
			return err
		}
		docs[i] = newDocument(rec)
	}

	err = b.client.UseSession(ctx, func(ctx mongo.SessionContext) error {
		if b.transactions {
			if err := ctx.StartTransaction(); err != nil {
				return fmt.Errorf("start transaction: %w", err)
			}
		}

		abort := func(err error) error {
			if b.transactions {
				if abortErr := ctx.AbortTransaction(ctx); abortErr != nil {
					return fmt.Errorf("abort transaction: %w", abortErr)
				}
			}
			return err
		}

		swapped, err := b.swapVersion(ctx, typeName, frame)
		if err != nil {
			return abort(err)
		}

		if !swapped {
			actual, err := b.currentVersion(ctx, frame.AggregateID)
			if err != nil {
				return abort(err)
			}
			return abort(&aggregate.ConcurrencyError{
				AggregateID: frame.AggregateID,
				Expected:    frame.ExpectedVersion,
				Actual:      actual,
			})
		}

		if _, err := b.events.InsertMany(ctx, docs); err != nil {
			err = fmt.Errorf("insert events: %w", err)
			if !b.transactions {
				if rerr := b.rollback(ctx, frame); rerr != nil {
					return fmt.Errorf("%w (rollback: %v)", err, rerr)
				}
			}
			return abort(err)
		}

		if b.transactions {
			if err := ctx.CommitTransaction(ctx); err != nil {
				return fmt.Errorf("commit transaction: %w", err)
			}
		}

		return nil
	})

	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) && (serverErr.HasErrorLabel(driver.TransientTransactionError) ||
		serverErr.HasErrorLabel(driver.UnknownTransactionCommitResult)) {
		// A concurrent transaction wrote the same state document.
		actual, verr := b.currentVersion(ctx, frame.AggregateID)
		if verr != nil {
			return fmt.Errorf("%w (%v)", err, verr)
		}
		return &aggregate.ConcurrencyError{
			AggregateID: frame.AggregateID,
			Expected:    frame.ExpectedVersion,
			Actual:      actual,
		}
	}

	return err
}

func (b *Backend) swapVersion(ctx context.Context, typeName string, frame repository.EventFrame) (bool, error) {
	if frame.ExpectedVersion == repository.NoStream {
		_, err := b.states.InsertOne(ctx, state{
			AggregateID:   frame.AggregateID.String(),
			AggregateType: typeName,
			Version:       frame.Version(),
		})
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("insert state: %w", err)
		}
		return true, nil
	}

	res, err := b.states.UpdateOne(ctx,
		bson.D{
			{Key: "aggregateId", Value: frame.AggregateID.String()},
			{Key: "version", Value: frame.ExpectedVersion},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "version", Value: frame.Version()}}}},
	)
	if err != nil {
		return false, fmt.Errorf("update state: %w", err)
	}

	return res.MatchedCount == 1, nil
}

// rollback undoes a version swap whose event insert failed without a
// transaction. It removes the events of frame that were inserted and resets
// the state document to frame.ExpectedVersion.
func (b *Backend) rollback(ctx context.Context, frame repository.EventFrame) error {
	ids := make(bson.A, len(frame.Events))
	for i, evt := range frame.Events {
		ids[i] = evt.ID().String()
	}
	if _, err := b.events.DeleteMany(ctx, bson.D{{Key: "id", Value: bson.D{{Key: "$in", Value: ids}}}}); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}

	filter := bson.D{
		{Key: "aggregateId", Value: frame.AggregateID.String()},
		{Key: "version", Value: frame.Version()},
	}

	if frame.ExpectedVersion == repository.NoStream {
		if _, err := b.states.DeleteOne(ctx, filter); err != nil {
			return fmt.Errorf("delete state: %w", err)
		}
		return nil
	}

	if _, err := b.states.UpdateOne(ctx, filter,
		bson.D{{Key: "$set", Value: bson.D{{Key: "version", Value: frame.ExpectedVersion}}}},
	); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	return nil
}

func (b *Backend) currentVersion(ctx context.Context, id uuid.UUID) (int, error) {
	var st state
	if err := b.states.FindOne(ctx, bson.D{{Key: "aggregateId", Value: id.String()}}).Decode(&st); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.NoStream, nil
		}
		return 0, fmt.Errorf("decode state: %w", err)
	}
	return st.Version, nil
}

// GetSnapshot returns the latest snapshot of the aggregate at or before
// maxVersion.
func (b *Backend) GetSnapshot(ctx context.Context, id uuid.UUID, maxVersion int) (repository.SnapshotFrame, error) {
	if _, err := b.Connect(ctx); err != nil {
		return repository.SnapshotFrame{}, fmt.Errorf("connect: %w", err)
	}

	var doc document
	if err := b.snapshots.FindOne(ctx,
		bson.D{
			{Key: "aggregateId", Value: id.String()},
			{Key: "version", Value: bson.D{{Key: "$lte", Value: maxVersion}}},
		},
		options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}}),
	).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.SnapshotFrame{}, fmt.Errorf("snapshot of %s: %w", id, repository.ErrNotFound)
		}
		return repository.SnapshotFrame{}, fmt.Errorf("decode snapshot: %w", err)
	}

	rec, err := doc.record()
	if err != nil {
		return repository.SnapshotFrame{}, err
	}

	typ, err := b.codec.AggregateType(rec)
	if err != nil {
		return repository.SnapshotFrame{}, fmt.Errorf("aggregate type: %w", err)
	}

	snap, err := b.codec.Snapshot(rec)
	if err != nil {
		return repository.SnapshotFrame{}, err
	}

	return repository.SnapshotFrame{Type: typ, AggregateID: id, Snapshot: snap}, nil
}

// SaveSnapshot stores the snapshot of frame according to the SnapshotPolicy
// of the Backend.
func (b *Backend) SaveSnapshot(ctx context.Context, frame repository.SnapshotFrame) error {
	if _, err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	rec, err := b.codec.SnapshotRecord(frame.Type, frame.Snapshot)
	if err != nil {
		return err
	}
	doc := newDocument(rec)

	if b.policy == repository.RejectResave {
		_, err := b.snapshots.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("snapshot of %s at version %d: %w", rec.AggregateID, rec.Version, repository.ErrSnapshotExists)
		}
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		return nil
	}

	if _, err := b.snapshots.ReplaceOne(ctx,
		bson.D{
			{Key: "aggregateId", Value: doc.AggregateID},
			{Key: "version", Value: doc.Version},
		},
		doc,
		options.Replace().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

func newDocument(rec codec.Record) document {
	return document{
		ID:            rec.ID.String(),
		AggregateID:   rec.AggregateID.String(),
		AggregateType: rec.AggregateType,
		Version:       rec.Version,
		TimeNano:      rec.Time,
		DataType:      rec.DataType,
		Data:          rec.Data,
	}
}

func (doc document) record() (codec.Record, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return codec.Record{}, fmt.Errorf("parse id: %w", err)
	}
	aggregateID, err := uuid.Parse(doc.AggregateID)
	if err != nil {
		return codec.Record{}, fmt.Errorf("parse aggregate id: %w", err)
	}
	return codec.Record{
		ID:            id,
		AggregateID:   aggregateID,
		AggregateType: doc.AggregateType,
		Version:       doc.Version,
		Time:          doc.TimeNano,
		DataType:      doc.DataType,
		Data:          doc.Data,
	}, nil
}
