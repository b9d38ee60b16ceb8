// Package postgres provides a PostgreSQL repository.Backend.
//
// The current version of every aggregate is kept in a streams table. Saving
// events inserts the stream row for new aggregates and otherwise updates it
// with a WHERE clause on the expected version, in the same transaction that
// inserts the events. A write that affects no row is a concurrency conflict.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/codec"
)

var _ repository.Backend = (*Backend)(nil)

// Backend is a PostgreSQL repository.Backend.
type Backend struct {
	onceConnect   sync.Once
	connectErr    error
	connectionURL string
	database      string
	prefix        string
	policy        repository.SnapshotPolicy
	pool          *pgxpool.Pool
	codec         *codec.Codec
}

// Option is an option for the PostgreSQL backend.
type Option func(*Backend)

// URL returns an Option that specifies the connection string to the
// PostgreSQL server.
func URL(url string) Option {
	return func(b *Backend) {
		b.connectionURL = url
	}
}

// Database returns an Option that configures the used database. Defaults to
// "mnemo".
func Database(name string) Option {
	if name = strings.TrimSpace(name); name == "" {
		panic("database name cannot be empty")
	}

	return func(b *Backend) {
		b.database = name
	}
}

// TablePrefix returns an Option that prefixes the names of the streams,
// events and snapshots tables.
func TablePrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// WithSnapshotPolicy returns an Option that sets the SnapshotPolicy of the
// Backend. Defaults to repository.Overwrite.
func WithSnapshotPolicy(p repository.SnapshotPolicy) Option {
	return func(b *Backend) {
		b.policy = p
	}
}

// New returns a PostgreSQL backend that encodes payloads with c. If not
// otherwise specified using the URL() option, os.Getenv("POSTGRES_URL") is
// used as the connection string.
func New(c *codec.Codec, opts ...Option) *Backend {
	b := &Backend{
		codec:         c,
		database:      "mnemo",
		connectionURL: os.Getenv("POSTGRES_URL"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Pool returns the underlying Postgres connection pool. Pool returns nil
// until the connection has been established.
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}

// Connect connects to the PostgreSQL server and creates the database, the
// tables and the indexes. Connect is automatically called by every method of
// the Backend if not called explicitly.
func (b *Backend) Connect(ctx context.Context) error {
	b.onceConnect.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		b.connectErr = b.connect(ctx)
	})
	return b.connectErr
}

// Close closes the connection pool.
func (b *Backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func (b *Backend) connect(ctx context.Context) error {
	if b.connectionURL == "" {
		return fmt.Errorf("missing connection string")
	}

	pool, err := pgxpool.Connect(ctx, b.connectionURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	b.pool = pool

	if err := b.createDatabase(ctx); err != nil {
		return err
	}

	if err := b.useDatabase(ctx); err != nil {
		return err
	}

	return b.createSchema(ctx)
}

func (b *Backend) createDatabase(ctx context.Context) error {
	var exists bool
	if err := b.pool.QueryRow(ctx, "SELECT EXISTS (SELECT FROM pg_database WHERE datname = $1)", b.database).Scan(&exists); err != nil {
		return fmt.Errorf("check if %q database exists: %w", b.database, err)
	}

	if exists {
		return nil
	}

	if _, err := b.pool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", b.database)); err != nil {
		return fmt.Errorf("create %q database: %w", b.database, err)
	}

	return nil
}

func (b *Backend) useDatabase(ctx context.Context) error {
	b.pool.Close()

	cfg, err := pgx.ParseConfig(b.connectionURL)
	if err != nil {
		return fmt.Errorf("parse connection string: %w", err)
	}

	purl, err := url.Parse(cfg.ConnString())
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	purl.Path = "/" + b.database

	pool, err := pgxpool.Connect(ctx, purl.String())
	if err != nil {
		return fmt.Errorf("connect to %q database: %w", b.database, err)
	}
	b.pool = pool

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	return nil
}

func (b *Backend) createSchema(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	statements := []string{
		streamTableSQL(b.table("streams")),
		eventTableSQL(b.table("events")),
		snapshotTableSQL(b.table("snapshots")),
		indexSQL(b.table("mnemo_event_version"), b.table("events"), []string{"aggregate_id", "version"}, true),
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (b *Backend) table(name string) string {
	return b.prefix + name
}

func (b *Backend) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// GetEvents returns the events of the aggregate in [minVersion, maxVersion].
func (b *Backend) GetEvents(ctx context.Context, id uuid.UUID, minVersion, maxVersion int) (repository.EventFrame, error) {
	if err := b.Connect(ctx); err != nil {
		return repository.EventFrame{}, fmt.Errorf("connect: %w", err)
	}

	frame := repository.EventFrame{AggregateID: id}

	var typeName string
	if err := b.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT aggregate_type FROM %s WHERE aggregate_id = $1", b.table("streams")),
		id,
	).Scan(&typeName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return frame, nil
		}
		return frame, fmt.Errorf("query stream: %w", err)
	}

	typ, err := b.codec.Resolve(typeName)
	if err != nil {
		return frame, fmt.Errorf("aggregate type: %w", err)
	}
	frame.Type = typ

	sql, args, err := b.builder().
		Select("id", "version", "time", "data_type", "data").
		From(b.table("events")).
		Where(squirrel.Eq{"aggregate_id": id}).
		Where(squirrel.GtOrEq{"version": minVersion}).
		Where(squirrel.LtOrEq{"version": maxVersion}).
		OrderBy("version ASC").
		ToSql()
	if err != nil {
		return frame, fmt.Errorf("build query: %w", err)
	}

	rows, err := b.pool.Query(ctx, sql, args...)
	if err != nil {
		return frame, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := codec.Record{AggregateID: id, AggregateType: typeName}
		if err := rows.Scan(&rec.ID, &rec.Version, &rec.Time, &rec.DataType, &rec.Data); err != nil {
			return frame, fmt.Errorf("scan row: %w", err)
		}

		evt, err := b.codec.Event(rec)
		if err != nil {
			return frame, err
		}
		frame.Events = append(frame.Events, evt)
	}

	if err := rows.Err(); err != nil {
		return frame, fmt.Errorf("query events: %w", err)
	}

	return frame, nil
}

// SaveEvents appends the events of frame if the stored version of the
// aggregate equals frame.ExpectedVersion.
func (b *Backend) SaveEvents(ctx context.Context, frame repository.EventFrame) error {
	if err := b.Connect(ctx); err != nil {
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

	insert := b.builder().
		Insert(b.table("events")).
		Columns("id", "aggregate_id", "version", "time", "data_type", "data")

	for _, evt := range frame.Events {
		dataType, data, err := b.codec.Encode(evt.Data())
		if err != nil {
			return fmt.Errorf("encode event %s: %w", evt.ID(), err)
		}
		insert = insert.Values(evt.ID(), frame.AggregateID, evt.Version(), evt.Time().UnixNano(), dataType, data)
	}

	sql, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := b.swapVersion(ctx, tx, typeName, frame)
	if err != nil {
		return err
	}

	if !swapped {
		actual, err := b.currentVersion(ctx, tx, frame.AggregateID)
		if err != nil {
			return err
		}
		return &aggregate.ConcurrencyError{
			AggregateID: frame.AggregateID,
			Expected:    frame.ExpectedVersion,
			Actual:      actual,
		}
	}

	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// swapVersion moves the stream row of the aggregate from the expected to the
// new version and reports whether a row was written.
func (b *Backend) swapVersion(ctx context.Context, tx pgx.Tx, typeName string, frame repository.EventFrame) (bool, error) {
	var (
		sql  string
		args []any
		err  error
	)

	if frame.ExpectedVersion == repository.NoStream {
		sql, args, err = b.builder().
			Insert(b.table("streams")).
			Columns("aggregate_id", "aggregate_type", "version").
			Values(frame.AggregateID, typeName, frame.Version()).
			Suffix("ON CONFLICT (aggregate_id) DO NOTHING").
			ToSql()
	} else {
		sql, args, err = b.builder().
			Update(b.table("streams")).
			Set("version", frame.Version()).
			Where(squirrel.Eq{"aggregate_id": frame.AggregateID, "version": frame.ExpectedVersion}).
			ToSql()
	}
	if err != nil {
		return false, fmt.Errorf("build stream update: %w", err)
	}

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("update stream: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (b *Backend) currentVersion(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error) {
	var v int
	if err := tx.QueryRow(ctx,
		fmt.Sprintf("SELECT version FROM %s WHERE aggregate_id = $1", b.table("streams")),
		id,
	).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.NoStream, nil
		}
		return 0, fmt.Errorf("query stream version: %w", err)
	}
	return v, nil
}

// GetSnapshot returns the latest snapshot of the aggregate at or before
// maxVersion.
func (b *Backend) GetSnapshot(ctx context.Context, id uuid.UUID, maxVersion int) (repository.SnapshotFrame, error) {
	if err := b.Connect(ctx); err != nil {
		return repository.SnapshotFrame{}, fmt.Errorf("connect: %w", err)
	}

	sql, args, err := b.builder().
		Select("id", "aggregate_type", "version", "time", "data_type", "data").
		From(b.table("snapshots")).
		Where(squirrel.Eq{"aggregate_id": id}).
		Where(squirrel.LtOrEq{"version": maxVersion}).
		OrderBy("version DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return repository.SnapshotFrame{}, fmt.Errorf("build query: %w", err)
	}

	rec := codec.Record{AggregateID: id}
	if err := b.pool.QueryRow(ctx, sql, args...).Scan(
		&rec.ID, &rec.AggregateType, &rec.Version, &rec.Time, &rec.DataType, &rec.Data,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.SnapshotFrame{}, fmt.Errorf("snapshot of %s: %w", id, repository.ErrNotFound)
		}
		return repository.SnapshotFrame{}, fmt.Errorf("query snapshot: %w", err)
	}

	return snapshotFrame(b.codec, rec)
}

// SaveSnapshot stores the snapshot of frame according to the SnapshotPolicy
// of the Backend.
func (b *Backend) SaveSnapshot(ctx context.Context, frame repository.SnapshotFrame) error {
	if err := b.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	rec, err := b.codec.SnapshotRecord(frame.Type, frame.Snapshot)
	if err != nil {
		return err
	}

	conflict := "ON CONFLICT (aggregate_id, version) DO NOTHING"
	if b.policy == repository.Overwrite {
		conflict = `ON CONFLICT (aggregate_id, version) DO UPDATE SET
			id = EXCLUDED.id, aggregate_type = EXCLUDED.aggregate_type, time = EXCLUDED.time,
			data_type = EXCLUDED.data_type, data = EXCLUDED.data`
	}

	sql, args, err := b.builder().
		Insert(b.table("snapshots")).
		Columns("aggregate_id", "version", "id", "aggregate_type", "time", "data_type", "data").
		Values(rec.AggregateID, rec.Version, rec.ID, rec.AggregateType, rec.Time, rec.DataType, rec.Data).
		Suffix(conflict).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	tag, err := b.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot of %s at version %d: %w", rec.AggregateID, rec.Version, repository.ErrSnapshotExists)
	}

	return nil
}

func snapshotFrame(c *codec.Codec, rec codec.Record) (repository.SnapshotFrame, error) {
	typ, err := c.AggregateType(rec)
	if err != nil {
		return repository.SnapshotFrame{}, fmt.Errorf("aggregate type: %w", err)
	}

	snap, err := c.Snapshot(rec)
	if err != nil {
		return repository.SnapshotFrame{}, err
	}

	return repository.SnapshotFrame{
		Type:        typ,
		AggregateID: rec.AggregateID,
		Snapshot:    snap,
	}, nil
}
