// Package sqlite provides an embedded SQLite repository.Backend built on the
// pure-Go modernc.org/sqlite driver. It uses the same streams, events and
// snapshots layout as the PostgreSQL backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/codec"
	_ "modernc.org/sqlite"
)

var _ repository.Backend = (*Backend)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS streams (
	aggregate_id TEXT PRIMARY KEY NOT NULL,
	aggregate_type TEXT NOT NULL,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY NOT NULL,
	aggregate_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	time INTEGER NOT NULL,
	data_type TEXT NOT NULL,
	data BLOB,
	UNIQUE (aggregate_id, version)
);
CREATE TABLE IF NOT EXISTS snapshots (
	aggregate_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	time INTEGER NOT NULL,
	data_type TEXT NOT NULL,
	data BLOB,
	PRIMARY KEY (aggregate_id, version)
);
`

// Backend is a SQLite repository.Backend. All statements run on a single
// connection, so writers are serialized by database/sql.
type Backend struct {
	db     *sql.DB
	codec  *codec.Codec
	policy repository.SnapshotPolicy
}

// Option is an option for the SQLite backend.
type Option func(*Backend)

// WithSnapshotPolicy returns an Option that sets the SnapshotPolicy of the
// Backend. Defaults to repository.Overwrite.
func WithSnapshotPolicy(p repository.SnapshotPolicy) Option {
	return func(b *Backend) {
		b.policy = p
	}
}

// Open opens the database file at path, creates the schema and returns a
// Backend that encodes payloads with c.
func Open(path string, c *codec.Codec, opts ...Option) (*Backend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	b := &Backend{db: db, codec: c}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Close releases the underlying SQLite connection.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// GetEvents returns the events of the aggregate in [minVersion, maxVersion].
func (b *Backend) GetEvents(ctx context.Context, id uuid.UUID, minVersion, maxVersion int) (repository.EventFrame, error) {
	frame := repository.EventFrame{AggregateID: id}

	var typeName string
	if err := b.db.QueryRowContext(ctx, "SELECT aggregate_type FROM streams WHERE aggregate_id = ?", id).Scan(&typeName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return frame, nil
		}
		return frame, fmt.Errorf("query stream: %w", err)
	}

	typ, err := b.codec.Resolve(typeName)
	if err != nil {
		return frame, fmt.Errorf("aggregate type: %w", err)
	}
	frame.Type = typ

	query, args, err := squirrel.
		Select("id", "version", "time", "data_type", "data").
		From("events").
		Where(squirrel.Eq{"aggregate_id": id}).
		Where(squirrel.GtOrEq{"version": minVersion}).
		Where(squirrel.LtOrEq{"version": maxVersion}).
		OrderBy("version ASC").
		ToSql()
	if err != nil {
		return frame, fmt.Errorf("build query: %w", err)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
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

	insert := squirrel.
		Insert("events").
		Columns("id", "aggregate_id", "version", "time", "data_type", "data")

	for _, evt := range frame.Events {
		dataType, data, err := b.codec.Encode(evt.Data())
		if err != nil {
			return fmt.Errorf("encode event %s: %w", evt.ID(), err)
		}
		insert = insert.Values(evt.ID(), frame.AggregateID, evt.Version(), evt.Time().UnixNano(), dataType, data)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	swapped, err := swapVersion(ctx, tx, typeName, frame)
	if err != nil {
		return err
	}

	if !swapped {
		var actual int
		if err := tx.QueryRowContext(ctx, "SELECT version FROM streams WHERE aggregate_id = ?", frame.AggregateID).Scan(&actual); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query stream version: %w", err)
		}
		return &aggregate.ConcurrencyError{
			AggregateID: frame.AggregateID,
			Expected:    frame.ExpectedVersion,
			Actual:      actual,
		}
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func swapVersion(ctx context.Context, tx *sql.Tx, typeName string, frame repository.EventFrame) (bool, error) {
	var (
		query string
		args  []any
		err   error
	)

	if frame.ExpectedVersion == repository.NoStream {
		query, args, err = squirrel.
			Insert("streams").
			Columns("aggregate_id", "aggregate_type", "version").
			Values(frame.AggregateID, typeName, frame.Version()).
			Suffix("ON CONFLICT (aggregate_id) DO NOTHING").
			ToSql()
	} else {
		query, args, err = squirrel.
			Update("streams").
			Set("version", frame.Version()).
			Where(squirrel.Eq{"aggregate_id": frame.AggregateID, "version": frame.ExpectedVersion}).
			ToSql()
	}
	if err != nil {
		return false, fmt.Errorf("build stream update: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update stream: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return n == 1, nil
}

// GetSnapshot returns the latest snapshot of the aggregate at or before
// maxVersion.
func (b *Backend) GetSnapshot(ctx context.Context, id uuid.UUID, maxVersion int) (repository.SnapshotFrame, error) {
	query, args, err := squirrel.
		Select("id", "aggregate_type", "version", "time", "data_type", "data").
		From("snapshots").
		Where(squirrel.Eq{"aggregate_id": id}).
		Where(squirrel.LtOrEq{"version": maxVersion}).
		OrderBy("version DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return repository.SnapshotFrame{}, fmt.Errorf("build query: %w", err)
	}

	rec := codec.Record{AggregateID: id}
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID, &rec.AggregateType, &rec.Version, &rec.Time, &rec.DataType, &rec.Data,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.SnapshotFrame{}, fmt.Errorf("snapshot of %s: %w", id, repository.ErrNotFound)
		}
		return repository.SnapshotFrame{}, fmt.Errorf("query snapshot: %w", err)
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
	rec, err := b.codec.SnapshotRecord(frame.Type, frame.Snapshot)
	if err != nil {
		return err
	}

	conflict := "ON CONFLICT (aggregate_id, version) DO NOTHING"
	if b.policy == repository.Overwrite {
		conflict = `ON CONFLICT (aggregate_id, version) DO UPDATE SET
			id = excluded.id, aggregate_type = excluded.aggregate_type, time = excluded.time,
			data_type = excluded.data_type, data = excluded.data`
	}

	query, args, err := squirrel.
		Insert("snapshots").
		Columns("aggregate_id", "version", "id", "aggregate_type", "time", "data_type", "data").
		Values(rec.AggregateID, rec.Version, rec.ID, rec.AggregateType, rec.Time, rec.DataType, rec.Data).
		Suffix(conflict).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("snapshot of %s at version %d: %w", rec.AggregateID, rec.Version, repository.ErrSnapshotExists)
	}

	return nil
}
