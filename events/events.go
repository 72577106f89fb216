package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ripkitten-co/purr"
	"github.com/ripkitten-co/purr/internal/pg"
	"github.com/ripkitten-co/purr/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	// Beginning is the position a subscription starts after when a projection
	// has no checkpoint. Global positions start at 1.
	Beginning int64 = 0

	// SystemPrefix marks internal records that never reach projectors.
	SystemPrefix = "$"

	notifyChannel = "purr_events"

	// appendLockKey is the transaction-scoped advisory lock every append
	// holds, so global positions commit in the order they are assigned.
	appendLockKey int64 = 0x7075727200
)

// Record is a single entry in the global log.
type Record struct {
	ID             string
	StreamID       string
	Version        int
	Type           string
	Data           []byte
	Metadata       []byte
	CreatedAt      time.Time
	GlobalPosition int64
}

// IsSystem reports whether the record is internal to the log.
func (r Record) IsSystem() bool {
	return strings.HasPrefix(r.Type, SystemPrefix)
}

var recordColumns = []string{
	"event_id::text", "stream_id", "version", "type", "data", "metadata", "created_at", "global_position",
}

// Store provides append-only event stream operations backed by a single
// purr_events table, and catch-up subscriptions over it.
type Store struct {
	exec   pg.Executor
	schema *schema.Bootstrap
	pool   poolAcquirer
}

// New creates an event store using the given backend's executor and schema.
// Subscriptions need a *purr.Store so they can hold a LISTEN connection;
// other backends support reads and appends only.
func New(b purr.Backend) *Store {
	es := &Store{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
	if s, ok := b.(*purr.Store); ok {
		es.pool = s.PgxPool()
	}
	return es
}

// Append writes records to a stream with optimistic concurrency control.
// Pass expectedVersion 0 to create a new stream. Returns ErrStreamExists
// if the stream already exists with version 0, or ErrConcurrencyConflict
// if the expected version doesn't match. Appends are serialized, so a reader
// that has seen a global position has also seen every lower one.
func (es *Store) Append(ctx context.Context, streamID string, expectedVersion int, recs []Record) error {
	if len(recs) == 0 {
		return fmt.Errorf("events: append %s: at least one record required", streamID)
	}

	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return err
	}

	err := pg.InTx(ctx, es.exec, func(tx pg.Executor) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		if err := checkVersion(ctx, tx, streamID, expectedVersion); err != nil {
			return err
		}
		if err := insertRecords(ctx, tx, streamID, expectedVersion, recs); err != nil {
			return err
		}
		// delivered on commit; subscriptions also poll
		_, err := tx.Exec(ctx, "SELECT pg_notify($1, '')", notifyChannel)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if expectedVersion == 0 {
				return fmt.Errorf("events: append %s: %w", streamID, purr.ErrStreamExists)
			}
			return fmt.Errorf("events: append %s: %w", streamID, purr.ErrConcurrencyConflict)
		}
		return fmt.Errorf("events: append %s: %w", streamID, err)
	}
	return nil
}

func checkVersion(ctx context.Context, exec pg.Executor, streamID string, expectedVersion int) error {
	if expectedVersion == 0 {
		return nil
	}
	var currentVersion int
	err := exec.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM purr_events WHERE stream_id = $1",
		streamID,
	).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if currentVersion != expectedVersion {
		return fmt.Errorf("expected version %d but got %d: %w",
			expectedVersion, currentVersion, purr.ErrConcurrencyConflict)
	}
	return nil
}

func insertRecords(ctx context.Context, exec pg.Executor, streamID string, expectedVersion int, recs []Record) error {
	builder := psql.Insert(schema.EventsTable).
		Columns("event_id", "stream_id", "version", "type", "data", "metadata")

	for i, rec := range recs {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		var md any
		if len(rec.Metadata) > 0 {
			md = rec.Metadata
		}
		builder = builder.Values(id, streamID, expectedVersion+i+1, rec.Type, rec.Data, md)
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build sql: %w", err)
	}
	_, err = exec.Exec(ctx, sql, args...)
	return err
}

// ReadStream returns all records for a stream starting from fromVersion.
// Pass 0 to read from the beginning. Returns an empty slice if the stream
// doesn't exist.
func (es *Store) ReadStream(ctx context.Context, streamID string, fromVersion int) ([]Record, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}

	builder := psql.
		Select(recordColumns...).
		From(schema.EventsTable).
		Where(sq.Eq{"stream_id": streamID}).
		OrderBy("version ASC")

	if fromVersion > 0 {
		builder = builder.Where(sq.GtOrEq{"version": fromVersion})
	}

	records, err := es.query(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("events: read %s: %w", streamID, err)
	}
	return records, nil
}

// ReadAll returns records across all streams ordered by global_position,
// strictly after afterPosition. Returns up to limit records.
func (es *Store) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	if err := es.schema.EnsureEvents(ctx, es.exec); err != nil {
		return nil, err
	}
	if err := es.schema.EnsureEventsGlobalPositionIndex(ctx, es.exec); err != nil {
		return nil, err
	}

	builder := psql.
		Select(recordColumns...).
		From(schema.EventsTable).
		Where(sq.Gt{"global_position": afterPosition}).
		OrderBy("global_position ASC").
		Limit(uint64(limit))

	records, err := es.query(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("events: read all after %d: %w", afterPosition, err)
	}
	return records, nil
}

func (es *Store) query(ctx context.Context, builder sq.SelectBuilder) ([]Record, error) {
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}

	rows, err := es.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.StreamID, &r.Version, &r.Type, &r.Data, &r.Metadata, &r.CreatedAt, &r.GlobalPosition); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SubscribeFrom opens a catch-up subscription delivering every record after
// the given position, then tailing new appends.
func (es *Store) SubscribeFrom(ctx context.Context, after int64, settings SubscriptionSettings, h Handlers) (Subscription, error) {
	return Subscribe(ctx, es, after, settings, h)
}
