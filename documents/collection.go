// Package documents stores projection read models as JSONB documents, one
// table per collection. Every write carries the log position of the record
// that produced it, and a write at or below the stored position is a no-op,
// so a projector re-applying a record after a restart converges on the same
// document.
package documents

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/purr"
	"github.com/ripkitten-co/purr/internal/codecs"
	"github.com/ripkitten-co/purr/internal/indexes"
	"github.com/ripkitten-co/purr/internal/pg"
	"github.com/ripkitten-co/purr/internal/tags"
	"github.com/ripkitten-co/purr/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// CollectionOf is a typed handle on one document table.
type CollectionOf[T any] struct {
	name   string
	table  string
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// Collection returns the document collection name backed by purr_<name>.
func Collection[T any](b purr.Backend, name string) *CollectionOf[T] {
	return &CollectionOf[T]{
		name:   name,
		table:  schema.CollectionTable(name),
		exec:   b.DBExecutor(),
		codec:  b.JSONCodec(),
		schema: b.SchemaBootstrap(),
	}
}

// Name returns the collection name.
func (c *CollectionOf[T]) Name() string { return c.name }

func (c *CollectionOf[T]) ensure(ctx context.Context) error {
	return c.schema.EnsureCollection(ctx, c.exec, c.name)
}

// EnsureIndex creates a btree index on a top-level JSON field.
func (c *CollectionOf[T]) EnsureIndex(ctx context.Context, field string) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}
	ddl, err := indexes.BtreeDDL(c.name, field)
	if err != nil {
		return fmt.Errorf("collection %s: index %s: %w", c.name, field, err)
	}
	return c.schema.EnsureIndex(ctx, c.exec, indexes.Name(c.name, field), ddl)
}

// Upsert writes doc as produced by the record at position. The document ID
// comes from the field tagged `purr:"id"`. It reports false when the stored
// document already reflects position or a later one.
func (c *CollectionOf[T]) Upsert(ctx context.Context, doc *T, position int64) (bool, error) {
	if err := c.ensure(ctx); err != nil {
		return false, err
	}

	id, err := tags.ExtractID(doc)
	if err != nil {
		return false, fmt.Errorf("collection %s: %w", c.name, err)
	}

	tags.SetPosition(doc, position)
	data, err := c.codec.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("collection %s: upsert %s: marshal: %w", c.name, id, err)
	}

	sql, args, err := psql.Insert(c.table).
		Columns("id", "data", "last_position").
		Values(id, data, position).
		Suffix(fmt.Sprintf(`ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			version = %[1]s.version + 1,
			last_position = EXCLUDED.last_position,
			updated_at = now()
		WHERE %[1]s.last_position < EXCLUDED.last_position`, c.table)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("collection %s: upsert %s: build sql: %w", c.name, id, err)
	}

	tag, err := c.exec.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("collection %s: upsert %s: %w", c.name, id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertMany upserts every document at the same position. Failures are
// collected per document into a *BatchError.
func (c *CollectionOf[T]) UpsertMany(ctx context.Context, docs []*T, position int64) error {
	var failed map[string]error
	for i, doc := range docs {
		if _, err := c.Upsert(ctx, doc, position); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			key, idErr := tags.ExtractID(doc)
			if idErr != nil {
				key = fmt.Sprintf("#%d", i)
			}
			failed[key] = err
		}
	}
	if failed != nil {
		return &BatchError{Collection: c.name, Position: position, Total: len(docs), Errors: failed}
	}
	return nil
}

// Delete removes the document unless it was written after position.
// Deleting a missing document is not an error, so re-applied deletes are safe.
func (c *CollectionOf[T]) Delete(ctx context.Context, id string, position int64) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}

	query, args, err := psql.Delete(c.table).
		Where(sq.Eq{"id": id}).
		Where(sq.LtOrEq{"last_position": position}).
		ToSql()
	if err != nil {
		return fmt.Errorf("collection %s: delete %s: build sql: %w", c.name, id, err)
	}

	if _, err := c.exec.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("collection %s: delete %s: %w", c.name, id, err)
	}
	return nil
}

// Load returns the document and the position it was last written at.
func (c *CollectionOf[T]) Load(ctx context.Context, id string) (*T, int64, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, 0, err
	}

	sql, args, err := psql.Select("data", "last_position").From(c.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("collection %s: load %s: build sql: %w", c.name, id, err)
	}

	var data []byte
	var position int64
	err = c.exec.QueryRow(ctx, sql, args...).Scan(&data, &position)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, fmt.Errorf("collection %s: load %s: %w", c.name, id, purr.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("collection %s: load %s: %w", c.name, id, err)
	}

	var doc T
	if err := c.codec.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("collection %s: load %s: unmarshal: %w", c.name, id, err)
	}
	return &doc, position, nil
}

// Truncate empties the collection, used before rebuilding a projection.
func (c *CollectionOf[T]) Truncate(ctx context.Context) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}
	if _, err := c.exec.Exec(ctx, "TRUNCATE "+c.table); err != nil {
		return fmt.Errorf("collection %s: truncate: %w", c.name, err)
	}
	return nil
}
