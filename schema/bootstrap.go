package schema

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/ripkitten-co/purr/internal/pg"
)

const (
	// EventsTable holds the append-only global log.
	EventsTable = "purr_events"
	// CheckpointsTable holds one row per projection.
	CheckpointsTable = "purr_projection_checkpoints"
	// SnapshotsTable holds the latest snapshot per aggregate stream.
	SnapshotsTable = "purr_snapshots"
)

var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,54}$`)

// ValidateCollectionName checks that name is a valid collection identifier
// (alphanumeric + underscores, max 55 characters, starts with a letter).
func ValidateCollectionName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("schema: invalid collection name %q: must be alphanumeric with underscores, max 55 chars", name)
	}
	return nil
}

// CollectionTable returns the table backing a document collection.
func CollectionTable(name string) string {
	return "purr_" + name
}

func collectionDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	last_position BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, CollectionTable(name))
}

func eventsDDL() string {
	return `CREATE TABLE IF NOT EXISTS purr_events (
	event_id UUID NOT NULL UNIQUE,
	stream_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	type TEXT NOT NULL,
	data JSONB NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	global_position BIGINT GENERATED ALWAYS AS IDENTITY,
	PRIMARY KEY (stream_id, version)
)`
}

func projectionCheckpointsDDL() string {
	return `CREATE TABLE IF NOT EXISTS purr_projection_checkpoints (
	projection_name TEXT PRIMARY KEY,
	last_position BIGINT,
	status TEXT NOT NULL DEFAULT 'running',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

func snapshotsDDL() string {
	return `CREATE TABLE IF NOT EXISTS purr_snapshots (
	stream_id TEXT PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	version INTEGER NOT NULL,
	data JSONB NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
}

// Bootstrap manages idempotent creation of purr tables and indexes. It caches
// which tables and indexes have been created to avoid repeated DDL.
type Bootstrap struct {
	tables  sync.Map
	indexes sync.Map
}

// New returns a Bootstrap with empty caches.
func New() *Bootstrap {
	return &Bootstrap{}
}

// IsCreated reports whether the named table has been created in this process.
func (b *Bootstrap) IsCreated(table string) bool {
	_, ok := b.tables.Load(table)
	return ok
}

// MarkCreated records that the named table has been created.
func (b *Bootstrap) MarkCreated(table string) {
	b.tables.Store(table, true)
}

// InvalidateTable removes a table from the creation cache so the next Ensure
// call re-runs the DDL.
func (b *Bootstrap) InvalidateTable(table string) {
	b.tables.Delete(table)
}

// IsIndexCreated reports whether the named index has been created in this process.
func (b *Bootstrap) IsIndexCreated(name string) bool {
	_, ok := b.indexes.Load(name)
	return ok
}

func (b *Bootstrap) ensureTable(ctx context.Context, exec pg.Executor, table, ddl string) error {
	if _, ok := b.tables.Load(table); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: create table %s: %w", table, err)
	}
	b.tables.Store(table, true)
	return nil
}

// EnsureCollection creates the purr_{name} document table if it doesn't exist.
func (b *Bootstrap) EnsureCollection(ctx context.Context, exec pg.Executor, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	return b.ensureTable(ctx, exec, CollectionTable(name), collectionDDL(name))
}

// EnsureEvents creates the purr_events table if it doesn't exist.
func (b *Bootstrap) EnsureEvents(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, EventsTable, eventsDDL())
}

// EnsureProjectionCheckpoints creates the checkpoints table if it doesn't exist.
func (b *Bootstrap) EnsureProjectionCheckpoints(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, CheckpointsTable, projectionCheckpointsDDL())
}

// EnsureSnapshots creates the snapshots table if it doesn't exist.
func (b *Bootstrap) EnsureSnapshots(ctx context.Context, exec pg.Executor) error {
	return b.ensureTable(ctx, exec, SnapshotsTable, snapshotsDDL())
}

// EnsureEventsGlobalPositionIndex creates a unique index on global_position
// for ordered reads across all streams. Must be called with a pool-level
// executor: CREATE INDEX CONCURRENTLY cannot run inside a transaction block.
func (b *Bootstrap) EnsureEventsGlobalPositionIndex(ctx context.Context, exec pg.Executor) error {
	const name = "idx_purr_events_global_position"
	if _, ok := b.indexes.Load(name); ok {
		return nil
	}
	_, err := exec.Exec(ctx,
		`CREATE UNIQUE INDEX CONCURRENTLY IF NOT EXISTS idx_purr_events_global_position ON purr_events (global_position)`,
	)
	if err != nil {
		return fmt.Errorf("schema: create events global_position index: %w", err)
	}
	b.indexes.Store(name, true)
	return nil
}

// EnsureIndex runs ddl once per process for the named index. Like
// EnsureEventsGlobalPositionIndex it needs a pool-level executor when ddl
// builds the index concurrently.
func (b *Bootstrap) EnsureIndex(ctx context.Context, exec pg.Executor, name, ddl string) error {
	if _, ok := b.indexes.Load(name); ok {
		return nil
	}
	if _, err := exec.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("schema: create index %s: %w", name, err)
	}
	b.indexes.Store(name, true)
	return nil
}
