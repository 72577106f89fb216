package snapshots

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/purr"
	"github.com/ripkitten-co/purr/events"
	"github.com/ripkitten-co/purr/internal/pg"
	"github.com/ripkitten-co/purr/schema"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Snapshot is the stored state of one aggregate stream as of Version.
type Snapshot struct {
	StreamID      string
	AggregateType events.AggregateType
	Version       int
	Data          []byte
	TakenAt       time.Time
}

// Store persists the latest snapshot per stream.
type Store interface {
	// Load returns the latest snapshot, or ok=false when none exists.
	Load(ctx context.Context, streamID string) (snap Snapshot, ok bool, err error)
	// Save stores snap unless a snapshot at the same or a later version
	// is already stored.
	Save(ctx context.Context, snap Snapshot) error
}

// PostgresStore keeps snapshots in purr_snapshots.
type PostgresStore struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a Store over the purr_snapshots table.
func NewPostgresStore(b purr.Backend) *PostgresStore {
	return &PostgresStore{exec: b.DBExecutor(), schema: b.SchemaBootstrap()}
}

// Load returns the latest snapshot of streamID, or ok=false when none exists.
func (s *PostgresStore) Load(ctx context.Context, streamID string) (Snapshot, bool, error) {
	if err := s.schema.EnsureSnapshots(ctx, s.exec); err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshots: load %s: %w", streamID, err)
	}

	sql, args, err := psql.
		Select("aggregate_type", "version", "data", "taken_at").
		From(schema.SnapshotsTable).
		Where(sq.Eq{"stream_id": streamID}).
		ToSql()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshots: load %s: build sql: %w", streamID, err)
	}

	snap := Snapshot{StreamID: streamID}
	var kind string
	err = s.exec.QueryRow(ctx, sql, args...).Scan(&kind, &snap.Version, &snap.Data, &snap.TakenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshots: load %s: %w", streamID, err)
	}
	snap.AggregateType = events.AggregateType(kind)
	return snap, true, nil
}

// Save stores snap unless a snapshot at the same or a later version exists.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	if err := s.schema.EnsureSnapshots(ctx, s.exec); err != nil {
		return fmt.Errorf("snapshots: save %s: %w", snap.StreamID, err)
	}

	sql, args, err := psql.Insert(schema.SnapshotsTable).
		Columns("stream_id", "aggregate_type", "version", "data").
		Values(snap.StreamID, string(snap.AggregateType), snap.Version, snap.Data).
		Suffix(`ON CONFLICT (stream_id) DO UPDATE SET
			aggregate_type = EXCLUDED.aggregate_type,
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			taken_at = now()
		WHERE purr_snapshots.version < EXCLUDED.version`).
		ToSql()
	if err != nil {
		return fmt.Errorf("snapshots: save %s: build sql: %w", snap.StreamID, err)
	}

	if _, err := s.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("snapshots: save %s: %w", snap.StreamID, err)
	}
	return nil
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-process Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// Load returns the latest snapshot of streamID.
func (m *MemoryStore) Load(_ context.Context, streamID string) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[streamID]
	return snap, ok, nil
}

// Save keeps snap when it is newer than the stored one.
func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.snaps[snap.StreamID]; ok && cur.Version >= snap.Version {
		return nil
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	m.snaps[snap.StreamID] = snap
	return nil
}
