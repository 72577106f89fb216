package projections

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/ripkitten-co/purr"
	"github.com/ripkitten-co/purr/internal/pg"
	"github.com/ripkitten-co/purr/schema"
)

// CheckpointStore maps a projection name to the last log position the
// projection has fully applied. Implementations never move a stored
// checkpoint backwards: a write lower than the stored value is ignored.
type CheckpointStore interface {
	// GetLastCheckpoint returns the stored position, or ok=false when the
	// projection has never checkpointed.
	GetLastCheckpoint(ctx context.Context, name string) (pos int64, ok bool, err error)
	SetLastCheckpoint(ctx context.Context, name string, pos int64) error
}

// Checkpoint statuses stored alongside the position.
const (
	StatusRunning    = "running"
	StatusRebuilding = "rebuilding"
	StatusFailed     = "failed"
)

// PostgresCheckpointStore keeps checkpoints in the purr_projection_checkpoints
// table, one row per projection.
type PostgresCheckpointStore struct {
	exec   pg.Executor
	schema *schema.Bootstrap
}

var _ CheckpointStore = (*PostgresCheckpointStore)(nil)

// NewCheckpointStore creates a checkpoint store backed by the given purr backend.
func NewCheckpointStore(b purr.Backend) *PostgresCheckpointStore {
	return &PostgresCheckpointStore{
		exec:   b.DBExecutor(),
		schema: b.SchemaBootstrap(),
	}
}

func (cs *PostgresCheckpointStore) ensure(ctx context.Context) error {
	return cs.schema.EnsureProjectionCheckpoints(ctx, cs.exec)
}

// GetLastCheckpoint returns the last persisted position for the named
// projection. A row that only carries a status has no position yet.
func (cs *PostgresCheckpointStore) GetLastCheckpoint(ctx context.Context, name string) (int64, bool, error) {
	if err := cs.ensure(ctx); err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	var position *int64
	err := cs.exec.QueryRow(ctx,
		`SELECT last_position FROM purr_projection_checkpoints WHERE projection_name = $1`,
		name,
	).Scan(&position)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: load: %w", name, err)
	}
	if position == nil {
		return 0, false, nil
	}
	return *position, true, nil
}

// SetLastCheckpoint upserts the checkpoint position. The update only applies
// when it does not lower the stored position.
func (cs *PostgresCheckpointStore) SetLastCheckpoint(ctx context.Context, name string, position int64) error {
	if err := cs.ensure(ctx); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO purr_projection_checkpoints (projection_name, last_position, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (projection_name) DO UPDATE SET last_position = EXCLUDED.last_position, updated_at = now()
		 WHERE purr_projection_checkpoints.last_position IS NULL
		    OR purr_projection_checkpoints.last_position <= EXCLUDED.last_position`,
		name, position,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: save: %w", name, err)
	}
	return nil
}

// Status returns the status column for the named projection, or
// StatusRunning when no row exists.
func (cs *PostgresCheckpointStore) Status(ctx context.Context, name string) (string, error) {
	if err := cs.ensure(ctx); err != nil {
		return "", fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	var status string
	err := cs.exec.QueryRow(ctx,
		`SELECT status FROM purr_projection_checkpoints WHERE projection_name = $1`,
		name,
	).Scan(&status)

	if errors.Is(err, pgx.ErrNoRows) {
		return StatusRunning, nil
	}
	if err != nil {
		return "", fmt.Errorf("checkpoint %s: status: %w", name, err)
	}
	return status, nil
}

// SetStatus updates the status column for the named projection. It never
// creates or changes a position.
func (cs *PostgresCheckpointStore) SetStatus(ctx context.Context, name string, status string) error {
	if err := cs.ensure(ctx); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO purr_projection_checkpoints (projection_name, last_position, status, updated_at)
		 VALUES ($1, NULL, $2, now())
		 ON CONFLICT (projection_name) DO UPDATE SET status = $2, updated_at = now()`,
		name, status,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: set status: %w", name, err)
	}
	return nil
}

// Reset clears the projection position and sets status 'rebuilding'. It is
// the only way to lower a stored checkpoint; the next activation finds no
// checkpoint and replays the whole log into the projection.
func (cs *PostgresCheckpointStore) Reset(ctx context.Context, name string) error {
	if err := cs.ensure(ctx); err != nil {
		return fmt.Errorf("checkpoint %s: ensure table: %w", name, err)
	}

	_, err := cs.exec.Exec(ctx,
		`INSERT INTO purr_projection_checkpoints (projection_name, last_position, status, updated_at)
		 VALUES ($1, NULL, 'rebuilding', now())
		 ON CONFLICT (projection_name) DO UPDATE SET last_position = NULL, status = 'rebuilding', updated_at = now()`,
		name,
	)
	if err != nil {
		return fmt.Errorf("checkpoint %s: reset: %w", name, err)
	}
	return nil
}
