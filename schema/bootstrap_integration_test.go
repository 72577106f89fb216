//go:build integration

package schema

import (
	"context"
	"testing"

	"github.com/ripkitten-co/purr/internal/pg"
	"github.com/ripkitten-co/purr/internal/testutil"
)

func setupSchemaTest(t *testing.T) (pg.Executor, context.Context) {
	t.Helper()
	connStr := testutil.SetupPostgres(t)
	ctx := context.Background()
	pool, err := pg.NewPool(ctx, connStr, pg.PoolConfig{})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool, ctx
}

func TestEnsureProjectionCheckpoints(t *testing.T) {
	exec, ctx := setupSchemaTest(t)
	b := New()

	if err := b.EnsureProjectionCheckpoints(ctx, exec); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !b.IsCreated(CheckpointsTable) {
		t.Fatal("table should be cached after creation")
	}
	// second call hits the cache path
	if err := b.EnsureProjectionCheckpoints(ctx, exec); err != nil {
		t.Fatalf("cached call: %v", err)
	}

	_, err := exec.Exec(ctx,
		`INSERT INTO purr_projection_checkpoints (projection_name, last_position) VALUES ($1, $2)`,
		"order_summaries", 42,
	)
	if err != nil {
		t.Fatalf("insert checkpoint row: %v", err)
	}

	var pos int64
	var status string
	err = exec.QueryRow(ctx,
		`SELECT last_position, status FROM purr_projection_checkpoints WHERE projection_name = $1`,
		"order_summaries",
	).Scan(&pos, &status)
	if err != nil {
		t.Fatalf("read checkpoint row: %v", err)
	}
	if pos != 42 || status != "running" {
		t.Errorf("got (%d, %q), want (42, running)", pos, status)
	}
}

func TestEnsureEvents_WithIndex(t *testing.T) {
	exec, ctx := setupSchemaTest(t)
	b := New()

	if err := b.EnsureEvents(ctx, exec); err != nil {
		t.Fatalf("ensure events: %v", err)
	}
	if err := b.EnsureEventsGlobalPositionIndex(ctx, exec); err != nil {
		t.Fatalf("ensure index: %v", err)
	}
	if !b.IsIndexCreated("idx_purr_events_global_position") {
		t.Error("index should be cached after creation")
	}
}

func TestEnsureSnapshotsAndCollection(t *testing.T) {
	exec, ctx := setupSchemaTest(t)
	b := New()

	if err := b.EnsureSnapshots(ctx, exec); err != nil {
		t.Fatalf("ensure snapshots: %v", err)
	}
	if err := b.EnsureCollection(ctx, exec, "order_summaries"); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}
	if err := b.EnsureCollection(ctx, exec, "bad-name"); err == nil {
		t.Error("expected invalid collection name to be rejected")
	}
}
