//go:build integration

package redischeckpoint_test

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/ripkitten-co/purr/checkpoints/redischeckpoint"
	"github.com/ripkitten-co/purr/internal/testutil"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: testutil.SetupRedis(t)})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestStore_RoundTripAndMonotonic(t *testing.T) {
	ctx := context.Background()
	s := redischeckpoint.New(setupRedis(t), "test")

	if _, ok, err := s.GetLastCheckpoint(ctx, "order_views"); err != nil || ok {
		t.Fatalf("initial load: ok=%v err=%v", ok, err)
	}

	for _, pos := range []int64{10, 30, 20} {
		if err := s.SetLastCheckpoint(ctx, "order_views", pos); err != nil {
			t.Fatalf("save %d: %v", pos, err)
		}
	}

	pos, ok, err := s.GetLastCheckpoint(ctx, "order_views")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if pos != 30 {
		t.Errorf("position = %d, want 30", pos)
	}

	if err := s.Reset(ctx, "order_views"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, err := s.GetLastCheckpoint(ctx, "order_views"); err != nil || ok {
		t.Errorf("after reset: ok=%v err=%v", ok, err)
	}
}
