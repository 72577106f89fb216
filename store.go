package purr

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ripkitten-co/purr/internal/codecs"
	"github.com/ripkitten-co/purr/internal/pg"
	"github.com/ripkitten-co/purr/schema"
)

// Store is the main entry point for purr. It holds a PostgreSQL connection
// pool shared by the event log, checkpoint and snapshot stores, and the
// document collections projections write into.
type Store struct {
	pool   *pg.Pool
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// New connects to PostgreSQL and returns a configured Store.
func New(ctx context.Context, connString string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	pool, err := pg.NewPool(ctx, connString, pg.PoolConfig{
		MaxConns: cfg.maxConns,
		MinConns: cfg.minConns,
	})
	if err != nil {
		return nil, fmt.Errorf("purr: %w", err)
	}

	return &Store{
		pool:   pool,
		codec:  cfg.codec,
		schema: schema.New(),
	}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.PgxPool().Ping(ctx)
}

// DBExecutor returns the underlying database executor.
func (s *Store) DBExecutor() pg.Executor { return s.pool }

// JSONCodec returns the configured JSON codec.
func (s *Store) JSONCodec() codecs.Codec { return s.codec }

// SchemaBootstrap returns the schema bootstrap manager.
func (s *Store) SchemaBootstrap() *schema.Bootstrap { return s.schema }

// PgxPool returns the underlying pgxpool.Pool for LISTEN connections and
// database/sql adapters.
func (s *Store) PgxPool() *pgxpool.Pool { return s.pool.PgxPool() }
