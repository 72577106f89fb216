// Package targets opens ORM handles over a purr store's connection pool so
// projections can write relational read models next to the event log, and
// provides position-guarded upserts that make re-applied records no-ops.
package targets

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ripkitten-co/purr"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// OpenBun returns a bun.DB sharing the store's pgx pool. Closing it does not
// close the store.
func OpenBun(s *purr.Store) *bun.DB {
	return bun.NewDB(stdlib.OpenDBFromPool(s.PgxPool()), pgdialect.New())
}

// BunUpsertAt inserts model, or overwrites the row conflicting on key when
// the stored positionColumn is lower than the model's. It reports whether a
// row was written.
func BunUpsertAt(ctx context.Context, db bun.IDB, model any, key, positionColumn string) (bool, error) {
	res, err := bunUpsertQuery(db, model, key, positionColumn).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("targets: upsert %T: %w", model, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("targets: upsert %T: rows affected: %w", model, err)
	}
	return n > 0, nil
}

func bunUpsertQuery(db bun.IDB, model any, key, positionColumn string) *bun.InsertQuery {
	return db.NewInsert().
		Model(model).
		On("CONFLICT (?) DO UPDATE", bun.Ident(key)).
		Where("?TableAlias.? < EXCLUDED.?", bun.Ident(positionColumn), bun.Ident(positionColumn))
}
