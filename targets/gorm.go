package targets

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/ripkitten-co/purr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpenGorm returns a gorm.DB sharing the store's pgx pool.
func OpenGorm(s *purr.Store, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(s.PgxPool())}), cfg)
	if err != nil {
		return nil, fmt.Errorf("targets: open gorm: %w", err)
	}
	return db, nil
}

// GormUpsertAt is BunUpsertAt for gorm models.
func GormUpsertAt(ctx context.Context, db *gorm.DB, model any, key, positionColumn string) (bool, error) {
	res := gormUpsert(db.WithContext(ctx), key, positionColumn).Create(model)
	if res.Error != nil {
		return false, fmt.Errorf("targets: upsert %T: %w", model, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func gormUpsert(db *gorm.DB, key, positionColumn string) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: key}},
		UpdateAll: true,
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lt{
				Column: clause.Column{Table: clause.CurrentTable, Name: positionColumn},
				Value:  clause.Column{Table: "excluded", Name: positionColumn},
			},
		}},
	})
}
