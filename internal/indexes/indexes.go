// Package indexes builds DDL for expression indexes on document collections.
package indexes

import (
	"fmt"

	"github.com/ripkitten-co/purr/schema"
)

// Name returns the index name for a JSON field of a collection.
func Name(collection, field string) string {
	return fmt.Sprintf("idx_purr_%s_%s", collection, field)
}

// BtreeDDL returns the statement creating a btree index on data->>field.
// Both names are validated as identifiers since they are spliced into SQL.
func BtreeDDL(collection, field string) (string, error) {
	if err := schema.ValidateCollectionName(collection); err != nil {
		return "", err
	}
	if err := schema.ValidateCollectionName(field); err != nil {
		return "", fmt.Errorf("indexes: field: %w", err)
	}
	return fmt.Sprintf(
		"CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s ((data->>'%s'))",
		Name(collection, field), schema.CollectionTable(collection), field,
	), nil
}
