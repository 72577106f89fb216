package documents

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Direction is a sort order for OrderBy.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

var knownColumns = map[string]bool{
	"id": true, "version": true, "last_position": true, "created_at": true, "updated_at": true,
}

func resolveField(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("query: empty field name")
	}
	if knownColumns[field] {
		return field, nil
	}
	for _, c := range field {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return "", fmt.Errorf("query: invalid field name %q", field)
		}
	}
	return fmt.Sprintf("data->>'%s'", field), nil
}

var allowedOps = map[string]bool{
	"=": true, "!=": true,
	">": true, "<": true,
	">=": true, "<=": true,
}

type condition struct {
	field string
	op    string
	value any
}

type orderByClause struct {
	field     string
	direction Direction
}

// Query reads documents matching conditions on top-level JSON fields or the
// bookkeeping columns. Queries are immutable; each builder call returns a copy.
type Query[T any] struct {
	col        *CollectionOf[T]
	table      string
	conditions []condition
	orderBys   []orderByClause
	limit      uint64
}

func (q *Query[T]) clone() *Query[T] {
	c := *q
	c.conditions = append([]condition(nil), q.conditions...)
	c.orderBys = append([]orderByClause(nil), q.orderBys...)
	return &c
}

// Query starts an unfiltered query over the collection.
func (c *CollectionOf[T]) Query() *Query[T] {
	return &Query[T]{col: c, table: c.table}
}

// Where starts a query with one field condition.
func (c *CollectionOf[T]) Where(field, op string, value any) *Query[T] {
	return c.Query().Where(field, op, value)
}

// Where adds a condition; conditions are ANDed.
func (q *Query[T]) Where(field, op string, value any) *Query[T] {
	c := q.clone()
	c.conditions = append(c.conditions, condition{field, op, value})
	return c
}

// OrderBy appends a sort key.
func (q *Query[T]) OrderBy(field string, dir Direction) *Query[T] {
	c := q.clone()
	c.orderBys = append(c.orderBys, orderByClause{field, dir})
	return c
}

// Limit caps the number of documents returned.
func (q *Query[T]) Limit(n uint64) *Query[T] {
	c := q.clone()
	c.limit = n
	return c
}

func (q *Query[T]) toSQL() (string, []any, error) {
	builder := psql.Select("data").From(q.table)

	for _, c := range q.conditions {
		if !allowedOps[c.op] {
			return "", nil, fmt.Errorf("query: unsupported operator %q", c.op)
		}
		field, err := resolveField(c.field)
		if err != nil {
			return "", nil, err
		}
		builder = builder.Where(sq.Expr(fmt.Sprintf("%s %s ?", field, c.op), c.value))
	}

	for _, o := range q.orderBys {
		field, err := resolveField(o.field)
		if err != nil {
			return "", nil, err
		}
		dir := strings.ToUpper(string(o.direction))
		if dir != string(Asc) && dir != string(Desc) {
			return "", nil, fmt.Errorf("query: invalid direction %q", o.direction)
		}
		builder = builder.OrderBy(field + " " + dir)
	}

	if q.limit > 0 {
		builder = builder.Limit(q.limit)
	}
	return builder.ToSql()
}

// Execute runs the query.
func (q *Query[T]) Execute(ctx context.Context) ([]*T, error) {
	if err := q.col.ensure(ctx); err != nil {
		return nil, err
	}

	sql, args, err := q.toSQL()
	if err != nil {
		return nil, err
	}

	rows, err := q.col.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: execute: %w", q.col.name, err)
	}
	defer rows.Close()

	var results []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("query %s: scan: %w", q.col.name, err)
		}

		var doc T
		if err := q.col.codec.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("query %s: unmarshal: %w", q.col.name, err)
		}
		results = append(results, &doc)
	}
	return results, rows.Err()
}
