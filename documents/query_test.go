package documents

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type orderView struct {
	ID     string `purr:"id"`
	Status string `json:"status"`
}

func newQuery() *Query[orderView] {
	return &Query[orderView]{table: "purr_order_views"}
}

func TestQuery_BuildsSQL(t *testing.T) {
	tests := []struct {
		name     string
		query    *Query[orderView]
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "equality on json field",
			query:    newQuery().Where("status", "=", "paid"),
			wantSQL:  "SELECT data FROM purr_order_views WHERE data->>'status' = $1",
			wantArgs: []any{"paid"},
		},
		{
			name:     "column comparison",
			query:    newQuery().Where("last_position", ">", int64(10)),
			wantSQL:  "SELECT data FROM purr_order_views WHERE last_position > $1",
			wantArgs: []any{int64(10)},
		},
		{
			name:     "order and limit",
			query:    newQuery().Where("status", "!=", "cancelled").OrderBy("updated_at", Desc).Limit(5),
			wantSQL:  "SELECT data FROM purr_order_views WHERE data->>'status' != $1 ORDER BY updated_at DESC LIMIT 5",
			wantArgs: []any{"cancelled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.query.toSQL()
			if err != nil {
				t.Fatalf("toSQL: %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("sql:\n got: %s\nwant: %s", sql, tt.wantSQL)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args (-want +got):\n%s", diff)
			}
		})
	}
}

func TestQuery_RejectsUnsafeInput(t *testing.T) {
	tests := []struct {
		name  string
		query *Query[orderView]
	}{
		{"operator", newQuery().Where("status", "LIKE", "%")},
		{"field", newQuery().Where("status' OR 1=1 --", "=", "x")},
		{"empty field", newQuery().Where("", "=", "x")},
		{"direction", newQuery().OrderBy("status", Direction("sideways"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := tt.query.toSQL(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestQuery_BuildersDoNotShareState(t *testing.T) {
	base := newQuery().Where("status", "=", "paid")
	_ = base.Where("id", "=", "order-1")

	sql, _, err := base.toSQL()
	if err != nil {
		t.Fatalf("toSQL: %v", err)
	}
	if sql != "SELECT data FROM purr_order_views WHERE data->>'status' = $1" {
		t.Errorf("base query changed: %s", sql)
	}
}
