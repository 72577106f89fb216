package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ripkitten-co/purr"
	"github.com/ripkitten-co/purr/documents"
	"github.com/ripkitten-co/purr/events"
	"github.com/ripkitten-co/purr/projections"
	"github.com/ripkitten-co/purr/relay"
	"github.com/ripkitten-co/purr/snapshots"
	"github.com/ripkitten-co/purr/targets"
	"github.com/uptrace/bun"
	"gorm.io/gorm"
)

const orderKind events.AggregateType = "order"

type OrderPlaced struct {
	CustomerID string  `json:"customer_id"`
	Total      float64 `json:"total"`
}

type OrderPaid struct{}

type OrderCancelled struct {
	Reason string `json:"reason"`
}

func newRegistry() *events.Registry {
	reg := events.NewRegistry(nil)
	events.Register[OrderPlaced](reg, "OrderPlaced")
	events.Register[OrderPaid](reg, "OrderPaid")
	events.Register[OrderCancelled](reg, "OrderCancelled")
	return reg
}

// orderView is the document read model behind order_views.
type orderView struct {
	ID         string  `purr:"id" json:"id"`
	CustomerID string  `json:"customer_id"`
	Status     string  `json:"status"`
	Total      float64 `json:"total"`
	Position   int64   `purr:"position" json:"position"`
}

type customerTotal struct {
	bun.BaseModel `bun:"table:customer_totals"`
	CustomerID    string  `bun:"customer_id,pk"`
	Orders        int     `bun:"orders,notnull"`
	Spent         float64 `bun:"spent,notnull"`
	Position      int64   `bun:"position,notnull"`
}

type dailyRevenue struct {
	Day      string `gorm:"primaryKey"`
	Orders   int
	Revenue  float64
	Position int64
}

func (dailyRevenue) TableName() string { return "daily_revenue" }

// shop is the target every shop projection applies to.
type shop struct {
	orders *documents.CollectionOf[orderView]
	bun    *bun.DB
	gorm   *gorm.DB
	relay  *relay.Publisher
}

func (s *shop) migrate(ctx context.Context) error {
	if _, err := s.bun.NewCreateTable().Model((*customerTotal)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("migrate customer_totals: %w", err)
	}
	if err := s.gorm.WithContext(ctx).AutoMigrate(&dailyRevenue{}); err != nil {
		return fmt.Errorf("migrate daily_revenue: %w", err)
	}
	return nil
}

// customerOrders returns the customer's orders, most recently changed first.
func (s *shop) customerOrders(ctx context.Context, customerID string, limit uint64) ([]*orderView, error) {
	orders, err := s.orders.Where("customer_id", "=", customerID).
		OrderBy("last_position", documents.Desc).
		Limit(limit).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("orders of %s: %w", customerID, err)
	}
	return orders, nil
}

func printOrders(w io.Writer, orders []*orderView) error {
	for _, o := range orders {
		if _, err := fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\n", o.ID, o.Status, o.Total, o.Position); err != nil {
			return err
		}
	}
	return nil
}

// truncate empties the read model owned by the named projection.
func (s *shop) truncate(ctx context.Context, name string) error {
	switch name {
	case "order_views":
		return s.orders.Truncate(ctx)
	case "customer_totals":
		_, err := s.bun.NewTruncateTable().Model((*customerTotal)(nil)).Exec(ctx)
		return err
	case "daily_revenue":
		return s.gorm.WithContext(ctx).Exec("TRUNCATE daily_revenue").Error
	case "order_relay":
		return nil
	}
	return fmt.Errorf("unknown projection %q", name)
}

func shopDefinitions(withRelay bool) []projections.ProjectionDefinition[*shop] {
	defs := []projections.ProjectionDefinition[*shop]{
		orderViews(),
		customerTotals(),
		dailyRevenues(),
	}
	if withRelay {
		relayed := projections.NewDefinition[*shop]("order_relay")
		pick := func(s *shop) *relay.Publisher { return s.relay }
		relay.Forward[OrderPlaced](relayed, pick)
		relay.Forward[OrderPaid](relayed, pick)
		relay.Forward[OrderCancelled](relayed, pick)
		defs = append(defs, relayed)
	}
	return defs
}

func orderViews() *projections.Definition[*shop] {
	d := projections.NewDefinition[*shop]("order_views")
	projections.On(d, func(ctx context.Context, s *shop, env projections.Envelope[OrderPlaced]) error {
		_, err := s.orders.Upsert(ctx, &orderView{
			ID:         env.StreamID,
			CustomerID: env.Event.CustomerID,
			Status:     "placed",
			Total:      env.Event.Total,
		}, env.Position)
		return err
	})
	projections.On(d, func(ctx context.Context, s *shop, env projections.Envelope[OrderPaid]) error {
		doc, _, err := s.orders.Load(ctx, env.StreamID)
		if errors.Is(err, purr.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		doc.Status = "paid"
		_, err = s.orders.Upsert(ctx, doc, env.Position)
		return err
	})
	projections.On(d, func(ctx context.Context, s *shop, env projections.Envelope[OrderCancelled]) error {
		return s.orders.Delete(ctx, env.StreamID, env.Position)
	})
	return d
}

func customerTotals() *projections.Definition[*shop] {
	d := projections.NewDefinition[*shop]("customer_totals")
	projections.On(d, func(ctx context.Context, s *shop, env projections.Envelope[OrderPlaced]) error {
		row := customerTotal{CustomerID: env.Event.CustomerID}
		err := s.bun.NewSelect().Model(&row).WherePK().Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if row.Position >= env.Position {
			return nil
		}
		row.Orders++
		row.Spent += env.Event.Total
		row.Position = env.Position
		_, err = targets.BunUpsertAt(ctx, s.bun, &row, "customer_id", "position")
		return err
	})
	return d
}

func dailyRevenues() *projections.Definition[*shop] {
	d := projections.NewDefinition[*shop]("daily_revenue")
	projections.On(d, func(ctx context.Context, s *shop, env projections.Envelope[OrderPlaced]) error {
		day := env.Record.CreatedAt.UTC().Format(time.DateOnly)
		row := dailyRevenue{Day: day}
		err := s.gorm.WithContext(ctx).Where("day = ?", day).Take(&row).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if row.Position >= env.Position {
			return nil
		}
		row.Orders++
		row.Revenue += env.Event.Total
		row.Position = env.Position
		_, err = targets.GormUpsertAt(ctx, s.gorm, &row, "day", "position")
		return err
	})
	return d
}

// orderState is the snapshot state of one order stream.
type orderState struct {
	CustomerID string  `json:"customer_id"`
	Status     string  `json:"status"`
	Total      float64 `json:"total"`
}

func foldOrder(s orderState, evt any) (orderState, error) {
	switch e := evt.(type) {
	case OrderPlaced:
		s.CustomerID, s.Total, s.Status = e.CustomerID, e.Total, "placed"
	case OrderPaid:
		s.Status = "paid"
	case OrderCancelled:
		s.Status = "cancelled"
	default:
		return s, fmt.Errorf("order: unexpected event %T", evt)
	}
	return s, nil
}

func orderKinds(every int) snapshots.Kinds[orderState] {
	return snapshots.Kinds[orderState]{
		orderKind: {
			Policy: snapshots.Any(snapshots.EveryN(every), snapshots.OnEventTypes("OrderCancelled")),
			Fold:   foldOrder,
		},
	}
}
