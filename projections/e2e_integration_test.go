//go:build integration

package projections_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ripkitten-co/purr"
	"github.com/ripkitten-co/purr/documents"
	"github.com/ripkitten-co/purr/events"
	"github.com/ripkitten-co/purr/projections"
	"github.com/ripkitten-co/purr/snapshots"
)

type orderPlaced struct {
	Total float64 `json:"total"`
}

type orderPaid struct{}

type orderView struct {
	ID       string  `purr:"id" json:"id"`
	Status   string  `json:"status"`
	Total    float64 `json:"total"`
	Position int64   `purr:"position" json:"position"`
}

type readModels struct {
	orders *documents.CollectionOf[orderView]
	paid   *documents.CollectionOf[orderView]
}

func orderDefinitions() []projections.ProjectionDefinition[*readModels] {
	all := projections.NewDefinition[*readModels]("order_views")
	projections.On(all, func(ctx context.Context, m *readModels, env projections.Envelope[orderPlaced]) error {
		_, err := m.orders.Upsert(ctx, &orderView{ID: env.StreamID, Status: "placed", Total: env.Event.Total}, env.Position)
		return err
	})
	projections.On(all, func(ctx context.Context, m *readModels, env projections.Envelope[orderPaid]) error {
		doc, _, err := m.orders.Load(ctx, env.StreamID)
		if err != nil {
			return err
		}
		doc.Status = "paid"
		_, err = m.orders.Upsert(ctx, doc, env.Position)
		return err
	})

	paid := projections.NewDefinition[*readModels]("paid_orders")
	projections.On(paid, func(ctx context.Context, m *readModels, env projections.Envelope[orderPaid]) error {
		_, err := m.paid.Upsert(ctx, &orderView{ID: env.StreamID, Status: "paid"}, env.Position)
		return err
	})

	return []projections.ProjectionDefinition[*readModels]{all, paid}
}

func appendOrder(t *testing.T, log *events.Store, reg *events.Registry, id string, expected int, evts ...any) {
	t.Helper()
	var recs []events.Record
	for _, evt := range evts {
		rec, err := reg.NewRecord(evt, events.Metadata{AggregateType: "order", AggregateID: id})
		if err != nil {
			t.Fatalf("new record: %v", err)
		}
		recs = append(recs, rec)
	}
	if err := log.Append(context.Background(), id, expected, recs); err != nil {
		t.Fatalf("append %s: %v", id, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestE2E_ManagerOverEventStore(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := events.New(store)
	reg := events.NewRegistry(nil)
	events.Register[orderPlaced](reg, "OrderPlaced")
	events.Register[orderPaid](reg, "OrderPaid")

	snap := snapshots.New(log, snapshots.NewPostgresStore(store), reg, snapshots.Kinds[orderView]{
		"order": {
			Policy: snapshots.OnEventTypes("OrderPaid"),
			Fold: func(v orderView, evt any) (orderView, error) {
				switch e := evt.(type) {
				case orderPlaced:
					v.Status, v.Total = "placed", e.Total
				case orderPaid:
					v.Status = "paid"
				}
				return v, nil
			},
		},
	})

	models := &readModels{
		orders: documents.Collection[orderView](store, "e2e_orders"),
		paid:   documents.Collection[orderView](store, "e2e_paid"),
	}
	checkpoints := projections.NewCheckpointStore(store)

	mgr, err := projections.NewManager(log, reg, projections.Static(models), checkpoints, orderDefinitions(),
		projections.WithPollingInterval(50*time.Millisecond),
		projections.WithSnapshotters(snap),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	// history written before activation is caught up
	appendOrder(t, log, reg, "order-1", 0, orderPlaced{Total: 12.5}, orderPaid{})

	done := make(chan error, 1)
	go func() { done <- mgr.Activate(ctx) }()

	waitFor(t, "order-1 paid", func() bool {
		doc, _, err := models.orders.Load(ctx, "order-1")
		return err == nil && doc.Status == "paid"
	})
	waitFor(t, "order-1 snapshot marker", func() bool {
		recs, err := log.ReadStream(ctx, snapshots.MarkerStream("order-1", 2), 0)
		return err == nil && len(recs) == 1
	})

	state, version, err := snap.Load(ctx, "order-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if state.Status != "paid" || state.Total != 12.5 || version != 2 {
		t.Errorf("snapshot = %+v at version %d", state, version)
	}

	// later appends arrive live
	appendOrder(t, log, reg, "order-2", 0, orderPlaced{Total: 3})
	waitFor(t, "order-2 placed", func() bool {
		_, _, err := models.orders.Load(ctx, "order-2")
		return err == nil
	})

	recs, err := log.ReadAll(ctx, events.Beginning, 100)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	last := recs[len(recs)-1].GlobalPosition
	for _, name := range mgr.Names() {
		waitFor(t, "checkpoint "+name, func() bool {
			pos, _, err := checkpoints.GetLastCheckpoint(ctx, name)
			return err == nil && pos == last
		})
	}

	if _, _, err := models.paid.Load(ctx, "order-2"); !errors.Is(err, purr.ErrNotFound) {
		t.Errorf("order-2 should not be in paid_orders, got %v", err)
	}
	if doc, _, err := models.paid.Load(ctx, "order-1"); err != nil || doc.Status != "paid" {
		t.Errorf("paid_orders order-1 = %+v, %v", doc, err)
	}

	mgr.Stop()
	if err := <-done; err != nil {
		t.Fatalf("activate: %v", err)
	}

	for _, name := range mgr.Names() {
		d, _ := mgr.Driver(name)
		if d.State() != projections.StateStopped {
			t.Errorf("%s state = %s, want stopped", name, d.State())
		}
	}
}

func TestE2E_ResumeFromCheckpoint(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	log := events.New(store)
	reg := events.NewRegistry(nil)
	events.Register[orderPlaced](reg, "OrderPlaced")
	events.Register[orderPaid](reg, "OrderPaid")

	models := &readModels{
		orders: documents.Collection[orderView](store, "resume_orders"),
		paid:   documents.Collection[orderView](store, "resume_paid"),
	}
	checkpoints := projections.NewCheckpointStore(store)

	appendOrder(t, log, reg, "order-1", 0, orderPlaced{Total: 1})
	appendOrder(t, log, reg, "order-2", 0, orderPlaced{Total: 2})

	all, err := log.ReadAll(ctx, events.Beginning, 10)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	// order-1 counts as already projected
	if err := checkpoints.SetLastCheckpoint(ctx, "order_views", all[0].GlobalPosition); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	defs := orderDefinitions()[:1]
	d, err := projections.NewDriver(defs[0], log, reg, projections.Static(models), checkpoints,
		projections.WithPollingInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, "order-2", func() bool {
		_, _, err := models.orders.Load(ctx, "order-2")
		return err == nil
	})
	d.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, _, err := models.orders.Load(ctx, "order-1"); !errors.Is(err, purr.ErrNotFound) {
		t.Errorf("order-1 was before the checkpoint and should not be projected, got %v", err)
	}
}

func TestE2E_EmptyLogGoesLiveWithoutCheckpoint(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	log := events.New(store)
	reg := events.NewRegistry(nil)
	events.Register[orderPlaced](reg, "OrderPlaced")

	models := &readModels{
		orders: documents.Collection[orderView](store, "empty_orders"),
		paid:   documents.Collection[orderView](store, "empty_paid"),
	}
	checkpoints := projections.NewCheckpointStore(store)

	d, err := projections.NewDriver(orderDefinitions()[0], log, reg, projections.Static(models), checkpoints,
		projections.WithPollingInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, "live", func() bool { return d.State() == projections.StateLive })
	waitFor(t, "running status", func() bool {
		status, err := checkpoints.Status(ctx, "order_views")
		return err == nil && status == projections.StatusRunning
	})
	d.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if pos, ok, err := checkpoints.GetLastCheckpoint(ctx, "order_views"); err != nil || ok {
		t.Errorf("got checkpoint %d ok=%v err=%v, want none", pos, ok, err)
	}
}
