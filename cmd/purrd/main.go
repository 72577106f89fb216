// Command purrd runs the shop projections against a purr event log until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ripkitten-co/purr"
	"github.com/ripkitten-co/purr/checkpoints/dynamocheckpoint"
	"github.com/ripkitten-co/purr/checkpoints/redischeckpoint"
	"github.com/ripkitten-co/purr/documents"
	"github.com/ripkitten-co/purr/events"
	"github.com/ripkitten-co/purr/projections"
	"github.com/ripkitten-co/purr/relay"
	"github.com/ripkitten-co/purr/snapshots"
	"github.com/ripkitten-co/purr/targets"
	"golang.org/x/sync/errgroup"
)

func main() {
	reset := flag.String("reset", "", "comma-separated projections to rebuild from the beginning of the log")
	seed := flag.Int("seed", 0, "append this many demo orders before starting")
	customer := flag.String("customer", "", "print the customer's most recent orders from order_views and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *reset, *seed, *customer); err != nil {
		fmt.Fprintln(os.Stderr, "purrd:", err)
		os.Exit(1)
	}
}

// checkpointBackend is a checkpoint store that can also rewind a projection.
type checkpointBackend interface {
	projections.CheckpointStore
	Reset(ctx context.Context, name string) error
}

func run(ctx context.Context, reset string, seed int, customer string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	tel, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	store, err := purr.New(ctx, cfg.DatabaseURL, purr.WithMaxConns(cfg.MaxConns))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	checkpoints, closeCheckpoints, err := openCheckpoints(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeCheckpoints()

	log := events.New(store)
	reg := newRegistry()

	gdb, err := targets.OpenGorm(store, nil)
	if err != nil {
		return err
	}
	target := &shop{
		orders: documents.Collection[orderView](store, "order_views"),
		bun:    targets.OpenBun(store),
		gorm:   gdb,
	}
	defer target.bun.Close()

	withRelay := cfg.KafkaBrokers != ""
	if withRelay {
		w := relay.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer w.Close()
		target.relay = relay.NewPublisher(w, "", logger)
	} else {
		logger.Warn("order relay disabled (no kafka brokers configured)")
	}

	if err := target.migrate(ctx); err != nil {
		return err
	}
	if err := target.orders.EnsureIndex(ctx, "customer_id"); err != nil {
		return err
	}

	if customer != "" {
		orders, err := target.customerOrders(ctx, customer, 20)
		if err != nil {
			return err
		}
		return printOrders(os.Stdout, orders)
	}

	defs := shopDefinitions(withRelay)
	if reset != "" {
		if err := rebuild(ctx, logger, checkpoints, target, defs, reset); err != nil {
			return err
		}
	}
	if seed > 0 {
		if err := seedOrders(ctx, log, reg, seed); err != nil {
			return err
		}
		logger.Info("seeded demo orders", "count", seed)
	}

	snap := snapshots.New(log, snapshots.NewPostgresStore(store), reg, orderKinds(cfg.SnapshotEvery),
		snapshots.WithLogger(logger))

	opts := []projections.Option{
		projections.WithLogger(logger),
		projections.WithVerbose(cfg.Verbose),
		projections.WithPollingInterval(cfg.PollingInterval),
		projections.WithMaxLiveQueueSize(cfg.MaxLiveQueue),
		projections.WithReadBatchSize(cfg.ReadBatchSize),
		projections.WithMaxRestarts(cfg.MaxRestarts),
		projections.WithSnapshotters(snap),
		projections.WithTracerProvider(tel.tracer),
		projections.WithMeterProvider(tel.meter),
	}
	mgr, err := projections.NewManager(log, reg, projections.Static(target), checkpoints, defs, opts...)
	if err != nil {
		return err
	}

	logger.Info("purrd starting", "projections", mgr.Names(), "checkpoints", cfg.CheckpointStore)
	err = mgr.Activate(ctx)
	logger.Info("purrd stopped")
	return err
}

func openCheckpoints(ctx context.Context, cfg config, store *purr.Store) (checkpointBackend, func(), error) {
	switch cfg.CheckpointStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return redischeckpoint.New(rdb, ""), func() { _ = rdb.Close() }, nil

	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		if err := dynamocheckpoint.CreateTable(ctx, client, cfg.DynamoTable); err != nil {
			return nil, nil, err
		}
		return &dynamocheckpoint.Store{Client: client, Table: cfg.DynamoTable}, func() {}, nil
	}
	return projections.NewCheckpointStore(store), func() {}, nil
}

// rebuild rewinds the named projections and empties their read models so
// the next activation replays the whole log into them.
func rebuild(ctx context.Context, logger *slog.Logger, checkpoints checkpointBackend, target *shop, defs []projections.ProjectionDefinition[*shop], names string) error {
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Name()] = true
	}

	var selected []string
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !known[name] {
			return fmt.Errorf("reset: unknown projection %q", name)
		}
		selected = append(selected, name)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range selected {
		g.Go(func() error {
			if err := target.truncate(gctx, name); err != nil {
				return fmt.Errorf("reset %s: %w", name, err)
			}
			if err := checkpoints.Reset(gctx, name); err != nil {
				return fmt.Errorf("reset %s: %w", name, err)
			}
			logger.Info("projection reset", "projection", name)
			return nil
		})
	}
	return g.Wait()
}

func seedOrders(ctx context.Context, log *events.Store, reg *events.Registry, n int) error {
	customers := []string{"ada", "grace", "linus", "barbara"}
	for range n {
		id := "order-" + uuid.NewString()
		evts := []any{OrderPlaced{
			CustomerID: customers[rand.IntN(len(customers))],
			Total:      float64(rand.IntN(10000)) / 100,
		}}
		switch rand.IntN(4) {
		case 0:
			evts = append(evts, OrderCancelled{Reason: "changed mind"})
		case 1, 2:
			evts = append(evts, OrderPaid{})
		}

		recs := make([]events.Record, 0, len(evts))
		for _, evt := range evts {
			rec, err := reg.NewRecord(evt, events.Metadata{AggregateType: orderKind, AggregateID: id})
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		if err := log.Append(ctx, id, 0, recs); err != nil && !errors.Is(err, purr.ErrStreamExists) {
			return err
		}
	}
	return nil
}
