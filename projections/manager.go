package projections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns a set of projections and runs one Driver per projection.
// Drivers share the log connection, deserializer, target factory, checkpoint
// store and snapshotters, but never each other's state: a failing projection
// does not stop the others.
type Manager[C any] struct {
	drivers []*Driver[C]
	byName  map[string]*Driver[C]
	logger  *slog.Logger
}

// NewManager validates the definitions and builds a driver for each. Names
// must be non-empty and unique since they key the checkpoint store.
func NewManager[C any](log LogConnection, deser Deserializer, factory TargetFactory[C], checkpoints CheckpointStore, defs []ProjectionDefinition[C], opts ...Option) (*Manager[C], error) {
	if err := checkCollaborators(log, deser, factory, checkpoints); err != nil {
		return nil, err
	}

	cfg := newConfig(opts)
	tel, err := newTelemetry(cfg.tracerProvider, cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("projections: telemetry: %w", err)
	}

	m := &Manager[C]{
		byName: make(map[string]*Driver[C], len(defs)),
		logger: cfg.logger,
	}
	for _, def := range defs {
		name := def.Name()
		if name == "" {
			return nil, errors.New("projections: definition has an empty name")
		}
		if _, ok := m.byName[name]; ok {
			return nil, fmt.Errorf("projections: %q: %w", name, ErrDuplicateProjection)
		}
		d := newDriver(def, log, deser, factory, checkpoints, cfg, tel)
		m.drivers = append(m.drivers, d)
		m.byName[name] = d
	}
	return m, nil
}

// Activate runs every projection concurrently and blocks until all of them
// have stopped. Cancelling ctx stops every projection as a user-initiated
// stop. The returned error joins the errors of projections that halted.
func (m *Manager[C]) Activate(ctx context.Context) error {
	m.logger.Info("activating projections", "count", len(m.drivers))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, d := range m.drivers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	if err != nil {
		m.logger.Error("projections terminated", "failed", len(errs), "error", err)
	} else {
		m.logger.Info("projections terminated")
	}
	return err
}

// Stop requests a user-initiated stop of every projection.
func (m *Manager[C]) Stop() {
	for _, d := range m.drivers {
		d.Stop()
	}
}

// Driver returns the driver for the named projection.
func (m *Manager[C]) Driver(name string) (*Driver[C], bool) {
	d, ok := m.byName[name]
	return d, ok
}

// Names returns the projection names in registration order.
func (m *Manager[C]) Names() []string {
	names := make([]string, len(m.drivers))
	for i, d := range m.drivers {
		names[i] = d.name
	}
	return names
}
