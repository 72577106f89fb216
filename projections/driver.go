package projections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ripkitten-co/purr/events"
)

// statusRecorder is implemented by checkpoint stores that also track a
// projection status column.
type statusRecorder interface {
	SetStatus(ctx context.Context, name, status string) error
}

// Driver runs one projection's subscription: it resumes from the stored
// checkpoint, applies every record in order and reacts to subscription drops.
// A Driver is single-use: once it reaches StateStopped it never runs again.
type Driver[C any] struct {
	name        string
	log         LogConnection
	deser       Deserializer
	factory     TargetFactory[C]
	projector   Projector[C]
	checkpoints CheckpointStore
	cfg         config
	tel         *telemetry
	logger      *slog.Logger

	state    atomic.Int32
	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

// NewDriver builds a standalone driver for def. Most callers use a Manager,
// which builds one driver per definition.
func NewDriver[C any](def ProjectionDefinition[C], log LogConnection, deser Deserializer, factory TargetFactory[C], checkpoints CheckpointStore, opts ...Option) (*Driver[C], error) {
	if err := checkCollaborators(log, deser, factory, checkpoints); err != nil {
		return nil, err
	}
	if def.Name() == "" {
		return nil, errors.New("projections: definition has an empty name")
	}
	cfg := newConfig(opts)
	tel, err := newTelemetry(cfg.tracerProvider, cfg.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("projection %s: telemetry: %w", def.Name(), err)
	}
	return newDriver(def, log, deser, factory, checkpoints, cfg, tel), nil
}

func newDriver[C any](def ProjectionDefinition[C], log LogConnection, deser Deserializer, factory TargetFactory[C], checkpoints CheckpointStore, cfg config, tel *telemetry) *Driver[C] {
	return &Driver[C]{
		name:        def.Name(),
		log:         log,
		deser:       deser,
		factory:     factory,
		projector:   def.Build(),
		checkpoints: checkpoints,
		cfg:         cfg,
		tel:         tel,
		logger:      cfg.logger.With("projection", def.Name()),
		stop:        make(chan struct{}),
	}
}

func checkCollaborators[C any](log LogConnection, deser Deserializer, factory TargetFactory[C], checkpoints CheckpointStore) error {
	switch {
	case log == nil:
		return errors.New("projections: log connection is required")
	case deser == nil:
		return errors.New("projections: deserializer is required")
	case factory == nil:
		return errors.New("projections: target factory is required")
	case checkpoints == nil:
		return errors.New("projections: checkpoint store is required")
	}
	return nil
}

// Name returns the projection name.
func (d *Driver[C]) Name() string { return d.name }

// State returns the current lifecycle phase.
func (d *Driver[C]) State() State { return State(d.state.Load()) }

func (d *Driver[C]) setState(s State) { d.state.Store(int32(s)) }

// Stop requests a user-initiated stop. The record in flight, if any, is
// applied and checkpointed before Run returns.
func (d *Driver[C]) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Driver[C]) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

// Run drives the projection until it stops for good. It returns nil after a
// user-initiated stop (Stop or ctx cancellation), an error wrapping
// ErrFatalDrop or ErrRestartLimit when the projection halts, and
// ErrDriverStopped when called after the driver already stopped.
func (d *Driver[C]) Run(ctx context.Context) error {
	if d.State() == StateStopped {
		return fmt.Errorf("projection %s: %w", d.name, ErrDriverStopped)
	}
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("projection %s: %w", d.name, ErrDriverRunning)
	}
	defer d.running.Store(false)

	bo := d.cfg.newBackOff()
	restarts := 0

	for {
		d.setState(StateInitializing)
		s := d.runSession(ctx)

		class := classifyDrop(s.reason)
		// a transient drop while stopping ends the run; a fatal one still halts
		if class == dropTransient && d.stopping(ctx) {
			class = dropUser
		}

		cause := s.err
		if cause == nil {
			cause = errors.New("no error reported")
		}

		switch class {
		case dropUser:
			d.setState(StateStopped)
			d.logger.Info("projection stopped", "applied", s.applied)
			return nil

		case dropFatal:
			d.halt()
			d.logger.Error("projection halted", "reason", s.reason.String(), "error", cause)
			return fmt.Errorf("projection %s: %w: %s: %w", d.name, ErrFatalDrop, s.reason, cause)
		}

		if s.applied > 0 {
			bo.Reset()
			restarts = 0
		}
		restarts++
		if d.cfg.maxRestarts > 0 && restarts > d.cfg.maxRestarts {
			d.halt()
			d.logger.Error("projection halted", "reason", s.reason.String(), "error", cause, "restarts", restarts-1)
			return fmt.Errorf("projection %s: %w after %d attempts: %s: %w", d.name, ErrRestartLimit, restarts-1, s.reason, cause)
		}
		d.tel.restarted(ctx, d.name, s.reason)

		wait := bo.NextBackOff()
		d.setState(StateRestarting)
		d.logger.Error("projection dropped, restarting",
			"reason", s.reason.String(), "error", cause, "attempt", restarts, "backoff", wait)

		if !d.sleep(ctx, wait) {
			d.setState(StateStopped)
			d.logger.Info("projection stopped while restarting")
			return nil
		}
	}
}

func (d *Driver[C]) halt() {
	d.setState(StateStopped)
	d.recordStatus(StatusFailed)
}

func (d *Driver[C]) recordStatus(status string) {
	sr, ok := d.checkpoints.(statusRecorder)
	if !ok {
		return
	}
	if err := sr.SetStatus(context.Background(), d.name, status); err != nil {
		d.logger.Warn("record projection status", "status", status, "error", err)
	}
}

func (d *Driver[C]) sleep(ctx context.Context, wait time.Duration) bool {
	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-d.stop:
		return false
	}
}

type session struct {
	reason  events.DropReason
	err     error
	applied int64
}

func (d *Driver[C]) settings() events.SubscriptionSettings {
	return events.SubscriptionSettings{
		Name:             d.name,
		MaxLiveQueueSize: d.cfg.maxLiveQueueSize,
		ReadBatchSize:    d.cfg.readBatchSize,
		PollInterval:     d.cfg.pollingInterval,
		Verbose:          d.cfg.verbose,
		ResolveLinkTos:   false,
		Logger:           d.logger,
	}
}

// runSession performs one subscribe-until-drop cycle from the stored checkpoint.
func (d *Driver[C]) runSession(ctx context.Context) session {
	if d.stopping(ctx) {
		return session{reason: events.DropUserInitiated}
	}

	pos, ok, err := d.checkpoints.GetLastCheckpoint(ctx, d.name)
	if err != nil {
		return session{reason: events.DropSubscribingError, err: fmt.Errorf("load checkpoint: %w", err)}
	}
	after := events.Beginning
	if ok {
		after = pos
	}

	var applied atomic.Int64
	drops := make(chan session, 1)

	d.setState(StateCatchingUp)
	sub, err := d.log.SubscribeFrom(ctx, after, d.settings(), events.Handlers{
		OnRecord: func(ctx context.Context, rec events.Record) error {
			done, err := d.handle(ctx, rec)
			if done {
				applied.Add(1)
			}
			return err
		},
		OnLive: func() {
			d.setState(StateLive)
			d.logger.Info("projection live", "applied", applied.Load())
			d.recordStatus(StatusRunning)
		},
		OnDropped: func(reason events.DropReason, err error) {
			drops <- session{reason: reason, err: err}
		},
	})
	if err != nil {
		return session{reason: events.DropSubscribingError, err: err}
	}
	d.logger.Info("projection subscribed", "after", after, "checkpoint", ok)

	var s session
	select {
	case s = <-drops:
	case <-d.stop:
		sub.Stop()
		s = <-drops
	}
	sub.Stop()
	<-sub.Done()

	s.applied = applied.Load()
	return s
}

// handle applies one delivered record. It reports whether the record was
// applied and checkpointed; system records are skipped.
func (d *Driver[C]) handle(ctx context.Context, rec events.Record) (bool, error) {
	if rec.IsSystem() {
		return false, nil
	}
	// an apply that has started runs to completion even during shutdown
	ctx = context.WithoutCancel(ctx)

	evt, err := d.deser.Deserialize(rec)
	if err != nil {
		return false, fmt.Errorf("projection %s: %w", d.name, err)
	}
	env := NewEnvelope(evt, rec)

	ctx, span := d.tel.startApply(ctx, d.name, rec)
	defer span.End()

	start := time.Now()
	if err := d.apply(ctx, env); err != nil {
		failSpan(span, err)
		return false, err
	}
	d.tel.applied(ctx, d.name, time.Since(start))

	if err := d.checkpoints.SetLastCheckpoint(ctx, d.name, rec.GlobalPosition); err != nil {
		err = fmt.Errorf("projection %s: checkpoint %d: %w", d.name, rec.GlobalPosition, err)
		failSpan(span, err)
		return false, err
	}

	if d.cfg.verbose {
		d.logger.Debug("record applied", "position", rec.GlobalPosition, "type", rec.Type, "stream", rec.StreamID)
	}

	d.snapshot(ctx, rec)
	return true, nil
}

func (d *Driver[C]) apply(ctx context.Context, env Envelope[any]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("projection %s: panic applying position %d: %v", d.name, env.Position, r)
		}
	}()

	target, err := d.factory(ctx)
	if err != nil {
		return fmt.Errorf("projection %s: acquire target: %w", d.name, err)
	}
	return d.projector.Project(ctx, target, env)
}

func (d *Driver[C]) snapshot(ctx context.Context, rec events.Record) {
	if len(d.cfg.snapshotters) == 0 {
		return
	}

	md, err := events.ParseMetadata(rec.Metadata)
	if err != nil {
		d.logger.Warn("skip snapshot check", "position", rec.GlobalPosition, "error", err)
		return
	}

	s := SelectSnapshotter(d.cfg.snapshotters, md, rec)
	if s == nil {
		return
	}
	if err := s.Take(ctx, rec.StreamID); err != nil {
		d.logger.Error("take snapshot", "stream", rec.StreamID, "position", rec.GlobalPosition, "error", err)
		return
	}
	d.tel.snapshotTaken(ctx, d.name, md.AggregateType)
}
