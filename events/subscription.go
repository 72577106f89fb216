package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DropReason describes why a subscription ended.
type DropReason int

const (
	DropUnknown DropReason = iota
	DropUserInitiated
	DropSubscribingError
	DropServerError
	DropConnectionClosed
	DropCatchUpError
	DropProcessingQueueOverflow
	DropEventHandlerException
	DropNotAuthenticated
	DropAccessDenied
	DropMaxSubscribersReached
)

var dropReasonNames = map[DropReason]string{
	DropUnknown:                 "Unknown",
	DropUserInitiated:           "UserInitiated",
	DropSubscribingError:        "SubscribingError",
	DropServerError:             "ServerError",
	DropConnectionClosed:        "ConnectionClosed",
	DropCatchUpError:            "CatchUpError",
	DropProcessingQueueOverflow: "ProcessingQueueOverflow",
	DropEventHandlerException:   "EventHandlerException",
	DropNotAuthenticated:        "NotAuthenticated",
	DropAccessDenied:            "AccessDenied",
	DropMaxSubscribersReached:   "MaxSubscribersReached",
}

func (r DropReason) String() string {
	if name, ok := dropReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("DropReason(%d)", int(r))
}

const (
	DefaultMaxLiveQueueSize = 10000
	DefaultReadBatchSize    = 500
	DefaultPollInterval     = time.Second
)

// SubscriptionSettings tunes a catch-up subscription. Zero values select the
// defaults.
type SubscriptionSettings struct {
	Name             string
	MaxLiveQueueSize int
	ReadBatchSize    int
	PollInterval     time.Duration
	// Verbose logs every page read at debug level.
	Verbose bool
	// ResolveLinkTos must be false: the log has no link records.
	ResolveLinkTos bool
	Logger         *slog.Logger
}

func (s SubscriptionSettings) withDefaults() SubscriptionSettings {
	if s.MaxLiveQueueSize <= 0 {
		s.MaxLiveQueueSize = DefaultMaxLiveQueueSize
	}
	if s.ReadBatchSize <= 0 {
		s.ReadBatchSize = DefaultReadBatchSize
	}
	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

// Handlers receive subscription callbacks. OnRecord is called for one record
// at a time, in log order, and a returned error drops the subscription with
// DropEventHandlerException. OnDropped is called exactly once.
type Handlers struct {
	OnRecord  func(ctx context.Context, rec Record) error
	OnLive    func()
	OnDropped func(reason DropReason, err error)
}

// Subscription is a running catch-up subscription.
type Subscription interface {
	Name() string
	// Stop ends the subscription with DropUserInitiated. It does not wait for
	// the record in flight; use Done for that.
	Stop()
	// Done is closed after OnDropped has returned.
	Done() <-chan struct{}
}

// Source is what the catch-up engine reads from.
type Source interface {
	ReadAll(ctx context.Context, after int64, limit int) ([]Record, error)
	Listen(ctx context.Context) (<-chan struct{}, error)
}

// Subscribe starts a catch-up subscription over src delivering records after
// the given position. The backlog is paged in ReadBatchSize batches; once a
// short page is read OnLive fires and the subscription tails new records,
// buffering at most MaxLiveQueueSize of them.
func Subscribe(ctx context.Context, src Source, after int64, settings SubscriptionSettings, h Handlers) (Subscription, error) {
	if h.OnRecord == nil {
		return nil, fmt.Errorf("events: subscribe %s: OnRecord handler is required", settings.Name)
	}
	if settings.ResolveLinkTos {
		return nil, fmt.Errorf("events: subscribe %s: link resolution is not supported", settings.Name)
	}
	settings = settings.withDefaults()

	subCtx, cancel := context.WithCancel(ctx)
	notify, err := src.Listen(subCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("events: subscribe %s: %w", settings.Name, err)
	}

	s := &catchUp{
		src:      src,
		settings: settings,
		handlers: h,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(subCtx, after, notify)
	return s, nil
}

type dropError struct {
	reason DropReason
	err    error
}

func (e *dropError) Error() string { return e.reason.String() + ": " + e.err.Error() }
func (e *dropError) Unwrap() error { return e.err }

type queued struct {
	rec  Record
	live bool
}

type catchUp struct {
	src      Source
	settings SubscriptionSettings
	handlers Handlers

	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  atomic.Bool
	done     chan struct{}
}

func (s *catchUp) Name() string { return s.settings.Name }

func (s *catchUp) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
	})
}

func (s *catchUp) Done() <-chan struct{} { return s.done }

func (s *catchUp) run(ctx context.Context, after int64, notify <-chan struct{}) {
	defer close(s.done)

	queue := make(chan queued, s.settings.MaxLiveQueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		return s.read(gctx, after, notify, queue)
	})
	g.Go(func() error {
		return s.dispatch(gctx, queue)
	})

	err := g.Wait()
	cancelled := ctx.Err() != nil
	s.cancel()

	reason := DropUserInitiated
	var de *dropError
	switch {
	case errors.As(err, &de):
		reason, err = de.reason, de.err
	case s.stopped.Load(), cancelled:
		err = nil
	case err == nil:
		// both goroutines returned without cause; treat as a lost log connection
		reason, err = DropConnectionClosed, errors.New("subscription ended unexpectedly")
	default:
		reason = DropUnknown
	}

	if s.handlers.OnDropped != nil {
		s.handlers.OnDropped(reason, err)
	}
}

func (s *catchUp) read(ctx context.Context, after int64, notify <-chan struct{}, queue chan<- queued) error {
	pos := after
	batch := s.settings.ReadBatchSize

	for first := true; ; first = false {
		recs, err := s.src.ReadAll(ctx, pos, batch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if first {
				return &dropError{DropSubscribingError, err}
			}
			return &dropError{DropCatchUpError, err}
		}
		s.trace("catch-up page read", pos, len(recs))

		for _, rec := range recs {
			select {
			case queue <- queued{rec: rec}:
			case <-ctx.Done():
				return ctx.Err()
			}
			pos = rec.GlobalPosition
		}
		if len(recs) < batch {
			break
		}
	}

	select {
	case queue <- queued{live: true}:
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(s.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-notify:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &dropError{DropConnectionClosed, errors.New("log notification channel closed")}
			}
		case <-ticker.C:
		}

		for {
			recs, err := s.src.ReadAll(ctx, pos, batch)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &dropError{DropServerError, err}
			}
			s.trace("live page read", pos, len(recs))

			for _, rec := range recs {
				select {
				case queue <- queued{rec: rec}:
				default:
					return &dropError{DropProcessingQueueOverflow,
						fmt.Errorf("live queue full at %d records, position %d", cap(queue), rec.GlobalPosition)}
				}
				pos = rec.GlobalPosition
			}
			if len(recs) < batch {
				break
			}
		}
	}
}

func (s *catchUp) dispatch(ctx context.Context, queue <-chan queued) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-queue:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if item.live {
				if s.handlers.OnLive != nil {
					s.handlers.OnLive()
				}
				continue
			}
			if err := s.handlers.OnRecord(ctx, item.rec); err != nil {
				return &dropError{DropEventHandlerException, err}
			}
		}
	}
}

func (s *catchUp) trace(msg string, after int64, n int) {
	if !s.settings.Verbose {
		return
	}
	s.settings.Logger.Debug(msg, "subscription", s.settings.Name, "after", after, "records", n)
}
