package projections

import (
	"context"

	"github.com/ripkitten-co/purr/events"
)

// LogConnection opens catch-up subscriptions on the global log. Both
// *events.Store and *events.MemoryLog satisfy it.
type LogConnection interface {
	SubscribeFrom(ctx context.Context, after int64, settings events.SubscriptionSettings, h events.Handlers) (events.Subscription, error)
}

// Deserializer turns a record's payload into a domain event value.
// *events.Registry satisfies it.
type Deserializer interface {
	Deserialize(rec events.Record) (any, error)
}

// TargetFactory returns the handle a projector applies to. It is called once
// per record, so pooling and lifetime of the handle belong to the factory.
type TargetFactory[C any] func(ctx context.Context) (C, error)

// Static returns a factory that hands out the same target every time, for
// targets that are safe to share such as a pool or a document collection.
func Static[C any](target C) TargetFactory[C] {
	return func(context.Context) (C, error) { return target, nil }
}

var (
	_ LogConnection = (*events.Store)(nil)
	_ LogConnection = (*events.MemoryLog)(nil)
	_ Deserializer  = (*events.Registry)(nil)
)
