package projections

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// Projector applies envelopes to a target of type C. Project is called for
// one envelope at a time, in log order.
type Projector[C any] interface {
	Project(ctx context.Context, target C, env Envelope[any]) error
}

// ProjectionDefinition names a projection and builds its projector. The name
// is the checkpoint key, so it must be unique and stable across releases.
type ProjectionDefinition[C any] interface {
	Name() string
	Build() Projector[C]
}

type applyFunc[C any] func(ctx context.Context, target C, env Envelope[any]) error

// Definition is a ProjectionDefinition assembled from typed handlers
// registered with On.
type Definition[C any] struct {
	name     string
	handlers map[reflect.Type]applyFunc[C]
}

// NewDefinition creates an empty definition with the given projection name.
func NewDefinition[C any](name string) *Definition[C] {
	return &Definition[C]{
		name:     name,
		handlers: make(map[reflect.Type]applyFunc[C]),
	}
}

// On registers fn for events of type E. Registering E twice replaces the
// earlier handler. Returns the definition for chaining.
func On[E, C any](d *Definition[C], fn func(ctx context.Context, target C, env Envelope[E]) error) *Definition[C] {
	d.handlers[reflect.TypeFor[E]()] = func(ctx context.Context, target C, env Envelope[any]) error {
		typed, _ := As[E](env)
		return fn(ctx, target, typed)
	}
	return d
}

// Name returns the projection name.
func (d *Definition[C]) Name() string {
	return d.name
}

// EventTypes returns the Go types this definition handles, sorted by name.
func (d *Definition[C]) EventTypes() []reflect.Type {
	types := make([]reflect.Type, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].String() < types[j].String() })
	return types
}

// Build returns a projector over a snapshot of the handlers registered so far.
// Later calls to On do not affect projectors already built.
func (d *Definition[C]) Build() Projector[C] {
	handlers := make(map[reflect.Type]applyFunc[C], len(d.handlers))
	for t, fn := range d.handlers {
		handlers[t] = fn
	}
	return &projector[C]{name: d.name, handlers: handlers}
}

type projector[C any] struct {
	name     string
	handlers map[reflect.Type]applyFunc[C]
}

// Project dispatches on the dynamic type of env.Event. Events without a
// handler are skipped.
func (p *projector[C]) Project(ctx context.Context, target C, env Envelope[any]) error {
	fn, ok := p.handlers[reflect.TypeOf(env.Event)]
	if !ok {
		return nil
	}
	if err := fn(ctx, target, env); err != nil {
		return fmt.Errorf("projection %s: apply %T at %d: %w", p.name, env.Event, env.Position, err)
	}
	return nil
}
