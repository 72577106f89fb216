package events

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/ripkitten-co/purr/internal/codecs"
)

var (
	// ErrUnknownEventType is returned when a record's type has no registration.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrDeserialize is returned when a payload does not match its registered type.
	ErrDeserialize = errors.New("deserialize")
)

type decodeFunc func(codecs.Codec, []byte) (any, error)

// Registry maps record type names to Go event types. It is the event
// deserializer handed to projection drivers: Deserialize returns a value of
// the registered type, not a pointer to it, so projector dispatch can match
// on the concrete type.
type Registry struct {
	codec codecs.Codec

	mu       sync.RWMutex
	decoders map[string]decodeFunc
	names    map[reflect.Type]string
}

// NewRegistry returns an empty registry. A nil codec selects json-iterator.
func NewRegistry(codec codecs.Codec) *Registry {
	if codec == nil {
		codec = codecs.NewJSONIter()
	}
	return &Registry{
		codec:    codec,
		decoders: make(map[string]decodeFunc),
		names:    make(map[reflect.Type]string),
	}
}

// Register binds the record type name to the Go type E. Registering the same
// name twice replaces the earlier binding.
func Register[E any](r *Registry, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.decoders[name] = func(c codecs.Codec, data []byte) (any, error) {
		var evt E
		if err := c.Unmarshal(data, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	}
	r.names[reflect.TypeFor[E]()] = name
}

// Deserialize decodes rec's payload into its registered Go type.
func (r *Registry) Deserialize(rec Record) (any, error) {
	r.mu.RLock()
	decode, ok := r.decoders[rec.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("events: %w: %s at position %d: %w",
			ErrDeserialize, rec.Type, rec.GlobalPosition, ErrUnknownEventType)
	}

	evt, err := decode(r.codec, rec.Data)
	if err != nil {
		return nil, fmt.Errorf("events: %w: %s at position %d: %w",
			ErrDeserialize, rec.Type, rec.GlobalPosition, err)
	}
	return evt, nil
}

// TypeName returns the registered name for the dynamic type of evt.
func (r *Registry) TypeName(evt any) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.names[reflect.TypeOf(evt)]
	return name, ok
}

// NewRecord serializes evt and md into a record ready for Append.
func (r *Registry) NewRecord(evt any, md Metadata) (Record, error) {
	name, ok := r.TypeName(evt)
	if !ok {
		return Record{}, fmt.Errorf("events: new record %T: %w", evt, ErrUnknownEventType)
	}

	data, err := r.codec.Marshal(evt)
	if err != nil {
		return Record{}, fmt.Errorf("events: new record %s: marshal: %w", name, err)
	}

	meta, err := md.Encode()
	if err != nil {
		return Record{}, err
	}

	return Record{Type: name, Data: data, Metadata: meta}, nil
}
