package projections

import "github.com/ripkitten-co/purr/events"

// Envelope pairs a deserialized event with its position in the global log.
// Record is the raw record the event was decoded from.
type Envelope[E any] struct {
	Event    E
	Position int64
	StreamID string
	Record   events.Record
}

// NewEnvelope wraps a deserialized event with the record it came from.
func NewEnvelope(event any, rec events.Record) Envelope[any] {
	return Envelope[any]{
		Event:    event,
		Position: rec.GlobalPosition,
		StreamID: rec.StreamID,
		Record:   rec,
	}
}

// As narrows env to the concrete event type E. It reports false when the
// event is not an E.
func As[E any](env Envelope[any]) (Envelope[E], bool) {
	evt, ok := env.Event.(E)
	if !ok {
		return Envelope[E]{}, false
	}
	return Envelope[E]{Event: evt, Position: env.Position, StreamID: env.StreamID, Record: env.Record}, true
}
