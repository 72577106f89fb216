package snapshots

import (
	"slices"

	"github.com/ripkitten-co/purr/events"
)

// Policy decides whether the record just applied should trigger a snapshot.
// Policies must be pure.
type Policy func(rec events.Record) bool

// EveryN triggers on every nth version of a stream.
func EveryN(n int) Policy {
	return func(rec events.Record) bool {
		return n > 0 && rec.Version > 0 && rec.Version%n == 0
	}
}

// OnEventTypes triggers on records of the given types.
func OnEventTypes(types ...string) Policy {
	types = slices.Clone(types)
	return func(rec events.Record) bool {
		return slices.Contains(types, rec.Type)
	}
}

// Any triggers when at least one of policies does.
func Any(policies ...Policy) Policy {
	return func(rec events.Record) bool {
		for _, p := range policies {
			if p(rec) {
				return true
			}
		}
		return false
	}
}
