package projections

import (
	"context"

	"github.com/ripkitten-co/purr/events"
)

// Snapshotter decides when an aggregate's state should be snapshotted and
// takes the snapshot.
type Snapshotter interface {
	// ShouldTakeSnapshot is a pure predicate over the aggregate kind and the
	// record just applied.
	ShouldTakeSnapshot(kind events.AggregateType, rec events.Record) bool
	// Take snapshots the stream. It may append a record flagged IsSnapshot.
	Take(ctx context.Context, streamID string) error
}

// SelectSnapshotter returns the first snapshotter, in configuration order,
// whose predicate matches rec. Records that are themselves snapshot markers
// never select one.
func SelectSnapshotter(snapshotters []Snapshotter, md events.Metadata, rec events.Record) Snapshotter {
	if md.IsSnapshot {
		return nil
	}
	for _, s := range snapshotters {
		if s.ShouldTakeSnapshot(md.AggregateType, rec) {
			return s
		}
	}
	return nil
}
