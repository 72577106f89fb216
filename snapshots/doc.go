// Package snapshots provides a projections.Snapshotter that folds an
// aggregate stream into compacted state and stores it in purr_snapshots.
//
// Aggregate kinds are registered in a static Kinds table keyed by the
// events.AggregateType tag carried in record metadata. After saving a
// snapshot the snapshotter appends a Taken record flagged IsSnapshot, which
// projection drivers never use to trigger another snapshot.
package snapshots
