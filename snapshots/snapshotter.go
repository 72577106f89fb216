package snapshots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ripkitten-co/purr"
	"github.com/ripkitten-co/purr/events"
	"github.com/ripkitten-co/purr/internal/codecs"
)

// TakenType is the record type of the marker appended after each snapshot.
const TakenType = "SnapshotTaken"

// Taken marks that a snapshot of StreamID was stored at Version.
type Taken struct {
	StreamID      string               `json:"stream_id"`
	AggregateType events.AggregateType `json:"aggregate_type"`
	Version       int                  `json:"version"`
}

// StreamLog is the part of the event log a snapshotter reads and writes.
// Both events.Store and events.MemoryLog satisfy it.
type StreamLog interface {
	ReadStream(ctx context.Context, streamID string, fromVersion int) ([]events.Record, error)
	Append(ctx context.Context, streamID string, expectedVersion int, recs []events.Record) error
}

// Kind describes how to snapshot one aggregate type.
type Kind[S any] struct {
	// Policy decides which applied records trigger a snapshot.
	Policy Policy
	// Fold applies one deserialized event to the state.
	Fold func(state S, evt any) (S, error)
}

// Kinds is the static aggregate-type table a snapshotter consults.
type Kinds[S any] map[events.AggregateType]Kind[S]

// Option configures a Snapshotter.
type Option func(*options)

type options struct {
	logger *slog.Logger
	codec  codecs.Codec
}

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCodec sets the codec used for snapshot state. Defaults to json-iterator.
func WithCodec(c codecs.Codec) Option {
	return func(o *options) { o.codec = c }
}

// Snapshotter folds aggregate streams of the kinds in its table into state S.
type Snapshotter[S any] struct {
	log    StreamLog
	store  Store
	reg    *events.Registry
	kinds  Kinds[S]
	codec  codecs.Codec
	logger *slog.Logger
}

// New returns a snapshotter over kinds. It registers Taken with reg so
// projection drivers sharing the registry can deserialize the markers.
func New[S any](log StreamLog, store Store, reg *events.Registry, kinds Kinds[S], opts ...Option) *Snapshotter[S] {
	o := options{logger: slog.Default(), codec: codecs.NewJSONIter()}
	for _, opt := range opts {
		opt(&o)
	}
	events.Register[Taken](reg, TakenType)

	return &Snapshotter[S]{
		log:    log,
		store:  store,
		reg:    reg,
		kinds:  kinds,
		codec:  o.codec,
		logger: o.logger.With("component", "snapshotter"),
	}
}

// ShouldTakeSnapshot reports whether kind is in the table and its policy
// matches rec.
func (s *Snapshotter[S]) ShouldTakeSnapshot(kind events.AggregateType, rec events.Record) bool {
	k, ok := s.kinds[kind]
	if !ok || k.Policy == nil {
		return false
	}
	return k.Policy(rec)
}

// MarkerStream names the stream holding the marker for a snapshot of
// streamID at version. One stream per snapshot keeps a retaken snapshot from
// appending a second marker.
func MarkerStream(streamID string, version int) string {
	return fmt.Sprintf("snapshot-%s-%d", streamID, version)
}

// Take folds the records appended to streamID since the stored snapshot and
// saves the result, then appends a Taken marker. A stream with nothing new
// is left alone.
func (s *Snapshotter[S]) Take(ctx context.Context, streamID string) error {
	prev, ok, err := s.store.Load(ctx, streamID)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", streamID, err)
	}

	var state S
	from := 1
	kind := prev.AggregateType
	if ok {
		if err := s.codec.Unmarshal(prev.Data, &state); err != nil {
			return fmt.Errorf("snapshot %s: decode state: %w", streamID, err)
		}
		from = prev.Version + 1
	}

	recs, err := s.log.ReadStream(ctx, streamID, from)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", streamID, err)
	}

	version := prev.Version
	for _, rec := range recs {
		if rec.IsSystem() {
			continue
		}
		md, err := events.ParseMetadata(rec.Metadata)
		if err != nil {
			return fmt.Errorf("snapshot %s: version %d: %w", streamID, rec.Version, err)
		}
		if md.IsSnapshot {
			continue
		}
		if kind == "" {
			kind = md.AggregateType
		}

		k, ok := s.kinds[kind]
		if !ok {
			return fmt.Errorf("snapshot %s: aggregate type %q: %w", streamID, kind, ErrUnknownKind)
		}

		evt, err := s.reg.Deserialize(rec)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", streamID, err)
		}
		state, err = k.Fold(state, evt)
		if err != nil {
			return fmt.Errorf("snapshot %s: fold version %d: %w", streamID, rec.Version, err)
		}
		version = rec.Version
	}

	if version == prev.Version {
		return nil
	}

	data, err := s.codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("snapshot %s: encode state: %w", streamID, err)
	}
	if err := s.store.Save(ctx, Snapshot{StreamID: streamID, AggregateType: kind, Version: version, Data: data}); err != nil {
		return fmt.Errorf("snapshot %s: %w", streamID, err)
	}

	return s.mark(ctx, streamID, kind, version)
}

func (s *Snapshotter[S]) mark(ctx context.Context, streamID string, kind events.AggregateType, version int) error {
	rec, err := s.reg.NewRecord(Taken{StreamID: streamID, AggregateType: kind, Version: version}, events.Metadata{
		AggregateType: kind,
		AggregateID:   streamID,
		IsSnapshot:    true,
	})
	if err != nil {
		return fmt.Errorf("snapshot %s: marker: %w", streamID, err)
	}

	err = s.log.Append(ctx, MarkerStream(streamID, version), 0, []events.Record{rec})
	if errors.Is(err, purr.ErrStreamExists) {
		s.logger.Debug("snapshot marker already written", "stream", streamID, "version", version)
		return nil
	}
	if err != nil {
		return fmt.Errorf("snapshot %s: marker: %w", streamID, err)
	}
	s.logger.Info("snapshot taken", "stream", streamID, "aggregate_type", string(kind), "version", version)
	return nil
}

// Load returns the latest stored state of streamID and the version it
// reflects. It returns purr.ErrNotFound when no snapshot exists.
func (s *Snapshotter[S]) Load(ctx context.Context, streamID string) (S, int, error) {
	var state S
	snap, ok, err := s.store.Load(ctx, streamID)
	if err != nil {
		return state, 0, fmt.Errorf("snapshot %s: %w", streamID, err)
	}
	if !ok {
		return state, 0, fmt.Errorf("snapshot %s: %w", streamID, purr.ErrNotFound)
	}
	if err := s.codec.Unmarshal(snap.Data, &state); err != nil {
		return state, 0, fmt.Errorf("snapshot %s: decode state: %w", streamID, err)
	}
	return state, snap.Version, nil
}

// ErrUnknownKind is returned when a stream's aggregate type has no entry in
// the kinds table.
var ErrUnknownKind = errors.New("unknown aggregate kind")
