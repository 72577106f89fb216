package events

import (
	"fmt"

	"github.com/ripkitten-co/purr/internal/codecs"
)

var metadataCodec = codecs.NewJSONIter()

// AggregateType tags the kind of aggregate a record belongs to. Snapshot
// policies are looked up by this tag through a static table, never by
// resolving a runtime type name.
type AggregateType string

// Metadata is the side-channel JSON stored alongside a record's payload.
// IsSnapshot marks records written by a snapshotter; they must never trigger
// another snapshot.
type Metadata struct {
	AggregateType AggregateType `json:"aggregate_type,omitempty"`
	AggregateID   string        `json:"aggregate_id,omitempty"`
	IsSnapshot    bool          `json:"is_snapshot,omitempty"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	CausationID   string        `json:"causation_id,omitempty"`
}

// ParseMetadata decodes a record's metadata. Records without metadata yield
// the zero value.
func ParseMetadata(raw []byte) (Metadata, error) {
	var md Metadata
	if len(raw) == 0 || string(raw) == "null" {
		return md, nil
	}
	if err := metadataCodec.Unmarshal(raw, &md); err != nil {
		return Metadata{}, fmt.Errorf("events: parse metadata: %w", err)
	}
	return md, nil
}

// Encode returns the JSON form stored in the metadata column.
func (m Metadata) Encode() ([]byte, error) {
	data, err := metadataCodec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("events: encode metadata: %w", err)
	}
	return data, nil
}
