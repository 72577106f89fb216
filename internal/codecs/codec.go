package codecs

// Codec marshals and unmarshals event payloads, metadata, snapshots and
// read-model documents.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
