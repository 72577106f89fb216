package codecs

import jsoniter "github.com/json-iterator/go"

// JSONIterCodec encodes with json-iterator in standard-library compatible mode.
type JSONIterCodec struct {
	api jsoniter.API
}

// NewJSONIter returns a codec that behaves like encoding/json, including
// map key ordering, so stored payloads stay byte-stable across restarts.
func NewJSONIter() *JSONIterCodec {
	return &JSONIterCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

func (c *JSONIterCodec) Marshal(v any) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c *JSONIterCodec) Unmarshal(data []byte, v any) error {
	return c.api.Unmarshal(data, v)
}

// Valid reports whether data is well-formed JSON.
func (c *JSONIterCodec) Valid(data []byte) bool {
	return c.api.Valid(data)
}
