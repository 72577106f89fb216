package purr

import "github.com/ripkitten-co/purr/internal/codecs"

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	codec    codecs.Codec
	maxConns int32
	minConns int32
}

func defaultConfig() *storeConfig {
	return &storeConfig{
		codec:    codecs.NewJSONIter(),
		maxConns: 10,
		minConns: 1,
	}
}

// WithCodec replaces the json-iterator codec document collections use.
func WithCodec(c codecs.Codec) Option {
	return func(cfg *storeConfig) {
		cfg.codec = c
	}
}

// WithMaxConns bounds the pool. Each running projection holds at most one
// connection while applying, plus one LISTEN connection per subscription.
func WithMaxConns(n int32) Option {
	return func(cfg *storeConfig) {
		if n > 0 {
			cfg.maxConns = n
		}
	}
}

// WithMinConns keeps at least n idle connections in the pool.
func WithMinConns(n int32) Option {
	return func(cfg *storeConfig) {
		if n >= 0 {
			cfg.minConns = n
		}
	}
}
