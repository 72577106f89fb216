package purr

import (
	"github.com/ripkitten-co/purr/internal/codecs"
	"github.com/ripkitten-co/purr/internal/pg"
	"github.com/ripkitten-co/purr/schema"
)

// Backend is what the event log, checkpoint, snapshot and document stores
// need from a Store. Tests can satisfy it without a live pool.
type Backend interface {
	DBExecutor() pg.Executor
	JSONCodec() codecs.Codec
	SchemaBootstrap() *schema.Bootstrap
}

var _ Backend = (*Store)(nil)
