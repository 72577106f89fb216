package projections

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ripkitten-co/purr/events"
)

const waitTimeout = 5 * time.Second

// tb is the subset of testing.TB that *rapid.T also provides.
type tb interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

type itemAdded struct {
	N int `json:"n"`
}

type itemRemoved struct {
	N int `json:"n"`
}

// readModel records every position applied to it and flags overlapping
// applies.
type readModel struct {
	mu       sync.Mutex
	seen     []int64
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (m *readModel) observe(pos int64) {
	if m.inflight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inflight.Add(-1)

	time.Sleep(50 * time.Microsecond)

	m.mu.Lock()
	m.seen = append(m.seen, pos)
	m.mu.Unlock()
}

func (m *readModel) positions() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.seen...)
}

func countingDefinition(name string) *Definition[*readModel] {
	d := NewDefinition[*readModel](name)
	On(d, func(_ context.Context, m *readModel, env Envelope[itemAdded]) error {
		m.observe(env.Position)
		return nil
	})
	return d
}

// recordingCheckpoints remembers every checkpoint write in order.
type recordingCheckpoints struct {
	*MemoryCheckpointStore
	mu     sync.Mutex
	writes []int64
}

func newRecordingCheckpoints() *recordingCheckpoints {
	return &recordingCheckpoints{MemoryCheckpointStore: NewMemoryCheckpointStore()}
}

func (r *recordingCheckpoints) SetLastCheckpoint(ctx context.Context, name string, pos int64) error {
	r.mu.Lock()
	r.writes = append(r.writes, pos)
	r.mu.Unlock()
	return r.MemoryCheckpointStore.SetLastCheckpoint(ctx, name, pos)
}

func (r *recordingCheckpoints) written() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.writes...)
}

type fixture struct {
	log   *events.MemoryLog
	reg   *events.Registry
	cps   *recordingCheckpoints
	model *readModel
}

func newFixture() *fixture {
	reg := events.NewRegistry(nil)
	events.Register[itemAdded](reg, "ItemAdded")
	events.Register[itemRemoved](reg, "ItemRemoved")
	return &fixture{
		log:   events.NewMemoryLog(),
		reg:   reg,
		cps:   newRecordingCheckpoints(),
		model: &readModel{},
	}
}

func (f *fixture) factory(context.Context) (*readModel, error) {
	return f.model, nil
}

// appendAt appends one ItemAdded record per position to stream.
func (f *fixture) appendAt(t tb, stream string, positions ...int64) {
	t.Helper()
	recs := make([]events.Record, len(positions))
	for i, pos := range positions {
		recs[i] = events.Record{Type: "ItemAdded", Data: []byte(`{"n":1}`), GlobalPosition: pos}
	}
	f.appendRecords(t, stream, recs...)
}

func (f *fixture) appendRecords(t tb, stream string, recs ...events.Record) {
	t.Helper()
	existing, err := f.log.ReadStream(context.Background(), stream, 1)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if err := f.log.Append(context.Background(), stream, len(existing), recs); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithPollingInterval(5 * time.Millisecond),
		WithRestartBackoff(time.Millisecond, 5*time.Millisecond),
	}, extra...)
}

func (f *fixture) driver(t tb, def ProjectionDefinition[*readModel], opts ...Option) *Driver[*readModel] {
	t.Helper()
	d, err := NewDriver(def, f.log, f.reg, f.factory, f.cps, testOptions(opts...)...)
	if err != nil {
		t.Fatalf("new driver: %v", err)
	}
	return d
}

func start(d interface{ Run(context.Context) error }) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- d.Run(context.Background()) }()
	return errc
}

func waitErr(t tb, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for Run to return")
		return nil
	}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func checkpointIs(cps CheckpointStore, name string, want int64) func() bool {
	return func() bool {
		pos, ok, err := cps.GetLastCheckpoint(context.Background(), name)
		return err == nil && ok && pos == want
	}
}

// droppingLog drops every subscription straight away with a fixed reason.
type droppingLog struct {
	reason     events.DropReason
	subscribes atomic.Int32
}

var errDropped = errors.New("dropped by test log")

func (l *droppingLog) SubscribeFrom(_ context.Context, _ int64, _ events.SubscriptionSettings, h events.Handlers) (events.Subscription, error) {
	l.subscribes.Add(1)
	sub := &stubSubscription{done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		h.OnDropped(l.reason, errDropped)
	}()
	return sub, nil
}

type stubSubscription struct {
	done chan struct{}
}

func (s *stubSubscription) Name() string          { return "stub" }
func (s *stubSubscription) Stop()                 {}
func (s *stubSubscription) Done() <-chan struct{} { return s.done }
