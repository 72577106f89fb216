package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ripkitten-co/purr"
)

// MemoryLog is an in-process global log with the same append, read and
// subscription semantics as Store.
type MemoryLog struct {
	mu        sync.RWMutex
	records   []Record
	versions  map[string]int
	listeners map[chan struct{}]struct{}
}

// NewMemoryLog returns an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		versions:  make(map[string]int),
		listeners: make(map[chan struct{}]struct{}),
	}
}

// Append writes records to a stream with the same optimistic concurrency rules
// as Store.Append. Records carrying a GlobalPosition keep it, provided it is
// beyond the current head, which lets tests and imports reproduce sparse
// positions; otherwise the next position is assigned.
func (m *MemoryLog) Append(_ context.Context, streamID string, expectedVersion int, recs []Record) error {
	if len(recs) == 0 {
		return fmt.Errorf("events: append %s: at least one record required", streamID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.versions[streamID]
	if expectedVersion == 0 && current > 0 {
		return fmt.Errorf("events: append %s: %w", streamID, purr.ErrStreamExists)
	}
	if expectedVersion > 0 && current != expectedVersion {
		return fmt.Errorf("events: append %s: expected version %d but got %d: %w",
			streamID, expectedVersion, current, purr.ErrConcurrencyConflict)
	}

	head := m.headLocked()
	staged := make([]Record, 0, len(recs))
	for i, rec := range recs {
		switch {
		case rec.GlobalPosition == 0:
			rec.GlobalPosition = head + 1
		case rec.GlobalPosition <= head:
			return fmt.Errorf("events: append %s: position %d is not after head %d", streamID, rec.GlobalPosition, head)
		}
		head = rec.GlobalPosition

		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.StreamID = streamID
		rec.Version = expectedVersion + i + 1
		rec.CreatedAt = time.Now().UTC()
		staged = append(staged, rec)
	}

	m.records = append(m.records, staged...)
	m.versions[streamID] = expectedVersion + len(recs)

	for ch := range m.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *MemoryLog) headLocked() int64 {
	if len(m.records) == 0 {
		return Beginning
	}
	return m.records[len(m.records)-1].GlobalPosition
}

// Head returns the position of the last record, or Beginning when empty.
func (m *MemoryLog) Head() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.headLocked()
}

// ReadStream returns a stream's records from fromVersion onwards.
func (m *MemoryLog) ReadStream(_ context.Context, streamID string, fromVersion int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if rec.StreamID == streamID && rec.Version >= fromVersion {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ReadAll returns up to limit records strictly after the given position.
func (m *MemoryLog) ReadAll(ctx context.Context, after int64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if rec.GlobalPosition <= after {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Listen signals the returned channel after every append until ctx ends or
// DisconnectListeners is called.
func (m *MemoryLog) Listen(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	m.listeners[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.unlisten(ch)
	}()
	return ch, nil
}

func (m *MemoryLog) unlisten(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[ch]; ok {
		delete(m.listeners, ch)
		close(ch)
	}
}

// DisconnectListeners closes every notification channel, which live
// subscriptions report as DropConnectionClosed.
func (m *MemoryLog) DisconnectListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.listeners {
		delete(m.listeners, ch)
		close(ch)
	}
}

// SubscribeFrom opens a catch-up subscription over the in-memory log.
func (m *MemoryLog) SubscribeFrom(ctx context.Context, after int64, settings SubscriptionSettings, h Handlers) (Subscription, error) {
	return Subscribe(ctx, m, after, settings, h)
}
