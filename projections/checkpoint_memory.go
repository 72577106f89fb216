package projections

import (
	"context"
	"sync"
)

// MemoryCheckpointStore keeps checkpoints in process memory.
type MemoryCheckpointStore struct {
	mu     sync.Mutex
	points map[string]int64
}

var _ CheckpointStore = (*MemoryCheckpointStore)(nil)

// NewMemoryCheckpointStore returns an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{points: make(map[string]int64)}
}

// GetLastCheckpoint returns the stored position for name.
func (m *MemoryCheckpointStore) GetLastCheckpoint(_ context.Context, name string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.points[name]
	return pos, ok, nil
}

// SetLastCheckpoint stores pos unless it is lower than the stored position.
func (m *MemoryCheckpointStore) SetLastCheckpoint(_ context.Context, name string, pos int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.points[name]; ok && pos < cur {
		return nil
	}
	m.points[name] = pos
	return nil
}

// Reset removes the checkpoint so the projection replays from the beginning.
func (m *MemoryCheckpointStore) Reset(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.points, name)
	return nil
}
