package queue_test

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-fulfillment/internal/queue"
)

// memoryStore is an in-process queue.Store mirroring the queue_dlq table.
type memoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]queue.DLQEntry
	seq     time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[uuid.UUID]queue.DLQEntry)}
}

func (m *memoryStore) InsertQueueDlq(_ context.Context, entry queue.DLQEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		// Strictly increasing so newest-first ordering is deterministic.
		m.seq += time.Millisecond
		entry.CreatedAt = time.Unix(1_700_000_000, 0).Add(m.seq)
	}
	m.entries[entry.ID] = entry
	return entry.ID, nil
}

func (m *memoryStore) DeleteQueueDlq(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return queue.ErrEntryNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *memoryStore) GetQueueDlq(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return queue.DLQEntry{}, queue.ErrEntryNotFound
	}
	return entry, nil
}

func (m *memoryStore) ListQueueDlq(_ context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []queue.DLQEntry
	for _, entry := range m.entries {
		if kind == "" || entry.Kind == kind {
			matched = append(matched, entry)
		}
	}
	slices.SortFunc(matched, func(a, b queue.DLQEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if offset >= len(matched) {
		return []queue.DLQEntry{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return slices.Clone(matched), nil
}

func (m *memoryStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	entries, err := m.ListQueueDlq(ctx, kind, 0, 0)
	return int64(len(entries)), err
}

func (m *memoryStore) QueueDlqSizeByKind(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make(map[string]int64)
	for _, entry := range m.entries {
		sizes[entry.Kind]++
	}
	return sizes, nil
}

func (m *memoryStore) snapshot() map[uuid.UUID]queue.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.entries)
}
