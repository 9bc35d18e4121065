package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Benny93/chainlab/internal/chain"
)

// MemoryStore is an in-memory implementation of ChainStore for testing.
// Records are stored as JSON so callers never share memory with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[uuid.UUID][]byte
	summaries map[uuid.UUID]Summary
	readOnly  bool
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[uuid.UUID][]byte),
		summaries: make(map[uuid.UUID]Summary),
		now:       time.Now,
	}
}

// Initialize implements ChainStore.
func (m *MemoryStore) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = readOnly
	return nil
}

// Close implements ChainStore.
func (m *MemoryStore) Close() error {
	return nil
}

// Save implements ChainStore.
func (m *MemoryStore) Save(ctx context.Context, r *chain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecord(r); err != nil {
		return fmt.Errorf("saving chain: %w", err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling chain: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return fmt.Errorf("saving chain %s: store is read-only", r.ID)
	}

	m.records[r.ID] = data
	m.summaries[r.ID] = summarize(r, m.now().UTC())
	return nil
}

// Load implements ChainStore.
func (m *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*chain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("loading chain %s: %w", id, ErrNotFound)
	}

	var r chain.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling chain: %w", err)
	}
	return &r, nil
}

// Delete implements ChainStore.
func (m *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("deleting chain %s: %w", id, ErrNotFound)
	}
	delete(m.records, id)
	delete(m.summaries, id)
	return nil
}

// List implements ChainStore.
func (m *MemoryStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.summaries))
	for _, s := range m.summaries {
		out = append(out, s)
	}
	sortSummaries(out)
	return out, nil
}

// Count implements ChainStore.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
