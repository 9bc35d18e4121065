package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Benny93/chainlab/internal/chain"
)

// Key prefixes for different data types
const (
	prefixRecord  = "c:" // full chain record
	prefixSummary = "s:" // chain summary for listings
)

// BadgerStore is a BadgerDB-backed ChainStore.
type BadgerStore struct {
	db          *badger.DB
	initialized bool
	mu          sync.RWMutex
	count       int
	now         func() time.Time
}

// NewBadgerStore creates a new BadgerDB store.
func NewBadgerStore() *BadgerStore {
	return &BadgerStore{now: time.Now}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerStore) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	return b.recount()
}

// recount rebuilds the chain count from the stored summaries.
func (b *BadgerStore) recount() error {
	b.count = 0
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSummary)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			b.count++
		}
		return nil
	})
}

// Close releases all resources held by the store.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

// Save stores the record and its summary in one transaction.
func (b *BadgerStore) Save(ctx context.Context, r *chain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateRecord(r); err != nil {
		return fmt.Errorf("saving chain: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling chain: %w", err)
	}
	summary, err := json.Marshal(summarize(r, b.now().UTC()))
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	existed := false
	err = b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(b.summaryKey(r.ID))
		switch {
		case err == nil:
			existed = true
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		if err := txn.Set(b.recordKey(r.ID), data); err != nil {
			return fmt.Errorf("setting chain: %w", err)
		}
		if err := txn.Set(b.summaryKey(r.ID), summary); err != nil {
			return fmt.Errorf("setting summary: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving chain %s: %w", r.ID, err)
	}

	if !existed {
		b.count++
	}
	return nil
}

// Load returns the record with the given id.
func (b *BadgerStore) Load(ctx context.Context, id uuid.UUID) (*chain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized {
		return nil, ErrNotInitialized
	}

	var r chain.Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.recordKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("loading chain %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading chain %s: %w", id, err)
	}
	return &r, nil
}

// Delete removes the record and its summary.
func (b *BadgerStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return ErrNotInitialized
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(b.summaryKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(b.recordKey(id)); err != nil {
			return err
		}
		return txn.Delete(b.summaryKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("deleting chain %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting chain %s: %w", id, err)
	}

	b.count--
	return nil
}

// List returns summaries of all stored chains sorted by name, then id.
func (b *BadgerStore) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized {
		return nil, ErrNotInitialized
	}

	var out []Summary
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixSummary)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var s Summary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return fmt.Errorf("unmarshaling summary: %w", err)
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing chains: %w", err)
	}

	sortSummaries(out)
	return out, nil
}

// Count returns the number of stored chains.
func (b *BadgerStore) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

func (b *BadgerStore) recordKey(id uuid.UUID) []byte {
	return []byte(prefixRecord + id.String())
}

func (b *BadgerStore) summaryKey(id uuid.UUID) []byte {
	return []byte(prefixSummary + id.String())
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Name != s[j].Name {
			return s[i].Name < s[j].Name
		}
		return s[i].ID.String() < s[j].ID.String()
	})
}
