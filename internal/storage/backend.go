// Package storage provides persistence for committed chains.
//
// It defines the ChainStore contract used by editing sessions to commit,
// find, and delete chains, along with a BadgerDB-backed implementation and
// an in-memory one for tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Benny93/chainlab/internal/chain"
)

var (
	// ErrNotFound is returned when no chain with the requested id is stored.
	ErrNotFound = errors.New("chain not found")

	// ErrNotInitialized is returned when a store is used before Initialize.
	ErrNotInitialized = errors.New("storage not initialized")
)

// Summary describes a stored chain without loading it.
type Summary struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Owner   string    `json:"owner"`
	Locked  bool      `json:"locked"`
	Nodes   int       `json:"nodes"`
	Links   int       `json:"links"`
	SavedAt time.Time `json:"saved_at"`
}

func summarize(r *chain.Record, savedAt time.Time) Summary {
	return Summary{
		ID:      r.ID,
		Name:    r.Name,
		Owner:   r.Owner,
		Locked:  r.Locked,
		Nodes:   len(r.Nodes),
		Links:   len(r.Links),
		SavedAt: savedAt,
	}
}

// ChainStore defines the interface for chain persistence.
//
// Implementations must be thread-safe. Save is all-or-nothing: a record is
// either stored completely, with its summary, or not at all.
type ChainStore interface {
	// Initialize opens or creates the store at the given path.
	// If readOnly is true, writes are refused.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the store.
	Close() error

	// Save stores the record, replacing any record with the same id.
	Save(ctx context.Context, r *chain.Record) error

	// Load returns the record with the given id, or ErrNotFound.
	Load(ctx context.Context, id uuid.UUID) (*chain.Record, error)

	// Delete removes the record with the given id, or returns ErrNotFound.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns summaries of all stored chains sorted by name, then id.
	List(ctx context.Context) ([]Summary, error)

	// Count returns the number of stored chains.
	Count() int
}

func validateRecord(r *chain.Record) error {
	if r == nil {
		return errors.New("record must not be nil")
	}
	if r.ID == uuid.Nil {
		return errors.New("record has no id")
	}
	return nil
}
