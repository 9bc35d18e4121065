// Package session manages the chains one editing user has open: creating,
// opening and cloning them, and committing them to a ChainStore.
package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Benny93/chainlab/internal/catalog"
	"github.com/Benny93/chainlab/internal/chain"
	"github.com/Benny93/chainlab/internal/storage"
)

var (
	// ErrUnknownChain is returned for a chain id that is neither open nor stored.
	ErrUnknownChain = errors.New("unknown chain")

	// ErrNoCatalog is returned when a stored chain is opened before any
	// catalog has been loaded.
	ErrNoCatalog = errors.New("no catalog loaded")
)

// Session holds the open chains of one owner.
type Session struct {
	owner   string
	catalog atomic.Pointer[catalog.Catalog]
	store   storage.ChainStore
	logger  *zap.Logger

	mu     sync.RWMutex
	chains map[uuid.UUID]*chain.Chain
}

// Option configures a Session.
type Option func(*Session)

// WithStore sets the store chains are committed to.
// The default is an in-memory store.
func WithStore(s storage.ChainStore) Option {
	return func(se *Session) { se.store = s }
}

// WithLogger sets the session logger. Chains created by the session inherit it.
func WithLogger(l *zap.Logger) Option {
	return func(se *Session) { se.logger = l }
}

// New creates a session for owner over the given catalog, which may be nil
// until one is loaded.
func New(owner string, cat *catalog.Catalog, opts ...Option) *Session {
	s := &Session{
		owner:  owner,
		logger: zap.NewNop(),
		chains: make(map[uuid.UUID]*chain.Chain),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = storage.NewMemoryStore()
	}
	if cat != nil {
		s.catalog.Store(cat)
	}
	return s
}

// Owner returns the session owner.
func (s *Session) Owner() string { return s.owner }

// Store returns the store chains are committed to.
func (s *Session) Store() storage.ChainStore { return s.store }

// Catalog returns the active catalog, or nil.
func (s *Session) Catalog() *catalog.Catalog { return s.catalog.Load() }

// SetCatalog replaces the active catalog. Open chains keep the module
// definitions they were built with; the new catalog applies to chains
// opened afterwards.
func (s *Session) SetCatalog(c *catalog.Catalog) {
	if c == nil {
		return
	}
	s.catalog.Store(c)
	s.logger.Info("catalog replaced", zap.Int("modules", c.ModuleCount()))
}

// NewChain creates an empty unlocked chain owned by the session owner.
func (s *Session) NewChain(name string) *chain.Chain {
	c := chain.New(s.owner, chain.WithName(name), chain.WithLogger(s.logger))
	s.register(c)
	s.logger.Debug("chain created", zap.Stringer("chain", c.ID()), zap.String("name", name))
	return c
}

func (s *Session) register(c *chain.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains[c.ID()] = c
}

// Get returns an open chain.
func (s *Session) Get(id uuid.UUID) (*chain.Chain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[id]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", id, ErrUnknownChain)
	}
	return c, nil
}

// Chains returns the open chains sorted by name, then id.
func (s *Session) Chains() []*chain.Chain {
	s.mu.RLock()
	out := make([]*chain.Chain, 0, len(s.chains))
	for _, c := range s.chains {
		out = append(out, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *chain.Chain) int {
		if n := cmp.Compare(a.Name(), b.Name()); n != 0 {
			return n
		}
		return cmp.Compare(a.ID().String(), b.ID().String())
	})
	return out
}

// Open returns the chain with the given id, loading it from the store
// against the active catalog when it is not open yet.
func (s *Session) Open(ctx context.Context, id uuid.UUID) (*chain.Chain, error) {
	if c, err := s.Get(id); err == nil {
		return c, nil
	}

	cat := s.Catalog()
	if cat == nil {
		return nil, fmt.Errorf("opening chain %s: %w", id, ErrNoCatalog)
	}

	r, err := s.store.Load(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("opening chain %s: %w", id, ErrUnknownChain)
	}
	if err != nil {
		return nil, fmt.Errorf("opening chain %s: %w", id, err)
	}

	c, err := chain.Restore(r, cat, chain.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("opening chain %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have opened it meanwhile; keep the first.
	if existing, ok := s.chains[id]; ok {
		return existing, nil
	}
	s.chains[id] = c
	s.logger.Debug("chain opened", zap.Stringer("chain", id), zap.Int("nodes", c.NodeCount()))
	return c, nil
}

// Clone copies an open chain. An empty owner means the session owner.
// The copy is unlocked and open in this session.
func (s *Session) Clone(id uuid.UUID, owner string) (*chain.Chain, error) {
	src, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		owner = s.owner
	}

	c, err := chain.Clone(src, owner)
	if err != nil {
		s.logger.Error("clone refused", zap.Stringer("chain", id), zap.Error(err))
		return nil, err
	}
	s.register(c)
	s.logger.Debug("chain cloned",
		zap.Stringer("source", id),
		zap.Stringer("chain", c.ID()),
		zap.String("owner", owner))
	return c, nil
}

// Commit verifies an open chain and saves it to the store.
func (s *Session) Commit(ctx context.Context, id uuid.UUID) error {
	c, err := s.Get(id)
	if err != nil {
		return err
	}

	r, err := c.Record()
	if err != nil {
		s.logger.Error("commit refused", zap.Stringer("chain", id), zap.Error(err))
		return err
	}
	if err := s.store.Save(ctx, r); err != nil {
		return fmt.Errorf("committing chain %s: %w", id, err)
	}

	s.logger.Info("chain committed",
		zap.Stringer("chain", id),
		zap.Int("nodes", len(r.Nodes)),
		zap.Int("links", len(r.Links)))
	return nil
}

// Discard closes an open chain without saving it.
func (s *Session) Discard(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chains[id]; !ok {
		return fmt.Errorf("chain %s: %w", id, ErrUnknownChain)
	}
	delete(s.chains, id)
	return nil
}

// Delete closes the chain and removes it from the store.
func (s *Session) Delete(ctx context.Context, id uuid.UUID) error {
	wasOpen := s.Discard(id) == nil

	err := s.store.Delete(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound) && wasOpen:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("deleting chain %s: %w", id, ErrUnknownChain)
	case err != nil:
		return fmt.Errorf("deleting chain %s: %w", id, err)
	}
	return nil
}

// Stored lists the chains in the store.
func (s *Session) Stored(ctx context.Context) ([]storage.Summary, error) {
	return s.store.List(ctx)
}

// Close releases the store.
func (s *Session) Close() error {
	return s.store.Close()
}
