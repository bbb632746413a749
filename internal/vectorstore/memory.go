// Package vectorstore holds the vector store backends that can be registered
// with the provider registry, and their factories.
package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/dshills/codecontext/internal/provider"
	"github.com/dshills/codecontext/pkg/types"
)

// Provider names accepted by Factory.
const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
)

type collection struct {
	dimension int
	vectors   map[string][]float32
}

// MemoryStore keeps vectors in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ provider.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*collection)}
}

func (s *MemoryStore) Upsert(ctx context.Context, name, id string, vector []float32, _ map[string]string) error {
	if name == "" || id == "" {
		return provider.Errorf(provider.KindInvalidInput, ProviderMemory, "collection and id are required")
	}
	if len(vector) == 0 {
		return provider.Errorf(provider.KindInvalidInput, ProviderMemory, "empty vector for %s", id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &collection{dimension: len(vector), vectors: make(map[string][]float32)}
		s.collections[name] = c
	}
	if c.dimension != len(vector) {
		return provider.Errorf(provider.KindDimensionMismatch, ProviderMemory,
			"collection %s has dimension %d, got %d", name, c.dimension, len(vector))
	}
	c.vectors[id] = append([]float32(nil), vector...)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, name string, vector []float32, topK int) ([]provider.Hit, error) {
	if len(vector) == 0 {
		return nil, provider.Errorf(provider.KindInvalidInput, ProviderMemory, "empty query vector")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, provider.Errorf(provider.KindCollectionNotFound, ProviderMemory, "collection %s", name)
	}
	if c.dimension != len(vector) {
		return nil, provider.Errorf(provider.KindDimensionMismatch, ProviderMemory,
			"collection %s has dimension %d, query has %d", name, c.dimension, len(vector))
	}
	if topK <= 0 {
		return []provider.Hit{}, nil
	}

	hits := make([]provider.Hit, 0, len(c.vectors))
	for id, v := range c.vectors {
		hits = append(hits, provider.Hit{ID: id, Score: types.CosineSimilarity(vector, v)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryStore) Delete(ctx context.Context, name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		delete(c.vectors, id)
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of vectors in a collection.
func (s *MemoryStore) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.vectors)
	}
	return 0
}
