package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"ecolearn-gamification/internal/domain"
)

// DocumentStore is an in-process versioned document store.
// It backs the ledger in tests and single-node deployments.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
}

func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]domain.Document)}
}

func (s *DocumentStore) Read(ctx context.Context, key string) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	return copyDoc(doc), nil
}

func (s *DocumentStore) ConditionalWrite(ctx context.Context, key string, expectedVersion int64, data []byte) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.docs[key]
	if current.Version != expectedVersion {
		return domain.Document{}, domain.ErrVersionConflict
	}
	doc := domain.Document{Key: key, Version: expectedVersion + 1, Data: append([]byte(nil), data...)}
	s.docs[key] = doc
	return copyDoc(doc), nil
}

// ReadAll returns documents whose key starts with prefix, ordered by key.
func (s *DocumentStore) ReadAll(ctx context.Context, prefix string) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Document, 0, len(s.docs))
	for key, doc := range s.docs {
		if strings.HasPrefix(key, prefix) {
			out = append(out, copyDoc(doc))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func copyDoc(doc domain.Document) domain.Document {
	doc.Data = append([]byte(nil), doc.Data...)
	return doc
}

// Counter keeps best-effort integer counters (e.g. attempt statistics).
type Counter struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewCounter() *Counter {
	return &Counter{values: make(map[string]int64)}
}

func (c *Counter) Incr(_ context.Context, key string, by int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] += by
	return c.values[key], nil
}

func (c *Counter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}
