package memory

import (
	"context"
	"sync"
	"time"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
)

// inMemoryStore is the volatile fallback used when the durable backend
// cannot be initialized. Writes are serialized per namespace via a single
// map-wide mutex; reads may run concurrently with each other but not with a
// write.
type inMemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*Entry // namespace -> key -> entry
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() Store {
	return &inMemoryStore{data: make(map[string]map[string]*Entry)}
}

func (s *inMemoryStore) Store(ctx context.Context, key string, value interface{}, opts StoreOptions) error {
	ns := namespaceOrDefault(opts.Namespace)
	tags := opts.Tags
	if tags == nil {
		tags = []string{}
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[ns]
	if !ok {
		bucket = make(map[string]*Entry)
		s.data[ns] = bucket
	}

	createdAt := now
	if existing, ok := bucket[key]; ok {
		createdAt = existing.CreatedAt
	}

	entry := &Entry{
		Namespace: ns,
		Key:       key,
		Value:     value,
		Tags:      append([]string{}, tags...),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	if opts.TTL > 0 {
		exp := now.Add(opts.TTL)
		entry.ExpiresAt = &exp
	}
	bucket[key] = entry
	return nil
}

func (s *inMemoryStore) Retrieve(ctx context.Context, key string, namespace string) (*Entry, error) {
	ns := namespaceOrDefault(namespace)
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.data[ns]
	if !ok {
		return nil, swarmerrors.NotFound("memory entry", key)
	}
	entry, ok := bucket[key]
	if !ok || isExpired(entry) {
		return nil, swarmerrors.NotFound("memory entry", key)
	}
	return cloneEntry(entry), nil
}

func (s *inMemoryStore) List(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	return s.query(opts)
}

func (s *inMemoryStore) Search(ctx context.Context, pattern string, opts QueryOptions) ([]*Entry, error) {
	opts.Pattern = pattern
	return s.query(opts)
}

func (s *inMemoryStore) query(opts QueryOptions) ([]*Entry, error) {
	ns := namespaceOrDefault(opts.Namespace)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	bucket := s.data[ns]
	for key, entry := range bucket {
		if isExpired(entry) {
			continue
		}
		if !matchGlob(opts.Pattern, key) {
			continue
		}
		if !tagsMatch(entry.Tags, opts.Tags, opts.MatchAllTags) {
			continue
		}
		out = append(out, cloneEntry(entry))
	}
	return out, nil
}

func (s *inMemoryStore) Delete(ctx context.Context, key string, namespace string) error {
	ns := namespaceOrDefault(namespace)
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[ns]
	if !ok {
		return swarmerrors.NotFound("memory entry", key)
	}
	if _, ok := bucket[key]; !ok {
		return swarmerrors.NotFound("memory entry", key)
	}
	delete(bucket, key)
	return nil
}

func (s *inMemoryStore) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, bucket := range s.data {
		for key, entry := range bucket {
			if isExpired(entry) {
				delete(bucket, key)
				count++
			}
		}
	}
	return count, nil
}

func (s *inMemoryStore) Close() error {
	return nil
}

func isExpired(e *Entry) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(time.Now().UTC())
}

func cloneEntry(e *Entry) *Entry {
	clone := *e
	clone.Tags = append([]string{}, e.Tags...)
	return &clone
}
