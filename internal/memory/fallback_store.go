package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/logger"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
)

// fallbackStore wraps a durable backend with a permanent in-memory fallback.
// Any operation that fails against the durable backend because it is
// unavailable trips the fallback once; from that point on, for the life of
// the process, every operation (including ones already in flight failing
// concurrently) is served by the in-memory backend. There is no automatic
// re-promotion back to the durable backend.
type fallbackStore struct {
	mu       sync.RWMutex
	primary  Store
	fallback Store
	tripped  bool
	log      *logger.Logger
}

// NewFallbackStore returns a Store that prefers primary and permanently
// switches to fallback the first time primary reports it is unavailable.
func NewFallbackStore(primary, fallback Store, log *logger.Logger) Store {
	return &fallbackStore{primary: primary, fallback: fallback, log: log}
}

func (s *fallbackStore) active() Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tripped {
		return s.fallback
	}
	return s.primary
}

func (s *fallbackStore) trip(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tripped {
		return
	}
	s.tripped = true
	if s.log != nil {
		s.log.Warn("memory store durable backend unavailable, falling back to in-memory store for the remainder of this process; data will not persist across restarts",
			zap.Error(cause))
	}
}

func (s *fallbackStore) Store(ctx context.Context, key string, value interface{}, opts StoreOptions) error {
	store := s.active()
	err := store.Store(ctx, key, value, opts)
	if err != nil && store == s.primary && isBackendUnavailable(err) {
		s.trip(err)
		return s.fallback.Store(ctx, key, value, opts)
	}
	return err
}

func (s *fallbackStore) Retrieve(ctx context.Context, key string, namespace string) (*Entry, error) {
	store := s.active()
	entry, err := store.Retrieve(ctx, key, namespace)
	if err != nil && store == s.primary && isBackendUnavailable(err) {
		s.trip(err)
		return s.fallback.Retrieve(ctx, key, namespace)
	}
	return entry, err
}

func (s *fallbackStore) List(ctx context.Context, opts QueryOptions) ([]*Entry, error) {
	store := s.active()
	entries, err := store.List(ctx, opts)
	if err != nil && store == s.primary && isBackendUnavailable(err) {
		s.trip(err)
		return s.fallback.List(ctx, opts)
	}
	return entries, err
}

func (s *fallbackStore) Search(ctx context.Context, pattern string, opts QueryOptions) ([]*Entry, error) {
	store := s.active()
	entries, err := store.Search(ctx, pattern, opts)
	if err != nil && store == s.primary && isBackendUnavailable(err) {
		s.trip(err)
		return s.fallback.Search(ctx, pattern, opts)
	}
	return entries, err
}

func (s *fallbackStore) Delete(ctx context.Context, key string, namespace string) error {
	store := s.active()
	err := store.Delete(ctx, key, namespace)
	if err != nil && store == s.primary && isBackendUnavailable(err) {
		s.trip(err)
		return s.fallback.Delete(ctx, key, namespace)
	}
	return err
}

func (s *fallbackStore) Cleanup(ctx context.Context) (int, error) {
	store := s.active()
	n, err := store.Cleanup(ctx)
	if err != nil && store == s.primary && isBackendUnavailable(err) {
		s.trip(err)
		return s.fallback.Cleanup(ctx)
	}
	return n, err
}

func (s *fallbackStore) Close() error {
	if err := s.primary.Close(); err != nil {
		return err
	}
	return s.fallback.Close()
}

// isBackendUnavailable distinguishes connectivity/availability failures
// (worth tripping the fallback) from ordinary application errors like a
// not-found miss, which should propagate unchanged.
func isBackendUnavailable(err error) bool {
	var appErr *swarmerrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == swarmerrors.ErrCodeServiceUnavailable
}
