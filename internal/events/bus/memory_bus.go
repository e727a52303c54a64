package bus

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/logger"
)

// MemoryBus is an in-memory, single-process Bus implementation. It is the
// only transport the swarm coordination core needs: the coordinator is
// scoped to a single host, so there is no cross-process fan-out to support.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	log    *logger.Logger
	closed bool
}

type subscription struct {
	bus     *MemoryBus
	subject string
	handler Handler
	mu      sync.Mutex
	active  bool
}

func (s *subscription) Unsubscribe() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (s *subscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// NewMemoryBus creates an empty in-memory event bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*subscription), log: log}
}

// Publish delivers event to every subscriber whose subject pattern matches.
// Handlers run synchronously in the caller's goroutine, in subscription
// order; a handler error is logged but does not block other subscribers.
func (b *MemoryBus) Publish(ctx context.Context, subject string, event *Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var matched []*subscription
	for pattern, subs := range b.subs {
		if subjectMatches(pattern, subject) {
			matched = append(matched, subs...)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		if !sub.IsValid() {
			continue
		}
		if err := sub.handler(ctx, event); err != nil && b.log != nil {
			b.log.Warn("event handler failed",
				zap.String("subject", subject),
				zap.String("event_type", event.Type),
				zap.Error(err))
		}
	}
}

// Subscribe registers handler for subject (may end in "*" for a prefix match).
func (b *MemoryBus) Subscribe(subject string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{bus: b, subject: subject, handler: handler, active: true}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub
}

// Close marks the bus closed; further Publish calls are no-ops.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*subscription)
}

func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(subject, prefix)
	}
	return false
}
