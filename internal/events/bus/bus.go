// Package bus provides an in-process event bus used to fan swarm/task/
// session mutation events out to the auto-save middleware and any other
// subscriber, replacing an ad-hoc global event emitter with explicit,
// typed channels.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a single fact published on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an Event with a generated ID and the current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes a single event.
type Handler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe()
	IsValid() bool
}

// Bus publishes events to subject-scoped subscribers. Subjects support a
// trailing "*" wildcard (e.g. "task.*" matches "task.completed").
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event)
	Subscribe(subject string, handler Handler) Subscription
	Close()
}

// Well-known subjects published by the coordinator and session manager.
const (
	SubjectTaskCompleted    = "task.completed"
	SubjectTaskProgress     = "task.progress"
	SubjectAgentSpawned     = "agent.spawned"
	SubjectAgentActivity    = "agent.activity"
	SubjectConsensusReached = "consensus.reached"
	SubjectMemoryUpdated    = "memory.updated"
)
