// Package autosave implements the swarm coordination core's Auto-Save
// Middleware: a per-session adjunct that observes coordinator/executor
// mutations over the event bus and funnels them into periodic and
// critical-event-triggered checkpoints.
package autosave

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/logger"
	"github.com/hivecore/swarmcore/internal/events/bus"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// Critical change kinds that bypass the periodic timer and trigger an
// immediate flush.
const (
	KindTaskCompleted    = "task_completed"
	KindAgentSpawned     = "agent_spawned"
	KindConsensusReached = "consensus_reached"

	KindTaskProgress      = "task_progress"
	KindAgentActivity     = "agent_activity"
	KindMemoryUpdated     = "memory_updated"
	KindConsensusDecision = "consensus_decision"
)

var criticalKinds = map[string]bool{
	KindTaskCompleted:    true,
	KindAgentSpawned:     true,
	KindConsensusReached: true,
}

// sessionStore is the narrow surface of the Session Manager the middleware
// needs: checkpoint and progress writes, plus the append-only event log.
// Routing every write through it keeps the Session Manager the sole writer
// of session state.
type sessionStore interface {
	SaveCheckpoint(ctx context.Context, sessionID, name string, data map[string]interface{}) (*models.Checkpoint, error)
	UpdateSessionProgress(ctx context.Context, sessionID string) (int, error)
	LogEvent(ctx context.Context, sessionID string, level models.LogLevel, message string, data map[string]interface{})
}

// change is one buffered mutation awaiting the next flush.
type change struct {
	kind      string
	data      map[string]interface{}
	timestamp time.Time
}

// stats aggregates the buffered changes' statistics block, reset on every
// flush.
type stats struct {
	tasksProcessed     int
	tasksCompleted     int
	memoryUpdates      int
	agentActivities    int
	consensusDecisions int
}

// Middleware is the Auto-Save Middleware's concrete implementation. One
// Middleware instance tracks exactly one session.
type Middleware struct {
	sessionID string
	store     sessionStore
	eventBus  bus.Bus
	log       *logger.Logger

	cronSchedule string
	scheduler    *cronlib.Cron
	entryID      cronlib.EntryID
	subs         []bus.Subscription

	mu     sync.Mutex
	buffer []change
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithCronSchedule overrides the default 30-second periodic flush schedule.
// Expressed as a seconds-resolution cron expression, since the scheduler is
// built with cron.WithSeconds().
func WithCronSchedule(schedule string) Option {
	return func(m *Middleware) {
		if schedule != "" {
			m.cronSchedule = schedule
		}
	}
}

// New creates a Middleware bound to one session.
func New(sessionID string, store sessionStore, eventBus bus.Bus, log *logger.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		sessionID:    sessionID,
		store:        store,
		eventBus:     eventBus,
		log:          log,
		cronSchedule: "*/30 * * * * *",
		scheduler:    cronlib.New(cronlib.WithSeconds()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start installs the periodic flush job and subscribes to the bus subjects
// that carry mutations worth checkpointing. It does not block.
func (m *Middleware) Start(ctx context.Context) error {
	entryID, err := m.scheduler.AddFunc(m.cronSchedule, func() {
		if err := m.ForceSave(ctx); err != nil {
			m.log.Warn("periodic auto-save flush failed", zap.Error(err), zap.String("session_id", m.sessionID))
		}
	})
	if err != nil {
		return fmt.Errorf("autosave: scheduling periodic flush: %w", err)
	}
	m.entryID = entryID
	m.scheduler.Start()

	if m.eventBus != nil {
		m.subs = []bus.Subscription{
			m.eventBus.Subscribe(bus.SubjectTaskProgress, m.onTaskProgress(ctx)),
			m.eventBus.Subscribe(bus.SubjectTaskCompleted, m.onTaskCompleted(ctx)),
			m.eventBus.Subscribe(bus.SubjectAgentSpawned, m.onAgentSpawned(ctx)),
			m.eventBus.Subscribe(bus.SubjectAgentActivity, m.onAgentActivity(ctx)),
			m.eventBus.Subscribe(bus.SubjectConsensusReached, m.onConsensusReached(ctx)),
			m.eventBus.Subscribe(bus.SubjectMemoryUpdated, m.onMemoryUpdated(ctx)),
		}
	}

	m.log.Debug("auto-save middleware started", zap.String("session_id", m.sessionID), zap.String("schedule", m.cronSchedule))
	return nil
}

// Stop cancels the periodic job, unsubscribes from the bus, and performs a
// final flush so nothing buffered is lost.
func (m *Middleware) Stop(ctx context.Context) error {
	m.scheduler.Remove(m.entryID)
	<-m.scheduler.Stop().Done()

	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subs = nil

	return m.ForceSave(ctx)
}

func (m *Middleware) onTaskProgress(ctx context.Context) bus.Handler {
	return func(_ context.Context, event *bus.Event) error {
		m.TrackTaskProgress(ctx, stringField(event.Data, "task_id"), intField(event.Data, "progress"))
		return nil
	}
}

func (m *Middleware) onTaskCompleted(ctx context.Context) bus.Handler {
	return func(_ context.Context, event *bus.Event) error {
		m.TrackChange(ctx, KindTaskCompleted, event.Data)
		return nil
	}
}

func (m *Middleware) onAgentSpawned(ctx context.Context) bus.Handler {
	return func(_ context.Context, event *bus.Event) error {
		m.TrackChange(ctx, KindAgentSpawned, event.Data)
		return nil
	}
}

func (m *Middleware) onAgentActivity(ctx context.Context) bus.Handler {
	return func(_ context.Context, event *bus.Event) error {
		m.TrackAgentActivity(ctx, stringField(event.Data, "agent_id"), stringField(event.Data, "event"))
		return nil
	}
}

func (m *Middleware) onConsensusReached(ctx context.Context) bus.Handler {
	return func(_ context.Context, event *bus.Event) error {
		m.TrackConsensusDecision(ctx, stringField(event.Data, "decision_id"), event.Data)
		return nil
	}
}

func (m *Middleware) onMemoryUpdated(ctx context.Context) bus.Handler {
	return func(_ context.Context, event *bus.Event) error {
		m.TrackMemoryUpdate(ctx, stringField(event.Data, "key"))
		return nil
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
