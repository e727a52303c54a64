// Package session implements the swarm coordination core's Session Manager:
// the subsystem of record for one run of one swarm against one objective,
// covering lifecycle (create/pause/resume/complete/stop), checkpointing,
// child-process tracking, archival, and export/import.
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/logger"
	"github.com/hivecore/swarmcore/internal/events/bus"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
	"github.com/hivecore/swarmcore/internal/swarm/repository"
)

// ActiveSessionSummary is the aggregated view GetActiveSessions returns:
// a session plus a task-completion roll-up.
type ActiveSessionSummary struct {
	Session              *models.Session `json:"session"`
	AgentCount           int             `json:"agent_count"`
	TaskCount            int             `json:"task_count"`
	CompletedTasks       int             `json:"completed_tasks"`
	CompletionPercentage int             `json:"completion_percentage"`
}

// SessionDetail is the full aggregate GetSession returns.
type SessionDetail struct {
	Session     *models.Session       `json:"session"`
	Swarm       *models.Swarm         `json:"swarm"`
	Agents      []*models.Agent       `json:"agents"`
	Tasks       []*models.Task        `json:"tasks"`
	Checkpoints []*models.Checkpoint  `json:"checkpoints"`
	RecentLogs  []*models.SessionLog  `json:"recent_logs"`
}

const recentLogLimit = 50

// childPidMu serializes AddChildPid/RemoveChildPid per session, since those
// mutate a JSON column the Session Manager alone is allowed to touch.
type childPidMu struct {
	mu sync.Mutex
}

// Manager is the Session Manager's concrete implementation.
type Manager struct {
	repo            repository.SessionRepository
	swarms          repository.SwarmRepository
	agents          repository.AgentRepository
	tasks           repository.TaskRepository
	eventBus        bus.Bus
	log             *logger.Logger
	storageDir      string
	stopGracePeriod time.Duration

	pidMu sync.Map // sessionID -> *childPidMu
}

// Option configures a Manager.
type Option func(*Manager)

// WithStorageDir overrides the default checkpoint sidecar directory.
func WithStorageDir(dir string) Option {
	return func(m *Manager) { m.storageDir = dir }
}

// WithStopGracePeriod overrides how long StopSession waits for children to
// exit after SIGTERM before giving up.
func WithStopGracePeriod(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stopGracePeriod = d
		}
	}
}

// New creates a Session Manager.
func New(repo repository.SessionRepository, swarms repository.SwarmRepository, agents repository.AgentRepository, tasks repository.TaskRepository, eventBus bus.Bus, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:            repo,
		swarms:          swarms,
		agents:          agents,
		tasks:           tasks,
		eventBus:        eventBus,
		log:             log,
		storageDir:      "./.hive-mind/sessions",
		stopGracePeriod: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession starts a new durable handle for a swarm run.
func (m *Manager) CreateSession(ctx context.Context, s *models.Session) error {
	s.Status = models.SessionActive
	s.ParentPID = os.Getpid()
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.ChildPIDs == nil {
		s.ChildPIDs = []int{}
	}
	if s.CheckpointData == nil {
		s.CheckpointData = map[string]interface{}{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]interface{}{}
	}

	if err := m.repo.CreateSession(ctx, s); err != nil {
		return swarmerrors.Wrap(err, "creating session")
	}

	if err := os.MkdirAll(m.storageDir, 0o755); err != nil {
		m.log.Warn("could not create session storage directory", zap.Error(err), zap.String("dir", m.storageDir))
	}

	m.logEvent(ctx, s.ID, models.LogInfo, "session created", "", nil)
	m.publish(ctx, bus.SubjectAgentSpawned, s.ID, map[string]interface{}{"event": "session_created"})
	return nil
}

// GetActiveSessions returns active and paused sessions with aggregated
// task-completion statistics.
func (m *Manager) GetActiveSessions(ctx context.Context) ([]*ActiveSessionSummary, error) {
	active, err := m.repo.ListSessionsByStatus(ctx, models.SessionActive)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing active sessions")
	}
	paused, err := m.repo.ListSessionsByStatus(ctx, models.SessionPaused)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing paused sessions")
	}

	sessions := append(active, paused...)
	summaries := make([]*ActiveSessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summary, err := m.summarize(ctx, s)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (m *Manager) summarize(ctx context.Context, s *models.Session) (*ActiveSessionSummary, error) {
	agents, err := m.agents.ListAgentsBySwarm(ctx, s.SwarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing agents for session summary")
	}
	tasks, err := m.tasks.ListTasksBySwarm(ctx, s.SwarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing tasks for session summary")
	}

	completed := 0
	for _, t := range tasks {
		if t.Status == models.TaskCompleted {
			completed++
		}
	}
	pct := 0
	if len(tasks) > 0 {
		pct = roundPercent(completed, len(tasks))
	}

	return &ActiveSessionSummary{
		Session:              s,
		AgentCount:           len(agents),
		TaskCount:            len(tasks),
		CompletedTasks:       completed,
		CompletionPercentage: pct,
	}, nil
}

// GetSession returns the full aggregate view of one session.
func (m *Manager) GetSession(ctx context.Context, id string) (*SessionDetail, error) {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "getting session")
	}

	swarm, err := m.swarms.GetSwarm(ctx, s.SwarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "getting session's swarm")
	}
	agents, err := m.agents.ListAgentsBySwarm(ctx, s.SwarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing session's agents")
	}
	tasks, err := m.tasks.ListTasksBySwarm(ctx, s.SwarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing session's tasks")
	}
	checkpoints, err := m.repo.ListCheckpoints(ctx, s.ID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing session's checkpoints")
	}
	logs, err := m.repo.ListSessionLogs(ctx, s.ID, 0, recentLogLimit)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing session's recent logs")
	}

	return &SessionDetail{
		Session:     s,
		Swarm:       swarm,
		Agents:      agents,
		Tasks:       tasks,
		Checkpoints: checkpoints,
		RecentLogs:  logs,
	}, nil
}

// PauseSession marks an active session paused. Idempotent: pausing an
// already-paused session is a no-op success.
func (m *Manager) PauseSession(ctx context.Context, id string) error {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return swarmerrors.Wrap(err, "getting session to pause")
	}
	if s.Status == models.SessionPaused {
		return nil
	}
	if s.Status != models.SessionActive {
		return swarmerrors.Conflict(fmt.Sprintf("cannot pause session in status %q", s.Status))
	}

	now := time.Now().UTC()
	s.Status = models.SessionPaused
	s.PausedAt = &now
	s.UpdatedAt = now
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return swarmerrors.Wrap(err, "persisting paused session")
	}

	m.logEvent(ctx, id, models.LogInfo, "session paused", "", nil)
	return nil
}

// ResumeSession reactivates a paused or stopped session, treating both the
// same way (neither is archived): the queen agent returns to active, other
// agents return to idle, and tasks keep whatever status they were last
// persisted in.
func (m *Manager) ResumeSession(ctx context.Context, id string) error {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		if swarmerrors.IsNotFound(err) {
			return swarmerrors.ErrSessionArchived
		}
		return swarmerrors.Wrap(err, "getting session to resume")
	}
	if s.Status == models.SessionCompleted {
		return swarmerrors.ErrSessionNotPaused
	}

	agents, err := m.agents.ListAgentsBySwarm(ctx, s.SwarmID)
	if err != nil {
		return swarmerrors.Wrap(err, "listing agents to resume")
	}
	for _, a := range agents {
		target := models.AgentIdle
		if a.Role == models.RoleQueen {
			target = models.AgentActive
		}
		if a.Status == target {
			continue
		}
		a.Status = target
		if err := m.agents.UpdateAgent(ctx, a); err != nil {
			return swarmerrors.Wrap(err, "reactivating agent on resume")
		}
	}

	var pausedDuration time.Duration
	if s.PausedAt != nil {
		pausedDuration = time.Since(*s.PausedAt)
	}

	now := time.Now().UTC()
	s.Status = models.SessionActive
	s.ResumedAt = &now
	s.UpdatedAt = now
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return swarmerrors.Wrap(err, "persisting resumed session")
	}

	m.logEvent(ctx, id, models.LogInfo, "session resumed", "", map[string]interface{}{
		"paused_duration_seconds": pausedDuration.Seconds(),
	})
	return nil
}

// CompleteSession marks a session completed.
func (m *Manager) CompleteSession(ctx context.Context, id string) error {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return swarmerrors.Wrap(err, "getting session to complete")
	}
	now := time.Now().UTC()
	s.Status = models.SessionCompleted
	s.CompletedAt = &now
	s.UpdatedAt = now
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return swarmerrors.Wrap(err, "persisting completed session")
	}
	m.logEvent(ctx, id, models.LogInfo, "session completed", "", nil)
	return nil
}

// UpdateSessionProgress recomputes and persists a session's completion
// percentage from its swarm's current task counts. The Auto-Save Middleware
// calls this on every flush instead of writing to the sessions table
// directly, keeping the Session Manager the sole writer of session state.
func (m *Manager) UpdateSessionProgress(ctx context.Context, id string) (int, error) {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return 0, swarmerrors.Wrap(err, "getting session to update progress")
	}
	tasks, err := m.tasks.ListTasksBySwarm(ctx, s.SwarmID)
	if err != nil {
		return 0, swarmerrors.Wrap(err, "listing tasks for progress update")
	}

	completed := 0
	for _, t := range tasks {
		if t.Status == models.TaskCompleted {
			completed++
		}
	}
	pct := 0
	if len(tasks) > 0 {
		pct = roundPercent(completed, len(tasks))
	}
	if pct == s.CompletionPercentage {
		return pct, nil
	}

	s.CompletionPercentage = pct
	s.UpdatedAt = time.Now().UTC()
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return 0, swarmerrors.Wrap(err, "persisting session progress")
	}
	return pct, nil
}

// AddChildPid records a new tracked child process, exclusive to the Session
// Manager.
func (m *Manager) AddChildPid(ctx context.Context, id string, pid int) error {
	return m.mutatePids(ctx, id, func(pids []int) []int {
		for _, p := range pids {
			if p == pid {
				return pids
			}
		}
		return append(pids, pid)
	})
}

// RemoveChildPid untracks a child process.
func (m *Manager) RemoveChildPid(ctx context.Context, id string, pid int) error {
	return m.mutatePids(ctx, id, func(pids []int) []int {
		out := pids[:0]
		for _, p := range pids {
			if p != pid {
				out = append(out, p)
			}
		}
		return out
	})
}

func (m *Manager) mutatePids(ctx context.Context, id string, mutate func([]int) []int) error {
	lockVal, _ := m.pidMu.LoadOrStore(id, &childPidMu{})
	lock := lockVal.(*childPidMu)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return swarmerrors.Wrap(err, "getting session to mutate child pids")
	}
	s.ChildPIDs = mutate(s.ChildPIDs)
	s.UpdatedAt = time.Now().UTC()
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return swarmerrors.Wrap(err, "persisting child pid change")
	}
	return nil
}

// LogEvent appends a session log entry. Exported for adjuncts such as the
// Auto-Save Middleware, which observes mutations out-of-band but must still
// route writes through the Session Manager.
func (m *Manager) LogEvent(ctx context.Context, sessionID string, level models.LogLevel, message string, data map[string]interface{}) {
	m.logEvent(ctx, sessionID, level, message, "", data)
}

func (m *Manager) logEvent(ctx context.Context, sessionID string, level models.LogLevel, message, agentID string, data map[string]interface{}) {
	entry := &models.SessionLog{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		AgentID:   agentID,
		Data:      data,
	}
	if err := m.repo.AppendSessionLog(ctx, entry); err != nil {
		m.log.Warn("failed to append session log", zap.Error(err), zap.String("session_id", sessionID))
	}
}

// roundPercent computes round(100 * completed/total), round-half-up, so
// e.g. 2 of 3 completed reports 67 rather than truncating to 66. total must
// be positive.
func roundPercent(completed, total int) int {
	return (completed*100 + total/2) / total
}

func (m *Manager) publish(ctx context.Context, subject, sessionID string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	data["session_id"] = sessionID
	m.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "session-manager", data))
}
