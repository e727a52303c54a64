// Package repository implements the swarm coordination core's Persistence
// Store: a SQLite-backed CRUD and query surface for swarms, agents, tasks,
// objectives, sessions, checkpoints, and session logs, following the
// teacher's writer/reader-pool repository shape.
package repository

import (
	"context"

	"github.com/hivecore/swarmcore/internal/db"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// Repository is the Persistence Store's concrete implementation, backed by
// the shared writer/reader sqlite pool.
type Repository struct {
	pool *db.Pool
}

// New wraps an already-migrated connection pool.
func New(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// SwarmRepository covers swarm lifecycle persistence.
type SwarmRepository interface {
	CreateSwarm(ctx context.Context, s *models.Swarm) error
	GetSwarm(ctx context.Context, id string) (*models.Swarm, error)
	UpdateSwarmStatus(ctx context.Context, id string, status models.SwarmStatus) error
	ListSwarms(ctx context.Context) ([]*models.Swarm, error)
}

// AgentRepository covers agent lifecycle persistence.
type AgentRepository interface {
	CreateAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	UpdateAgent(ctx context.Context, a *models.Agent) error
	ListAgentsBySwarm(ctx context.Context, swarmID string) ([]*models.Agent, error)
	ListIdleAgents(ctx context.Context, swarmID string) ([]*models.Agent, error)
}

// ObjectiveRepository covers objective persistence.
type ObjectiveRepository interface {
	CreateObjective(ctx context.Context, o *models.Objective) error
	GetObjective(ctx context.Context, id string) (*models.Objective, error)
	UpdateObjectiveStatus(ctx context.Context, id string, status models.ObjectiveStatus) error
	ListObjectivesBySwarm(ctx context.Context, swarmID string) ([]*models.Objective, error)
}

// TaskRepository covers task persistence, including the transactional
// completion-plus-dependency-update path.
type TaskRepository interface {
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, t *models.Task) error
	ListTasksByObjective(ctx context.Context, objectiveID string) ([]*models.Task, error)
	ListTasksBySwarm(ctx context.Context, swarmID string) ([]*models.Task, error)
	ListTasksByStatus(ctx context.Context, swarmID string, status models.TaskStatus) ([]*models.Task, error)
	CompleteTask(ctx context.Context, taskID string, result string) error
}

// SessionRepository covers session/checkpoint/log persistence.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	ListActiveSessions(ctx context.Context) ([]*models.Session, error)
	ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error

	SaveCheckpoint(ctx context.Context, c *models.Checkpoint) error
	ListCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error)

	AppendSessionLog(ctx context.Context, l *models.SessionLog) error
	ListSessionLogs(ctx context.Context, sessionID string, offset, limit int) ([]*models.SessionLog, error)
}
