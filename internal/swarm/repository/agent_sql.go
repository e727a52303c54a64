package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// agentRow mirrors the agents table's flat column layout; models.Agent
// nests Capabilities/Resources for callers, so rows are translated both
// ways rather than relied on for direct sqlx struct scanning.
type agentRow struct {
	ID                 string         `db:"id"`
	SwarmID            string         `db:"swarm_id"`
	Name               string         `db:"name"`
	Type               string         `db:"type"`
	Role               string         `db:"role"`
	Capabilities       string         `db:"capabilities"`
	Status             string         `db:"status"`
	CurrentTaskID      sql.NullString `db:"current_task_id"`
	CPUBudget          float64        `db:"cpu_budget"`
	MemoryBudget       int            `db:"memory_budget"`
	MaxConcurrentTasks int            `db:"max_concurrent_tasks"`
	CreatedAt          time.Time      `db:"created_at"`
	LastHeartbeat      sql.NullTime   `db:"last_heartbeat"`
}

func (row *agentRow) toModel() (*models.Agent, error) {
	var caps []string
	if err := json.Unmarshal([]byte(row.Capabilities), &caps); err != nil {
		return nil, err
	}
	a := &models.Agent{
		ID:      row.ID,
		SwarmID: row.SwarmID,
		Name:    row.Name,
		Type:    row.Type,
		Role:    models.AgentRole(row.Role),
		Capabilities: caps,
		Status:  models.AgentStatus(row.Status),
		Resources: models.AgentResources{
			CPUBudget:          row.CPUBudget,
			MemoryBudgetMB:     row.MemoryBudget,
			MaxConcurrentTasks: row.MaxConcurrentTasks,
		},
		CreatedAt: row.CreatedAt,
	}
	if row.CurrentTaskID.Valid {
		a.CurrentTaskID = row.CurrentTaskID.String
	}
	if row.LastHeartbeat.Valid {
		a.LastHeartbeat = row.LastHeartbeat.Time
	}
	return a, nil
}

func (r *Repository) CreateAgent(ctx context.Context, a *models.Agent) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	a.LastHeartbeat = a.CreatedAt

	caps := a.Capabilities
	if caps == nil {
		caps = []string{}
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return swarmerrors.InternalError("encoding agent capabilities", err)
	}

	_, err = r.pool.Writer().ExecContext(ctx, `
		INSERT INTO agents (id, swarm_id, name, type, role, capabilities, status, current_task_id,
			cpu_budget, memory_budget, max_concurrent_tasks, created_at, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.SwarmID, a.Name, a.Type, a.Role, string(capsJSON), a.Status, a.CurrentTaskID,
		a.Resources.CPUBudget, a.Resources.MemoryBudgetMB, a.Resources.MaxConcurrentTasks, a.CreatedAt, a.LastHeartbeat)
	if err != nil {
		return swarmerrors.InternalError("creating agent", err)
	}
	return nil
}

func (r *Repository) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var row agentRow
	err := r.pool.Reader().GetContext(ctx, &row, `
		SELECT id, swarm_id, name, type, role, capabilities, status, current_task_id,
			cpu_budget, memory_budget, max_concurrent_tasks, created_at, last_heartbeat
		FROM agents WHERE id = ?
	`, id)
	if err == sql.ErrNoRows {
		return nil, swarmerrors.NotFound("agent", id)
	}
	if err != nil {
		return nil, swarmerrors.InternalError("fetching agent", err)
	}
	return row.toModel()
}

func (r *Repository) UpdateAgent(ctx context.Context, a *models.Agent) error {
	capsJSON, err := json.Marshal(a.Capabilities)
	if err != nil {
		return swarmerrors.InternalError("encoding agent capabilities", err)
	}

	res, err := r.pool.Writer().ExecContext(ctx, `
		UPDATE agents SET name = ?, type = ?, role = ?, capabilities = ?, status = ?,
			current_task_id = ?, cpu_budget = ?, memory_budget = ?, max_concurrent_tasks = ?, last_heartbeat = ?
		WHERE id = ?
	`, a.Name, a.Type, a.Role, string(capsJSON), a.Status, a.CurrentTaskID,
		a.Resources.CPUBudget, a.Resources.MemoryBudgetMB, a.Resources.MaxConcurrentTasks, a.LastHeartbeat, a.ID)
	if err != nil {
		return swarmerrors.InternalError("updating agent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return swarmerrors.InternalError("checking update result", err)
	}
	if n == 0 {
		return swarmerrors.NotFound("agent", a.ID)
	}
	return nil
}

func (r *Repository) ListAgentsBySwarm(ctx context.Context, swarmID string) ([]*models.Agent, error) {
	return r.queryAgents(ctx, `
		SELECT id, swarm_id, name, type, role, capabilities, status, current_task_id,
			cpu_budget, memory_budget, max_concurrent_tasks, created_at, last_heartbeat
		FROM agents WHERE swarm_id = ? ORDER BY created_at
	`, swarmID)
}

func (r *Repository) ListIdleAgents(ctx context.Context, swarmID string) ([]*models.Agent, error) {
	return r.queryAgents(ctx, `
		SELECT id, swarm_id, name, type, role, capabilities, status, current_task_id,
			cpu_budget, memory_budget, max_concurrent_tasks, created_at, last_heartbeat
		FROM agents WHERE swarm_id = ? AND status = 'idle' ORDER BY created_at
	`, swarmID)
}

func (r *Repository) queryAgents(ctx context.Context, query string, args ...interface{}) ([]*models.Agent, error) {
	var rows []agentRow
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, swarmerrors.InternalError("listing agents", err)
	}
	out := make([]*models.Agent, 0, len(rows))
	for _, row := range rows {
		a, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
