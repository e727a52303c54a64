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

type taskRow struct {
	ID              string         `db:"id"`
	SwarmID         string         `db:"swarm_id"`
	ObjectiveID     sql.NullString `db:"objective_id"`
	Type            string         `db:"type"`
	Name            string         `db:"name"`
	Description     string         `db:"description"`
	Instructions    string         `db:"instructions"`
	Status          string         `db:"status"`
	Priority        int            `db:"priority"`
	Progress        int            `db:"progress"`
	AssignedAgentID sql.NullString `db:"assigned_agent_id"`
	Dependencies    string         `db:"dependencies"`
	TimeoutSeconds  int            `db:"timeout_seconds"`
	MaxRetries      int            `db:"max_retries"`
	Result          sql.NullString `db:"result"`
	Error           sql.NullString `db:"error"`
	AttemptCount    int            `db:"attempt_count"`
	CreatedAt       time.Time      `db:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
}

func (row *taskRow) toModel() (*models.Task, error) {
	var deps []string
	if err := json.Unmarshal([]byte(row.Dependencies), &deps); err != nil {
		return nil, err
	}
	t := &models.Task{
		ID:           row.ID,
		SwarmID:      row.SwarmID,
		ObjectiveID:  row.ObjectiveID.String,
		Type:         row.Type,
		Name:         row.Name,
		Description:  row.Description,
		Instructions: row.Instructions,
		Status:       models.TaskStatus(row.Status),
		Priority:     row.Priority,
		Progress:     row.Progress,
		AssignedAgentID: row.AssignedAgentID.String,
		Dependencies: deps,
		Constraints: models.TaskConstraints{
			Timeout:    time.Duration(row.TimeoutSeconds) * time.Second,
			MaxRetries: row.MaxRetries,
		},
		Result:       row.Result.String,
		Error:        row.Error.String,
		AttemptCount: row.AttemptCount,
		CreatedAt:    row.CreatedAt,
	}
	if row.StartedAt.Valid {
		t.StartedAt = &row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		t.CompletedAt = &row.CompletedAt.Time
	}
	return t, nil
}

func (r *Repository) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = time.Now().UTC()

	deps := t.Dependencies
	if deps == nil {
		deps = []string{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return swarmerrors.InternalError("encoding task dependencies", err)
	}
	if t.Constraints == (models.TaskConstraints{}) {
		t.Constraints = models.DefaultTaskConstraints()
	}

	_, err = r.pool.Writer().ExecContext(ctx, `
		INSERT INTO tasks (id, swarm_id, objective_id, type, name, description, instructions, status,
			priority, progress, assigned_agent_id, dependencies, timeout_seconds, max_retries,
			result, error, attempt_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.SwarmID, t.ObjectiveID, t.Type, t.Name, t.Description, t.Instructions, t.Status,
		t.Priority, t.Progress, t.AssignedAgentID, string(depsJSON),
		int(t.Constraints.Timeout.Seconds()), t.Constraints.MaxRetries,
		t.Result, t.Error, t.AttemptCount, t.CreatedAt)
	if err != nil {
		return swarmerrors.InternalError("creating task", err)
	}
	return nil
}

func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var row taskRow
	err := r.pool.Reader().GetContext(ctx, &row, `
		SELECT id, swarm_id, objective_id, type, name, description, instructions, status, priority,
			progress, assigned_agent_id, dependencies, timeout_seconds, max_retries, result, error,
			attempt_count, created_at, started_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	if err == sql.ErrNoRows {
		return nil, swarmerrors.NotFound("task", id)
	}
	if err != nil {
		return nil, swarmerrors.InternalError("fetching task", err)
	}
	return row.toModel()
}

func (r *Repository) UpdateTask(ctx context.Context, t *models.Task) error {
	depsJSON, err := json.Marshal(t.Dependencies)
	if err != nil {
		return swarmerrors.InternalError("encoding task dependencies", err)
	}

	res, err := r.pool.Writer().ExecContext(ctx, `
		UPDATE tasks SET status = ?, priority = ?, progress = ?, assigned_agent_id = ?, dependencies = ?,
			timeout_seconds = ?, max_retries = ?, result = ?, error = ?, attempt_count = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?
	`, t.Status, t.Priority, t.Progress, t.AssignedAgentID, string(depsJSON),
		int(t.Constraints.Timeout.Seconds()), t.Constraints.MaxRetries, t.Result, t.Error,
		t.AttemptCount, t.StartedAt, t.CompletedAt, t.ID)
	if err != nil {
		return swarmerrors.InternalError("updating task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return swarmerrors.InternalError("checking update result", err)
	}
	if n == 0 {
		return swarmerrors.NotFound("task", t.ID)
	}
	return nil
}

func (r *Repository) ListTasksByObjective(ctx context.Context, objectiveID string) ([]*models.Task, error) {
	return r.queryTasks(ctx, `
		SELECT id, swarm_id, objective_id, type, name, description, instructions, status, priority,
			progress, assigned_agent_id, dependencies, timeout_seconds, max_retries, result, error,
			attempt_count, created_at, started_at, completed_at
		FROM tasks WHERE objective_id = ? ORDER BY priority DESC, created_at
	`, objectiveID)
}

func (r *Repository) ListTasksBySwarm(ctx context.Context, swarmID string) ([]*models.Task, error) {
	return r.queryTasks(ctx, `
		SELECT id, swarm_id, objective_id, type, name, description, instructions, status, priority,
			progress, assigned_agent_id, dependencies, timeout_seconds, max_retries, result, error,
			attempt_count, created_at, started_at, completed_at
		FROM tasks WHERE swarm_id = ? ORDER BY priority DESC, created_at
	`, swarmID)
}

func (r *Repository) ListTasksByStatus(ctx context.Context, swarmID string, status models.TaskStatus) ([]*models.Task, error) {
	return r.queryTasks(ctx, `
		SELECT id, swarm_id, objective_id, type, name, description, instructions, status, priority,
			progress, assigned_agent_id, dependencies, timeout_seconds, max_retries, result, error,
			attempt_count, created_at, started_at, completed_at
		FROM tasks WHERE swarm_id = ? AND status = ? ORDER BY priority DESC, created_at
	`, swarmID, status)
}

func (r *Repository) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*models.Task, error) {
	var rows []taskRow
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, swarmerrors.InternalError("listing tasks", err)
	}
	out := make([]*models.Task, 0, len(rows))
	for _, row := range rows {
		t, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CompleteTask marks taskID completed (status, progress 100, result,
// completed_at) in one transaction. Dependent tasks are not touched here:
// callers that need to re-evaluate dependents do so by re-reading task rows
// after this commits.
func (r *Repository) CompleteTask(ctx context.Context, taskID string, result string) error {
	tx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return swarmerrors.ServiceUnavailable("task store")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = 'completed', progress = 100, result = ?, completed_at = ? WHERE id = ?
	`, result, now, taskID)
	if err != nil {
		return swarmerrors.InternalError("completing task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return swarmerrors.InternalError("checking completion result", err)
	}
	if n == 0 {
		return swarmerrors.NotFound("task", taskID)
	}

	return tx.Commit()
}
