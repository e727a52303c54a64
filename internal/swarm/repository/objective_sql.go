package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

func (r *Repository) CreateObjective(ctx context.Context, o *models.Objective) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.CreatedAt = time.Now().UTC()

	_, err := r.pool.Writer().ExecContext(ctx, `
		INSERT INTO objectives (id, swarm_id, name, description, strategy, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.SwarmID, o.Name, o.Description, o.Strategy, o.Status, o.CreatedAt)
	if err != nil {
		return swarmerrors.InternalError("creating objective", err)
	}
	return nil
}

func (r *Repository) GetObjective(ctx context.Context, id string) (*models.Objective, error) {
	var o models.Objective
	err := r.pool.Reader().GetContext(ctx, &o, `
		SELECT id, swarm_id, name, description, strategy, status, created_at, completed_at
		FROM objectives WHERE id = ?
	`, id)
	if err == sql.ErrNoRows {
		return nil, swarmerrors.NotFound("objective", id)
	}
	if err != nil {
		return nil, swarmerrors.InternalError("fetching objective", err)
	}
	return &o, nil
}

func (r *Repository) UpdateObjectiveStatus(ctx context.Context, id string, status models.ObjectiveStatus) error {
	var completedAt interface{}
	if status == models.ObjectiveCompleted || status == models.ObjectiveFailed {
		completedAt = time.Now().UTC()
	}

	res, err := r.pool.Writer().ExecContext(ctx, `
		UPDATE objectives SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?
	`, status, completedAt, id)
	if err != nil {
		return swarmerrors.InternalError("updating objective status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return swarmerrors.InternalError("checking update result", err)
	}
	if n == 0 {
		return swarmerrors.NotFound("objective", id)
	}
	return nil
}

func (r *Repository) ListObjectivesBySwarm(ctx context.Context, swarmID string) ([]*models.Objective, error) {
	var objectives []*models.Objective
	err := r.pool.Reader().SelectContext(ctx, &objectives, `
		SELECT id, swarm_id, name, description, strategy, status, created_at, completed_at
		FROM objectives WHERE swarm_id = ? ORDER BY created_at
	`, swarmID)
	if err != nil {
		return nil, swarmerrors.InternalError("listing objectives", err)
	}
	return objectives, nil
}
