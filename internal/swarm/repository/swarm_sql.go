package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

func (r *Repository) CreateSwarm(ctx context.Context, s *models.Swarm) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = time.Now().UTC()

	_, err := r.pool.Writer().ExecContext(ctx, `
		INSERT INTO swarms (id, name, topology, status, queen_type, max_workers, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.Topology, s.Status, s.QueenType, s.MaxWorkers, s.CreatedAt)
	if err != nil {
		return swarmerrors.InternalError("creating swarm", err)
	}
	return nil
}

func (r *Repository) GetSwarm(ctx context.Context, id string) (*models.Swarm, error) {
	var s models.Swarm
	err := r.pool.Reader().GetContext(ctx, &s, `
		SELECT id, name, topology, status, queen_type, max_workers, created_at
		FROM swarms WHERE id = ?
	`, id)
	if err == sql.ErrNoRows {
		return nil, swarmerrors.NotFound("swarm", id)
	}
	if err != nil {
		return nil, swarmerrors.InternalError("fetching swarm", err)
	}
	return &s, nil
}

func (r *Repository) UpdateSwarmStatus(ctx context.Context, id string, status models.SwarmStatus) error {
	res, err := r.pool.Writer().ExecContext(ctx, `UPDATE swarms SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return swarmerrors.InternalError("updating swarm status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return swarmerrors.InternalError("checking update result", err)
	}
	if n == 0 {
		return swarmerrors.NotFound("swarm", id)
	}
	return nil
}

func (r *Repository) ListSwarms(ctx context.Context) ([]*models.Swarm, error) {
	var swarms []*models.Swarm
	err := r.pool.Reader().SelectContext(ctx, &swarms, `
		SELECT id, name, topology, status, queen_type, max_workers, created_at
		FROM swarms ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, swarmerrors.InternalError("listing swarms", err)
	}
	return swarms, nil
}
