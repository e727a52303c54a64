package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// SaveCheckpoint persists a named checkpoint row and mirrors it as a JSON
// sidecar file, <sessionID>-<name>.json in the session storage directory,
// so a checkpoint can be inspected or recovered without a database
// connection.
func (m *Manager) SaveCheckpoint(ctx context.Context, sessionID, name string, data map[string]interface{}) (*models.Checkpoint, error) {
	cp := &models.Checkpoint{
		ID:        sessionID + "-" + name,
		SessionID: sessionID,
		Name:      name,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.repo.SaveCheckpoint(ctx, cp); err != nil {
		return nil, swarmerrors.Wrap(err, "saving checkpoint")
	}

	if err := m.writeCheckpointSidecar(sessionID, cp); err != nil {
		m.log.Warn("failed to write checkpoint sidecar file", zap.Error(err), zap.String("session_id", sessionID), zap.String("checkpoint", name))
	}

	m.logEvent(ctx, sessionID, models.LogInfo, "checkpoint saved: "+name, "", nil)
	return cp, nil
}

func (m *Manager) writeCheckpointSidecar(sessionID string, cp *models.Checkpoint) error {
	dir := m.storageDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dir, sessionID+"-"+cp.Name+".json")
	return os.WriteFile(path, encoded, 0o644)
}

// ListCheckpoints returns the persisted checkpoints for a session.
func (m *Manager) ListCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error) {
	checkpoints, err := m.repo.ListCheckpoints(ctx, sessionID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing checkpoints")
	}
	return checkpoints, nil
}
