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

type sessionRow struct {
	ID                   string         `db:"id"`
	SwarmID              string         `db:"swarm_id"`
	SwarmName            string         `db:"swarm_name"`
	Objective            string         `db:"objective"`
	Status               string         `db:"status"`
	ParentPID            int            `db:"parent_pid"`
	ChildPIDs            string         `db:"child_pids"`
	CheckpointData       string         `db:"checkpoint_data"`
	CompletionPercentage int            `db:"completion_percentage"`
	Metadata             string         `db:"metadata"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
	PausedAt             sql.NullTime   `db:"paused_at"`
	ResumedAt            sql.NullTime   `db:"resumed_at"`
	CompletedAt          sql.NullTime   `db:"completed_at"`
}

func (row *sessionRow) toModel() (*models.Session, error) {
	var childPIDs []int
	if err := json.Unmarshal([]byte(row.ChildPIDs), &childPIDs); err != nil {
		return nil, err
	}
	var checkpointData map[string]interface{}
	if err := json.Unmarshal([]byte(row.CheckpointData), &checkpointData); err != nil {
		return nil, err
	}
	var metadata map[string]interface{}
	if err := json.Unmarshal([]byte(row.Metadata), &metadata); err != nil {
		return nil, err
	}
	s := &models.Session{
		ID:                   row.ID,
		SwarmID:              row.SwarmID,
		SwarmName:            row.SwarmName,
		Objective:            row.Objective,
		Status:               models.SessionStatus(row.Status),
		ParentPID:            row.ParentPID,
		ChildPIDs:            childPIDs,
		CheckpointData:       checkpointData,
		CompletionPercentage: row.CompletionPercentage,
		Metadata:             metadata,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
	if row.PausedAt.Valid {
		s.PausedAt = &row.PausedAt.Time
	}
	if row.ResumedAt.Valid {
		s.ResumedAt = &row.ResumedAt.Time
	}
	if row.CompletedAt.Valid {
		s.CompletedAt = &row.CompletedAt.Time
	}
	return s, nil
}

const sessionColumns = `id, swarm_id, swarm_name, objective, status, parent_pid, child_pids,
	checkpoint_data, completion_percentage, metadata, created_at, updated_at, paused_at, resumed_at, completed_at`

func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	childPIDs := s.ChildPIDs
	if childPIDs == nil {
		childPIDs = []int{}
	}
	childPIDsJSON, err := json.Marshal(childPIDs)
	if err != nil {
		return swarmerrors.InternalError("encoding child pids", err)
	}
	checkpointData := s.CheckpointData
	if checkpointData == nil {
		checkpointData = map[string]interface{}{}
	}
	checkpointJSON, err := json.Marshal(checkpointData)
	if err != nil {
		return swarmerrors.InternalError("encoding checkpoint data", err)
	}
	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return swarmerrors.InternalError("encoding session metadata", err)
	}

	_, err = r.pool.Writer().ExecContext(ctx, `
		INSERT INTO sessions (id, swarm_id, swarm_name, objective, status, parent_pid, child_pids,
			checkpoint_data, completion_percentage, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.SwarmID, s.SwarmName, s.Objective, s.Status, s.ParentPID, string(childPIDsJSON),
		string(checkpointJSON), s.CompletionPercentage, string(metadataJSON), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return swarmerrors.InternalError("creating session", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var row sessionRow
	err := r.pool.Reader().GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, swarmerrors.NotFound("session", id)
	}
	if err != nil {
		return nil, swarmerrors.InternalError("fetching session", err)
	}
	return row.toModel()
}

func (r *Repository) UpdateSession(ctx context.Context, s *models.Session) error {
	s.UpdatedAt = time.Now().UTC()

	childPIDsJSON, err := json.Marshal(s.ChildPIDs)
	if err != nil {
		return swarmerrors.InternalError("encoding child pids", err)
	}
	checkpointJSON, err := json.Marshal(s.CheckpointData)
	if err != nil {
		return swarmerrors.InternalError("encoding checkpoint data", err)
	}
	metadataJSON, err := json.Marshal(s.Metadata)
	if err != nil {
		return swarmerrors.InternalError("encoding session metadata", err)
	}

	res, err := r.pool.Writer().ExecContext(ctx, `
		UPDATE sessions SET status = ?, parent_pid = ?, child_pids = ?, checkpoint_data = ?,
			completion_percentage = ?, metadata = ?, updated_at = ?, paused_at = ?, resumed_at = ?, completed_at = ?
		WHERE id = ?
	`, s.Status, s.ParentPID, string(childPIDsJSON), string(checkpointJSON), s.CompletionPercentage,
		string(metadataJSON), s.UpdatedAt, s.PausedAt, s.ResumedAt, s.CompletedAt, s.ID)
	if err != nil {
		return swarmerrors.InternalError("updating session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return swarmerrors.InternalError("checking update result", err)
	}
	if n == 0 {
		return swarmerrors.NotFound("session", s.ID)
	}
	return nil
}

func (r *Repository) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return r.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' ORDER BY created_at`)
}

func (r *Repository) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	return r.querySessions(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at`, status)
}

// DeleteSession permanently removes a session row; ON DELETE CASCADE takes
// its checkpoints and logs with it. Used only by archival, which exports
// the full aggregate to JSON first.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	res, err := r.pool.Writer().ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return swarmerrors.InternalError("deleting session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return swarmerrors.InternalError("checking delete result", err)
	}
	if n == 0 {
		return swarmerrors.NotFound("session", id)
	}
	return nil
}

func (r *Repository) querySessions(ctx context.Context, query string, args ...interface{}) ([]*models.Session, error) {
	var rows []sessionRow
	if err := r.pool.Reader().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, swarmerrors.InternalError("listing sessions", err)
	}
	out := make([]*models.Session, 0, len(rows))
	for _, row := range rows {
		s, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Repository) SaveCheckpoint(ctx context.Context, c *models.Checkpoint) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()

	data := c.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return swarmerrors.InternalError("encoding checkpoint data", err)
	}

	_, err = r.pool.Writer().ExecContext(ctx, `
		INSERT INTO session_checkpoints (id, session_id, name, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.SessionID, c.Name, string(dataJSON), c.CreatedAt)
	if err != nil {
		return swarmerrors.InternalError("saving checkpoint", err)
	}
	return nil
}

func (r *Repository) ListCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error) {
	type row struct {
		ID        string    `db:"id"`
		SessionID string    `db:"session_id"`
		Name      string    `db:"name"`
		Data      string    `db:"data"`
		CreatedAt time.Time `db:"created_at"`
	}
	var rows []row
	err := r.pool.Reader().SelectContext(ctx, &rows, `
		SELECT id, session_id, name, data, created_at FROM session_checkpoints
		WHERE session_id = ? ORDER BY created_at DESC
	`, sessionID)
	if err != nil {
		return nil, swarmerrors.InternalError("listing checkpoints", err)
	}
	out := make([]*models.Checkpoint, 0, len(rows))
	for _, rr := range rows {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(rr.Data), &data); err != nil {
			return nil, err
		}
		out = append(out, &models.Checkpoint{
			ID: rr.ID, SessionID: rr.SessionID, Name: rr.Name, Data: data, CreatedAt: rr.CreatedAt,
		})
	}
	return out, nil
}

func (r *Repository) AppendSessionLog(ctx context.Context, l *models.SessionLog) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}

	data := l.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return swarmerrors.InternalError("encoding session log data", err)
	}

	_, err = r.pool.Writer().ExecContext(ctx, `
		INSERT INTO session_logs (id, session_id, timestamp, level, message, agent_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.SessionID, l.Timestamp, l.Level, l.Message, l.AgentID, string(dataJSON))
	if err != nil {
		return swarmerrors.InternalError("appending session log", err)
	}
	return nil
}

func (r *Repository) ListSessionLogs(ctx context.Context, sessionID string, offset, limit int) ([]*models.SessionLog, error) {
	type row struct {
		ID        string         `db:"id"`
		SessionID string         `db:"session_id"`
		Timestamp time.Time      `db:"timestamp"`
		Level     string         `db:"level"`
		Message   string         `db:"message"`
		AgentID   sql.NullString `db:"agent_id"`
		Data      string         `db:"data"`
	}
	var rows []row
	err := r.pool.Reader().SelectContext(ctx, &rows, `
		SELECT id, session_id, timestamp, level, message, agent_id, data FROM session_logs
		WHERE session_id = ? ORDER BY timestamp DESC LIMIT ? OFFSET ?
	`, sessionID, limit, offset)
	if err != nil {
		return nil, swarmerrors.InternalError("listing session logs", err)
	}
	out := make([]*models.SessionLog, 0, len(rows))
	for _, rr := range rows {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(rr.Data), &data); err != nil {
			return nil, err
		}
		out = append(out, &models.SessionLog{
			ID: rr.ID, SessionID: rr.SessionID, Timestamp: rr.Timestamp,
			Level: models.LogLevel(rr.Level), Message: rr.Message, AgentID: rr.AgentID.String, Data: data,
		})
	}
	return out, nil
}
