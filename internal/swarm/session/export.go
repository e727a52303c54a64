package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// ExportedSession is the full, self-contained JSON form of a session:
// everything needed to recreate the session's state in a different
// database — its swarm, agents, and tasks included, not just the session
// row itself.
type ExportedSession struct {
	Session     *models.Session      `json:"session"`
	Swarm       *models.Swarm        `json:"swarm"`
	Agents      []*models.Agent      `json:"agents"`
	Tasks       []*models.Task       `json:"tasks"`
	Checkpoints []*models.Checkpoint `json:"checkpoints"`
	Logs        []*models.SessionLog `json:"logs"`
	Statistics  ExportStatistics     `json:"statistics"`
	ExportedAt  time.Time            `json:"exported_at"`
}

// ExportStatistics summarizes the exported swarm's task completion at the
// moment of export, the same roll-up GetActiveSessions reports live.
type ExportStatistics struct {
	AgentCount           int `json:"agent_count"`
	TaskCount            int `json:"task_count"`
	CompletedTasks       int `json:"completed_tasks"`
	CompletionPercentage int `json:"completion_percentage"`
}

// ExportSession serializes a session's full state — including its swarm,
// agents, and tasks — to JSON.
func (m *Manager) ExportSession(ctx context.Context, sessionID string) (*ExportedSession, error) {
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "getting session to export")
	}
	swarm, err := m.swarms.GetSwarm(ctx, s.SwarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "getting session's swarm to export")
	}
	agents, err := m.agents.ListAgentsBySwarm(ctx, s.SwarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing session's agents to export")
	}
	tasks, err := m.tasks.ListTasksBySwarm(ctx, s.SwarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing session's tasks to export")
	}
	checkpoints, err := m.repo.ListCheckpoints(ctx, sessionID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing checkpoints to export")
	}
	logs, err := m.repo.ListSessionLogs(ctx, sessionID, 0, 1<<30)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing logs to export")
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

	return &ExportedSession{
		Session:     s,
		Swarm:       swarm,
		Agents:      agents,
		Tasks:       tasks,
		Checkpoints: checkpoints,
		Logs:        logs,
		Statistics: ExportStatistics{
			AgentCount:           len(agents),
			TaskCount:            len(tasks),
			CompletedTasks:       completed,
			CompletionPercentage: pct,
		},
		ExportedAt: time.Now().UTC(),
	}, nil
}

// ImportSession recreates a session from a previously exported snapshot,
// minting new IDs for the session, its swarm, its agents, and its tasks so
// importing the same export twice never collides with the original, and
// rewriting every cross-reference (task dependencies, task/agent
// assignment, swarm membership) to the newly minted IDs.
func (m *Manager) ImportSession(ctx context.Context, export *ExportedSession) (*models.Session, error) {
	newSwarmID := ""
	if export.Swarm != nil {
		swarm := *export.Swarm
		swarm.ID = ""
		if err := m.swarms.CreateSwarm(ctx, &swarm); err != nil {
			return nil, swarmerrors.Wrap(err, "recreating swarm from import")
		}
		newSwarmID = swarm.ID
	}

	agentIDMap := make(map[string]string, len(export.Agents))
	for _, a := range export.Agents {
		imported := *a
		oldID := imported.ID
		imported.ID = ""
		imported.SwarmID = newSwarmID
		// CurrentTaskID is remapped in a second pass once task IDs are known.
		imported.CurrentTaskID = ""
		if err := m.agents.CreateAgent(ctx, &imported); err != nil {
			return nil, swarmerrors.Wrap(err, "recreating agent from import")
		}
		agentIDMap[oldID] = imported.ID
	}

	taskIDMap := make(map[string]string, len(export.Tasks))
	for _, t := range export.Tasks {
		imported := *t
		oldID := imported.ID
		imported.ID = ""
		imported.SwarmID = newSwarmID
		if imported.AssignedAgentID != "" {
			imported.AssignedAgentID = agentIDMap[imported.AssignedAgentID]
		}
		// Dependencies reference old task IDs until every task has been
		// recreated; remapped in the pass below.
		imported.Dependencies = nil
		if err := m.tasks.CreateTask(ctx, &imported); err != nil {
			return nil, swarmerrors.Wrap(err, "recreating task from import")
		}
		taskIDMap[oldID] = imported.ID
	}

	for _, t := range export.Tasks {
		if len(t.Dependencies) == 0 {
			continue
		}
		newID, ok := taskIDMap[t.ID]
		if !ok {
			continue
		}
		created, err := m.tasks.GetTask(ctx, newID)
		if err != nil {
			return nil, swarmerrors.Wrap(err, "reloading imported task to remap dependencies")
		}
		remapped := make([]string, 0, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			if mapped, ok := taskIDMap[dep]; ok {
				remapped = append(remapped, mapped)
			}
		}
		created.Dependencies = remapped
		if err := m.tasks.UpdateTask(ctx, created); err != nil {
			return nil, swarmerrors.Wrap(err, "persisting remapped task dependencies")
		}
	}

	for _, a := range export.Agents {
		if a.CurrentTaskID == "" {
			continue
		}
		newAgentID, ok := agentIDMap[a.ID]
		if !ok {
			continue
		}
		newTaskID, ok := taskIDMap[a.CurrentTaskID]
		if !ok {
			continue
		}
		created, err := m.agents.GetAgent(ctx, newAgentID)
		if err != nil {
			return nil, swarmerrors.Wrap(err, "reloading imported agent to remap current task")
		}
		created.CurrentTaskID = newTaskID
		if err := m.agents.UpdateAgent(ctx, created); err != nil {
			return nil, swarmerrors.Wrap(err, "persisting remapped agent current task")
		}
	}

	s := *export.Session
	s.ID = uuid.New().String()
	if newSwarmID != "" {
		s.SwarmID = newSwarmID
	}
	s.Status = models.SessionPaused

	if err := m.CreateSession(ctx, &s); err != nil {
		return nil, swarmerrors.Wrap(err, "recreating session from import")
	}
	// CreateSession forces Active; importing restores the paused state a
	// stopped/archived export implies until explicitly resumed.
	s.Status = models.SessionPaused
	if err := m.repo.UpdateSession(ctx, &s); err != nil {
		return nil, swarmerrors.Wrap(err, "persisting imported session status")
	}

	for _, cp := range export.Checkpoints {
		imported := *cp
		imported.ID = ""
		imported.SessionID = s.ID
		if err := m.repo.SaveCheckpoint(ctx, &imported); err != nil {
			return nil, swarmerrors.Wrap(err, "importing checkpoint")
		}
	}
	for _, l := range export.Logs {
		imported := *l
		imported.ID = ""
		imported.SessionID = s.ID
		if err := m.repo.AppendSessionLog(ctx, &imported); err != nil {
			return nil, swarmerrors.Wrap(err, "importing session log")
		}
	}

	return &s, nil
}

// ArchiveSessions exports and permanently deletes completed/stopped
// sessions older than olderThan. Irreversible: once a session is archived,
// ResumeSession must refuse it with ErrSessionArchived, since there is no
// database row left to resume.
func (m *Manager) ArchiveSessions(ctx context.Context, olderThan time.Duration, archiveDir string) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	archived := 0

	for _, status := range []models.SessionStatus{models.SessionCompleted, models.SessionStopped} {
		sessions, err := m.repo.ListSessionsByStatus(ctx, status)
		if err != nil {
			return archived, swarmerrors.Wrap(err, "listing sessions to archive")
		}
		for _, s := range sessions {
			if s.UpdatedAt.After(cutoff) {
				continue
			}

			export, err := m.ExportSession(ctx, s.ID)
			if err != nil {
				m.log.Warn("failed to export session before archiving", zap.String("session_id", s.ID), zap.Error(err))
				continue
			}

			if err := writeArchiveFile(archiveDir, s.ID, export); err != nil {
				m.log.Warn("failed to write archive file", zap.String("session_id", s.ID), zap.Error(err))
				continue
			}

			if err := m.repo.DeleteSession(ctx, s.ID); err != nil {
				m.log.Warn("failed to delete archived session", zap.String("session_id", s.ID), zap.Error(err))
				continue
			}
			archived++
		}
	}

	return archived, nil
}

func writeArchiveFile(archiveDir, sessionID string, export *ExportedSession) error {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(archiveDir, sessionID+"-archive.json")
	return os.WriteFile(path, encoded, 0o644)
}
