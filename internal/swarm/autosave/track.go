package autosave

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// TrackChange records a mutation in the pending buffer with an ISO-8601
// timestamp. The recognised critical kinds additionally trigger an
// immediate out-of-band flush.
func (m *Middleware) TrackChange(ctx context.Context, kind string, data map[string]interface{}) {
	m.buffer1(kind, data)

	if criticalKinds[kind] {
		if err := m.ForceSave(ctx); err != nil {
			m.log.Warn("immediate flush on critical change failed", zap.Error(err), zap.String("kind", kind), zap.String("session_id", m.sessionID))
		}
	}
}

func (m *Middleware) buffer1(kind string, data map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, change{kind: kind, data: data, timestamp: time.Now().UTC()})
}

// statsFor aggregates the statistics block for one batch of changes.
func statsFor(batch []change) stats {
	var s stats
	for _, c := range batch {
		switch c.kind {
		case KindTaskProgress:
			s.tasksProcessed++
		case KindTaskCompleted:
			s.tasksProcessed++
			s.tasksCompleted++
		case KindMemoryUpdated:
			s.memoryUpdates++
		case KindAgentActivity, KindAgentSpawned:
			s.agentActivities++
		case KindConsensusReached, KindConsensusDecision:
			s.consensusDecisions++
		}
	}
	return s
}

// TrackTaskProgress buffers a task's progress update.
func (m *Middleware) TrackTaskProgress(ctx context.Context, taskID string, progress int) {
	m.TrackChange(ctx, KindTaskProgress, map[string]interface{}{
		"task_id":  taskID,
		"progress": progress,
	})
}

// TrackAgentActivity buffers an agent's activity note.
func (m *Middleware) TrackAgentActivity(ctx context.Context, agentID, activity string) {
	m.TrackChange(ctx, KindAgentActivity, map[string]interface{}{
		"agent_id": agentID,
		"activity": activity,
	})
}

// TrackMemoryUpdate buffers a memory store mutation.
func (m *Middleware) TrackMemoryUpdate(ctx context.Context, key string) {
	m.TrackChange(ctx, KindMemoryUpdated, map[string]interface{}{
		"key": key,
	})
}

// TrackConsensusDecision buffers a consensus decision outcome.
func (m *Middleware) TrackConsensusDecision(ctx context.Context, decisionID string, data map[string]interface{}) {
	payload := map[string]interface{}{"decision_id": decisionID}
	for k, v := range data {
		payload[k] = v
	}
	m.TrackChange(ctx, KindConsensusDecision, payload)
}

// ForceSave performs a synchronous flush of the pending buffer. An empty
// buffer is a cheap no-op that creates no checkpoint.
func (m *Middleware) ForceSave(ctx context.Context) error {
	m.mu.Lock()
	if len(m.buffer) == 0 {
		m.mu.Unlock()
		return nil
	}
	pending := m.buffer
	m.mu.Unlock()

	pendingStats := statsFor(pending)
	changesByType := make(map[string]int, len(pending))
	for _, c := range pending {
		changesByType[c.kind]++
	}

	now := time.Now().UTC()
	payload := map[string]interface{}{
		"timestamp":     now.Format(time.RFC3339),
		"changeCount":   len(pending),
		"changesByType": changesByType,
		"statistics": map[string]interface{}{
			"tasksProcessed":     pendingStats.tasksProcessed,
			"tasksCompleted":     pendingStats.tasksCompleted,
			"memoryUpdates":      pendingStats.memoryUpdates,
			"agentActivities":    pendingStats.agentActivities,
			"consensusDecisions": pendingStats.consensusDecisions,
		},
	}

	name := fmt.Sprintf("auto-save-%d", now.UnixMilli())
	if _, err := m.store.SaveCheckpoint(ctx, m.sessionID, name, payload); err != nil {
		// Buffer is retained on failure; the next flush (periodic or
		// critical-triggered) retries with the same entries plus whatever
		// accumulated since.
		return fmt.Errorf("autosave: saving checkpoint %s: %w", name, err)
	}

	if _, err := m.store.UpdateSessionProgress(ctx, m.sessionID); err != nil {
		m.log.Warn("auto-save could not recompute session progress", zap.Error(err), zap.String("session_id", m.sessionID))
	}

	for _, c := range pending {
		m.store.LogEvent(ctx, m.sessionID, models.LogInfo, "auto-save: "+c.kind, c.data)
	}

	m.mu.Lock()
	m.buffer = m.buffer[len(pending):]
	m.mu.Unlock()

	m.log.Debug("auto-save flush complete", zap.String("session_id", m.sessionID), zap.String("checkpoint", name), zap.Int("changes", len(pending)))
	return nil
}
