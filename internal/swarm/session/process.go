package session

import (
	"context"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/swarm/models"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
)

// isProcessAlive reports whether pid refers to a live process, using the
// signal-0 liveness probe idiom (send no actual signal, just check whether
// delivery would succeed).
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// StopSession terminates a session's tracked child processes with SIGTERM,
// waits up to the configured grace period, and marks the session stopped.
// Processes still alive after the grace period are left to the OS/init to
// reap; this is a best-effort graceful stop, not a guaranteed one.
func (m *Manager) StopSession(ctx context.Context, id string) error {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return swarmerrors.Wrap(err, "getting session to stop")
	}

	for _, pid := range s.ChildPIDs {
		if !isProcessAlive(pid) {
			continue
		}
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			m.log.Warn("failed to signal child process", zap.Int("pid", pid), zap.Error(err))
		}
	}

	deadline := time.Now().Add(m.stopGracePeriod)
	for time.Now().Before(deadline) {
		allDead := true
		for _, pid := range s.ChildPIDs {
			if isProcessAlive(pid) {
				allDead = false
				break
			}
		}
		if allDead {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	now := time.Now().UTC()
	s.Status = models.SessionStopped
	s.UpdatedAt = now
	if err := m.repo.UpdateSession(ctx, s); err != nil {
		return swarmerrors.Wrap(err, "persisting stopped session")
	}

	m.logEvent(ctx, id, models.LogInfo, "session stopped", "", nil)
	return nil
}

// CleanupOrphanedProcesses scans active/paused sessions for ones whose
// parent process is no longer alive (e.g. the coordinator restarted without
// a clean shutdown) and stops their children so they don't leak.
func (m *Manager) CleanupOrphanedProcesses(ctx context.Context) (int, error) {
	active, err := m.repo.ListSessionsByStatus(ctx, models.SessionActive)
	if err != nil {
		return 0, swarmerrors.Wrap(err, "listing active sessions for orphan cleanup")
	}
	paused, err := m.repo.ListSessionsByStatus(ctx, models.SessionPaused)
	if err != nil {
		return 0, swarmerrors.Wrap(err, "listing paused sessions for orphan cleanup")
	}

	cleaned := 0
	for _, s := range append(active, paused...) {
		if isProcessAlive(s.ParentPID) {
			continue
		}
		m.log.Info("cleaning up orphaned session", zap.String("session_id", s.ID), zap.Int("parent_pid", s.ParentPID))
		if err := m.StopSession(ctx, s.ID); err != nil {
			m.log.Warn("failed to stop orphaned session", zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		if err := m.swarms.UpdateSwarmStatus(ctx, s.SwarmID, models.SwarmStopped); err != nil {
			m.log.Warn("failed to stop orphaned session's swarm", zap.String("session_id", s.ID), zap.Error(err))
		}
		m.logEvent(ctx, s.ID, models.LogInfo, "orphaned session cleaned up", "", map[string]interface{}{
			"parent_pid": s.ParentPID,
		})
		cleaned++
	}
	return cleaned, nil
}
