package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivecore/swarmcore/internal/common/logger"
	"github.com/hivecore/swarmcore/internal/events/bus"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// fakeRepo is an in-memory stand-in for the repository package, exercising
// exactly the Session/Swarm/Agent/Task surfaces the Session Manager needs.
type fakeRepo struct {
	mu          sync.Mutex
	swarms      map[string]*models.Swarm
	agents      map[string][]*models.Agent
	tasks       map[string][]*models.Task
	sessions    map[string]*models.Session
	checkpoints map[string][]*models.Checkpoint
	logs        map[string][]*models.SessionLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		swarms:      map[string]*models.Swarm{},
		agents:      map[string][]*models.Agent{},
		tasks:       map[string][]*models.Task{},
		sessions:    map[string]*models.Session{},
		checkpoints: map[string][]*models.Checkpoint{},
		logs:        map[string][]*models.SessionLog{},
	}
}

func (f *fakeRepo) GetSwarm(ctx context.Context, id string) (*models.Swarm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.swarms[id]
	if !ok {
		return nil, swarmerrors.NotFound("swarm", id)
	}
	return s, nil
}
func (f *fakeRepo) CreateSwarm(ctx context.Context, s *models.Swarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	f.swarms[s.ID] = s
	return nil
}
func (f *fakeRepo) UpdateSwarmStatus(ctx context.Context, id string, status models.SwarmStatus) error {
	return nil
}
func (f *fakeRepo) ListSwarms(ctx context.Context) ([]*models.Swarm, error) { return nil, nil }

func (f *fakeRepo) ListAgentsBySwarm(ctx context.Context, swarmID string) ([]*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[swarmID], nil
}
func (f *fakeRepo) CreateAgent(ctx context.Context, a *models.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	f.agents[a.SwarmID] = append(f.agents[a.SwarmID], a)
	return nil
}
func (f *fakeRepo) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, agents := range f.agents {
		for _, a := range agents {
			if a.ID == id {
				cp := *a
				return &cp, nil
			}
		}
	}
	return nil, swarmerrors.NotFound("agent", id)
}
func (f *fakeRepo) UpdateAgent(ctx context.Context, a *models.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.agents[a.SwarmID] {
		if existing.ID == a.ID {
			*existing = *a
		}
	}
	return nil
}
func (f *fakeRepo) ListIdleAgents(ctx context.Context, swarmID string) ([]*models.Agent, error) {
	return nil, nil
}

func (f *fakeRepo) ListTasksBySwarm(ctx context.Context, swarmID string) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[swarmID], nil
}
func (f *fakeRepo) CreateTask(ctx context.Context, t *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	f.tasks[t.SwarmID] = append(f.tasks[t.SwarmID], t)
	return nil
}
func (f *fakeRepo) GetTask(ctx context.Context, id string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tasks := range f.tasks {
		for _, t := range tasks {
			if t.ID == id {
				cp := *t
				return &cp, nil
			}
		}
	}
	return nil, swarmerrors.NotFound("task", id)
}
func (f *fakeRepo) UpdateTask(ctx context.Context, t *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tasks := range f.tasks {
		for _, existing := range tasks {
			if existing.ID == t.ID {
				*existing = *t
				return nil
			}
		}
	}
	return swarmerrors.NotFound("task", t.ID)
}
func (f *fakeRepo) ListTasksByObjective(ctx context.Context, objectiveID string) ([]*models.Task, error) {
	return nil, nil
}
func (f *fakeRepo) ListTasksByStatus(ctx context.Context, swarmID string, status models.TaskStatus) ([]*models.Task, error) {
	return nil, nil
}
func (f *fakeRepo) CompleteTask(ctx context.Context, taskID string, result string) error { return nil }

func (f *fakeRepo) CreateSession(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}
func (f *fakeRepo) GetSession(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, swarmerrors.NotFound("session", id)
	}
	cp := *s
	return &cp, nil
}
func (f *fakeRepo) UpdateSession(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.ID]; !ok {
		return swarmerrors.NotFound("session", s.ID)
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}
func (f *fakeRepo) ListActiveSessions(ctx context.Context) ([]*models.Session, error) {
	return f.ListSessionsByStatus(ctx, models.SessionActive)
}
func (f *fakeRepo) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Session
	for _, s := range f.sessions {
		if s.Status == status {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (f *fakeRepo) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return swarmerrors.NotFound("session", id)
	}
	delete(f.sessions, id)
	delete(f.checkpoints, id)
	delete(f.logs, id)
	return nil
}

func (f *fakeRepo) SaveCheckpoint(ctx context.Context, c *models.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	f.checkpoints[c.SessionID] = append(f.checkpoints[c.SessionID], c)
	return nil
}
func (f *fakeRepo) ListCheckpoints(ctx context.Context, sessionID string) ([]*models.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoints[sessionID], nil
}

func (f *fakeRepo) AppendSessionLog(ctx context.Context, l *models.SessionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	f.logs[l.SessionID] = append(f.logs[l.SessionID], l)
	return nil
}
func (f *fakeRepo) ListSessionLogs(ctx context.Context, sessionID string, offset, limit int) ([]*models.SessionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[sessionID], nil
}

func newTestManager(t *testing.T) (*Manager, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	b := bus.NewMemoryBus(log)
	mgr := New(repo, repo, repo, repo, b, log, WithStorageDir(t.TempDir()), WithStopGracePeriod(50*time.Millisecond))
	return mgr, repo
}

func TestCreateAndGetSession(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()

	repo.swarms["swarm-1"] = &models.Swarm{ID: "swarm-1", Name: "test"}

	s := &models.Session{SwarmID: "swarm-1", Objective: "ship it"}
	require.NoError(t, mgr.CreateSession(ctx, s))
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, models.SessionActive, s.Status)

	detail, err := mgr.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, detail.Session.ID)
	assert.Equal(t, "swarm-1", detail.Swarm.ID)
}

func TestPauseResumeSession(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	repo.swarms["swarm-1"] = &models.Swarm{ID: "swarm-1"}

	s := &models.Session{SwarmID: "swarm-1"}
	require.NoError(t, mgr.CreateSession(ctx, s))

	require.NoError(t, mgr.PauseSession(ctx, s.ID))
	require.NoError(t, mgr.PauseSession(ctx, s.ID)) // idempotent

	paused, err := mgr.repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPaused, paused.Status)

	require.NoError(t, mgr.ResumeSession(ctx, s.ID))
	resumed, err := mgr.repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, resumed.Status)
}

func TestResumeSession_ArchivedSessionFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.ResumeSession(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, swarmerrors.ErrSessionArchived)
}

func TestGetActiveSessions_AggregatesTaskCompletion(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	repo.swarms["swarm-1"] = &models.Swarm{ID: "swarm-1"}
	repo.agents["swarm-1"] = []*models.Agent{{ID: "a1", SwarmID: "swarm-1"}}
	repo.tasks["swarm-1"] = []*models.Task{
		{ID: "t1", SwarmID: "swarm-1", Status: models.TaskCompleted},
		{ID: "t2", SwarmID: "swarm-1", Status: models.TaskPending},
	}

	s := &models.Session{SwarmID: "swarm-1"}
	require.NoError(t, mgr.CreateSession(ctx, s))

	summaries, err := mgr.GetActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].AgentCount)
	assert.Equal(t, 2, summaries[0].TaskCount)
	assert.Equal(t, 1, summaries[0].CompletedTasks)
	assert.Equal(t, 50, summaries[0].CompletionPercentage)
}

func TestAddRemoveChildPid(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	repo.swarms["swarm-1"] = &models.Swarm{ID: "swarm-1"}

	s := &models.Session{SwarmID: "swarm-1"}
	require.NoError(t, mgr.CreateSession(ctx, s))

	require.NoError(t, mgr.AddChildPid(ctx, s.ID, 1234))
	require.NoError(t, mgr.AddChildPid(ctx, s.ID, 1234)) // dedup

	got, err := mgr.repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1234}, got.ChildPIDs)

	require.NoError(t, mgr.RemoveChildPid(ctx, s.ID, 1234))
	got, err = mgr.repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ChildPIDs)
}

func TestSaveCheckpoint_WritesSidecarAndRow(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	repo.swarms["swarm-1"] = &models.Swarm{ID: "swarm-1"}

	s := &models.Session{SwarmID: "swarm-1"}
	require.NoError(t, mgr.CreateSession(ctx, s))

	cp, err := mgr.SaveCheckpoint(ctx, s.ID, "step-1", map[string]interface{}{"progress": 10})
	require.NoError(t, err)
	assert.Equal(t, "step-1", cp.Name)

	checkpoints, err := mgr.ListCheckpoints(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, checkpoints, 1)
}

func TestExportImportSession_MintsNewID(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	repo.swarms["swarm-1"] = &models.Swarm{ID: "swarm-1", Name: "exported-swarm", Topology: models.TopologyHierarchical}

	agentA := &models.Agent{ID: "agent-a", SwarmID: "swarm-1", Name: "worker-a"}
	require.NoError(t, repo.CreateAgent(ctx, agentA))

	taskA := &models.Task{ID: "task-a", SwarmID: "swarm-1", Name: "first", Status: models.TaskCompleted}
	require.NoError(t, repo.CreateTask(ctx, taskA))
	taskB := &models.Task{ID: "task-b", SwarmID: "swarm-1", Name: "second", Status: models.TaskPending,
		AssignedAgentID: "agent-a", Dependencies: []string{"task-a"}}
	require.NoError(t, repo.CreateTask(ctx, taskB))

	agentA.CurrentTaskID = "task-b"
	require.NoError(t, repo.UpdateAgent(ctx, agentA))

	s := &models.Session{SwarmID: "swarm-1", Objective: "export me"}
	require.NoError(t, mgr.CreateSession(ctx, s))
	_, err := mgr.SaveCheckpoint(ctx, s.ID, "cp1", map[string]interface{}{"a": 1})
	require.NoError(t, err)

	export, err := mgr.ExportSession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, export.Checkpoints, 1)
	require.NotNil(t, export.Swarm)
	require.Len(t, export.Agents, 1)
	require.Len(t, export.Tasks, 2)
	assert.Equal(t, 1, export.Statistics.CompletedTasks)
	assert.Equal(t, 2, export.Statistics.TaskCount)
	assert.Equal(t, 50, export.Statistics.CompletionPercentage)

	imported, err := mgr.ImportSession(ctx, export)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, imported.ID)
	assert.NotEqual(t, "swarm-1", imported.SwarmID)
	assert.Equal(t, models.SessionPaused, imported.Status)

	importedCheckpoints, err := mgr.ListCheckpoints(ctx, imported.ID)
	require.NoError(t, err)
	assert.Len(t, importedCheckpoints, 1)

	importedAgents, err := repo.ListAgentsBySwarm(ctx, imported.SwarmID)
	require.NoError(t, err)
	require.Len(t, importedAgents, 1)
	assert.NotEqual(t, "agent-a", importedAgents[0].ID)
	assert.Equal(t, imported.SwarmID, importedAgents[0].SwarmID)

	importedTasks, err := repo.ListTasksBySwarm(ctx, imported.SwarmID)
	require.NoError(t, err)
	require.Len(t, importedTasks, 2)

	var first, second *models.Task
	for _, t := range importedTasks {
		if t.Name == "first" {
			first = t
		} else if t.Name == "second" {
			second = t
		}
	}
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, "task-a", first.ID)
	assert.NotEqual(t, "task-b", second.ID)
	assert.Equal(t, importedAgents[0].ID, second.AssignedAgentID)
	assert.Equal(t, []string{first.ID}, second.Dependencies)
	assert.Equal(t, second.ID, importedAgents[0].CurrentTaskID)
}

func TestArchiveSessions_DeletesOldCompletedSessions(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	repo.swarms["swarm-1"] = &models.Swarm{ID: "swarm-1"}

	s := &models.Session{SwarmID: "swarm-1"}
	require.NoError(t, mgr.CreateSession(ctx, s))
	require.NoError(t, mgr.CompleteSession(ctx, s.ID))

	// Force the session to look old enough to archive.
	old, err := mgr.repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, mgr.repo.UpdateSession(ctx, old))

	archiveDir := t.TempDir()
	n, err := mgr.ArchiveSessions(ctx, 24*time.Hour, archiveDir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = mgr.repo.GetSession(ctx, s.ID)
	assert.True(t, swarmerrors.IsNotFound(err))
}

func TestStopSession_MarksStoppedEvenWithNoChildren(t *testing.T) {
	mgr, repo := newTestManager(t)
	ctx := context.Background()
	repo.swarms["swarm-1"] = &models.Swarm{ID: "swarm-1"}

	s := &models.Session{SwarmID: "swarm-1"}
	require.NoError(t, mgr.CreateSession(ctx, s))

	require.NoError(t, mgr.StopSession(ctx, s.ID))
	stopped, err := mgr.repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, stopped.Status)
}
