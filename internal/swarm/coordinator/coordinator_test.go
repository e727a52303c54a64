package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivecore/swarmcore/internal/common/logger"
	"github.com/hivecore/swarmcore/internal/events/bus"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/executor"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// fakeRepo is an in-memory stand-in for every coordinator-facing repository
// interface, guarded by a single mutex for simplicity.
type fakeRepo struct {
	mu         sync.Mutex
	swarms     map[string]*models.Swarm
	agents     map[string]*models.Agent
	objectives map[string]*models.Objective
	tasks      map[string]*models.Task
	seq        int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		swarms:     make(map[string]*models.Swarm),
		agents:     make(map[string]*models.Agent),
		objectives: make(map[string]*models.Objective),
		tasks:      make(map[string]*models.Task),
	}
}

func (r *fakeRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%d", prefix, r.seq)
}

func (r *fakeRepo) CreateSwarm(_ context.Context, s *models.Swarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = r.nextID("swarm")
	}
	r.swarms[s.ID] = s
	return nil
}
func (r *fakeRepo) GetSwarm(_ context.Context, id string) (*models.Swarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.swarms[id]
	if !ok {
		return nil, swarmerrors.NotFound("swarm", id)
	}
	return s, nil
}
func (r *fakeRepo) UpdateSwarmStatus(_ context.Context, id string, status models.SwarmStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.swarms[id]
	if !ok {
		return swarmerrors.NotFound("swarm", id)
	}
	s.Status = status
	return nil
}
func (r *fakeRepo) ListSwarms(context.Context) ([]*models.Swarm, error) { return nil, nil }

func (r *fakeRepo) CreateAgent(_ context.Context, a *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = r.nextID("agent")
	}
	r.agents[a.ID] = a
	return nil
}
func (r *fakeRepo) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, swarmerrors.NotFound("agent", id)
	}
	return a, nil
}
func (r *fakeRepo) UpdateAgent(_ context.Context, a *models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID]; !ok {
		return swarmerrors.NotFound("agent", a.ID)
	}
	r.agents[a.ID] = a
	return nil
}
func (r *fakeRepo) ListAgentsBySwarm(_ context.Context, swarmID string) ([]*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Agent
	for _, a := range r.agents {
		if a.SwarmID == swarmID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (r *fakeRepo) ListIdleAgents(_ context.Context, swarmID string) ([]*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Agent
	for _, a := range r.agents {
		if a.SwarmID == swarmID && a.Status == models.AgentIdle {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateObjective(_ context.Context, o *models.Objective) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = r.nextID("objective")
	}
	r.objectives[o.ID] = o
	return nil
}
func (r *fakeRepo) GetObjective(_ context.Context, id string) (*models.Objective, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objectives[id]
	if !ok {
		return nil, swarmerrors.NotFound("objective", id)
	}
	return o, nil
}
func (r *fakeRepo) UpdateObjectiveStatus(_ context.Context, id string, status models.ObjectiveStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.objectives[id]
	if !ok {
		return swarmerrors.NotFound("objective", id)
	}
	o.Status = status
	return nil
}
func (r *fakeRepo) ListObjectivesBySwarm(context.Context, string) ([]*models.Objective, error) {
	return nil, nil
}

func (r *fakeRepo) CreateTask(_ context.Context, t *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		t.ID = r.nextID("task")
	}
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}
func (r *fakeRepo) GetTask(_ context.Context, id string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, swarmerrors.NotFound("task", id)
	}
	cp := *t
	return &cp, nil
}
func (r *fakeRepo) UpdateTask(_ context.Context, t *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; !ok {
		return swarmerrors.NotFound("task", t.ID)
	}
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}
func (r *fakeRepo) ListTasksByObjective(_ context.Context, objectiveID string) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.ObjectiveID == objectiveID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (r *fakeRepo) ListTasksBySwarm(_ context.Context, swarmID string) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.SwarmID == swarmID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (r *fakeRepo) ListTasksByStatus(_ context.Context, swarmID string, status models.TaskStatus) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Task
	for _, t := range r.tasks {
		if t.SwarmID == swarmID && t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (r *fakeRepo) CompleteTask(_ context.Context, taskID string, result string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return swarmerrors.NotFound("task", taskID)
	}
	t.Status = models.TaskCompleted
	t.Result = result
	now := time.Now().UTC()
	t.CompletedAt = &now
	return nil
}

// fakeDriverFactory always returns the same in-process driver.
type fakeDriverFactory struct {
	fn executor.InProcFunc
}

func (f fakeDriverFactory) DriverFor(*models.Agent) (executor.AgentDriver, error) {
	return executor.NewInProcDriver(f.fn), nil
}

func newTestCoordinator(t *testing.T, fn executor.InProcFunc) (*Coordinator, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	log, err := logger.New(logger.Config{Level: "error", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)
	exec := executor.New(log)
	b := bus.NewMemoryBus(log)
	coord := New(repo, repo, repo, repo, exec, fakeDriverFactory{fn: fn}, b, log)
	return coord, repo
}

func successDriver(_ context.Context, _ string) (string, error) {
	return "done", nil
}

func TestInitAndRegisterAgent(t *testing.T) {
	coord, _ := newTestCoordinator(t, successDriver)
	ctx := context.Background()

	swarmID, err := coord.Init(ctx, InitConfig{Name: "test-swarm", MaxTasks: 10})
	require.NoError(t, err)
	require.NotEmpty(t, swarmID)

	agentID, err := coord.RegisterAgent(ctx, swarmID, "coder-1", "coding", []string{"code_generation"}, models.RoleWorker)
	require.NoError(t, err)
	require.NotEmpty(t, agentID)

	status, err := coord.GetSwarmStatus(ctx, swarmID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.AgentCount)
	assert.Equal(t, 1, status.IdleAgents)
}

func TestCreateObjective_DevelopmentDecomposition(t *testing.T) {
	coord, repo := newTestCoordinator(t, successDriver)
	ctx := context.Background()

	swarmID, err := coord.Init(ctx, InitConfig{Name: "dev-swarm", MaxTasks: 20})
	require.NoError(t, err)

	objID, err := coord.CreateObjective(ctx, swarmID, "ship feature", "implement the new widget", models.StrategyDevelopment)
	require.NoError(t, err)
	require.NotEmpty(t, objID)

	tasks, err := repo.ListTasksByObjective(ctx, objID)
	require.NoError(t, err)
	require.Len(t, tasks, 5)

	byName := map[string]*models.Task{}
	for _, tk := range tasks {
		byName[tk.Name] = tk
	}
	assert.Empty(t, byName["Analysis"].Dependencies)
	assert.Equal(t, []string{byName["Analysis"].ID}, byName["Design"].Dependencies)
	assert.Equal(t, []string{byName["Design"].ID}, byName["Implementation"].Dependencies)
	assert.Equal(t, []string{byName["Implementation"].ID}, byName["Testing"].Dependencies)
	assert.Equal(t, []string{byName["Implementation"].ID}, byName["Documentation"].Dependencies)
}

func TestCreateObjective_AutoClassifiesByKeyword(t *testing.T) {
	coord, repo := newTestCoordinator(t, successDriver)
	ctx := context.Background()
	swarmID, err := coord.Init(ctx, InitConfig{Name: "auto-swarm", MaxTasks: 20})
	require.NoError(t, err)

	objID, err := coord.CreateObjective(ctx, swarmID, "investigate", "research the competitive landscape", models.StrategyAuto)
	require.NoError(t, err)

	obj, err := repo.GetObjective(ctx, objID)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyResearch, obj.Strategy)

	tasks, err := repo.ListTasksByObjective(ctx, objID)
	require.NoError(t, err)
	assert.Len(t, tasks, 3) // gather, synthesize, analyze
}

func TestCreateTask_RejectsCyclicDependency(t *testing.T) {
	coord, _ := newTestCoordinator(t, successDriver)
	ctx := context.Background()
	swarmID, err := coord.Init(ctx, InitConfig{Name: "cyclic-swarm", MaxTasks: 10})
	require.NoError(t, err)

	aID, err := coord.CreateTask(ctx, swarmID, &models.Task{Type: "coding", Name: "A"})
	require.NoError(t, err)

	bID, err := coord.CreateTask(ctx, swarmID, &models.Task{Type: "coding", Name: "B", Dependencies: []string{aID}})
	require.NoError(t, err)

	_, err = coord.CreateTask(ctx, swarmID, &models.Task{ID: aID, Type: "coding", Name: "A-cycle", Dependencies: []string{bID}})
	assert.ErrorIs(t, err, swarmerrors.ErrCyclicDependency)
}

func TestAssignTask_PrefersCapabilityMatchAndInsertionOrder(t *testing.T) {
	coord, repo := newTestCoordinator(t, successDriver)
	ctx := context.Background()
	swarmID, err := coord.Init(ctx, InitConfig{Name: "assign-swarm", MaxTasks: 10})
	require.NoError(t, err)

	_, err = coord.RegisterAgent(ctx, swarmID, "generalist", "generic", nil, models.RoleWorker)
	require.NoError(t, err)
	coderID, err := coord.RegisterAgent(ctx, swarmID, "coder", "coding", []string{"code_generation"}, models.RoleWorker)
	require.NoError(t, err)

	taskID, err := coord.CreateTask(ctx, swarmID, &models.Task{Type: "coding", Name: "implement thing"})
	require.NoError(t, err)

	require.NoError(t, coord.AssignTask(ctx, swarmID, taskID))

	task, err := repo.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskAssigned, task.Status)
	assert.Equal(t, coderID, task.AssignedAgentID)
}

func TestAssignTask_LeavesTaskPendingOnUnmetDependency(t *testing.T) {
	coord, repo := newTestCoordinator(t, successDriver)
	ctx := context.Background()
	swarmID, err := coord.Init(ctx, InitConfig{Name: "dep-swarm", MaxTasks: 10})
	require.NoError(t, err)
	_, err = coord.RegisterAgent(ctx, swarmID, "coder", "coding", nil, models.RoleWorker)
	require.NoError(t, err)

	depID, err := coord.CreateTask(ctx, swarmID, &models.Task{Type: "coding", Name: "dep"})
	require.NoError(t, err)
	taskID, err := coord.CreateTask(ctx, swarmID, &models.Task{Type: "coding", Name: "blocked", Dependencies: []string{depID}})
	require.NoError(t, err)

	require.NoError(t, coord.AssignTask(ctx, swarmID, taskID))

	task, err := repo.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
}

func TestExecuteObjective_CompletesAllTasksInDependencyOrder(t *testing.T) {
	coord, repo := newTestCoordinator(t, successDriver)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	swarmID, err := coord.Init(ctx, InitConfig{Name: "exec-swarm", MaxTasks: 20, MaxConcurrentAgents: 2})
	require.NoError(t, err)
	_, err = coord.RegisterAgent(ctx, swarmID, "worker-1", "generic", nil, models.RoleWorker)
	require.NoError(t, err)
	_, err = coord.RegisterAgent(ctx, swarmID, "worker-2", "generic", nil, models.RoleWorker)
	require.NoError(t, err)

	objID, err := coord.CreateObjective(ctx, swarmID, "research task", "research the options", models.StrategyResearch)
	require.NoError(t, err)

	err = coord.ExecuteObjective(ctx, swarmID, objID)
	require.NoError(t, err)

	obj, err := repo.GetObjective(ctx, objID)
	require.NoError(t, err)
	assert.Equal(t, models.ObjectiveCompleted, obj.Status)

	tasks, err := repo.ListTasksByObjective(ctx, objID)
	require.NoError(t, err)
	for _, tk := range tasks {
		assert.Equal(t, models.TaskCompleted, tk.Status, "task %s should be completed", tk.Name)
	}
}

func TestHandleFailure_ReassignsWithinRetryBudget(t *testing.T) {
	coord, repo := newTestCoordinator(t, successDriver)
	ctx := context.Background()
	swarmID, err := coord.Init(ctx, InitConfig{Name: "fail-swarm", MaxTasks: 10})
	require.NoError(t, err)
	agentID, err := coord.RegisterAgent(ctx, swarmID, "coder", "coding", nil, models.RoleWorker)
	require.NoError(t, err)
	taskID, err := coord.CreateTask(ctx, swarmID, &models.Task{Type: "coding", Name: "flaky"})
	require.NoError(t, err)
	require.NoError(t, coord.AssignTask(ctx, swarmID, taskID))

	require.NoError(t, coord.HandleFailure(ctx, swarmID, agentID, assert.AnError))

	agent, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentFailed, agent.Status)

	task, err := repo.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
}

func TestCancelObjective_CancelsNonTerminalTasks(t *testing.T) {
	coord, repo := newTestCoordinator(t, successDriver)
	ctx := context.Background()
	swarmID, err := coord.Init(ctx, InitConfig{Name: "cancel-swarm", MaxTasks: 10})
	require.NoError(t, err)

	objID, err := coord.CreateObjective(ctx, swarmID, "analyze", "analyze the logs", models.StrategyAnalysis)
	require.NoError(t, err)

	require.NoError(t, coord.CancelObjective(ctx, objID))

	obj, err := repo.GetObjective(ctx, objID)
	require.NoError(t, err)
	assert.Equal(t, models.ObjectiveCancelled, obj.Status)

	tasks, err := repo.ListTasksByObjective(ctx, objID)
	require.NoError(t, err)
	for _, tk := range tasks {
		assert.Equal(t, models.TaskCancelled, tk.Status)
	}
}
