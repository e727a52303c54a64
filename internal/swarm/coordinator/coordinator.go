// Package coordinator implements the swarm coordination core's Swarm
// Coordinator: swarm/agent/objective/task lifecycle, objective decomposition,
// task assignment, and the main scheduling loop that dispatches ready tasks
// to the Executor.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/logger"
	"github.com/hivecore/swarmcore/internal/events/bus"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/executor"
	"github.com/hivecore/swarmcore/internal/swarm/models"
	"github.com/hivecore/swarmcore/internal/swarm/repository"
)

// DriverFactory resolves the AgentDriver that should carry out a given
// agent's work. The coordinator never constructs drivers itself; it asks
// the factory once per dispatch, keeping the coordinator transport-agnostic.
type DriverFactory interface {
	DriverFor(agent *models.Agent) (executor.AgentDriver, error)
}

// taskExecutor is the subset of *executor.Executor the coordinator needs;
// narrowed to an interface so tests can substitute a fake.
type taskExecutor interface {
	Execute(ctx context.Context, task *models.Task, driver executor.AgentDriver) (*executor.Result, error)
	ShouldRetry(task *models.Task) bool
}

// InitConfig parameters a new swarm.
type InitConfig struct {
	Name                string
	Topology            models.Topology
	QueenType           models.QueenType
	MaxWorkers          int
	MaxTasks            int
	MaxConcurrentAgents int
}

// swarmState is the coordinator's in-memory arena for one swarm: its
// routing table of registered agents, dependency graph, and work queue,
// behind one mutex per swarm; long operations never hold mu across driver
// I/O.
type swarmState struct {
	mu                  sync.RWMutex
	swarm               *models.Swarm
	agents              map[string]*models.Agent
	insertionCounter    int
	dependencies        map[string][]string // taskID -> dependency task IDs
	maxConcurrentAgents int
	queue               *workQueue
}

// Coordinator owns every swarm's in-memory arena and orchestrates
// decomposition, assignment, and execution against the persistence store.
type Coordinator struct {
	swarmRepo     repository.SwarmRepository
	agentRepo     repository.AgentRepository
	objectiveRepo repository.ObjectiveRepository
	taskRepo      repository.TaskRepository

	exec          taskExecutor
	driverFactory DriverFactory
	eventBus      bus.Bus
	log           *logger.Logger

	defaultConstraints models.TaskConstraints

	swarms sync.Map // swarmID -> *swarmState
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDefaultTaskConstraints overrides the timeout/retry budget newly
// decomposed tasks get when nothing more specific applies.
func WithDefaultTaskConstraints(c models.TaskConstraints) Option {
	return func(co *Coordinator) {
		if c.Timeout > 0 || c.MaxRetries > 0 {
			co.defaultConstraints = c
		}
	}
}

// New constructs a Coordinator over the given repositories, Executor,
// driver factory, and event bus.
func New(
	swarmRepo repository.SwarmRepository,
	agentRepo repository.AgentRepository,
	objectiveRepo repository.ObjectiveRepository,
	taskRepo repository.TaskRepository,
	exec taskExecutor,
	driverFactory DriverFactory,
	eventBus bus.Bus,
	log *logger.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		swarmRepo:          swarmRepo,
		agentRepo:          agentRepo,
		objectiveRepo:      objectiveRepo,
		taskRepo:           taskRepo,
		exec:               exec,
		driverFactory:      driverFactory,
		eventBus:           eventBus,
		log:                log,
		defaultConstraints: models.DefaultTaskConstraints(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init creates a swarm and establishes its bounded in-memory work queue.
func (c *Coordinator) Init(ctx context.Context, cfg InitConfig) (string, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = cfg.MaxWorkers
	}
	if cfg.Topology == "" {
		cfg.Topology = models.TopologyCentralized
	}
	if cfg.QueenType == "" {
		cfg.QueenType = models.QueenStrategic
	}

	swarm := &models.Swarm{
		Name:       cfg.Name,
		Topology:   cfg.Topology,
		Status:     models.SwarmActive,
		QueenType:  cfg.QueenType,
		MaxWorkers: cfg.MaxWorkers,
	}
	if err := c.swarmRepo.CreateSwarm(ctx, swarm); err != nil {
		return "", swarmerrors.Wrap(err, "creating swarm")
	}

	st := &swarmState{
		swarm:               swarm,
		agents:              make(map[string]*models.Agent),
		dependencies:        make(map[string][]string),
		maxConcurrentAgents: cfg.MaxConcurrentAgents,
		queue:               newWorkQueue(cfg.MaxTasks),
	}
	c.swarms.Store(swarm.ID, st)

	c.log.Info("swarm initialized",
		zap.String("swarm_id", swarm.ID), zap.String("topology", string(cfg.Topology)))
	return swarm.ID, nil
}

func (c *Coordinator) stateFor(swarmID string) (*swarmState, error) {
	v, ok := c.swarms.Load(swarmID)
	if !ok {
		return nil, swarmerrors.NotFound("swarm", swarmID)
	}
	return v.(*swarmState), nil
}

// RegisterAgent appends an agent row and publishes it into the in-memory
// routing table, assigning it the next deterministic insertion order.
func (c *Coordinator) RegisterAgent(ctx context.Context, swarmID, name, agentType string, capabilities []string, role models.AgentRole) (string, error) {
	st, err := c.stateFor(swarmID)
	if err != nil {
		return "", err
	}

	agent := &models.Agent{
		SwarmID:       swarmID,
		Name:          name,
		Type:          agentType,
		Role:          role,
		Capabilities:  capabilities,
		Status:        models.AgentIdle,
		Resources:     models.DefaultAgentResources(),
		LastHeartbeat: time.Now().UTC(),
	}
	if err := c.agentRepo.CreateAgent(ctx, agent); err != nil {
		return "", swarmerrors.Wrap(err, "creating agent")
	}

	st.mu.Lock()
	agent.InsertionOrder = st.insertionCounter
	st.insertionCounter++
	st.agents[agent.ID] = agent
	st.mu.Unlock()

	c.publish(ctx, bus.SubjectAgentSpawned, swarmID, map[string]interface{}{
		"agent_id": agent.ID, "name": name, "type": agentType, "role": string(role),
	})
	return agent.ID, nil
}

// CreateObjective decomposes description into tasks using a strategy
// template and persists both the objective and its generated tasks.
func (c *Coordinator) CreateObjective(ctx context.Context, swarmID, name, description string, strategy models.ObjectiveStrategy) (string, error) {
	st, err := c.stateFor(swarmID)
	if err != nil {
		return "", err
	}

	templates, resolved := decomposeObjective(description, strategy)

	objective := &models.Objective{
		SwarmID:     swarmID,
		Name:        name,
		Description: description,
		Strategy:    resolved,
		Status:      models.ObjectivePending,
	}
	if err := c.objectiveRepo.CreateObjective(ctx, objective); err != nil {
		return "", swarmerrors.Wrap(err, "creating objective")
	}

	ids := make([]string, len(templates))
	for i, tpl := range templates {
		task := &models.Task{
			SwarmID:      swarmID,
			ObjectiveID:  objective.ID,
			Type:         tpl.taskType,
			Name:         tpl.name,
			Description:  tpl.description,
			Instructions: instructionsFor(tpl),
			Status:       models.TaskPending,
			Constraints:  c.defaultConstraints,
		}
		if err := c.taskRepo.CreateTask(ctx, task); err != nil {
			return "", swarmerrors.Wrap(err, "creating decomposed task")
		}
		ids[i] = task.ID
	}

	st.mu.Lock()
	for i, tpl := range templates {
		deps := make([]string, len(tpl.deps))
		for j, depIdx := range tpl.deps {
			deps[j] = ids[depIdx]
		}
		st.dependencies[ids[i]] = deps
	}
	st.mu.Unlock()

	for i, tpl := range templates {
		if len(tpl.deps) == 0 {
			continue
		}
		deps := st.dependencies[ids[i]]
		task, err := c.taskRepo.GetTask(ctx, ids[i])
		if err != nil {
			return "", swarmerrors.Wrap(err, "reloading decomposed task")
		}
		task.Dependencies = deps
		if err := c.taskRepo.UpdateTask(ctx, task); err != nil {
			return "", swarmerrors.Wrap(err, "persisting task dependencies")
		}
	}

	for i, id := range ids {
		task, err := c.taskRepo.GetTask(ctx, id)
		if err != nil {
			return "", swarmerrors.Wrap(err, "reloading task for queueing")
		}
		if err := st.queue.enqueue(task, len(templates[i].deps) == 0); err != nil {
			c.log.Warn("failed to queue decomposed task", zap.String("task_id", id), zap.Error(err))
		}
	}

	c.log.Info("objective decomposed",
		zap.String("objective_id", objective.ID), zap.String("strategy", string(resolved)), zap.Int("task_count", len(templates)))
	return objective.ID, nil
}

// CreateTask creates a single task directly, bypassing decomposition.
// Dependencies are validated against the in-memory dependency graph and
// rejected with ErrCyclicDependency if they would introduce a cycle.
func (c *Coordinator) CreateTask(ctx context.Context, swarmID string, t *models.Task) (string, error) {
	st, err := c.stateFor(swarmID)
	if err != nil {
		return "", err
	}
	t.SwarmID = swarmID
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	if t.Constraints.Timeout == 0 && t.Constraints.MaxRetries == 0 {
		t.Constraints = c.defaultConstraints
	}

	st.mu.Lock()
	if wouldCycle(st.dependencies, t.ID, t.Dependencies) {
		st.mu.Unlock()
		return "", swarmerrors.ErrCyclicDependency
	}
	st.mu.Unlock()

	if err := c.taskRepo.CreateTask(ctx, t); err != nil {
		return "", swarmerrors.Wrap(err, "creating task")
	}

	st.mu.Lock()
	st.dependencies[t.ID] = append([]string(nil), t.Dependencies...)
	st.mu.Unlock()

	if err := st.queue.enqueue(t, len(t.Dependencies) == 0); err != nil {
		c.log.Warn("failed to queue task", zap.String("task_id", t.ID), zap.Error(err))
	}

	return t.ID, nil
}

// wouldCycle reports whether adding a node with the given dependency edges
// introduces a cycle in the existing dependency graph, via DFS from each
// dependency looking for a path back to the new node.
func wouldCycle(graph map[string][]string, newNode string, deps []string) bool {
	visited := make(map[string]bool)
	var visit func(node string) bool
	visit = func(node string) bool {
		if node == newNode {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, dep := range graph[node] {
			if visit(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range deps {
		if visit(dep) {
			return true
		}
	}
	return false
}

// AssignTask chooses an agent for taskID using a four-step algorithm —
// dependency check, capability match, load tie-break, insertion-order
// tie-break — and atomically records the assignment.
func (c *Coordinator) AssignTask(ctx context.Context, swarmID, taskID string) error {
	st, err := c.stateFor(swarmID)
	if err != nil {
		return err
	}
	task, err := c.taskRepo.GetTask(ctx, taskID)
	if err != nil {
		return swarmerrors.Wrap(err, "loading task for assignment")
	}
	if task.Status != models.TaskPending {
		return nil
	}

	completed, err := c.completedTaskSet(ctx, swarmID)
	if err != nil {
		return err
	}
	if task.HasUnmetDependency(completed) {
		return nil
	}

	st.mu.RLock()
	candidate := selectAgent(st.agents, task.Type)
	st.mu.RUnlock()
	if candidate == nil {
		return nil
	}

	task.Status = models.TaskAssigned
	task.AssignedAgentID = candidate.ID
	if err := c.taskRepo.UpdateTask(ctx, task); err != nil {
		return swarmerrors.Wrap(err, "assigning task")
	}

	candidate.Status = models.AgentActive
	candidate.CurrentTaskID = task.ID
	if err := c.agentRepo.UpdateAgent(ctx, candidate); err != nil {
		return swarmerrors.Wrap(err, "activating assigned agent")
	}

	st.mu.Lock()
	st.agents[candidate.ID] = candidate
	st.mu.Unlock()

	return nil
}

// selectAgent filters by idle status and capability match, then tie-breaks
// on lowest load, then insertion order. An idle agent that explicitly advertises the matching
// capability is always preferred over a generalist (one with no declared
// capabilities, which accepts any task type as a fallback); only when no
// specifically-capable agent is idle does a generalist get picked.
func selectAgent(agents map[string]*models.Agent, taskType string) *models.Agent {
	want := capabilityFor(taskType)
	var exact, generalists []*models.Agent
	for _, a := range agents {
		if a.Status != models.AgentIdle {
			continue
		}
		switch {
		case hasCapability(a.Capabilities, want, taskType):
			exact = append(exact, a)
		case len(a.Capabilities) == 0:
			generalists = append(generalists, a)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = generalists
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].InsertionOrder < candidates[j].InsertionOrder
	})
	return candidates[0]
}

// hasCapability is a structural match: a task of type "coding" prefers an
// agent advertising "code_generation".
func hasCapability(capabilities []string, want, taskType string) bool {
	for _, cap := range capabilities {
		if cap == want || cap == taskType {
			return true
		}
	}
	return false
}

func capabilityFor(taskType string) string {
	switch taskType {
	case "coding":
		return "code_generation"
	case "testing":
		return "test_execution"
	case "analysis":
		return "data_analysis"
	case "research":
		return "information_retrieval"
	case "design":
		return "system_design"
	case "documentation":
		return "technical_writing"
	default:
		return taskType
	}
}

func (c *Coordinator) completedTaskSet(ctx context.Context, swarmID string) (map[string]bool, error) {
	completedTasks, err := c.taskRepo.ListTasksByStatus(ctx, swarmID, models.TaskCompleted)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing completed tasks")
	}
	set := make(map[string]bool, len(completedTasks))
	for _, t := range completedTasks {
		set[t.ID] = true
	}
	return set, nil
}

// HandleFailure marks an agent failed and, if the task's retry budget
// remains, returns it to pending for reassignment; otherwise marks the
// task failed.
func (c *Coordinator) HandleFailure(ctx context.Context, swarmID, agentID string, failure error) error {
	st, err := c.stateFor(swarmID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	agent, ok := st.agents[agentID]
	st.mu.Unlock()
	if !ok {
		return swarmerrors.NotFound("agent", agentID)
	}

	taskID := agent.CurrentTaskID
	agent.Status = models.AgentFailed
	agent.CurrentTaskID = ""
	if err := c.agentRepo.UpdateAgent(ctx, agent); err != nil {
		return swarmerrors.Wrap(err, "marking agent failed")
	}
	st.mu.Lock()
	st.agents[agentID] = agent
	st.mu.Unlock()

	if taskID != "" {
		task, err := c.taskRepo.GetTask(ctx, taskID)
		if err != nil {
			return swarmerrors.Wrap(err, "loading task after agent failure")
		}
		task.Error = failure.Error()
		if c.exec.ShouldRetry(task) {
			task.Status = models.TaskPending
			task.AssignedAgentID = ""
		} else {
			task.Status = models.TaskFailed
		}
		if err := c.taskRepo.UpdateTask(ctx, task); err != nil {
			return swarmerrors.Wrap(err, "updating task after agent failure")
		}
	}

	c.publish(ctx, bus.SubjectAgentActivity, swarmID, map[string]interface{}{
		"agent_id": agentID, "event": "failed", "error": failure.Error(), "task_id": taskID,
	})
	return nil
}

// SwarmStatus aggregates a swarm's current counts for GetSwarmStatus.
type SwarmStatus struct {
	SwarmID      string
	Status       models.SwarmStatus
	AgentCount   int
	IdleAgents   int
	ActiveAgents int
	FailedAgents int
	PendingTasks int
	RunningTasks int
	DoneTasks    int
	FailedTasks  int
}

// GetSwarmStatus aggregates the live agent routing table and persisted
// task counts for one swarm.
func (c *Coordinator) GetSwarmStatus(ctx context.Context, swarmID string) (*SwarmStatus, error) {
	st, err := c.stateFor(swarmID)
	if err != nil {
		return nil, err
	}

	status := &SwarmStatus{SwarmID: swarmID, Status: st.swarm.Status}
	st.mu.RLock()
	for _, a := range st.agents {
		status.AgentCount++
		switch a.Status {
		case models.AgentIdle:
			status.IdleAgents++
		case models.AgentActive, models.AgentBusy:
			status.ActiveAgents++
		case models.AgentFailed:
			status.FailedAgents++
		}
	}
	st.mu.RUnlock()

	tasks, err := c.taskRepo.ListTasksBySwarm(ctx, swarmID)
	if err != nil {
		return nil, swarmerrors.Wrap(err, "listing tasks for status")
	}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskPending:
			status.PendingTasks++
		case models.TaskAssigned, models.TaskInProgress:
			status.RunningTasks++
		case models.TaskCompleted:
			status.DoneTasks++
		case models.TaskFailed, models.TaskCancelled:
			status.FailedTasks++
		}
	}
	return status, nil
}

// Metrics reports coordinator-wide execution counters for GetMetrics.
type Metrics struct {
	ExecutionMetrics executor.ExecutionMetrics
	SwarmCount       int
}

// GetMetrics combines the Executor's running counters with the number of
// swarms currently held in memory.
func (c *Coordinator) GetMetrics() Metrics {
	count := 0
	c.swarms.Range(func(_, _ interface{}) bool { count++; return true })

	m := Metrics{SwarmCount: count}
	if ge, ok := c.exec.(interface{ GetExecutionMetrics() executor.ExecutionMetrics }); ok {
		m.ExecutionMetrics = ge.GetExecutionMetrics()
	}
	return m
}

// CancelObjective cancels every non-terminal task belonging to objectiveID
// and marks the objective cancelled. Tasks already completed or failed are
// left as-is.
func (c *Coordinator) CancelObjective(ctx context.Context, objectiveID string) error {
	tasks, err := c.taskRepo.ListTasksByObjective(ctx, objectiveID)
	if err != nil {
		return swarmerrors.Wrap(err, "listing objective tasks to cancel")
	}
	for _, t := range tasks {
		switch t.Status {
		case models.TaskCompleted, models.TaskFailed, models.TaskCancelled:
			continue
		}
		t.Status = models.TaskCancelled
		if err := c.taskRepo.UpdateTask(ctx, t); err != nil {
			return swarmerrors.Wrap(err, "cancelling task")
		}
	}
	return c.objectiveRepo.UpdateObjectiveStatus(ctx, objectiveID, models.ObjectiveCancelled)
}

// CancelTask cancels a single task outside of an objective-wide cancellation.
// A no-op if the task has already reached a terminal state. Tasks are never
// physically deleted (matching swarms), so the API's task-delete operation
// routes here instead of removing the row.
func (c *Coordinator) CancelTask(ctx context.Context, taskID string) error {
	t, err := c.taskRepo.GetTask(ctx, taskID)
	if err != nil {
		return swarmerrors.Wrap(err, "getting task to cancel")
	}
	switch t.Status {
	case models.TaskCompleted, models.TaskFailed, models.TaskCancelled:
		return nil
	}
	t.Status = models.TaskCancelled
	return c.taskRepo.UpdateTask(ctx, t)
}

func (c *Coordinator) publish(ctx context.Context, subject, swarmID string, data map[string]interface{}) {
	if c.eventBus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["swarm_id"] = swarmID
	c.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "coordinator", data))
}
