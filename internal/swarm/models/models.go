// Package models defines the persisted entities of the swarm coordination
// core: swarms, agents, objectives, tasks, sessions, checkpoints, and
// session log events.
package models

import "time"

// Topology is a swarm's dispatch policy among coordinator and agents.
type Topology string

const (
	TopologyHierarchical Topology = "hierarchical"
	TopologyMesh         Topology = "mesh"
	TopologyStar         Topology = "star"
	TopologyCentralized  Topology = "centralized"
	TopologyDistributed  Topology = "distributed"
)

// SwarmStatus is the lifecycle state of a Swarm.
type SwarmStatus string

const (
	SwarmActive    SwarmStatus = "active"
	SwarmPaused    SwarmStatus = "paused"
	SwarmCompleted SwarmStatus = "completed"
	SwarmStopped   SwarmStatus = "stopped"
)

// QueenType selects the queen-agent coordination strategy.
type QueenType string

const (
	QueenStrategic QueenType = "strategic"
	QueenTactical  QueenType = "tactical"
	QueenAdaptive  QueenType = "adaptive"
)

// Swarm is a named collection of agents pursuing one or more objectives.
type Swarm struct {
	ID         string      `db:"id" json:"id"`
	Name       string      `db:"name" json:"name"`
	Topology   Topology    `db:"topology" json:"topology"`
	Status     SwarmStatus `db:"status" json:"status"`
	QueenType  QueenType   `db:"queen_type" json:"queen_type"`
	MaxWorkers int         `db:"max_workers" json:"max_workers"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// AgentRole distinguishes the swarm's queen from ordinary workers.
type AgentRole string

const (
	RoleQueen  AgentRole = "queen"
	RoleWorker AgentRole = "worker"
)

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentActive     AgentStatus = "active"
	AgentBusy       AgentStatus = "busy"
	AgentFailed     AgentStatus = "failed"
	AgentTerminated AgentStatus = "terminated"
)

// AgentResources bounds an agent's concurrent workload.
type AgentResources struct {
	CPUBudget          float64 `json:"cpu_budget"`
	MemoryBudgetMB     int     `json:"memory_budget_mb"`
	MaxConcurrentTasks int     `json:"max_concurrent_tasks"`
}

// DefaultAgentResources returns the default of one concurrent task.
func DefaultAgentResources() AgentResources {
	return AgentResources{CPUBudget: 1.0, MemoryBudgetMB: 512, MaxConcurrentTasks: 1}
}

// Agent is a worker registered with a swarm.
type Agent struct {
	ID              string         `db:"id" json:"id"`
	SwarmID         string         `db:"swarm_id" json:"swarm_id"`
	Name            string         `db:"name" json:"name"`
	Type            string         `db:"type" json:"type"`
	Role            AgentRole      `db:"role" json:"role"`
	Capabilities    []string       `json:"capabilities"`
	Status          AgentStatus    `db:"status" json:"status"`
	CurrentTaskID   string         `db:"current_task_id" json:"current_task_id,omitempty"`
	Resources       AgentResources `json:"resources"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	LastHeartbeat   time.Time      `db:"last_heartbeat" json:"last_heartbeat"`
	InsertionOrder  int            `json:"-"` // deterministic tie-break for scheduling
}

// ObjectiveStrategy selects a decomposition template.
type ObjectiveStrategy string

const (
	StrategyDevelopment ObjectiveStrategy = "development"
	StrategyResearch    ObjectiveStrategy = "research"
	StrategyAnalysis    ObjectiveStrategy = "analysis"
	StrategyTesting     ObjectiveStrategy = "testing"
	StrategyOptimization ObjectiveStrategy = "optimization"
	StrategyAuto        ObjectiveStrategy = "auto"
)

// ObjectiveStatus is the lifecycle state of an Objective.
type ObjectiveStatus string

const (
	ObjectivePending   ObjectiveStatus = "pending"
	ObjectiveExecuting ObjectiveStatus = "executing"
	ObjectiveCompleted ObjectiveStatus = "completed"
	ObjectiveFailed    ObjectiveStatus = "failed"
	ObjectiveCancelled ObjectiveStatus = "cancelled"
)

// Objective is a high-level user goal belonging to one swarm.
type Objective struct {
	ID          string            `db:"id" json:"id"`
	SwarmID     string            `db:"swarm_id" json:"swarm_id"`
	Name        string            `db:"name" json:"name"`
	Description string            `db:"description" json:"description"`
	Strategy    ObjectiveStrategy `db:"strategy" json:"strategy"`
	Status      ObjectiveStatus   `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	CompletedAt *time.Time        `db:"completed_at" json:"completed_at,omitempty"`
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskConstraints bounds execution of a task.
type TaskConstraints struct {
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"`
}

// DefaultTaskConstraints returns the default timeout and retry budget.
func DefaultTaskConstraints() TaskConstraints {
	return TaskConstraints{Timeout: 10 * time.Minute, MaxRetries: 3}
}

// Task is a unit of work, optionally belonging to an objective.
type Task struct {
	ID              string          `db:"id" json:"id"`
	SwarmID         string          `db:"swarm_id" json:"swarm_id"`
	ObjectiveID     string          `db:"objective_id" json:"objective_id,omitempty"`
	Type            string          `db:"type" json:"type"`
	Name            string          `db:"name" json:"name"`
	Description     string          `db:"description" json:"description"`
	Instructions    string          `db:"instructions" json:"instructions"`
	Status          TaskStatus      `db:"status" json:"status"`
	Priority        int             `db:"priority" json:"priority"`
	Progress        int             `db:"progress" json:"progress"`
	AssignedAgentID string          `db:"assigned_agent_id" json:"assigned_agent_id,omitempty"`
	Dependencies    []string        `json:"dependencies"`
	Constraints     TaskConstraints `json:"constraints"`
	Result          string          `db:"result" json:"result,omitempty"`
	Error           string          `db:"error" json:"error,omitempty"`
	AttemptCount    int             `db:"attempt_count" json:"attempt_count"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// HasUnmetDependency reports whether any dependency task id is not present
// (with completed status) in completed.
func (t *Task) HasUnmetDependency(completed map[string]bool) bool {
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return true
		}
	}
	return false
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionStopped   SessionStatus = "stopped"
)

// Session is a durable handle to one run of one swarm on one objective.
type Session struct {
	ID                   string                 `db:"id" json:"id"`
	SwarmID              string                 `db:"swarm_id" json:"swarm_id"`
	SwarmName            string                 `db:"swarm_name" json:"swarm_name"`
	Objective            string                 `db:"objective" json:"objective"`
	Status               SessionStatus          `db:"status" json:"status"`
	ParentPID            int                    `db:"parent_pid" json:"parent_pid"`
	ChildPIDs            []int                  `json:"child_pids"`
	CheckpointData       map[string]interface{} `json:"checkpoint_data"`
	CompletionPercentage int                    `db:"completion_percentage" json:"completion_percentage"`
	Metadata             map[string]interface{} `json:"metadata"`
	CreatedAt            time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time              `db:"updated_at" json:"updated_at"`
	PausedAt             *time.Time             `db:"paused_at" json:"paused_at,omitempty"`
	ResumedAt            *time.Time             `db:"resumed_at" json:"resumed_at,omitempty"`
	CompletedAt          *time.Time             `db:"completed_at" json:"completed_at,omitempty"`
}

// Checkpoint is a named snapshot within a session.
type Checkpoint struct {
	ID        string                 `db:"id" json:"id"`
	SessionID string                 `db:"session_id" json:"session_id"`
	Name      string                 `db:"name" json:"name"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

// LogLevel mirrors the session log severity enumeration.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// SessionLog is a single append-only event record for a session.
type SessionLog struct {
	ID        string                 `db:"id" json:"id"`
	SessionID string                 `db:"session_id" json:"session_id"`
	Timestamp time.Time              `db:"timestamp" json:"timestamp"`
	Level     LogLevel               `db:"level" json:"level"`
	Message   string                 `db:"message" json:"message"`
	AgentID   string                 `db:"agent_id" json:"agent_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
