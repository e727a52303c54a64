package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hivecore/swarmcore/internal/events/bus"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/executor"
	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// pollInterval is how often ExecuteObjective re-evaluates readiness when no
// task was immediately dispatchable, via a ticker-driven loop.
const pollInterval = 200 * time.Millisecond

// ExecuteObjective runs the main scheduling loop for one objective: while
// non-terminal tasks remain, it repeatedly dispatches every currently ready
// task (dependencies satisfied, an idle capable agent available) as one
// concurrent wave, waits for the wave to finish, and re-evaluates. It
// returns once every task belonging to the objective is terminal
// (completed, failed, or cancelled).
func (c *Coordinator) ExecuteObjective(ctx context.Context, swarmID, objectiveID string) error {
	st, err := c.stateFor(swarmID)
	if err != nil {
		return err
	}

	if err := c.objectiveRepo.UpdateObjectiveStatus(ctx, objectiveID, models.ObjectiveExecuting); err != nil {
		return swarmerrors.Wrap(err, "marking objective executing")
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		tasks, err := c.taskRepo.ListTasksByObjective(ctx, objectiveID)
		if err != nil {
			return swarmerrors.Wrap(err, "listing objective tasks")
		}
		if allTerminal(tasks) {
			status := models.ObjectiveCompleted
			if anyFailed(tasks) {
				status = models.ObjectiveFailed
			}
			return c.objectiveRepo.UpdateObjectiveStatus(ctx, objectiveID, status)
		}

		completed, err := c.completedTaskSet(ctx, swarmID)
		if err != nil {
			return err
		}

		c.dispatchWave(ctx, st, swarmID, tasks, completed)
	}
}

// dispatchWave pulls ready tasks off the swarm's priority queue — highest
// priority among dependency-ready tasks first — up to the swarm's
// maxConcurrentAgents budget, and concurrently executes them. A single task failure never aborts its
// siblings: errgroup is used only to bound and await the wave's goroutines,
// not to propagate cancellation on error.
func (c *Coordinator) dispatchWave(ctx context.Context, st *swarmState, swarmID string, tasks []*models.Task, completed map[string]bool) int {
	for _, t := range tasks {
		if t.Status == models.TaskPending {
			_ = st.queue.enqueue(t, !t.HasUnmetDependency(completed)) // already-queued tasks are no-ops (ErrTaskExists)
		}
	}
	st.queue.updateReadiness(completed)

	budget := st.maxConcurrentAgents
	if budget <= 0 {
		budget = 1
	}

	var g errgroup.Group
	var deferred []*models.Task
	dispatched := 0
	for dispatched < budget {
		task := st.queue.dequeueReady()
		if task == nil {
			break
		}
		if err := c.AssignTask(ctx, swarmID, task.ID); err != nil {
			c.log.Warn("failed to assign task", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		reloaded, err := c.taskRepo.GetTask(ctx, task.ID)
		if err != nil || reloaded.Status != models.TaskAssigned {
			// Not actually dispatched (no eligible agent); return it to the
			// queue after this loop so it is re-evaluated on the next wave.
			deferred = append(deferred, task)
			continue
		}
		dispatched++
		t := reloaded
		g.Go(func() error {
			if err := c.runTask(ctx, swarmID, t); err != nil {
				c.log.Warn("task run failed", zap.String("task_id", t.ID), zap.Error(err))
			}
			return nil
		})
	}
	for _, t := range deferred {
		_ = st.queue.enqueue(t, !t.HasUnmetDependency(completed))
	}
	_ = g.Wait()
	return dispatched
}

// runTask drives one assigned task through the Executor and folds the
// result back into task/agent state, honoring the retry policy on failure.
func (c *Coordinator) runTask(ctx context.Context, swarmID string, task *models.Task) error {
	st, err := c.stateFor(swarmID)
	if err != nil {
		return err
	}

	st.mu.RLock()
	agent := st.agents[task.AssignedAgentID]
	st.mu.RUnlock()
	if agent == nil {
		return swarmerrors.NotFound("agent", task.AssignedAgentID)
	}

	driver, err := c.driverFactory.DriverFor(agent)
	if err != nil {
		return swarmerrors.Wrap(err, "resolving driver for agent")
	}

	task.Status = models.TaskInProgress
	now := time.Now().UTC()
	task.StartedAt = &now
	task.AttemptCount++
	if err := c.taskRepo.UpdateTask(ctx, task); err != nil {
		return swarmerrors.Wrap(err, "marking task in progress")
	}

	result, execErr := c.exec.Execute(ctx, task, driver)

	if execErr == nil && result != nil && result.Success {
		return c.completeTask(ctx, swarmID, st, task, agent, result)
	}
	return c.failTask(ctx, swarmID, st, task, agent, result, execErr)
}

// completeTask marks the task completed (through the repository's
// transactional completion path), releases the agent back to idle, and
// publishes task.completed.
func (c *Coordinator) completeTask(ctx context.Context, swarmID string, st *swarmState, task *models.Task, agent *models.Agent, result *executor.Result) error {
	if err := c.taskRepo.CompleteTask(ctx, task.ID, result.Output); err != nil {
		return swarmerrors.Wrap(err, "completing task")
	}
	if err := c.finishAgent(ctx, st, agent); err != nil {
		return err
	}
	c.publishTaskCompleted(ctx, swarmID, task.ID, true)
	return nil
}

// failTask records the failure, returns the task to pending if the error is
// not a TerminalError and its retry budget remains (so the next wave
// re-dispatches it), or marks it permanently failed otherwise; the agent is
// released back to idle either way so it can pick up other work.
func (c *Coordinator) failTask(ctx context.Context, swarmID string, st *swarmState, task *models.Task, agent *models.Agent, result *executor.Result, execErr error) error {
	if result != nil {
		task.Error = result.Error
	} else if execErr != nil {
		task.Error = execErr.Error()
	}

	_, terminal := execErr.(*executor.TerminalError)
	if !terminal && c.exec.ShouldRetry(task) {
		task.Status = models.TaskPending
		task.AssignedAgentID = ""
		st.queue.delay(task.ID, time.Now().Add(executor.NextRetryDelay(task.AttemptCount)))
	} else {
		task.Status = models.TaskFailed
		now := time.Now().UTC()
		task.CompletedAt = &now
	}
	if err := c.taskRepo.UpdateTask(ctx, task); err != nil {
		return swarmerrors.Wrap(err, "updating failed task")
	}
	if err := c.finishAgent(ctx, st, agent); err != nil {
		return err
	}
	c.publishTaskCompleted(ctx, swarmID, task.ID, false)
	return nil
}

func (c *Coordinator) finishAgent(ctx context.Context, st *swarmState, agent *models.Agent) error {
	agent.Status = models.AgentIdle
	agent.CurrentTaskID = ""
	if err := c.agentRepo.UpdateAgent(ctx, agent); err != nil {
		return swarmerrors.Wrap(err, "releasing agent after task")
	}
	st.mu.Lock()
	st.agents[agent.ID] = agent
	st.mu.Unlock()
	return nil
}

func (c *Coordinator) publishTaskCompleted(ctx context.Context, swarmID, taskID string, success bool) {
	c.publish(ctx, bus.SubjectTaskCompleted, swarmID, map[string]interface{}{
		"task_id": taskID, "success": success,
	})
}

func allTerminal(tasks []*models.Task) bool {
	for _, t := range tasks {
		switch t.Status {
		case models.TaskCompleted, models.TaskFailed, models.TaskCancelled:
		default:
			return false
		}
	}
	return true
}

func anyFailed(tasks []*models.Task) bool {
	for _, t := range tasks {
		if t.Status == models.TaskFailed {
			return true
		}
	}
	return false
}
