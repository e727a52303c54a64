package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAgentResourcesAllowsOneConcurrentTask(t *testing.T) {
	r := DefaultAgentResources()
	assert.Equal(t, 1, r.MaxConcurrentTasks)
	assert.Greater(t, r.CPUBudget, 0.0)
	assert.Greater(t, r.MemoryBudgetMB, 0)
}

func TestDefaultTaskConstraintsAllowsRetries(t *testing.T) {
	c := DefaultTaskConstraints()
	assert.Equal(t, 10*time.Minute, c.Timeout)
	assert.Equal(t, 3, c.MaxRetries)
}

func TestHasUnmetDependencyTrueWhenDependencyNotCompleted(t *testing.T) {
	task := &Task{Dependencies: []string{"t1", "t2"}}
	completed := map[string]bool{"t1": true}
	assert.True(t, task.HasUnmetDependency(completed))
}

func TestHasUnmetDependencyFalseWhenAllCompleted(t *testing.T) {
	task := &Task{Dependencies: []string{"t1", "t2"}}
	completed := map[string]bool{"t1": true, "t2": true}
	assert.False(t, task.HasUnmetDependency(completed))
}

func TestHasUnmetDependencyFalseWhenNoDependencies(t *testing.T) {
	task := &Task{}
	assert.False(t, task.HasUnmetDependency(nil))
}
