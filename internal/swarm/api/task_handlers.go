package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hivecore/swarmcore/internal/swarm/models"
)

// httpTaskList implements `task list`, scoped to one swarm.
func (s *Server) httpTaskList(c *gin.Context) {
	swarmID := c.Query("swarm_id")
	if swarmID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "swarm_id is required"})
		return
	}

	var tasks []*models.Task
	var err error
	if status := c.Query("status"); status != "" {
		tasks, err = s.taskRepo().ListTasksByStatus(c.Request.Context(), swarmID, models.TaskStatus(status))
	} else {
		tasks, err = s.taskRepo().ListTasksBySwarm(c.Request.Context(), swarmID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

type createTaskRequest struct {
	SwarmID      string   `json:"swarm_id" binding:"required"`
	Type         string   `json:"type"`
	Name         string   `json:"name" binding:"required"`
	Description  string   `json:"description"`
	Instructions string   `json:"instructions"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies"`
}

// httpTaskCreate implements `task create`, creating a standalone task (no
// objective) directly through the coordinator so dependency-cycle
// validation and work-queue enqueueing apply the same as decomposed tasks.
func (s *Server) httpTaskCreate(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	taskType := req.Type
	if taskType == "" {
		taskType = "generic"
	}

	task := &models.Task{
		SwarmID:      req.SwarmID,
		Type:         taskType,
		Name:         req.Name,
		Description:  req.Description,
		Instructions: req.Instructions,
		Status:       models.TaskPending,
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
		Constraints:  models.DefaultTaskConstraints(),
	}
	id, err := s.coordinator.CreateTask(c.Request.Context(), req.SwarmID, task)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task_id": id})
}

// httpTaskShow implements `task show`.
func (s *Server) httpTaskShow(c *gin.Context) {
	task, err := s.taskRepo().GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

type updateTaskRequest struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Instructions *string  `json:"instructions"`
	Priority     *int     `json:"priority"`
	Progress     *int     `json:"progress"`
}

// httpTaskUpdate implements `task update`: a partial field patch. Status
// transitions stay exclusive to the Coordinator/Executor, so this endpoint
// does not accept a status field.
func (s *Server) httpTaskUpdate(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.taskRepo().GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Name != nil {
		task.Name = *req.Name
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Instructions != nil {
		task.Instructions = *req.Instructions
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Progress != nil {
		task.Progress = *req.Progress
	}

	if err := s.taskRepo().UpdateTask(c.Request.Context(), task); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// httpTaskDelete implements `task delete`. Tasks are never physically
// removed; this cancels the task instead.
func (s *Server) httpTaskDelete(c *gin.Context) {
	if err := s.coordinator.CancelTask(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// httpTaskStats implements `task stats`: status counts for one swarm.
func (s *Server) httpTaskStats(c *gin.Context) {
	swarmID := c.Query("swarm_id")
	if swarmID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "swarm_id is required"})
		return
	}
	tasks, err := s.taskRepo().ListTasksBySwarm(c.Request.Context(), swarmID)
	if err != nil {
		respondError(c, err)
		return
	}

	byStatus := make(map[string]int)
	for _, t := range tasks {
		byStatus[string(t.Status)]++
	}
	c.JSON(http.StatusOK, gin.H{"total": len(tasks), "by_status": byStatus})
}

// httpTaskSearch implements `task search`: a case-insensitive substring
// match over name/description/instructions within one swarm.
func (s *Server) httpTaskSearch(c *gin.Context) {
	swarmID := c.Query("swarm_id")
	query := strings.ToLower(c.Query("q"))
	if swarmID == "" || query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "swarm_id and q are required"})
		return
	}

	tasks, err := s.taskRepo().ListTasksBySwarm(c.Request.Context(), swarmID)
	if err != nil {
		respondError(c, err)
		return
	}

	var matches []*models.Task
	for _, t := range tasks {
		haystack := strings.ToLower(t.Name + " " + t.Description + " " + t.Instructions)
		if strings.Contains(haystack, query) {
			matches = append(matches, t)
		}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": matches})
}

