package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/swarm/coordinator"
	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
	"github.com/hivecore/swarmcore/internal/swarm/models"
	"github.com/hivecore/swarmcore/internal/swarm/session"
)

type initRequest struct {
	Name                string            `json:"name" binding:"required"`
	Topology            models.Topology   `json:"topology"`
	QueenType           models.QueenType  `json:"queen_type"`
	MaxWorkers          int               `json:"max_workers"`
	MaxTasks            int               `json:"max_tasks"`
	MaxConcurrentAgents int               `json:"max_concurrent_agents"`
}

type initResponse struct {
	SwarmID   string `json:"swarm_id"`
	SessionID string `json:"session_id"`
}

// httpInit creates a swarm and its durable session handle, returning both
// ids.
func (s *Server) httpInit(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	swarmID, session, err := s.initSwarm(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, initResponse{SwarmID: swarmID, SessionID: session.ID})
}

func (s *Server) initSwarm(ctx context.Context, req initRequest) (string, *models.Session, error) {
	swarmID, err := s.coordinator.Init(ctx, coordinator.InitConfig{
		Name:                req.Name,
		Topology:            req.Topology,
		QueenType:           req.QueenType,
		MaxWorkers:          req.MaxWorkers,
		MaxTasks:            req.MaxTasks,
		MaxConcurrentAgents: req.MaxConcurrentAgents,
	})
	if err != nil {
		return "", nil, err
	}

	sess := &models.Session{SwarmID: swarmID, SwarmName: req.Name}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return "", nil, err
	}
	s.startAutosave(ctx, sess.ID)
	return swarmID, sess, nil
}

type spawnRequest struct {
	Objective  string           `json:"objective" binding:"required"`
	Name       string           `json:"name"`
	QueenType  models.QueenType `json:"queen_type"`
	MaxWorkers int              `json:"max_workers"`
	Strategy   models.ObjectiveStrategy `json:"strategy"`
}

type spawnResponse struct {
	SwarmID     string `json:"swarm_id"`
	SessionID   string `json:"session_id"`
	ObjectiveID string `json:"objective_id"`
}

// httpSpawn is a convenience wrapper: it inits a swarm, registers generalist
// worker agents, decomposes the objective, and kicks off execution in the
// background, returning immediately with ids the caller can poll via
// /sessions/:id/status.
func (s *Server) httpSpawn(c *gin.Context) {
	var req spawnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		req.Name = req.Objective
	}
	maxWorkers := req.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 3
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyAuto
	}

	ctx := c.Request.Context()
	swarmID, sess, err := s.initSwarm(ctx, initRequest{
		Name:       req.Name,
		QueenType:  req.QueenType,
		MaxWorkers: maxWorkers,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if _, err := s.coordinator.RegisterAgent(ctx, swarmID, req.Name+"-queen", "coordinator", nil, models.RoleQueen); err != nil {
		respondError(c, err)
		return
	}
	for i := 0; i < maxWorkers; i++ {
		if _, err := s.coordinator.RegisterAgent(ctx, swarmID, req.Name+"-worker", "worker", nil, models.RoleWorker); err != nil {
			respondError(c, err)
			return
		}
	}

	objectiveID, err := s.coordinator.CreateObjective(ctx, swarmID, req.Name, req.Objective, strategy)
	if err != nil {
		respondError(c, err)
		return
	}

	go func() {
		// Detached from the request context: execution outlives the HTTP
		// call that kicked it off.
		if err := s.coordinator.ExecuteObjective(context.Background(), swarmID, objectiveID); err != nil {
			s.log.Error("objective execution failed", zap.String("swarm_id", swarmID), zap.String("objective_id", objectiveID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, spawnResponse{SwarmID: swarmID, SessionID: sess.ID, ObjectiveID: objectiveID})
}

// httpListSessions lists active and paused sessions with completion
// percentages.
func (s *Server) httpListSessions(c *gin.Context) {
	summaries, err := s.sessions.GetActiveSessions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

// httpSessionStatus returns the full session detail aggregate.
func (s *Server) httpSessionStatus(c *gin.Context) {
	detail, err := s.sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// httpResumeSession rehydrates a paused or stopped session. With
// ?claude=true it returns a human-readable context block instead of the
// raw detail, for a caller to feed to an interactive agent as a resume
// prompt (the `--claude` CLI flag's programmatic equivalent).
func (s *Server) httpResumeSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.sessions.ResumeSession(c.Request.Context(), id); err != nil {
		if err == swarmerrors.ErrSessionArchived {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	s.startAutosave(c.Request.Context(), id)

	detail, err := s.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("claude") == "true" {
		c.JSON(http.StatusOK, gin.H{"prompt": resumePrompt(detail)})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) httpPauseSession(c *gin.Context) {
	if err := s.sessions.PauseSession(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) httpStopSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.sessions.StopSession(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	s.stopAutosave(c.Request.Context(), id)
	c.Status(http.StatusNoContent)
}

func (s *Server) httpExportSession(c *gin.Context) {
	export, err := s.sessions.ExportSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

// resumePrompt renders a session detail as a short human-readable context
// block, the programmatic equivalent of the `resume --claude` CLI flag.
func resumePrompt(detail *session.SessionDetail) string {
	completed := 0
	for _, t := range detail.Tasks {
		if t.Status == models.TaskCompleted {
			completed++
		}
	}
	prompt := "Resuming swarm session " + detail.Session.ID + " (" + detail.Session.SwarmName + ")\n"
	prompt += "Objective: " + detail.Session.Objective + "\n"
	prompt += "Agents: "
	for i, a := range detail.Agents {
		if i > 0 {
			prompt += ", "
		}
		prompt += a.Name + " (" + string(a.Status) + ")"
	}
	prompt += "\n"
	prompt += "Tasks completed: " + strconv.Itoa(completed) + "/" + strconv.Itoa(len(detail.Tasks)) + "\n"
	for _, l := range detail.RecentLogs {
		prompt += "- " + l.Message + "\n"
	}
	return prompt
}

func (s *Server) httpImportSession(c *gin.Context) {
	var export session.ExportedSession
	if err := c.ShouldBindJSON(&export); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	imported, err := s.sessions.ImportSession(c.Request.Context(), &export)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, imported)
}
