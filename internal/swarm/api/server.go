// Package api exposes the swarm coordination core's programmatic API: a
// gin HTTP surface over swarm lifecycle, session, memory, and task
// operations, plus a Prometheus scrape endpoint.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hivecore/swarmcore/internal/common/logger"
	"github.com/hivecore/swarmcore/internal/events/bus"
	"github.com/hivecore/swarmcore/internal/memory"
	"github.com/hivecore/swarmcore/internal/swarm/autosave"
	"github.com/hivecore/swarmcore/internal/swarm/coordinator"
	"github.com/hivecore/swarmcore/internal/swarm/repository"
	"github.com/hivecore/swarmcore/internal/swarm/session"
)

// Server wires the HTTP surface to the core's subsystems.
type Server struct {
	engine      *gin.Engine
	sessions    *session.Manager
	coordinator *coordinator.Coordinator
	tasks       repository.TaskRepository
	memory      memory.Store
	eventBus    bus.Bus
	registry    *prometheus.Registry
	log         *logger.Logger

	autosaveSchedule string // empty disables the Auto-Save Middleware entirely
	autosaveMu       sync.Mutex
	autosaves        map[string]*autosave.Middleware
}

// NewServer builds a Server. registry may be nil, in which case the
// /metrics route is not registered.
// autosaveSchedule is a seconds-resolution cron expression for the periodic
// checkpoint flush; empty disables auto-save for sessions created through
// this server.
func NewServer(sessions *session.Manager, coord *coordinator.Coordinator, tasks repository.TaskRepository, mem memory.Store, eventBus bus.Bus, registry *prometheus.Registry, autosaveSchedule string, log *logger.Logger) *Server {
	s := &Server{
		sessions:         sessions,
		coordinator:      coord,
		tasks:            tasks,
		memory:           mem,
		eventBus:         eventBus,
		registry:         registry,
		log:              log,
		autosaveSchedule: autosaveSchedule,
		autosaves:        make(map[string]*autosave.Middleware),
	}
	s.engine = gin.New()
	s.engine.Use(RequestLogger(log), Recovery(log), CORS())
	s.registerRoutes()
	return s
}

// startAutosave installs a running Auto-Save Middleware for a newly created
// session, a no-op if auto-save is disabled.
func (s *Server) startAutosave(ctx context.Context, sessionID string) {
	if s.autosaveSchedule == "" {
		return
	}
	s.autosaveMu.Lock()
	_, running := s.autosaves[sessionID]
	s.autosaveMu.Unlock()
	if running {
		return
	}
	mw := autosave.New(sessionID, s.sessions, s.eventBus, s.log, autosave.WithCronSchedule(s.autosaveSchedule))
	if err := mw.Start(ctx); err != nil {
		s.log.Error("failed to start auto-save middleware", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.autosaveMu.Lock()
	s.autosaves[sessionID] = mw
	s.autosaveMu.Unlock()
}

// stopAutosave tears down a session's Auto-Save Middleware, flushing any
// buffered changes first. A no-op if none is running for this session.
func (s *Server) stopAutosave(ctx context.Context, sessionID string) {
	s.autosaveMu.Lock()
	mw, ok := s.autosaves[sessionID]
	if ok {
		delete(s.autosaves, sessionID)
	}
	s.autosaveMu.Unlock()
	if !ok {
		return
	}
	if err := mw.Stop(ctx); err != nil {
		s.log.Warn("auto-save middleware stop failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// taskRepo gives handler files a short name for the task repository.
func (s *Server) taskRepo() repository.TaskRepository {
	return s.tasks
}

// Handler returns the http.Handler to mount on a *http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.registry != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/api/v1")

	v1.POST("/init", s.httpInit)
	v1.POST("/spawn", s.httpSpawn)
	v1.GET("/sessions", s.httpListSessions)
	v1.POST("/sessions/:id/resume", s.httpResumeSession)
	v1.GET("/sessions/:id/status", s.httpSessionStatus)
	v1.POST("/sessions/:id/pause", s.httpPauseSession)
	v1.POST("/sessions/:id/stop", s.httpStopSession)
	v1.GET("/sessions/:id/export", s.httpExportSession)
	v1.POST("/sessions/import", s.httpImportSession)

	mem := v1.Group("/memory")
	mem.POST("/store", s.httpMemoryStore)
	mem.GET("/retrieve/:key", s.httpMemoryRetrieve)
	mem.GET("/list", s.httpMemoryList)
	mem.DELETE("/:key", s.httpMemoryDelete)
	mem.POST("/clear", s.httpMemoryClear)
	mem.GET("/export", s.httpMemoryExport)
	mem.POST("/import", s.httpMemoryImport)
	mem.GET("/stats", s.httpMemoryStats)

	task := v1.Group("/tasks")
	task.GET("", s.httpTaskList)
	task.POST("", s.httpTaskCreate)
	task.GET("/stats", s.httpTaskStats)
	task.GET("/search", s.httpTaskSearch)
	task.GET("/:id", s.httpTaskShow)
	task.PATCH("/:id", s.httpTaskUpdate)
	task.DELETE("/:id", s.httpTaskDelete)
}
