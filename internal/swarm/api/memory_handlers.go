package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hivecore/swarmcore/internal/memory"
)

type memoryStoreRequest struct {
	Key       string      `json:"key" binding:"required"`
	Value     interface{} `json:"value"`
	Namespace string      `json:"namespace"`
	Tags      []string    `json:"tags"`
	TTLSec    int         `json:"ttl_seconds"`
}

// httpMemoryStore implements `memory store`.
func (s *Server) httpMemoryStore(c *gin.Context) {
	var req memoryStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts := memory.StoreOptions{Namespace: req.Namespace, Tags: req.Tags}
	if req.TTLSec > 0 {
		opts.TTL = time.Duration(req.TTLSec) * time.Second
	}
	if err := s.memory.Store(c.Request.Context(), req.Key, req.Value, opts); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// httpMemoryRetrieve implements `memory retrieve`.
func (s *Server) httpMemoryRetrieve(c *gin.Context) {
	entry, err := s.memory.Retrieve(c.Request.Context(), c.Param("key"), c.Query("namespace"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// httpMemoryList implements `memory list`, accepting the same
// --namespace/--tags filters as the CLI.
func (s *Server) httpMemoryList(c *gin.Context) {
	opts := memory.QueryOptions{Namespace: c.Query("namespace")}
	if tags := c.Query("tags"); tags != "" {
		opts.Tags = strings.Split(tags, ",")
	}
	opts.MatchAllTags = c.Query("match_all_tags") == "true"

	entries, err := s.memory.List(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// httpMemoryDelete implements `memory delete`.
func (s *Server) httpMemoryDelete(c *gin.Context) {
	if err := s.memory.Delete(c.Request.Context(), c.Param("key"), c.Query("namespace")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type memoryClearRequest struct {
	Namespace string `json:"namespace"`
	Force     bool   `json:"force"`
}

// httpMemoryClear implements `memory clear --namespace N [--force]`: deletes
// every entry in a namespace. Requires --force since it's irreversible,
// mirroring the CLI's confirmation gate.
func (s *Server) httpMemoryClear(c *gin.Context) {
	var req memoryClearRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Force {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clear requires force=true"})
		return
	}

	entries, err := s.memory.List(c.Request.Context(), memory.QueryOptions{Namespace: req.Namespace})
	if err != nil {
		respondError(c, err)
		return
	}
	cleared := 0
	for _, e := range entries {
		if err := s.memory.Delete(c.Request.Context(), e.Key, e.Namespace); err != nil {
			respondError(c, err)
			return
		}
		cleared++
	}
	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// httpMemoryExport implements `memory export`: dumps every entry in a
// namespace (the default namespace if unset) as JSON.
func (s *Server) httpMemoryExport(c *gin.Context) {
	entries, err := s.memory.List(c.Request.Context(), memory.QueryOptions{Namespace: c.Query("namespace")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type memoryImportRequest struct {
	Entries []*memory.Entry `json:"entries" binding:"required"`
}

// httpMemoryImport implements `memory import`: bulk re-stores entries from
// a prior export, preserving namespace/tags/expiry.
func (s *Server) httpMemoryImport(c *gin.Context) {
	var req memoryImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	imported := 0
	for _, e := range req.Entries {
		opts := memory.StoreOptions{Namespace: e.Namespace, Tags: e.Tags}
		if e.ExpiresAt != nil {
			if ttl := time.Until(*e.ExpiresAt); ttl > 0 {
				opts.TTL = ttl
			} else {
				continue // already expired, skip rather than import dead entries
			}
		}
		if err := s.memory.Store(c.Request.Context(), e.Key, e.Value, opts); err != nil {
			respondError(c, err)
			return
		}
		imported++
	}
	c.JSON(http.StatusOK, gin.H{"imported": imported})
}

// httpMemoryStats implements `memory stats`: entry counts by namespace,
// scoped to ?namespace= if given (default namespace otherwise).
func (s *Server) httpMemoryStats(c *gin.Context) {
	entries, err := s.memory.List(c.Request.Context(), memory.QueryOptions{Namespace: c.Query("namespace")})
	if err != nil {
		respondError(c, err)
		return
	}
	byNamespace := make(map[string]int)
	for _, e := range entries {
		byNamespace[e.Namespace]++
	}
	c.JSON(http.StatusOK, gin.H{
		"total_entries": len(entries),
		"by_namespace":  byNamespace,
	})
}
