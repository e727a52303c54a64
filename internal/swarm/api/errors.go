package api

import (
	"github.com/gin-gonic/gin"

	swarmerrors "github.com/hivecore/swarmcore/internal/swarm/errors"
)

// respondError maps an AppError (or any wrapped error) to its HTTP status
// and a small JSON error body, driven by the typed error taxonomy instead
// of string matching.
func respondError(c *gin.Context, err error) {
	status := swarmerrors.GetHTTPStatus(err)
	c.JSON(status, gin.H{"error": err.Error()})
}
