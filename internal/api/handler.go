package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deskhub-backend/internal/occupancy"
	"deskhub-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store store.Store
	coord *occupancy.Coordinator
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, coord *occupancy.Coordinator) *Handler {
	return &Handler{store: s, coord: coord}
}

// actingUser resolves the acting user from the X-User-ID header, which the
// upstream auth layer injects after verifying the request. Aborts with 401
// when absent or malformed.
func actingUser(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-User-ID header"})
		return 0, false
	}
	return id, true
}

// pathID parses a positive integer path parameter, aborting with 400.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// abortWithError maps coordinator error kinds onto HTTP status codes. Raw
// store lookups that skip the coordinator surface ErrNotFound directly, so
// that is mapped here too.
func abortWithError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch occupancy.KindOf(err) {
	case occupancy.KindNotFound:
		status = http.StatusNotFound
	case occupancy.KindPreconditionFailed:
		status = http.StatusConflict
	case occupancy.KindUnauthorized:
		status = http.StatusForbidden
	case occupancy.KindConflict:
		status = http.StatusConflict
	case occupancy.KindUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		zap.S().Errorw("request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
