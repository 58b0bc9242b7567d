package health

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Check is one named readiness condition.
type Check struct {
	Name string
	Fn   func() error
}

// Handler manages health check endpoints
type Handler struct {
	checks []Check
}

// NewHandler creates a new health check handler. The service is ready when
// every check returns nil.
func NewHandler(checks ...Check) *Handler {
	return &Handler{checks: checks}
}

// Health is the liveness probe endpoint
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready is the readiness probe endpoint
// GET /ready
func (h *Handler) Ready(c *gin.Context) {
	if err := h.ready(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

func (h *Handler) ready() error {
	var errs []error
	for _, chk := range h.checks {
		if chk.Fn == nil {
			continue
		}
		if err := chk.Fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", chk.Name, err))
		}
	}
	return errors.Join(errs...)
}
