// Package health exposes queue and breaker state over HTTP for
// external monitoring, so operators do not need log access to see
// whether synchronization is moving.
package health

import (
	"net/http"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/breaker"
	"github.com/syncbridge/syncbridge/queue"

	"github.com/gin-gonic/gin"
)

// StatusHealthy and StatusDegraded are the two health verdicts.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Response is the health endpoint payload.
type Response struct {
	Status        string   `json:"status"`
	PendingCount  int64    `json:"pending_count"`
	FailedCount   int64    `json:"failed_count"`
	BreakerState  string   `json:"breaker_state"`
	ModulesActive []string `json:"modules_active"`
}

// Handler serves the health and stats routes.
type Handler struct {
	store         *queue.Store
	brk           *breaker.Breaker
	resolver      adapter.Resolver
	failedCeiling int64
}

// NewHandler creates a health handler.
func NewHandler(store *queue.Store, brk *breaker.Breaker, resolver adapter.Resolver, failedCeiling int64) *Handler {
	return &Handler{store: store, brk: brk, resolver: resolver, failedCeiling: failedCeiling}
}

// Register mounts the routes on a gin router group.
func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/health", h.health)
	r.GET("/stats", h.stats)
}

func (h *Handler) health(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	state, err := h.brk.State(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := Response{
		Status:        StatusHealthy,
		PendingCount:  stats.Pending,
		FailedCount:   stats.Failed,
		BreakerState:  string(state),
		ModulesActive: h.resolver.Modules(),
	}
	if state == breaker.StateOpen || (h.failedCeiling > 0 && stats.Failed > h.failedCeiling) {
		resp.Status = StatusDegraded
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
