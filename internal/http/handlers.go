package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CheckFunc verifica una dependencia (base de datos, redis, cola).
type CheckFunc func(ctx context.Context) error

// HealthHandler responde liveness y readiness.
type HealthHandler struct {
	logger  *zap.Logger
	checks  map[string]CheckFunc
	timeout time.Duration
}

func NewHealthHandler(logger *zap.Logger, checks map[string]CheckFunc) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		checks:  checks,
		timeout: 2 * time.Second,
	}
}

// Healthz maneja GET /healthz.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz maneja GET /readyz; falla si alguna dependencia no responde.
func (h *HealthHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(gin.H, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "up"
	}
	c.JSON(status, gin.H{"checks": results})
}
