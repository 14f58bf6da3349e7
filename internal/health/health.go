// Package health reports whether the server's backing stores are reachable.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/civicpulse/backend/pkg/response"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Handler serves GET /health.
type Handler struct {
	checks  map[string]Check
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a health handler. Each check gets timeout to answer.
func NewHandler(checks map[string]Check, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Handler{checks: checks, timeout: timeout, logger: logger}
}

// Report is the health payload: "ok" overall plus one entry per dependency.
type Report struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

// Serve runs every check concurrently and answers 503 if any failed.
func (h *Handler) Serve(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	var wg sync.WaitGroup
	report := Report{Status: "ok", Dependencies: make(map[string]string, len(names))}
	for _, name := range names {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
				status = err.Error()
			}
			mu.Lock()
			report.Dependencies[name] = status
			if status != "ok" {
				report.Status = "degraded"
			}
			mu.Unlock()
		}(name, h.checks[name])
	}
	wg.Wait()

	if report.Status != "ok" {
		c.JSON(http.StatusServiceUnavailable, response.Body{Success: false, Data: report, Error: "one or more dependencies are unavailable"})
		return
	}
	response.OK(c, report)
}
