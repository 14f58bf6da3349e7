package verification

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/civicpulse/backend/pkg/queue"
	"github.com/civicpulse/backend/pkg/response"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// QueueInspector reads verification queue state.
type QueueInspector interface {
	Len(ctx context.Context) (int64, error)
	MaxAttempts() int
	DeadLetters(ctx context.Context, limit int64) ([]queue.Job, error)
}

// QueueStatus is returned by GET /admin/verification/queue.
type QueueStatus struct {
	Pending     int64       `json:"pending"`
	MaxAttempts int         `json:"maxAttempts"`
	DeadLetters []queue.Job `json:"deadLetters"`
}

// QueueHandler exposes the verification backlog and DLQ to administrators.
type QueueHandler struct {
	queue  QueueInspector
	logger *zap.Logger
}

// NewQueueHandler creates a queue status handler.
func NewQueueHandler(q QueueInspector, logger *zap.Logger) *QueueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{queue: q, logger: logger}
}

// Status handles GET /admin/verification/queue?limit=N.
func (h *QueueHandler) Status(c *gin.Context) {
	limit := int64(defaultDeadLetterLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxDeadLetterLimit {
			response.BadRequest(c, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	pending, err := h.queue.Len(ctx)
	if err != nil {
		h.logger.Error("queue length", zap.Error(err))
		response.ServiceUnavailable(c, "verification queue unavailable")
		return
	}
	dead, err := h.queue.DeadLetters(ctx, limit)
	if err != nil {
		h.logger.Error("list dead letters", zap.Error(err))
		response.ServiceUnavailable(c, "verification queue unavailable")
		return
	}
	response.OK(c, QueueStatus{Pending: pending, MaxAttempts: h.queue.MaxAttempts(), DeadLetters: dead})
}
