package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"renonotify/pkg/logger"
)

type Emitter interface {
	Emit(ctx context.Context, signalType string, payload json.RawMessage, emittedBy, source string) (string, error)
}

type SignalHandler struct {
	emitter Emitter
	logger  *zap.Logger
}

func NewSignalHandler(emitter Emitter, logger *zap.Logger) *SignalHandler {
	return &SignalHandler{emitter: emitter, logger: logger}
}

// EmitSignal handles POST /signals
func (h *SignalHandler) EmitSignal(c *gin.Context) {
	var req struct {
		SignalType string          `json:"signalType" binding:"required"`
		Payload    json.RawMessage `json:"payload"`
		EmittedBy  string          `json:"emittedBy"`
		Source     string          `json:"source"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	ctx := c.Request.Context()
	signalEventID, err := h.emitter.Emit(ctx, req.SignalType, req.Payload, req.EmittedBy, req.Source)
	if err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to emit signal",
			zap.String("signal_type", req.SignalType),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to emit signal"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"signal_event_id": signalEventID,
		"status":          "accepted",
	})
}
