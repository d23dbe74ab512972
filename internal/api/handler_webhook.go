package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"renonotify/internal/model"
	"renonotify/internal/suppression"
	"renonotify/pkg/logger"
)

type WebhookHandler struct {
	suppressions *suppression.Service
	logger       *zap.Logger
}

func NewWebhookHandler(suppressions *suppression.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{suppressions: suppressions, logger: logger}
}

// HandleEmailEvent handles POST /webhooks/email, the provider's delivery
// feedback callback. Unknown event types are acknowledged and dropped so
// the provider never retries them.
func (h *WebhookHandler) HandleEmailEvent(c *gin.Context) {
	var req struct {
		EventType      string `json:"eventType" binding:"required"`
		Email          string `json:"email" binding:"required"`
		BounceType     string `json:"bounceType"`
		NotificationID string `json:"notificationId"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("event_type", req.EventType),
	)

	var err error
	switch strings.ToLower(req.EventType) {
	case "bounce":
		bounceType := model.BounceTransient
		if strings.EqualFold(req.BounceType, string(model.BouncePermanent)) {
			bounceType = model.BouncePermanent
		}
		err = h.suppressions.RecordBounce(ctx, req.Email, bounceType, req.NotificationID, "webhook")
	case "complaint":
		err = h.suppressions.RecordComplaint(ctx, req.Email, req.NotificationID, "webhook")
	default:
		log.Info("Ignoring unknown provider event")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err != nil {
		log.Error("Failed to record provider event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}
