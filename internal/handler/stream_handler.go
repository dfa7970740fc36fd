package handler

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vacademy-io/notify-delivery-api/internal/models"
	"github.com/vacademy-io/notify-delivery-api/internal/service"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
	"github.com/vacademy-io/notify-delivery-api/pkg/response"
)

// StreamHandler serves the server-sent-events stream of live delivery events.
type StreamHandler struct {
	hub *service.FanoutService
}

// NewStreamHandler constructs the handler.
func NewStreamHandler(hub *service.FanoutService) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream upgrades the request to an SSE stream scoped to the caller. An
// optional modes query parameter narrows the stream to specific announcement
// surfaces, e.g. ?modes=DM,SYSTEM_ALERT.
func (h *StreamHandler) Stream(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	conn := h.hub.Connect(claims.UserID, claims.InstituteID, parseModes(c.Query("modes")))
	defer h.hub.Disconnect(conn)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, open := <-conn.Events():
			if !open {
				return false
			}
			c.SSEvent(string(event.Type), event)
			conn.Touch()
			return true
		}
	})
}

func parseModes(raw string) []models.ModeType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	modes := make([]models.ModeType, 0, len(parts))
	for _, part := range parts {
		mode := models.ModeType(strings.TrimSpace(part))
		if models.KnownModeType(mode) {
			modes = append(modes, mode)
		}
	}
	return modes
}
