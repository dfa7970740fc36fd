package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vacademy-io/notify-delivery-api/internal/dto"
	"github.com/vacademy-io/notify-delivery-api/internal/service"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
	"github.com/vacademy-io/notify-delivery-api/pkg/response"
)

type deliveryService interface {
	ProcessDelivery(ctx context.Context, announcementID string) (*service.DeliveryResult, error)
}

type recoveryService interface {
	Restart(ctx context.Context, announcementID string) (*dto.RecoveryReport, error)
	Status(ctx context.Context, announcementID string) (*dto.StatusResponse, error)
}

type interactionService interface {
	MarkRead(ctx context.Context, announcementID, userID string) error
}

// DeliveryHandler exposes the delivery lifecycle endpoints of an announcement.
type DeliveryHandler struct {
	orchestrator deliveryService
	recovery     recoveryService
	interactions interactionService
}

// NewDeliveryHandler constructs the handler.
func NewDeliveryHandler(orchestrator deliveryService, recovery recoveryService, interactions interactionService) *DeliveryHandler {
	return &DeliveryHandler{orchestrator: orchestrator, recovery: recovery, interactions: interactions}
}

// Deliver triggers a delivery pass for the announcement.
func (h *DeliveryHandler) Deliver(c *gin.Context) {
	result, err := h.orchestrator.ProcessDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, result)
}

// Restart recovers an interrupted delivery and reports what was repaired.
func (h *DeliveryHandler) Restart(c *gin.Context) {
	report, err := h.recovery.Restart(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Status reports lifecycle state and per-medium ticket counters.
func (h *DeliveryHandler) Status(c *gin.Context) {
	status, err := h.recovery.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Read marks the announcement as read by the calling user.
func (h *DeliveryHandler) Read(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.interactions.MarkRead(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
