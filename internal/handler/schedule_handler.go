package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vacademy-io/notify-delivery-api/internal/dto"
	"github.com/vacademy-io/notify-delivery-api/internal/models"
	"github.com/vacademy-io/notify-delivery-api/internal/service"
	appErrors "github.com/vacademy-io/notify-delivery-api/pkg/errors"
	"github.com/vacademy-io/notify-delivery-api/pkg/response"
)

type schedulerService interface {
	Schedule(ctx context.Context, announcementID string, req dto.ScheduleRequest) (*service.ScheduleOutcome, error)
	Get(ctx context.Context, announcementID string) (*models.ScheduleSpec, error)
	Cancel(ctx context.Context, announcementID string) error
}

// ScheduleHandler exposes the scheduling endpoints of an announcement.
type ScheduleHandler struct {
	scheduler schedulerService
}

// NewScheduleHandler constructs the handler.
func NewScheduleHandler(scheduler schedulerService) *ScheduleHandler {
	return &ScheduleHandler{scheduler: scheduler}
}

// Schedule stores or replaces the announcement's delivery schedule. Immediate
// requests deliver right away instead of persisting a schedule.
func (h *ScheduleHandler) Schedule(c *gin.Context) {
	var req dto.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid schedule payload"))
		return
	}

	outcome, err := h.scheduler.Schedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if outcome.Delivery != nil {
		response.Accepted(c, outcome.Delivery)
		return
	}
	response.Created(c, outcome.Spec)
}

// Get returns the schedule attached to the announcement.
func (h *ScheduleHandler) Get(c *gin.Context) {
	spec, err := h.scheduler.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, spec, nil)
}

// Cancel deactivates the announcement's schedule.
func (h *ScheduleHandler) Cancel(c *gin.Context) {
	if err := h.scheduler.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
