package handler

import (
	"strconv"

	"metered-messaging/internal/core/domain"
	"metered-messaging/internal/core/ports"
	"metered-messaging/pkg/apperror"
	"metered-messaging/pkg/response"

	"github.com/gin-gonic/gin"
)

// CampaignHandler handles campaign lifecycle endpoints on the ops API.
type CampaignHandler struct {
	campaigns ports.CampaignRepository
}

// NewCampaignHandler creates a new CampaignHandler.
func NewCampaignHandler(campaigns ports.CampaignRepository) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns}
}

// CampaignResponse is the campaign view returned by the ops API.
type CampaignResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Pause handles POST /api/v1/campaigns/:id/pause.
func (h *CampaignHandler) Pause(c *gin.Context) {
	h.transition(c, domain.CampaignRunning, domain.CampaignPaused)
}

// Resume handles POST /api/v1/campaigns/:id/resume.
func (h *CampaignHandler) Resume(c *gin.Context) {
	h.transition(c, domain.CampaignPaused, domain.CampaignRunning)
}

func (h *CampaignHandler) transition(c *gin.Context, from, to domain.CampaignStatus) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, apperror.Validation("campaign id must be an integer"))
		return
	}

	campaign, err := h.campaigns.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}
	if campaign == nil {
		response.Error(c, apperror.ErrCampaignNotFound())
		return
	}

	moved, err := h.campaigns.TransitionStatus(c.Request.Context(), id, from, to)
	if err != nil {
		response.Error(c, apperror.ErrDatabaseError(err))
		return
	}
	if !moved {
		response.Error(c, apperror.ErrCampaignTransition(string(from), string(to)))
		return
	}

	response.OK(c, CampaignResponse{ID: id, Status: string(to)})
}
