package polls

import (
	"github.com/gin-gonic/gin"

	"github.com/civicpulse/backend/internal/middleware"
	"github.com/civicpulse/backend/pkg/mongodb"
	"github.com/civicpulse/backend/pkg/response"
)

// CreateRequest is the body for POST /campaigns/:campaignId/polls.
type CreateRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Options        []string `json:"options"`
	DurationInDays *int     `json:"durationInDays"`
	IsPublic       *bool    `json:"isPublic"`
}

// VoteRequest is the body for POST /polls/:pollId/vote.
type VoteRequest struct {
	OptionIndex *int `json:"optionIndex" binding:"required"`
}

// StatusRequest is the body for PATCH /polls/:pollId/status.
type StatusRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// VoteResponse is returned after a successful vote.
type VoteResponse struct {
	VoteCounts map[string]int `json:"voteCounts"`
	TotalVotes int            `json:"totalVotes"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a polls handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /campaigns/:campaignId/polls.
func (h *Handler) Create(c *gin.Context) {
	campaignID, err := mongodb.ParseID(c.Param("campaignId"), "campaign")
	if err != nil {
		response.Error(c, err, "")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.CreatePoll(c.Request.Context(), CreateInput{
		CampaignID:   campaignID,
		Title:        req.Title,
		Description:  req.Description,
		Options:      req.Options,
		DurationDays: req.DurationInDays,
		IsPublic:     req.IsPublic,
		RequestorID:  middleware.UserIDString(c),
	})
	if err != nil {
		response.Error(c, err, "failed to create poll")
		return
	}
	response.Created(c, p)
}

// ListByCampaign handles GET /campaigns/:campaignId/polls.
func (h *Handler) ListByCampaign(c *gin.Context) {
	campaignID, err := mongodb.ParseID(c.Param("campaignId"), "campaign")
	if err != nil {
		response.Error(c, err, "")
		return
	}
	list, err := h.svc.ListCampaignPolls(c.Request.Context(), campaignID)
	if err != nil {
		response.Error(c, err, "failed to list polls")
		return
	}
	response.OK(c, list)
}

// Get handles GET /polls/:pollId.
func (h *Handler) Get(c *gin.Context) {
	pollID, err := mongodb.ParseID(c.Param("pollId"), "poll")
	if err != nil {
		response.Error(c, err, "")
		return
	}
	d, err := h.svc.GetPollDetail(c.Request.Context(), pollID, middleware.UserIDString(c))
	if err != nil {
		response.Error(c, err, "failed to load poll")
		return
	}
	response.OK(c, d)
}

// Vote handles POST /polls/:pollId/vote.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := mongodb.ParseID(c.Param("pollId"), "poll")
	if err != nil {
		response.Error(c, err, "")
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "optionIndex is required")
		return
	}
	p, err := h.svc.CastVote(c.Request.Context(), VoteInput{
		PollID:      pollID,
		OptionIndex: *req.OptionIndex,
		UserID:      middleware.UserIDString(c),
		ClientIP:    c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err, "failed to record vote")
		return
	}
	response.OK(c, VoteResponse{VoteCounts: p.VoteCounts, TotalVotes: p.TotalVotes})
}

// SetStatus handles PATCH /polls/:pollId/status.
func (h *Handler) SetStatus(c *gin.Context) {
	pollID, err := mongodb.ParseID(c.Param("pollId"), "poll")
	if err != nil {
		response.Error(c, err, "")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "isActive is required")
		return
	}
	p, err := h.svc.SetPollStatus(c.Request.Context(), pollID, *req.IsActive, middleware.UserIDString(c))
	if err != nil {
		response.Error(c, err, "failed to update poll status")
		return
	}
	response.OK(c, p)
}
