package campaigns

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civicpulse/backend/internal/middleware"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/mongodb"
	"github.com/civicpulse/backend/pkg/response"
)

const defaultListLimit = 100

// Store is the campaign persistence used by the handler.
type Store interface {
	Create(ctx context.Context, c *models.Campaign) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error)
	ListPublic(ctx context.Context, limit int64) ([]models.Campaign, error)
	AddTeamMember(ctx context.Context, id primitive.ObjectID, m models.TeamMember) error
}

// UserLookup resolves users added to a team.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// CreateRequest is the body for POST /campaigns.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	IsPublic    *bool  `json:"isPublic"`
}

// AddTeamMemberRequest is the body for POST /campaigns/:campaignId/team.
type AddTeamMemberRequest struct {
	UserID string `json:"userId" binding:"required"`
	Role   string `json:"role"`
}

// Handler handles campaign HTTP endpoints.
type Handler struct {
	repo   Store
	users  UserLookup
	logger *zap.Logger
}

// NewHandler creates a campaigns handler.
func NewHandler(repo Store, users UserLookup, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, users: users, logger: logger}
}

// Create handles POST /campaigns.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		response.BadRequest(c, "title is required")
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	campaign := &models.Campaign{
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Category:    req.Category,
		Location:    req.Location,
		CreatedBy:   middleware.UserIDString(c),
		IsPublic:    isPublic,
	}
	if err := h.repo.Create(c.Request.Context(), campaign); err != nil {
		response.Error(c, err, "failed to create campaign")
		return
	}
	h.logger.Info("campaign created", zap.String("campaign_id", campaign.ID.Hex()), zap.String("user_id", campaign.CreatedBy))
	response.Created(c, campaign)
}

// List handles GET /campaigns.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.ListPublic(c.Request.Context(), defaultListLimit)
	if err != nil {
		response.Error(c, err, "failed to list campaigns")
		return
	}
	response.OK(c, list)
}

// Get handles GET /campaigns/:campaignId. Private campaigns are visible to managers only.
func (h *Handler) Get(c *gin.Context) {
	campaign, ok := h.load(c)
	if !ok {
		return
	}
	if !campaign.IsPublic && !campaign.CanManage(middleware.UserIDString(c)) {
		response.Forbidden(c, "campaign is private")
		return
	}
	response.OK(c, campaign)
}

// AddTeamMember handles POST /campaigns/:campaignId/team (creator only).
func (h *Handler) AddTeamMember(c *gin.Context) {
	campaign, ok := h.load(c)
	if !ok {
		return
	}
	if campaign.CreatedBy != middleware.UserIDString(c) {
		response.Forbidden(c, "only the campaign creator can manage the team")
		return
	}

	var req AddTeamMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	role := req.Role
	switch role {
	case "":
		role = models.TeamRoleMember
	case models.TeamRoleMember, models.TeamRoleCoordinator:
	default:
		response.BadRequest(c, "invalid team role")
		return
	}
	if userID.String() == campaign.CreatedBy {
		response.BadRequest(c, "creator already manages the campaign")
		return
	}
	if _, err := h.users.GetByID(c.Request.Context(), userID); err != nil {
		response.Error(c, err, "failed to look up user")
		return
	}

	member := models.TeamMember{UserID: userID.String(), Role: role, AddedAt: time.Now().UTC()}
	if err := h.repo.AddTeamMember(c.Request.Context(), campaign.ID, member); err != nil {
		response.Error(c, err, "failed to add team member")
		return
	}
	response.Created(c, member)
}

// Team handles GET /campaigns/:campaignId/team (managers only).
func (h *Handler) Team(c *gin.Context) {
	campaign, ok := h.load(c)
	if !ok {
		return
	}
	if !campaign.CanManage(middleware.UserIDString(c)) {
		response.Forbidden(c, "only campaign managers can view the team")
		return
	}
	response.OK(c, gin.H{"createdBy": campaign.CreatedBy, "teamMembers": campaign.TeamMembers})
}

func (h *Handler) load(c *gin.Context) (*models.Campaign, bool) {
	id, err := mongodb.ParseID(c.Param("campaignId"), "campaign")
	if err != nil {
		response.Error(c, err, "")
		return nil, false
	}
	campaign, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err, "failed to load campaign")
		return nil, false
	}
	return campaign, true
}
