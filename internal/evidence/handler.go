// Package evidence serves evidence submission, reads and manual review.
// Automated verification runs in the worker; see package verification.
package evidence

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civicpulse/backend/internal/middleware"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/apperr"
	"github.com/civicpulse/backend/pkg/mongodb"
	"github.com/civicpulse/backend/pkg/queue"
	"github.com/civicpulse/backend/pkg/response"
	"github.com/civicpulse/backend/pkg/storage"
)

// Store is the evidence persistence used by the handler.
type Store interface {
	Create(ctx context.Context, ev *models.Evidence) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Evidence, error)
	ListByCampaign(ctx context.Context, campaignID primitive.ObjectID, publicOnly bool) ([]models.Evidence, error)
	Review(ctx context.Context, id primitive.ObjectID, status models.EvidenceStatus, v models.Verification, now time.Time) (*models.Evidence, error)
	ResetForReverification(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error)
	MarkVerificationFailed(ctx context.Context, id primitive.ObjectID, msg string, now time.Time) (bool, error)
}

// Campaigns resolves the owning campaign and records evidence on it.
type Campaigns interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error)
	AttachEvidence(ctx context.Context, campaignID, evidenceID primitive.ObjectID) error
}

// Enqueuer schedules automated verification.
type Enqueuer interface {
	EnqueueEvidenceVerification(ctx context.Context, evidenceID string) (*queue.Job, error)
}

// FileStore holds evidence media.
type FileStore interface {
	PresignEvidenceUpload(ctx context.Context, key, contentType string, size int64) (string, error)
	PresignEvidenceDownload(ctx context.Context, key string) (string, error)
	UploadEvidence(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	ObjectURL(key string) string
	PresignExpire() time.Duration
}

// AttemptLog lists audited verification runs.
type AttemptLog interface {
	ListByEvidence(ctx context.Context, evidenceID string) ([]models.VerificationAttempt, error)
	OutcomeCounts(ctx context.Context, evidenceID string) (map[string]int, error)
}

// AttemptsResponse is returned by GET /evidence/:evidenceId/attempts.
type AttemptsResponse struct {
	Attempts []models.VerificationAttempt `json:"attempts"`
	Outcomes map[string]int               `json:"outcomes"`
}

var evidenceTypes = map[string]bool{
	models.EvidenceTypeDocument:    true,
	models.EvidenceTypeImage:       true,
	models.EvidenceTypeVideo:       true,
	models.EvidenceTypeAudio:       true,
	models.EvidenceTypeTestimonial: true,
	models.EvidenceTypeOther:       true,
}

var reviewStatuses = map[models.EvidenceStatus]bool{
	models.EvidenceUnderReview:     true,
	models.EvidenceAccepted:        true,
	models.EvidenceRejected:        true,
	models.EvidencePendingMoreInfo: true,
}

// FileRequest references an uploaded object.
type FileRequest struct {
	Key         string `json:"key" binding:"required"`
	ContentType string `json:"contentType" binding:"required"`
	Size        int64  `json:"size" binding:"required"`
}

// SubmitRequest is the body for POST /campaigns/:campaignId/evidence.
type SubmitRequest struct {
	Title          string        `json:"title" binding:"required"`
	Description    string        `json:"description" binding:"required"`
	EvidenceType   string        `json:"evidenceType"`
	Files          []FileRequest `json:"files" binding:"dive"`
	DateOfIncident *time.Time    `json:"dateOfIncident"`
	Location       string        `json:"location"`
	Tags           []string      `json:"tags"`
	IsPublic       *bool         `json:"isPublic"`
}

// UploadURLRequest is the body for POST /campaigns/:campaignId/evidence/upload-url.
type UploadURLRequest struct {
	ContentType string `json:"contentType" binding:"required"`
	Size        int64  `json:"size" binding:"required"`
}

// UploadURLResponse is a presigned direct upload target.
type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
	ExpiresIn int    `json:"expiresIn"`
}

// ReviewRequest is the body for PATCH /evidence/:evidenceId/review.
type ReviewRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// Handler handles evidence HTTP endpoints.
type Handler struct {
	repo      Store
	campaigns Campaigns
	queue     Enqueuer
	files     FileStore
	attempts  AttemptLog
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates an evidence handler. files and attempts may be nil.
func NewHandler(repo Store, campaigns Campaigns, q Enqueuer, files FileStore, attempts AttemptLog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, campaigns: campaigns, queue: q, files: files, attempts: attempts, logger: logger, now: time.Now}
}

// Submit handles POST /campaigns/:campaignId/evidence.
func (h *Handler) Submit(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	userID := middleware.UserIDString(c)
	if !campaign.IsPublic && !campaign.CanManage(userID) {
		response.Forbidden(c, "campaign is private")
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	title, description := strings.TrimSpace(req.Title), strings.TrimSpace(req.Description)
	if title == "" || description == "" {
		response.BadRequest(c, "title and description are required")
		return
	}
	evType := req.EvidenceType
	if evType == "" {
		evType = models.EvidenceTypeOther
	}
	if !evidenceTypes[evType] {
		response.BadRequest(c, "invalid evidenceType")
		return
	}
	files, err := h.checkFiles(c.Request.Context(), campaign.ID, req.Files)
	if err != nil {
		response.Error(c, err, "")
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	now := h.now().UTC()
	ev := &models.Evidence{
		Campaign:       campaign.ID,
		Title:          title,
		Description:    description,
		EvidenceType:   evType,
		Files:          files,
		SubmittedBy:    userID,
		DateOfIncident: req.DateOfIncident,
		Location:       req.Location,
		Tags:           req.Tags,
		IsPublic:       isPublic,
		Status:         models.EvidenceSubmitted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ctx := c.Request.Context()
	if err := h.repo.Create(ctx, ev); err != nil {
		response.Error(c, err, "failed to submit evidence")
		return
	}
	if err := h.campaigns.AttachEvidence(ctx, campaign.ID, ev.ID); err != nil {
		h.logger.Error("attach evidence to campaign", zap.String("evidence_id", ev.ID.Hex()), zap.Error(err))
	}
	if job, err := h.queue.EnqueueEvidenceVerification(ctx, ev.ID.Hex()); err != nil {
		// Without a job the record would look unprocessed; a manager can reverify it.
		msg := h.enqueueFailed(ctx, ev.ID, err)
		ev.Status, ev.LastVerificationError = models.EvidenceVerificationFailed, msg
	} else {
		h.logger.Info("evidence submitted", zap.String("evidence_id", ev.ID.Hex()), zap.String("job_id", job.ID))
	}
	response.Created(c, ev)
}

// enqueueFailed moves evidence that could not be queued to verification_failed.
func (h *Handler) enqueueFailed(ctx context.Context, id primitive.ObjectID, cause error) string {
	msg := "enqueue verification: " + cause.Error()
	h.logger.Error("enqueue evidence verification", zap.String("evidence_id", id.Hex()), zap.Error(cause))
	if _, err := h.repo.MarkVerificationFailed(context.WithoutCancel(ctx), id, msg, h.now().UTC()); err != nil {
		h.logger.Error("mark verification failed", zap.String("evidence_id", id.Hex()), zap.Error(err))
	}
	return msg
}

func (h *Handler) checkFiles(ctx context.Context, campaignID primitive.ObjectID, in []FileRequest) ([]models.EvidenceFile, error) {
	files := make([]models.EvidenceFile, 0, len(in))
	for _, f := range in {
		if !storage.KeyBelongsToCampaign(f.Key, campaignID.Hex()) {
			return nil, apperr.Newf(apperr.ErrValidation, "file %q was not uploaded for this campaign", f.Key)
		}
		if err := storage.ValidateEvidenceUpload(f.ContentType, f.Size); err != nil {
			return nil, err
		}
		file := models.EvidenceFile{Key: f.Key, ContentType: strings.ToLower(f.ContentType), Size: f.Size}
		if h.files != nil {
			exists, err := h.files.ObjectExists(ctx, f.Key)
			if err != nil {
				return nil, err
			}
			if !exists {
				return nil, apperr.Newf(apperr.ErrValidation, "file %q has not been uploaded", f.Key)
			}
			file.URL = h.files.ObjectURL(f.Key)
		}
		files = append(files, file)
	}
	return files, nil
}

// UploadURL handles POST /campaigns/:campaignId/evidence/upload-url.
func (h *Handler) UploadURL(c *gin.Context) {
	if h.files == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := storage.ValidateEvidenceUpload(req.ContentType, req.Size); err != nil {
		response.Error(c, err, "")
		return
	}
	key := storage.EvidenceKey(campaign.ID.Hex(), req.ContentType)
	url, err := h.files.PresignEvidenceUpload(c.Request.Context(), key, strings.ToLower(req.ContentType), req.Size)
	if err != nil {
		response.Error(c, err, "failed to create upload url")
		return
	}
	response.OK(c, UploadURLResponse{UploadURL: url, Key: key, ExpiresIn: int(h.files.PresignExpire().Seconds())})
}

// UploadFile handles POST /campaigns/:campaignId/evidence/files (multipart field "file").
// The returned file can be referenced when submitting evidence.
func (h *Handler) UploadFile(c *gin.Context) {
	if h.files == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxEvidenceFileSize+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	contentType := strings.ToLower(fh.Header.Get("Content-Type"))
	if err := storage.ValidateEvidenceUpload(contentType, fh.Size); err != nil {
		response.Error(c, err, "")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "unreadable file")
		return
	}
	defer f.Close()

	key := storage.EvidenceKey(campaign.ID.Hex(), contentType)
	url, err := h.files.UploadEvidence(c.Request.Context(), key, contentType, f, fh.Size)
	if err != nil {
		response.Error(c, err, "failed to upload file")
		return
	}
	response.Created(c, models.EvidenceFile{Key: key, URL: url, ContentType: contentType, Size: fh.Size})
}

// ListByCampaign handles GET /campaigns/:campaignId/evidence. Managers also see private evidence.
func (h *Handler) ListByCampaign(c *gin.Context) {
	campaign, ok := h.loadCampaign(c)
	if !ok {
		return
	}
	manager := campaign.CanManage(middleware.UserIDString(c))
	if !campaign.IsPublic && !manager {
		response.Forbidden(c, "campaign is private")
		return
	}
	list, err := h.repo.ListByCampaign(c.Request.Context(), campaign.ID, !manager)
	if err != nil {
		response.Error(c, err, "failed to list evidence")
		return
	}
	response.OK(c, list)
}

// Get handles GET /evidence/:evidenceId.
func (h *Handler) Get(c *gin.Context) {
	ev, campaign, ok := h.loadEvidence(c)
	if !ok {
		return
	}
	userID := middleware.UserIDString(c)
	visible := (ev.IsPublic && campaign.IsPublic) || campaign.CanManage(userID) || (userID != "" && ev.SubmittedBy == userID)
	if !visible {
		response.Forbidden(c, "evidence is private")
		return
	}
	if h.files != nil {
		for i := range ev.Files {
			url, err := h.files.PresignEvidenceDownload(c.Request.Context(), ev.Files[i].Key)
			if err != nil {
				h.logger.Warn("presign evidence download", zap.String("key", ev.Files[i].Key), zap.Error(err))
				continue
			}
			ev.Files[i].DownloadURL = url
		}
	}
	response.OK(c, ev)
}

// Review handles PATCH /evidence/:evidenceId/review (campaign managers).
func (h *Handler) Review(c *gin.Context) {
	ev, campaign, ok := h.loadEvidence(c)
	if !ok {
		return
	}
	userID := middleware.UserIDString(c)
	if !campaign.CanManage(userID) {
		response.Forbidden(c, "only campaign managers can review evidence")
		return
	}
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	status := models.EvidenceStatus(req.Status)
	if !reviewStatuses[status] {
		response.BadRequest(c, "status must be one of under_review, accepted, rejected, pending_more_info")
		return
	}
	if !ev.Status.ManuallyReviewable() {
		response.BadRequest(c, "evidence with status "+string(ev.Status)+" cannot be reviewed")
		return
	}
	now := h.now().UTC()
	v := models.Verification{
		IsVerified:         status == models.EvidenceAccepted,
		VerificationMethod: models.VerificationMethodManual,
		VerificationNotes:  strings.TrimSpace(req.Notes),
		VerificationDate:   &now,
		VerifiedBy:         userID,
	}
	updated, err := h.repo.Review(c.Request.Context(), ev.ID, status, v, now)
	if err != nil {
		response.Error(c, err, "failed to review evidence")
		return
	}
	h.logger.Info("evidence reviewed", zap.String("evidence_id", ev.ID.Hex()), zap.String("status", string(status)))
	response.OK(c, updated)
}

// Reverify handles POST /evidence/:evidenceId/reverify (campaign managers). Only evidence whose
// automated verification failed can be sent back through the pipeline.
func (h *Handler) Reverify(c *gin.Context) {
	ev, campaign, ok := h.loadEvidence(c)
	if !ok {
		return
	}
	if !campaign.CanManage(middleware.UserIDString(c)) {
		response.Forbidden(c, "only campaign managers can re-run verification")
		return
	}
	ctx := c.Request.Context()
	reset, err := h.repo.ResetForReverification(ctx, ev.ID, h.now().UTC())
	if err != nil {
		response.Error(c, err, "failed to reset evidence")
		return
	}
	if !reset {
		response.BadRequest(c, "only evidence with status verification_failed can be re-verified")
		return
	}
	job, err := h.queue.EnqueueEvidenceVerification(ctx, ev.ID.Hex())
	if err != nil {
		h.enqueueFailed(ctx, ev.ID, err)
		response.ServiceUnavailable(c, "verification queue unavailable")
		return
	}
	response.OK(c, gin.H{"evidenceId": ev.ID.Hex(), "jobId": job.ID, "status": models.EvidencePendingVerification})
}

// Attempts handles GET /evidence/:evidenceId/attempts (campaign managers).
func (h *Handler) Attempts(c *gin.Context) {
	if h.attempts == nil {
		response.ServiceUnavailable(c, "attempt log is not configured")
		return
	}
	ev, campaign, ok := h.loadEvidence(c)
	if !ok {
		return
	}
	if !campaign.CanManage(middleware.UserIDString(c)) {
		response.Forbidden(c, "only campaign managers can view verification attempts")
		return
	}
	list, err := h.attempts.ListByEvidence(c.Request.Context(), ev.ID.Hex())
	if err != nil {
		response.Error(c, err, "failed to list verification attempts")
		return
	}
	counts, err := h.attempts.OutcomeCounts(c.Request.Context(), ev.ID.Hex())
	if err != nil {
		response.Error(c, err, "failed to count verification attempts")
		return
	}
	response.OK(c, AttemptsResponse{Attempts: list, Outcomes: counts})
}

func (h *Handler) loadCampaign(c *gin.Context) (*models.Campaign, bool) {
	id, err := mongodb.ParseID(c.Param("campaignId"), "campaign")
	if err != nil {
		response.Error(c, err, "")
		return nil, false
	}
	campaign, err := h.campaigns.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err, "failed to load campaign")
		return nil, false
	}
	return campaign, true
}

func (h *Handler) loadEvidence(c *gin.Context) (*models.Evidence, *models.Campaign, bool) {
	id, err := mongodb.ParseID(c.Param("evidenceId"), "evidence")
	if err != nil {
		response.Error(c, err, "")
		return nil, nil, false
	}
	ev, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err, "failed to load evidence")
		return nil, nil, false
	}
	campaign, err := h.campaigns.GetByID(c.Request.Context(), ev.Campaign)
	if err != nil {
		response.Error(c, err, "failed to load campaign")
		return nil, nil, false
	}
	return ev, campaign, true
}
