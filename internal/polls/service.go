// Package polls implements campaign polls: creation, one-vote-per-user voting,
// visibility rules and the active toggle.
package polls

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/apperr"
)

// Realtime event names published on poll changes.
const (
	EventPollVote   = "poll_vote"
	EventPollStatus = "poll_status"
)

// ErrVoteNotApplied is returned by Store.AppendVote when the conditional write matched no poll.
var ErrVoteNotApplied = errors.New("poll vote condition not met")

// Store persists polls. AppendVote must be a single atomic conditional write: it appends vote
// and increments voteCounts[vote.OptionIndex] and totalVotes only if the poll is active, has not
// ended at now, and holds no vote from vote.UserID. Otherwise it returns ErrVoteNotApplied.
type Store interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Poll, error)
	ListPublicByCampaign(ctx context.Context, campaignID primitive.ObjectID) ([]models.Poll, error)
	AppendVote(ctx context.Context, pollID primitive.ObjectID, vote models.PollVote, now time.Time) (*models.Poll, error)
	SetActive(ctx context.Context, pollID primitive.ObjectID, isActive bool, now time.Time) (*models.Poll, error)
}

// CampaignAccess answers who manages a campaign and records poll ownership on it.
type CampaignAccess interface {
	CanManage(ctx context.Context, campaignID primitive.ObjectID, userID string) (bool, error)
	AttachPoll(ctx context.Context, campaignID, pollID primitive.ObjectID) error
}

// Notifier receives poll changes for live subscribers.
type Notifier interface {
	PublishPoll(event string, p *models.Poll)
}

type nopNotifier struct{}

func (nopNotifier) PublishPoll(string, *models.Poll) {}

// CreateInput holds the fields for CreatePoll. Nil DurationDays and IsPublic take their defaults.
type CreateInput struct {
	CampaignID   primitive.ObjectID
	Title        string
	Description  string
	Options      []string
	DurationDays *int
	IsPublic     *bool
	RequestorID  string
}

// VoteInput holds the fields for CastVote.
type VoteInput struct {
	PollID      primitive.ObjectID
	OptionIndex int
	UserID      string
	ClientIP    string
}

// Detail is a poll as seen by one requestor.
type Detail struct {
	*models.Poll
	HasVoted bool `json:"hasVoted"`
	UserVote *int `json:"userVote"`
}

// Service enforces poll invariants over a Store.
type Service struct {
	store     Store
	campaigns CampaignAccess
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a poll service. notifier may be nil.
func NewService(store Store, campaigns CampaignAccess, notifier Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, campaigns: campaigns, notifier: notifier, logger: logger, now: time.Now}
}

// CreatePoll creates a poll on a campaign the requestor manages and links it to the campaign.
func (s *Service) CreatePoll(ctx context.Context, in CreateInput) (*models.Poll, error) {
	if err := s.requireManager(ctx, in.CampaignID, in.RequestorID, "only campaign creator or team members can create polls"); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperr.New(apperr.ErrValidation, "title is required")
	}
	if len(in.Options) < 2 {
		return nil, apperr.New(apperr.ErrValidation, "at least two options are required")
	}
	duration := models.DefaultPollDurationDays
	if in.DurationDays != nil {
		duration = *in.DurationDays
	}
	if duration < 1 {
		return nil, apperr.New(apperr.ErrValidation, "durationInDays must be at least 1")
	}
	isPublic := true
	if in.IsPublic != nil {
		isPublic = *in.IsPublic
	}

	options := make([]models.PollOption, len(in.Options))
	counts := make(map[string]int, len(in.Options))
	for i, text := range in.Options {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, apperr.Newf(apperr.ErrValidation, "option %d is empty", i)
		}
		options[i] = models.PollOption{Text: text, Index: i}
		counts[models.CountKey(i)] = 0
	}

	now := s.now().UTC()
	p := &models.Poll{
		Campaign:     in.CampaignID,
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		Options:      options,
		StartTime:    now,
		EndTime:      now.Add(time.Duration(duration) * 24 * time.Hour),
		DurationDays: duration,
		IsActive:     true,
		IsPublic:     isPublic,
		Votes:        []models.PollVote{},
		VoteCounts:   counts,
		CreatedBy:    in.RequestorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	if err := s.campaigns.AttachPoll(ctx, in.CampaignID, p.ID); err != nil {
		return nil, err
	}
	s.logger.Info("poll created",
		zap.String("poll_id", p.ID.Hex()),
		zap.String("campaign_id", in.CampaignID.Hex()),
		zap.Int("options", len(options)),
	)
	return p, nil
}

// CastVote records one vote for in.UserID. The write is conditional, so concurrent
// attempts by the same user leave exactly one vote.
func (s *Service) CastVote(ctx context.Context, in VoteInput) (*models.Poll, error) {
	if in.UserID == "" {
		return nil, apperr.New(apperr.ErrUnauthenticated, "sign in to vote")
	}
	p, err := s.store.GetByID(ctx, in.PollID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := checkVote(p, in, now); err != nil {
		return nil, err
	}

	vote := models.PollVote{
		UserID:      in.UserID,
		OptionIndex: in.OptionIndex,
		VotedAt:     now,
		IPAddress:   in.ClientIP,
	}
	updated, err := s.store.AppendVote(ctx, in.PollID, vote, now)
	if errors.Is(err, ErrVoteNotApplied) {
		// Lost a race with another write; the current document says why.
		current, getErr := s.store.GetByID(ctx, in.PollID)
		if getErr != nil {
			return nil, getErr
		}
		if err := checkVote(current, in, now); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.ErrInvalidState, "vote could not be recorded")
	}
	if err != nil {
		return nil, err
	}

	s.notifier.PublishPoll(EventPollVote, updated)
	return updated, nil
}

// checkVote applies the vote preconditions in reporting order.
func checkVote(p *models.Poll, in VoteInput, now time.Time) error {
	if !p.IsActive {
		return apperr.New(apperr.ErrInvalidState, "poll is not active")
	}
	if p.Expired(now) {
		return apperr.New(apperr.ErrInvalidState, "poll has ended")
	}
	if !p.HasOption(in.OptionIndex) {
		return apperr.Newf(apperr.ErrValidation, "optionIndex must be between 0 and %d", len(p.Options)-1)
	}
	if p.VoteOf(in.UserID) != nil {
		return apperr.New(apperr.ErrDuplicateVote, "you have already voted on this poll")
	}
	return nil
}

// ListCampaignPolls returns the campaign's public polls, newest first.
func (s *Service) ListCampaignPolls(ctx context.Context, campaignID primitive.ObjectID) ([]models.Poll, error) {
	return s.store.ListPublicByCampaign(ctx, campaignID)
}

// GetPollDetail returns the poll with the requestor's vote. requestorID may be empty.
func (s *Service) GetPollDetail(ctx context.Context, pollID primitive.ObjectID, requestorID string) (*Detail, error) {
	p, err := s.store.GetByID(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !p.IsPublic {
		if err := s.requireManager(ctx, p.Campaign, requestorID, "this poll is private"); err != nil {
			return nil, err
		}
	}
	d := &Detail{Poll: p}
	if v := p.VoteOf(requestorID); v != nil {
		idx := v.OptionIndex
		d.HasVoted = true
		d.UserVote = &idx
	}
	return d, nil
}

// SetPollStatus activates or deactivates a poll. Only campaign managers may do so.
func (s *Service) SetPollStatus(ctx context.Context, pollID primitive.ObjectID, isActive bool, requestorID string) (*models.Poll, error) {
	p, err := s.store.GetByID(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.requireManager(ctx, p.Campaign, requestorID, "only campaign creator or team members can change poll status"); err != nil {
		return nil, err
	}
	updated, err := s.store.SetActive(ctx, pollID, isActive, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("poll status changed", zap.String("poll_id", pollID.Hex()), zap.Bool("is_active", isActive))
	s.notifier.PublishPoll(EventPollStatus, updated)
	return updated, nil
}

// CanView reports whether requestorID may see the poll. Used by live subscriptions.
func (s *Service) CanView(ctx context.Context, pollID primitive.ObjectID, requestorID string) (*models.Poll, error) {
	d, err := s.GetPollDetail(ctx, pollID, requestorID)
	if err != nil {
		return nil, err
	}
	return d.Poll, nil
}

func (s *Service) requireManager(ctx context.Context, campaignID primitive.ObjectID, userID, msg string) error {
	if userID == "" {
		return apperr.New(apperr.ErrPermissionDenied, msg)
	}
	ok, err := s.campaigns.CanManage(ctx, campaignID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.ErrPermissionDenied, msg)
	}
	return nil
}
