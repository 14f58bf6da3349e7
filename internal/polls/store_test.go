package polls

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/apperr"
)

// memStore is an in-memory Store with the same conditional vote contract as Repository.
type memStore struct {
	mu    sync.Mutex
	polls map[primitive.ObjectID]*models.Poll
}

func newMemStore() *memStore {
	return &memStore{polls: map[primitive.ObjectID]*models.Poll{}}
}

func clonePoll(p *models.Poll) *models.Poll {
	cp := *p
	cp.Options = append([]models.PollOption(nil), p.Options...)
	cp.Votes = append([]models.PollVote{}, p.Votes...)
	cp.VoteCounts = make(map[string]int, len(p.VoteCounts))
	for k, v := range p.VoteCounts {
		cp.VoteCounts[k] = v
	}
	return &cp
}

func (m *memStore) Create(_ context.Context, p *models.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = primitive.NewObjectID()
	m.polls[p.ID] = clonePoll(p)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id primitive.ObjectID) (*models.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[id]
	if !ok {
		return nil, errPollNotFound
	}
	return clonePoll(p), nil
}

func (m *memStore) ListPublicByCampaign(_ context.Context, campaignID primitive.ObjectID) ([]models.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Poll{}
	for _, p := range m.polls {
		if p.Campaign == campaignID && p.IsPublic {
			out = append(out, *clonePoll(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) AppendVote(_ context.Context, id primitive.ObjectID, vote models.PollVote, now time.Time) (*models.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[id]
	if !ok || !p.IsActive || p.EndTime.Before(now) || !p.HasOption(vote.OptionIndex) || p.VoteOf(vote.UserID) != nil {
		return nil, ErrVoteNotApplied
	}
	p.Votes = append(p.Votes, vote)
	p.VoteCounts[models.CountKey(vote.OptionIndex)]++
	p.TotalVotes++
	p.UpdatedAt = now
	return clonePoll(p), nil
}

func (m *memStore) SetActive(_ context.Context, id primitive.ObjectID, isActive bool, now time.Time) (*models.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.polls[id]
	if !ok {
		return nil, errPollNotFound
	}
	p.IsActive = isActive
	p.UpdatedAt = now
	return clonePoll(p), nil
}

// expire moves a poll's end time into the past.
func (m *memStore) expire(id primitive.ObjectID, end time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls[id].EndTime = end
}

// fakeCampaigns grants management to a fixed set of users per campaign.
type fakeCampaigns struct {
	mu       sync.Mutex
	managers map[primitive.ObjectID]map[string]bool
	attached map[primitive.ObjectID][]primitive.ObjectID
}

func newFakeCampaigns() *fakeCampaigns {
	return &fakeCampaigns{
		managers: map[primitive.ObjectID]map[string]bool{},
		attached: map[primitive.ObjectID][]primitive.ObjectID{},
	}
}

func (f *fakeCampaigns) add(managers ...string) primitive.ObjectID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := primitive.NewObjectID()
	set := map[string]bool{}
	for _, m := range managers {
		set[m] = true
	}
	f.managers[id] = set
	return id
}

func (f *fakeCampaigns) CanManage(_ context.Context, id primitive.ObjectID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.managers[id]
	if !ok {
		return false, apperr.New(apperr.ErrNotFound, "campaign not found")
	}
	return set[userID], nil
}

func (f *fakeCampaigns) AttachPoll(_ context.Context, id, pollID primitive.ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.managers[id]; !ok {
		return apperr.New(apperr.ErrNotFound, "campaign not found")
	}
	f.attached[id] = append(f.attached[id], pollID)
	return nil
}

type recordedEvent struct {
	event string
	poll  *models.Poll
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingNotifier) PublishPoll(event string, p *models.Poll) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, poll: p})
}

func (r *recordingNotifier) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}
