package models

import (
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultPollDurationDays is used when a poll is created without a duration.
const DefaultPollDurationDays = 7

// PollOption is one choice. Index is assigned densely at creation and never changes.
type PollOption struct {
	Text  string `json:"text" bson:"text"`
	Index int    `json:"index" bson:"index"`
}

// PollVote is one user's ballot. At most one per user per poll.
type PollVote struct {
	UserID      string    `json:"userId" bson:"userId"`
	OptionIndex int       `json:"optionIndex" bson:"optionIndex"`
	VotedAt     time.Time `json:"votedAt" bson:"votedAt"`
	IPAddress   string    `json:"-" bson:"ipAddress"`
}

// Poll is a timed multiple-choice question scoped to one campaign.
//
// VoteCounts is a denormalized tally of Votes keyed by the decimal option index;
// it and TotalVotes are only ever changed in the same write that appends a vote.
type Poll struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Campaign     primitive.ObjectID `json:"campaign" bson:"campaign"`
	Title        string             `json:"title" bson:"title"`
	Description  string             `json:"description,omitempty" bson:"description,omitempty"`
	Options      []PollOption       `json:"options" bson:"options"`
	StartTime    time.Time          `json:"startTime" bson:"startTime"`
	EndTime      time.Time          `json:"endTime" bson:"endTime"`
	DurationDays int                `json:"durationDays" bson:"durationDays"`
	IsActive     bool               `json:"isActive" bson:"isActive"`
	IsPublic     bool               `json:"isPublic" bson:"isPublic"`
	Votes        []PollVote         `json:"-" bson:"votes"`
	VoteCounts   map[string]int     `json:"voteCounts" bson:"voteCounts"`
	TotalVotes   int                `json:"totalVotes" bson:"totalVotes"`
	CreatedBy    string             `json:"createdBy" bson:"createdBy"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// CountKey is the VoteCounts key for an option index.
func CountKey(index int) string {
	return strconv.Itoa(index)
}

// Expired reports whether the poll's end time has passed at now.
func (p *Poll) Expired(now time.Time) bool {
	return now.After(p.EndTime)
}

// HasOption reports whether index addresses one of the poll's options.
func (p *Poll) HasOption(index int) bool {
	return index >= 0 && index < len(p.Options)
}

// VoteOf returns the vote cast by userID, or nil.
func (p *Poll) VoteOf(userID string) *PollVote {
	if userID == "" {
		return nil
	}
	for i := range p.Votes {
		if p.Votes[i].UserID == userID {
			return &p.Votes[i]
		}
	}
	return nil
}
