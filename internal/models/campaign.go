package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Team roles inside a campaign.
const (
	TeamRoleCoordinator = "coordinator"
	TeamRoleMember      = "member"
)

// TeamMember links a user to a campaign team.
type TeamMember struct {
	UserID  string    `json:"userId" bson:"userId"`
	Role    string    `json:"role" bson:"role"`
	AddedAt time.Time `json:"addedAt" bson:"addedAt"`
}

// Campaign is the top-level aggregate; it owns polls and evidence.
type Campaign struct {
	ID          primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	Title       string               `json:"title" bson:"title"`
	Description string               `json:"description" bson:"description"`
	Category    string               `json:"category,omitempty" bson:"category,omitempty"`
	Location    string               `json:"location,omitempty" bson:"location,omitempty"`
	CreatedBy   string               `json:"createdBy" bson:"createdBy"`
	TeamMembers []TeamMember         `json:"teamMembers" bson:"teamMembers"`
	Polls       []primitive.ObjectID `json:"polls" bson:"polls"`
	Evidence    []primitive.ObjectID `json:"evidence" bson:"evidence"`
	IsPublic    bool                 `json:"isPublic" bson:"isPublic"`
	CreatedAt   time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// CanManage reports whether userID is the creator or on the team.
func (c *Campaign) CanManage(userID string) bool {
	if userID == "" {
		return false
	}
	if c.CreatedBy == userID {
		return true
	}
	for _, m := range c.TeamMembers {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
