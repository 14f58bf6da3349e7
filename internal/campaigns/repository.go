package campaigns

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/apperr"
	"github.com/civicpulse/backend/pkg/mongodb"
)

var errCampaignNotFound = apperr.New(apperr.ErrNotFound, "campaign not found")

// Repository handles campaign persistence in MongoDB.
type Repository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewRepository creates a campaigns repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(mongodb.CollectionCampaigns), now: time.Now}
}

// Create inserts a new campaign and sets its ID.
func (r *Repository) Create(ctx context.Context, c *models.Campaign) error {
	now := r.now().UTC()
	c.ID = primitive.NewObjectID()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.TeamMembers == nil {
		c.TeamMembers = []models.TeamMember{}
	}
	if c.Polls == nil {
		c.Polls = []primitive.ObjectID{}
	}
	if c.Evidence == nil {
		c.Evidence = []primitive.ObjectID{}
	}
	_, err := r.coll.InsertOne(ctx, c)
	return err
}

// GetByID returns a campaign by ID.
func (r *Repository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Campaign, error) {
	var c models.Campaign
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errCampaignNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListPublic returns public campaigns, newest first.
func (r *Repository) ListPublic(ctx context.Context, limit int64) ([]models.Campaign, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.coll.Find(ctx, bson.M{"isPublic": true}, opts)
	if err != nil {
		return nil, err
	}
	list := []models.Campaign{}
	if err := cur.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AddTeamMember appends m unless the user is already on the team.
func (r *Repository) AddTeamMember(ctx context.Context, id primitive.ObjectID, m models.TeamMember) error {
	filter := bson.M{"_id": id, "teamMembers.userId": bson.M{"$ne": m.UserID}}
	update := bson.M{
		"$push": bson.M{"teamMembers": m},
		"$set":  bson.M{"updatedAt": r.now().UTC()},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return apperr.New(apperr.ErrValidation, "user is already a team member")
}

// CanManage reports whether userID created the campaign or is on its team.
// Returns a NotFound error when the campaign does not exist.
func (r *Repository) CanManage(ctx context.Context, id primitive.ObjectID, userID string) (bool, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return c.CanManage(userID), nil
}

// AttachPoll appends a poll reference to the campaign.
func (r *Repository) AttachPoll(ctx context.Context, id, pollID primitive.ObjectID) error {
	return r.attach(ctx, id, "polls", pollID)
}

// AttachEvidence appends an evidence reference to the campaign.
func (r *Repository) AttachEvidence(ctx context.Context, id, evidenceID primitive.ObjectID) error {
	return r.attach(ctx, id, "evidence", evidenceID)
}

func (r *Repository) attach(ctx context.Context, id primitive.ObjectID, field string, ref primitive.ObjectID) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$addToSet": bson.M{field: ref},
		"$set":      bson.M{"updatedAt": r.now().UTC()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errCampaignNotFound
	}
	return nil
}
