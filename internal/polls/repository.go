package polls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/apperr"
	"github.com/civicpulse/backend/pkg/mongodb"
)

var errPollNotFound = apperr.New(apperr.ErrNotFound, "poll not found")

// Repository handles poll persistence in MongoDB.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository creates a polls repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(mongodb.CollectionPolls)}
}

// Create inserts a new poll and sets its ID.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	p.ID = primitive.NewObjectID()
	if p.Votes == nil {
		p.Votes = []models.PollVote{}
	}
	_, err := r.coll.InsertOne(ctx, p)
	return err
}

// GetByID returns a poll by ID.
func (r *Repository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Poll, error) {
	var p models.Poll
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errPollNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListPublicByCampaign returns public polls of a campaign, newest first.
func (r *Repository) ListPublicByCampaign(ctx context.Context, campaignID primitive.ObjectID) ([]models.Poll, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"campaign": campaignID, "isPublic": true}, opts)
	if err != nil {
		return nil, err
	}
	list := []models.Poll{}
	if err := cur.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// AppendVote records vote in one FindOneAndUpdate conditional on the poll being open and the
// user not having voted. Returns the updated poll, or ErrVoteNotApplied when nothing matched.
func (r *Repository) AppendVote(ctx context.Context, pollID primitive.ObjectID, vote models.PollVote, now time.Time) (*models.Poll, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var p models.Poll
	err := r.coll.FindOneAndUpdate(ctx, voteFilter(pollID, vote, now), voteUpdate(vote, now), opts).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrVoteNotApplied
		}
		return nil, err
	}
	return &p, nil
}

func voteFilter(pollID primitive.ObjectID, vote models.PollVote, now time.Time) bson.M {
	return bson.M{
		"_id":          pollID,
		"isActive":     true,
		"endTime":      bson.M{"$gte": now},
		"votes.userId": bson.M{"$ne": vote.UserID},
		fmt.Sprintf("options.%d", vote.OptionIndex): bson.M{"$exists": true},
	}
}

func voteUpdate(vote models.PollVote, now time.Time) bson.M {
	return bson.M{
		"$push": bson.M{"votes": vote},
		"$inc": bson.M{
			"voteCounts." + models.CountKey(vote.OptionIndex): 1,
			"totalVotes": 1,
		},
		"$set": bson.M{"updatedAt": now},
	}
}

// SetActive sets isActive and returns the updated poll.
func (r *Repository) SetActive(ctx context.Context, pollID primitive.ObjectID, isActive bool, now time.Time) (*models.Poll, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var p models.Poll
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": pollID},
		bson.M{"$set": bson.M{"isActive": isActive, "updatedAt": now}}, opts).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errPollNotFound
		}
		return nil, err
	}
	return &p, nil
}
