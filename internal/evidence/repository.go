package evidence

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

var errEvidenceNotFound = apperr.New(apperr.ErrNotFound, "evidence not found")

// undecided matches evidence the verification pipeline may still write to.
var undecided = bson.M{"$in": []models.EvidenceStatus{models.EvidenceSubmitted, models.EvidencePendingVerification}}

var reviewable = bson.M{"$in": []models.EvidenceStatus{
	models.EvidenceUnderReview, models.EvidencePendingMoreInfo, models.EvidenceVerificationFailed,
}}

var errNotReviewable = apperr.New(apperr.ErrInvalidState, "evidence can only be reviewed from under_review, pending_more_info or verification_failed")

// Repository handles evidence persistence in MongoDB.
type Repository struct {
	coll *mongo.Collection
}

// NewRepository creates an evidence repository.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{coll: db.Collection(mongodb.CollectionEvidence)}
}

// Create inserts new evidence and sets its ID.
func (r *Repository) Create(ctx context.Context, ev *models.Evidence) error {
	ev.ID = primitive.NewObjectID()
	if ev.Files == nil {
		ev.Files = []models.EvidenceFile{}
	}
	_, err := r.coll.InsertOne(ctx, ev)
	return err
}

// GetByID returns evidence by ID.
func (r *Repository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Evidence, error) {
	var ev models.Evidence
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&ev); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errEvidenceNotFound
		}
		return nil, err
	}
	return &ev, nil
}

// ListByCampaign returns a campaign's evidence, newest first.
func (r *Repository) ListByCampaign(ctx context.Context, campaignID primitive.ObjectID, publicOnly bool) ([]models.Evidence, error) {
	filter := bson.M{"campaign": campaignID}
	if publicOnly {
		filter["isPublic"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	list := []models.Evidence{}
	if err := cur.All(ctx, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ApplyVerification stores an automated verdict if the evidence still exists and is undecided.
// applied is false when the write matched nothing.
func (r *Repository) ApplyVerification(ctx context.Context, id primitive.ObjectID, status models.EvidenceStatus, v models.Verification, now time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id, "status": undecided}, bson.M{
		"$set": bson.M{
			"verification": v,
			"status":       status,
			"updatedAt":    now,
		},
		"$inc":   bson.M{"verificationAttempts": 1},
		"$unset": bson.M{"lastVerificationError": ""},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// RecordVerificationError counts a failed run on undecided evidence.
func (r *Repository) RecordVerificationError(ctx context.Context, id primitive.ObjectID, msg string, now time.Time) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id, "status": undecided}, bson.M{
		"$set": bson.M{"lastVerificationError": msg, "updatedAt": now},
		"$inc": bson.M{"verificationAttempts": 1},
	})
	return err
}

// MarkVerificationFailed moves undecided evidence to verification_failed.
func (r *Repository) MarkVerificationFailed(ctx context.Context, id primitive.ObjectID, msg string, now time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id, "status": undecided}, bson.M{
		"$set": bson.M{
			"status":                models.EvidenceVerificationFailed,
			"lastVerificationError": msg,
			"updatedAt":             now,
		},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// Review stores a manual review decision and returns the updated evidence. The write only
// applies while the evidence is manually reviewable.
func (r *Repository) Review(ctx context.Context, id primitive.ObjectID, status models.EvidenceStatus, v models.Verification, now time.Time) (*models.Evidence, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var ev models.Evidence
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id, "status": reviewable}, bson.M{
		"$set": bson.M{"status": status, "verification": v, "updatedAt": now},
	}, opts).Decode(&ev)
	if err == nil {
		return &ev, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errEvidenceNotFound
	}
	return nil, errNotReviewable
}

// ResetForReverification moves verification_failed evidence back to pending_verification.
// reset is false when the evidence is in any other state.
func (r *Repository) ResetForReverification(ctx context.Context, id primitive.ObjectID, now time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id, "status": models.EvidenceVerificationFailed}, bson.M{
		"$set": bson.M{"status": models.EvidencePendingVerification, "updatedAt": now},
	})
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}
