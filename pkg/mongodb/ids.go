package mongodb

import (
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civicpulse/backend/pkg/apperr"
)

// ParseID parses a hex object id taken from a request. what names the entity in the error.
func ParseID(hex, what string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperr.Newf(apperr.ErrValidation, "invalid %s id", what)
	}
	return id, nil
}
