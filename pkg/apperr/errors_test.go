package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKeepsMessageAndKind(t *testing.T) {
	err := New(ErrValidation, "title is required")
	assert.Equal(t, "title is required", err.Error())
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("cast vote: %w", Newf(ErrDuplicateVote, "user %s already voted", "u1"))
	assert.Equal(t, ErrDuplicateVote, Kind(err))
	assert.Nil(t, Kind(errors.New("boom")))
}
