package utils

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/civicpulse/backend/pkg/apperr"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordCost is the bcrypt work factor for new hashes.
const PasswordCost = bcrypt.DefaultCost

// HashPassword hashes a plain password. Over-long passwords are a validation error.
func HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", apperr.Newf(apperr.ErrValidation, "password must be at most %d bytes", MaxPasswordBytes)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	return string(hashed), err
}

// CheckPassword compares a plain password with its stored hash.
func CheckPassword(plain, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
