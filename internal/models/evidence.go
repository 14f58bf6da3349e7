package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EvidenceStatus is the review state of an evidence item.
type EvidenceStatus string

const (
	EvidenceSubmitted           EvidenceStatus = "submitted"
	EvidenceUnderReview         EvidenceStatus = "under_review"
	EvidenceAccepted            EvidenceStatus = "accepted"
	EvidenceRejected            EvidenceStatus = "rejected"
	EvidencePendingMoreInfo     EvidenceStatus = "pending_more_info"
	EvidencePendingVerification EvidenceStatus = "pending_verification"
	// EvidenceVerificationFailed marks evidence whose verification job exhausted its retries.
	EvidenceVerificationFailed EvidenceStatus = "verification_failed"
)

// AwaitingVerification reports whether the automated pipeline may still decide this status.
func (s EvidenceStatus) AwaitingVerification() bool {
	return s == EvidenceSubmitted || s == EvidencePendingVerification
}

// ManuallyReviewable reports whether a campaign manager may set a review decision.
// Verdicts the pipeline reached and evidence still in the pipeline are left alone.
func (s EvidenceStatus) ManuallyReviewable() bool {
	return s == EvidenceUnderReview || s == EvidencePendingMoreInfo || s == EvidenceVerificationFailed
}

// Verification methods.
const (
	VerificationMethodAI     = "ai_analysis"
	VerificationMethodManual = "manual_review"
)

// Evidence types.
const (
	EvidenceTypeDocument    = "document"
	EvidenceTypeImage       = "image"
	EvidenceTypeVideo       = "video"
	EvidenceTypeAudio       = "audio"
	EvidenceTypeTestimonial = "testimonial"
	EvidenceTypeOther       = "other"
)

// Verification holds the latest verification outcome.
type Verification struct {
	IsVerified         bool       `json:"isVerified" bson:"isVerified"`
	VerificationMethod string     `json:"verificationMethod,omitempty" bson:"verificationMethod,omitempty"`
	VerificationNotes  string     `json:"verificationNotes,omitempty" bson:"verificationNotes,omitempty"`
	VerificationDate   *time.Time `json:"verificationDate,omitempty" bson:"verificationDate,omitempty"`
	VerifiedBy         string     `json:"verifiedBy,omitempty" bson:"verifiedBy,omitempty"`
}

// EvidenceFile is an uploaded object attached to evidence.
type EvidenceFile struct {
	Key         string `json:"key" bson:"key"`
	URL         string `json:"url,omitempty" bson:"url,omitempty"`
	ContentType string `json:"contentType" bson:"contentType"`
	Size        int64  `json:"size" bson:"size"`
	DownloadURL string `json:"downloadUrl,omitempty" bson:"-"`
}

// Evidence is a submitted artifact supporting a campaign.
type Evidence struct {
	ID                    primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Campaign              primitive.ObjectID `json:"campaign" bson:"campaign"`
	Title                 string             `json:"title" bson:"title"`
	Description           string             `json:"description" bson:"description"`
	EvidenceType          string             `json:"evidenceType" bson:"evidenceType"`
	Files                 []EvidenceFile     `json:"files" bson:"files"`
	SubmittedBy           string             `json:"submittedBy" bson:"submittedBy"`
	DateOfIncident        *time.Time         `json:"dateOfIncident,omitempty" bson:"dateOfIncident,omitempty"`
	Location              string             `json:"location,omitempty" bson:"location,omitempty"`
	Tags                  []string           `json:"tags,omitempty" bson:"tags,omitempty"`
	IsPublic              bool               `json:"isPublic" bson:"isPublic"`
	Verification          Verification       `json:"verification" bson:"verification"`
	Status                EvidenceStatus     `json:"status" bson:"status"`
	VerificationAttempts  int                `json:"verificationAttempts" bson:"verificationAttempts"`
	LastVerificationError string             `json:"lastVerificationError,omitempty" bson:"lastVerificationError,omitempty"`
	CreatedAt             time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// Attempt outcomes besides the evidence statuses a verdict can produce.
const (
	// AttemptOutcomeError is recorded when a run failed before a verdict was stored.
	AttemptOutcomeError = "error"
	// AttemptOutcomeDiscarded is recorded when a verdict arrived after the evidence was decided or removed.
	AttemptOutcomeDiscarded = "discarded"
)

// VerificationAttempt is one audited run of the verification pipeline.
type VerificationAttempt struct {
	ID         string    `json:"id"`
	EvidenceID string    `json:"evidenceId"`
	JobID      string    `json:"jobId"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	Confidence *float64  `json:"confidence,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
