// Package verification runs classifier verdicts against submitted evidence.
package verification

import (
	"github.com/civicpulse/backend/internal/classifier"
	"github.com/civicpulse/backend/internal/models"
)

// DefaultConfidenceThreshold is the minimum confidence for an automated accept or reject.
const DefaultConfidenceThreshold = 0.7

// Decide maps a verdict to the evidence status it produces.
func Decide(v classifier.Verdict, threshold float64) models.EvidenceStatus {
	switch {
	case v.Confidence < threshold:
		return models.EvidencePendingMoreInfo
	case v.IsValid:
		return models.EvidenceAccepted
	default:
		return models.EvidenceRejected
	}
}
