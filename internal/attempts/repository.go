// Package attempts keeps the audit log of evidence verification runs in PostgreSQL.
package attempts

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicpulse/backend/internal/models"
)

// Repository handles verification_attempts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a verification attempt repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts one attempt row.
func (r *Repository) Record(ctx context.Context, a models.VerificationAttempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO verification_attempts (evidence_id, job_id, attempt, outcome, confidence, error)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`,
		a.EvidenceID, a.JobID, a.Attempt, a.Outcome, a.Confidence, a.Error)
	return err
}

// ListByEvidence returns the attempts for one evidence item, newest first.
func (r *Repository) ListByEvidence(ctx context.Context, evidenceID string) ([]models.VerificationAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, evidence_id, job_id, attempt, outcome, confidence, COALESCE(error, ''), created_at
		 FROM verification_attempts WHERE evidence_id = $1 ORDER BY created_at DESC`,
		evidenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.VerificationAttempt{}
	for rows.Next() {
		var a models.VerificationAttempt
		if err := rows.Scan(&a.ID, &a.EvidenceID, &a.JobID, &a.Attempt, &a.Outcome, &a.Confidence, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// OutcomeCounts returns how many attempts ended in each outcome for one evidence item.
func (r *Repository) OutcomeCounts(ctx context.Context, evidenceID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT outcome, COUNT(*) FROM verification_attempts WHERE evidence_id = $1 GROUP BY outcome`,
		evidenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
