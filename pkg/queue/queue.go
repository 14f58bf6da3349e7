package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueEvidence is the Redis list key for evidence verification jobs.
	QueueEvidence = "worker:evidence"
	// QueueDLQ is the dead-letter list for jobs that exhausted their attempts.
	QueueDLQ = "worker:dlq"
	// DefaultMaxAttempts is used when Options.MaxAttempts is not set.
	DefaultMaxAttempts = 5

	dequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeEvidenceVerification JobType = "evidence_verification"
)

// EvidenceVerificationPayload is the payload for evidence verification jobs.
type EvidenceVerificationPayload struct {
	EvidenceID string `json:"evidence_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
	NotBefore *time.Time      `json:"not_before,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// Options tune retry behaviour.
type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
	opts   Options
	now    func() time.Time
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger, opts Options) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 5 * time.Second
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	return &Queue{client: client, logger: logger, opts: opts, now: time.Now}
}

// MaxAttempts returns the number of executions a job gets before it is dead-lettered.
func (q *Queue) MaxAttempts() int { return q.opts.MaxAttempts }

// EnqueueEvidenceVerification enqueues a verification job for one evidence item.
func (q *Queue) EnqueueEvidenceVerification(ctx context.Context, evidenceID string) (*Job, error) {
	body, err := json.Marshal(EvidenceVerificationPayload{EvidenceID: evidenceID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      JobTypeEvidenceVerification,
		Payload:   body,
		CreatedAt: q.now(),
	}
	if err := q.push(ctx, QueueEvidence, job); err != nil {
		return nil, err
	}
	q.logger.Debug("enqueued evidence verification job", zap.String("job_id", job.ID), zap.String("evidence_id", evidenceID))
	return job, nil
}

// Dequeue blocks for a short while waiting for a job. It returns (nil, nil) on timeout so
// callers can re-check their context between polls.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, dequeueTimeout, QueueEvidence).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload, dropping to DLQ", zap.String("raw", result[1]), zap.Error(err))
		if pushErr := q.client.RPush(ctx, QueueDLQ, result[1]).Err(); pushErr != nil {
			q.logger.Error("dlq push failed", zap.Error(pushErr))
		}
		return nil, nil
	}
	return &job, nil
}

// Backoff returns the delay before the given attempt number is retried:
// base * 2^(attempt-1), capped at MaxBackoff.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := q.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return d
}

// Retry records a failed execution. The job is re-enqueued with a NotBefore delay, or moved to
// the DLQ once it has been executed MaxAttempts times; deadLettered reports which happened.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (deadLettered bool, err error) {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.Attempt >= q.opts.MaxAttempts {
		if err := q.deadLetter(ctx, job); err != nil {
			return false, err
		}
		return true, nil
	}
	notBefore := q.now().Add(q.Backoff(job.Attempt))
	job.NotBefore = &notBefore
	if err := q.push(ctx, QueueEvidence, job); err != nil {
		return false, err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Time("not_before", notBefore))
	return false, nil
}

// DeadLetter moves a job that can never succeed straight to the DLQ.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, cause error) error {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	return q.deadLetter(ctx, job)
}

func (q *Queue) deadLetter(ctx context.Context, job *Job) error {
	job.NotBefore = nil
	if err := q.push(ctx, QueueDLQ, job); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.String("last_error", job.LastError))
	return nil
}

// Requeue puts a job back untouched, e.g. when a worker dequeued it before its NotBefore time.
func (q *Queue) Requeue(ctx context.Context, job *Job) error {
	return q.push(ctx, QueueEvidence, job)
}

// DeadLetters returns up to limit jobs from the DLQ, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	raw, err := q.client.LRange(ctx, QueueDLQ, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raw))
	for _, r := range raw {
		var job Job
		if err := json.Unmarshal([]byte(r), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueEvidence).Result()
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// EvidenceID decodes the evidence id carried by an evidence verification job.
func (j *Job) EvidenceID() (string, error) {
	if j.Type != JobTypeEvidenceVerification {
		return "", fmt.Errorf("unknown job type: %s", j.Type)
	}
	var p EvidenceVerificationPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return "", fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.EvidenceID == "" {
		return "", errors.New("payload missing evidence_id")
	}
	return p.EvidenceID, nil
}

// Ready reports whether the job may run at t.
func (j *Job) Ready(t time.Time) bool {
	return j.NotBefore == nil || !t.Before(*j.NotBefore)
}
