package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/civicpulse/backend/internal/classifier"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/apperr"
	"github.com/civicpulse/backend/pkg/queue"
)

// ErrPermanent marks a job that can never succeed; it goes to the DLQ without retries.
var ErrPermanent = errors.New("permanent job failure")

const (
	maxNotReadyWait = time.Second
	dequeueErrPause = time.Second
)

// Classifier judges one evidence record.
type Classifier interface {
	Validate(ctx context.Context, ev *models.Evidence) (classifier.Verdict, error)
}

// EvidenceStore is the evidence persistence the pipeline needs.
type EvidenceStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Evidence, error)
	ApplyVerification(ctx context.Context, id primitive.ObjectID, status models.EvidenceStatus, v models.Verification, now time.Time) (bool, error)
	RecordVerificationError(ctx context.Context, id primitive.ObjectID, msg string, now time.Time) error
	MarkVerificationFailed(ctx context.Context, id primitive.ObjectID, msg string, now time.Time) (bool, error)
}

// AttemptRecorder writes the verification audit log.
type AttemptRecorder interface {
	Record(ctx context.Context, a models.VerificationAttempt) error
}

// JobQueue is the subset of queue.Queue used by workers.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Requeue(ctx context.Context, job *queue.Job) error
	Retry(ctx context.Context, job *queue.Job, cause error) (bool, error)
	DeadLetter(ctx context.Context, job *queue.Job, cause error) error
}

// Config tunes the processor.
type Config struct {
	Concurrency         int
	ClassifierTimeout   time.Duration
	ConfidenceThreshold float64
}

// Processor consumes evidence verification jobs.
type Processor struct {
	queue      JobQueue
	evidence   EvidenceStore
	classifier Classifier
	attempts   AttemptRecorder
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewProcessor creates a verification processor. attempts may be nil.
func NewProcessor(q JobQueue, evidence EvidenceStore, c Classifier, attempts AttemptRecorder, cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = 30 * time.Second
	}
	return &Processor{
		queue:      q,
		evidence:   evidence,
		classifier: c,
		attempts:   attempts,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Process executes one verification job. A nil error means the job is finished, including the
// cases where the evidence was removed or already decided.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	hex, err := job.EvidenceID()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return fmt.Errorf("%w: invalid evidence id %q", ErrPermanent, hex)
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.String("evidence_id", hex), zap.Int("attempt", job.Attempt+1))

	ev, err := p.evidence.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Info("evidence no longer exists, dropping job")
			return nil
		}
		return fmt.Errorf("load evidence: %w", err)
	}
	if !ev.Status.AwaitingVerification() {
		log.Info("evidence already decided, skipping", zap.String("status", string(ev.Status)))
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ClassifierTimeout)
	verdict, err := p.classifier.Validate(callCtx, ev)
	cancel()

	attempt := models.VerificationAttempt{EvidenceID: hex, JobID: job.ID, Attempt: job.Attempt + 1}
	if err != nil {
		attempt.Outcome = models.AttemptOutcomeError
		attempt.Error = err.Error()
		p.record(ctx, log, attempt)
		if recErr := p.evidence.RecordVerificationError(ctx, id, err.Error(), p.now()); recErr != nil {
			log.Warn("record verification error failed", zap.Error(recErr))
		}
		return fmt.Errorf("classify: %w", err)
	}

	status := Decide(verdict, p.cfg.ConfidenceThreshold)
	now := p.now()
	applied, err := p.evidence.ApplyVerification(ctx, id, status, models.Verification{
		IsVerified:         status == models.EvidenceAccepted,
		VerificationMethod: models.VerificationMethodAI,
		VerificationNotes:  verdict.NotesJSON(),
		VerificationDate:   &now,
	}, now)
	if err != nil {
		return fmt.Errorf("store verdict: %w", err)
	}

	confidence := verdict.Confidence
	attempt.Confidence = &confidence
	attempt.Outcome = string(status)
	if !applied {
		attempt.Outcome = models.AttemptOutcomeDiscarded
		log.Info("evidence changed during verification, verdict discarded", zap.String("verdict", string(status)))
	} else {
		log.Info("evidence verified", zap.String("status", string(status)), zap.Float64("confidence", confidence))
	}
	p.record(ctx, log, attempt)
	return nil
}

func (p *Processor) record(ctx context.Context, log *zap.Logger, a models.VerificationAttempt) {
	if p.attempts == nil {
		return
	}
	if err := p.attempts.Record(ctx, a); err != nil {
		log.Warn("record verification attempt failed", zap.Error(err))
	}
}

// Run starts Concurrency workers and blocks until ctx is cancelled and every worker has
// finished its in-flight job.
func (p *Processor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, worker)
		}(i)
	}
	p.logger.Info("verification workers started", zap.Int("concurrency", p.cfg.Concurrency))
	wg.Wait()
	p.logger.Info("verification workers stopped")
}

func (p *Processor) loop(ctx context.Context, worker int) {
	log := p.logger.With(zap.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dequeue error", zap.Error(err))
			sleep(ctx, dequeueErrPause)
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, log, job)
	}
}

// handle finishes a dequeued job even after ctx is cancelled.
func (p *Processor) handle(ctx context.Context, log *zap.Logger, job *queue.Job) {
	work := context.WithoutCancel(ctx)
	now := p.now()
	if !job.Ready(now) {
		if err := p.queue.Requeue(work, job); err != nil {
			log.Error("requeue delayed job failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		wait := job.NotBefore.Sub(now)
		if wait > maxNotReadyWait {
			wait = maxNotReadyWait
		}
		sleep(ctx, wait)
		return
	}

	log.Debug("processing job", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt+1))
	err := p.Process(work, job)
	if err == nil {
		return
	}
	log.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))

	if errors.Is(err, ErrPermanent) {
		if dlErr := p.queue.DeadLetter(work, job, err); dlErr != nil {
			log.Error("dead-letter failed", zap.String("job_id", job.ID), zap.Error(dlErr))
		}
		return
	}
	dead, rErr := p.queue.Retry(work, job, err)
	if rErr != nil {
		// The job is gone; leave the evidence where reverify can pick it up.
		log.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(rErr))
		p.markFailed(work, log, job, fmt.Errorf("%v; retry enqueue: %v", err, rErr))
		return
	}
	if dead {
		p.markFailed(work, log, job, err)
	}
}

func (p *Processor) markFailed(ctx context.Context, log *zap.Logger, job *queue.Job, cause error) {
	hex, err := job.EvidenceID()
	if err != nil {
		return
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return
	}
	marked, err := p.evidence.MarkVerificationFailed(ctx, id, cause.Error(), p.now())
	if err != nil {
		log.Error("mark verification failed", zap.String("evidence_id", hex), zap.Error(err))
		return
	}
	if marked {
		log.Warn("evidence verification failed permanently", zap.String("evidence_id", hex), zap.Int("attempts", job.Attempt))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
