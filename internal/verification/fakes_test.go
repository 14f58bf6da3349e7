package verification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/civicpulse/backend/internal/classifier"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/apperr"
	"github.com/civicpulse/backend/pkg/queue"
)

type memEvidence struct {
	mu    sync.Mutex
	items map[primitive.ObjectID]*models.Evidence
}

func newMemEvidence() *memEvidence {
	return &memEvidence{items: map[primitive.ObjectID]*models.Evidence{}}
}

func (m *memEvidence) add(status models.EvidenceStatus) primitive.ObjectID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := primitive.NewObjectID()
	m.items[id] = &models.Evidence{ID: id, Title: "flooded underpass", Status: status}
	return id
}

func (m *memEvidence) get(id primitive.ObjectID) models.Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.items[id]
}

func (m *memEvidence) setStatus(id primitive.ObjectID, s models.EvidenceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id].Status = s
}

func (m *memEvidence) GetByID(_ context.Context, id primitive.ObjectID) (*models.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.items[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "evidence not found")
	}
	cp := *ev
	return &cp, nil
}

func (m *memEvidence) ApplyVerification(_ context.Context, id primitive.ObjectID, status models.EvidenceStatus, v models.Verification, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.items[id]
	if !ok || !ev.Status.AwaitingVerification() {
		return false, nil
	}
	ev.Status = status
	ev.Verification = v
	ev.VerificationAttempts++
	ev.LastVerificationError = ""
	ev.UpdatedAt = now
	return true, nil
}

func (m *memEvidence) RecordVerificationError(_ context.Context, id primitive.ObjectID, msg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev, ok := m.items[id]; ok && ev.Status.AwaitingVerification() {
		ev.LastVerificationError = msg
		ev.VerificationAttempts++
		ev.UpdatedAt = now
	}
	return nil
}

func (m *memEvidence) MarkVerificationFailed(_ context.Context, id primitive.ObjectID, msg string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.items[id]
	if !ok || !ev.Status.AwaitingVerification() {
		return false, nil
	}
	ev.Status = models.EvidenceVerificationFailed
	ev.LastVerificationError = msg
	ev.UpdatedAt = now
	return true, nil
}

type fakeClassifier struct {
	calls int32
	fn    func(call int, ev *models.Evidence) (classifier.Verdict, error)
}

func (f *fakeClassifier) Validate(_ context.Context, ev *models.Evidence) (classifier.Verdict, error) {
	n := int(atomic.AddInt32(&f.calls, 1))
	return f.fn(n, ev)
}

func (f *fakeClassifier) Calls() int { return int(atomic.LoadInt32(&f.calls)) }

func verdict(valid bool, confidence float64) func(int, *models.Evidence) (classifier.Verdict, error) {
	return func(int, *models.Evidence) (classifier.Verdict, error) {
		return classifier.Verdict{IsValid: valid, Confidence: confidence}, nil
	}
}

type memAttempts struct {
	mu   sync.Mutex
	list []models.VerificationAttempt
}

func (m *memAttempts) Record(_ context.Context, a models.VerificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.list = append(m.list, a)
	return nil
}

func (m *memAttempts) outcomes(evidenceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, a := range m.list {
		if a.EvidenceID == evidenceID {
			out = append(out, a.Outcome)
		}
	}
	return out
}

// chanQueue mimics queue.Queue retry semantics without Redis.
type chanQueue struct {
	jobs        chan *queue.Job
	maxAttempts int
	backoff     time.Duration

	mu       sync.Mutex
	dead     []*queue.Job
	retries  int
	retryErr error
}

func newChanQueue(maxAttempts int) *chanQueue {
	return &chanQueue{jobs: make(chan *queue.Job, 64), maxAttempts: maxAttempts, backoff: 5 * time.Millisecond}
}

func (q *chanQueue) enqueue(evidenceID string) {
	q.jobs <- evidenceJob(evidenceID)
}

func (q *chanQueue) Dequeue(ctx context.Context) (*queue.Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case j := <-q.jobs:
		return j, nil
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	}
}

func (q *chanQueue) Requeue(_ context.Context, job *queue.Job) error {
	q.jobs <- job
	return nil
}

func (q *chanQueue) Retry(_ context.Context, job *queue.Job, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retryErr != nil {
		return false, q.retryErr
	}
	job.Attempt++
	job.LastError = cause.Error()
	if job.Attempt >= q.maxAttempts {
		q.dead = append(q.dead, job)
		return true, nil
	}
	q.retries++
	nb := time.Now().Add(q.backoff)
	job.NotBefore = &nb
	q.jobs <- job
	return false, nil
}

func (q *chanQueue) DeadLetter(_ context.Context, job *queue.Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	job.LastError = cause.Error()
	q.dead = append(q.dead, job)
	return nil
}

func (q *chanQueue) deadCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}

func (q *chanQueue) retryCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.retries
}

func evidenceJob(evidenceID string) *queue.Job {
	return &queue.Job{
		ID:        primitive.NewObjectID().Hex(),
		Type:      queue.JobTypeEvidenceVerification,
		Payload:   []byte(`{"evidence_id":"` + evidenceID + `"}`),
		CreatedAt: time.Now(),
	}
}
