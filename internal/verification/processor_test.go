package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicpulse/backend/internal/classifier"
	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/queue"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name    string
		verdict classifier.Verdict
		want    models.EvidenceStatus
	}{
		{"confident valid", classifier.Verdict{IsValid: true, Confidence: 0.92}, models.EvidenceAccepted},
		{"confident invalid", classifier.Verdict{IsValid: false, Confidence: 0.85}, models.EvidenceRejected},
		{"unsure valid", classifier.Verdict{IsValid: true, Confidence: 0.5}, models.EvidencePendingMoreInfo},
		{"unsure invalid", classifier.Verdict{IsValid: false, Confidence: 0.1}, models.EvidencePendingMoreInfo},
		{"at threshold", classifier.Verdict{IsValid: true, Confidence: 0.7}, models.EvidenceAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.verdict, DefaultConfidenceThreshold))
		})
	}
}

type harness struct {
	store    *memEvidence
	cls      *fakeClassifier
	attempts *memAttempts
	queue    *chanQueue
	p        *Processor
}

func newHarness(fn func(int, *models.Evidence) (classifier.Verdict, error), maxAttempts, concurrency int) *harness {
	h := &harness{
		store:    newMemEvidence(),
		cls:      &fakeClassifier{fn: fn},
		attempts: &memAttempts{},
		queue:    newChanQueue(maxAttempts),
	}
	h.p = NewProcessor(h.queue, h.store, h.cls, h.attempts, Config{
		Concurrency:         concurrency,
		ClassifierTimeout:   time.Second,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}, nil)
	return h
}

func TestProcessAcceptsConfidentVerdict(t *testing.T) {
	h := newHarness(func(int, *models.Evidence) (classifier.Verdict, error) {
		return classifier.Verdict{IsValid: true, Confidence: 0.9, Concerns: []string{"blurry"}}, nil
	}, 3, 1)
	id := h.store.add(models.EvidenceSubmitted)

	require.NoError(t, h.p.Process(context.Background(), evidenceJob(id.Hex())))

	ev := h.store.get(id)
	assert.Equal(t, models.EvidenceAccepted, ev.Status)
	assert.True(t, ev.Verification.IsVerified)
	assert.Equal(t, models.VerificationMethodAI, ev.Verification.VerificationMethod)
	assert.JSONEq(t, `{"confidence":0.9,"concerns":["blurry"],"recommendations":[]}`, ev.Verification.VerificationNotes)
	require.NotNil(t, ev.Verification.VerificationDate)
	assert.Equal(t, 1, ev.VerificationAttempts)

	require.Len(t, h.attempts.list, 1)
	a := h.attempts.list[0]
	assert.Equal(t, "accepted", a.Outcome)
	assert.Equal(t, 1, a.Attempt)
	require.NotNil(t, a.Confidence)
	assert.InDelta(t, 0.9, *a.Confidence, 1e-9)
}

func TestProcessLowConfidenceNeedsMoreInfo(t *testing.T) {
	h := newHarness(verdict(true, 0.4), 3, 1)
	id := h.store.add(models.EvidencePendingVerification)

	require.NoError(t, h.p.Process(context.Background(), evidenceJob(id.Hex())))

	ev := h.store.get(id)
	assert.Equal(t, models.EvidencePendingMoreInfo, ev.Status)
	assert.False(t, ev.Verification.IsVerified)
}

func TestProcessRejectsConfidentInvalid(t *testing.T) {
	h := newHarness(verdict(false, 0.95), 3, 1)
	id := h.store.add(models.EvidenceSubmitted)

	require.NoError(t, h.p.Process(context.Background(), evidenceJob(id.Hex())))
	assert.Equal(t, models.EvidenceRejected, h.store.get(id).Status)
}

func TestProcessClassifierErrorIsRetryable(t *testing.T) {
	h := newHarness(func(int, *models.Evidence) (classifier.Verdict, error) {
		return classifier.Verdict{}, &classifier.StatusError{Code: 503, Body: "busy"}
	}, 3, 1)
	id := h.store.add(models.EvidenceSubmitted)

	err := h.p.Process(context.Background(), evidenceJob(id.Hex()))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPermanent))

	ev := h.store.get(id)
	assert.Equal(t, models.EvidenceSubmitted, ev.Status)
	assert.Equal(t, 1, ev.VerificationAttempts)
	assert.Contains(t, ev.LastVerificationError, "503")
	assert.Equal(t, []string{models.AttemptOutcomeError}, h.attempts.outcomes(id.Hex()))
}

func TestProcessSkipsMissingAndDecidedEvidence(t *testing.T) {
	h := newHarness(verdict(true, 0.9), 3, 1)
	decided := h.store.add(models.EvidenceRejected)

	require.NoError(t, h.p.Process(context.Background(), evidenceJob(decided.Hex())))
	require.NoError(t, h.p.Process(context.Background(), evidenceJob("65f0c0ffee65f0c0ffee65f0")))

	assert.Equal(t, 0, h.cls.Calls())
	assert.Equal(t, models.EvidenceRejected, h.store.get(decided).Status)
	assert.Empty(t, h.attempts.list)
}

func TestProcessDiscardsVerdictWhenReviewedMidFlight(t *testing.T) {
	h := newHarness(nil, 3, 1)
	id := h.store.add(models.EvidenceSubmitted)
	h.cls.fn = func(int, *models.Evidence) (classifier.Verdict, error) {
		h.store.setStatus(id, models.EvidenceUnderReview)
		return classifier.Verdict{IsValid: true, Confidence: 0.99}, nil
	}

	require.NoError(t, h.p.Process(context.Background(), evidenceJob(id.Hex())))

	assert.Equal(t, models.EvidenceUnderReview, h.store.get(id).Status)
	assert.Equal(t, []string{models.AttemptOutcomeDiscarded}, h.attempts.outcomes(id.Hex()))
}

func TestProcessMalformedJobsArePermanent(t *testing.T) {
	h := newHarness(verdict(true, 0.9), 3, 1)

	err := h.p.Process(context.Background(), &queue.Job{ID: "j1", Type: "recording_upload", Payload: []byte(`{}`)})
	assert.True(t, errors.Is(err, ErrPermanent))

	err = h.p.Process(context.Background(), evidenceJob("not-hex"))
	assert.True(t, errors.Is(err, ErrPermanent))
}

func TestProcessHonoursClassifierTimeout(t *testing.T) {
	h := newHarness(nil, 3, 1)
	h.p.cfg.ClassifierTimeout = 20 * time.Millisecond
	id := h.store.add(models.EvidenceSubmitted)
	h.p.classifier = blockingClassifier{}

	start := time.Now()
	err := h.p.Process(context.Background(), evidenceJob(id.Hex()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

type blockingClassifier struct{}

func (blockingClassifier) Validate(ctx context.Context, _ *models.Evidence) (classifier.Verdict, error) {
	<-ctx.Done()
	return classifier.Verdict{}, ctx.Err()
}

func startRun(t *testing.T, p *Processor) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	return func() {
		stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestRunProcessesJobsConcurrently(t *testing.T) {
	h := newHarness(verdict(true, 0.8), 3, 3)
	var ids []string
	for i := 0; i < 6; i++ {
		id := h.store.add(models.EvidenceSubmitted)
		ids = append(ids, id.Hex())
		h.queue.enqueue(id.Hex())
	}
	stop := startRun(t, h.p)
	defer stop()

	assert.Eventually(t, func() bool {
		for _, id := range ids {
			if len(h.attempts.outcomes(id)) != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 6, h.cls.Calls())
}

func TestRunRetriesTransientFailure(t *testing.T) {
	h := newHarness(func(call int, _ *models.Evidence) (classifier.Verdict, error) {
		if call == 1 {
			return classifier.Verdict{}, errors.New("connection reset")
		}
		return classifier.Verdict{IsValid: true, Confidence: 0.9}, nil
	}, 3, 1)
	id := h.store.add(models.EvidenceSubmitted)
	h.queue.enqueue(id.Hex())

	stop := startRun(t, h.p)
	defer stop()

	assert.Eventually(t, func() bool {
		return h.store.get(id).Status == models.EvidenceAccepted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{models.AttemptOutcomeError, "accepted"}, h.attempts.outcomes(id.Hex()))
	assert.Equal(t, 1, h.queue.retryCount())
	assert.Equal(t, 0, h.queue.deadCount())

	ev := h.store.get(id)
	assert.Equal(t, 2, ev.VerificationAttempts)
	assert.Empty(t, ev.LastVerificationError)
}

func TestRunMarksEvidenceFailedAfterMaxAttempts(t *testing.T) {
	h := newHarness(func(int, *models.Evidence) (classifier.Verdict, error) {
		return classifier.Verdict{}, errors.New("classifier unreachable")
	}, 2, 2)
	id := h.store.add(models.EvidenceSubmitted)
	h.queue.enqueue(id.Hex())

	stop := startRun(t, h.p)
	defer stop()

	assert.Eventually(t, func() bool {
		return h.store.get(id).Status == models.EvidenceVerificationFailed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.queue.deadCount())
	assert.Equal(t, 2, h.cls.Calls())
	assert.Contains(t, h.store.get(id).LastVerificationError, "classifier unreachable")
}

func TestHandleMarksEvidenceFailedWhenRetryCannotBeQueued(t *testing.T) {
	h := newHarness(func(int, *models.Evidence) (classifier.Verdict, error) {
		return classifier.Verdict{}, errors.New("classifier unreachable")
	}, 5, 1)
	h.queue.retryErr = errors.New("rpush: connection refused")
	id := h.store.add(models.EvidencePendingVerification)

	h.p.handle(context.Background(), zap.NewNop(), evidenceJob(id.Hex()))

	ev := h.store.get(id)
	assert.Equal(t, models.EvidenceVerificationFailed, ev.Status)
	assert.Contains(t, ev.LastVerificationError, "classifier unreachable")
	assert.Contains(t, ev.LastVerificationError, "connection refused")
	assert.Equal(t, 0, h.queue.retryCount())
	assert.Empty(t, h.queue.jobs)
}

func TestRunDeadLettersMalformedJobWithoutRetry(t *testing.T) {
	h := newHarness(verdict(true, 0.9), 5, 1)
	h.queue.jobs <- &queue.Job{ID: "bad", Type: "unknown", Payload: []byte(`{}`)}

	stop := startRun(t, h.p)
	defer stop()

	assert.Eventually(t, func() bool { return h.queue.deadCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.queue.retryCount())
	assert.Equal(t, 0, h.cls.Calls())
}

func TestRedisQueueRetriesIntoDLQ(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.NewQueue(client, nil, queue.Options{MaxAttempts: 2, BaseBackoff: 10 * time.Millisecond, MaxBackoff: 10 * time.Millisecond})

	store := newMemEvidence()
	cls := &fakeClassifier{fn: func(int, *models.Evidence) (classifier.Verdict, error) {
		return classifier.Verdict{}, errors.New("timeout")
	}}
	p := NewProcessor(q, store, cls, &memAttempts{}, Config{ClassifierTimeout: time.Second, ConfidenceThreshold: 0.7}, nil)

	ctx := context.Background()
	id := store.add(models.EvidenceSubmitted)
	_, err := q.EnqueueEvidenceVerification(ctx, id.Hex())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		n, err := q.Len(ctx)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		p.handle(ctx, zap.NewNop(), job)
	}

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempt)
	assert.Equal(t, "classify: timeout", dead[0].LastError)
	assert.Equal(t, 2, cls.Calls())
	assert.Equal(t, models.EvidenceVerificationFailed, store.get(id).Status)
}
