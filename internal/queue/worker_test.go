package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/service"
	"github.com/sirupsen/logrus/hooks/test"
)

type stubHandler struct {
	errs      []error
	calls     int
	exhausted []string
}

func (h *stubHandler) InitiatePayout(ctx context.Context, userID string, amount int64, reference string) (service.PayoutOutcome, error) {
	i := h.calls
	h.calls++
	if i < len(h.errs) && h.errs[i] != nil {
		return service.PayoutFailed, h.errs[i]
	}
	return service.PayoutSent, nil
}

func (h *stubHandler) FailPermanently(ctx context.Context, userID string, amount int64, reference string, cause error) error {
	h.exhausted = append(h.exhausted, reference)
	return nil
}

func newTestWorker(q Queue, h PayoutHandler, maxRetries int, clock *time.Time) *Worker {
	log, _ := test.NewNullLogger()
	w := NewWorker(q, h, WorkerConfig{MaxRetries: maxRetries, BaseDelay: 30 * time.Second, MaxDelay: 10 * time.Minute}, log)
	w.now = func() time.Time { return *clock }
	w.jitter = func(n int64) int64 { return n - 1 }
	return w
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	q := NewMemoryQueue()
	h := &stubHandler{errs: []error{domain.Transient("create transfer", 502, errors.New("bad gateway"))}}
	w := newTestWorker(q, h, 3, &clock)
	ctx := context.Background()

	_ = Enqueuer{Queue: q, Now: func() time.Time { return clock }}.EnqueuePayout(ctx, "u1", 5000, "ref-1")
	if err := w.Drain(ctx); err != nil {
		t.Fatal(err)
	}
	if h.calls != 1 || q.Len() != 1 {
		t.Fatalf("expected one call and a requeued job, got calls=%d len=%d", h.calls, q.Len())
	}
	if got := q.Jobs()[0]; got.Attempt != 1 || got.LastError == "" {
		t.Fatalf("requeued job not annotated: %+v", got)
	}

	// Not ready yet.
	_ = w.Drain(ctx)
	if h.calls != 1 {
		t.Fatal("job ran before its backoff elapsed")
	}

	clock = clock.Add(31 * time.Second)
	_ = w.Drain(ctx)
	if h.calls != 2 || q.Len() != 0 || len(h.exhausted) != 0 {
		t.Fatalf("expected success on retry, calls=%d len=%d exhausted=%v", h.calls, q.Len(), h.exhausted)
	}
}

func TestWorkerExhaustsRetries(t *testing.T) {
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	q := NewMemoryQueue()
	transient := domain.Transient("create transfer", 0, errors.New("timeout"))
	h := &stubHandler{errs: []error{transient, transient, transient, transient}}
	w := newTestWorker(q, h, 2, &clock)
	ctx := context.Background()

	_ = q.Push(ctx, PayoutJob{UserID: "u1", Amount: 5000, Reference: "ref-2"}, clock)
	for i := 0; i < 5; i++ {
		_ = w.Drain(ctx)
		clock = clock.Add(time.Hour)
	}
	if h.calls != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d", h.calls)
	}
	if len(h.exhausted) != 1 || h.exhausted[0] != "ref-2" {
		t.Fatalf("exhausted payout not recorded: %v", h.exhausted)
	}
	if q.Len() != 0 {
		t.Fatal("exhausted job must not be requeued")
	}
}

func TestWorkerDoesNotRetryPermanentFailure(t *testing.T) {
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	q := NewMemoryQueue()
	h := &stubHandler{errs: []error{domain.Permanent("create recipient", 400, errors.New("invalid account"))}}
	w := newTestWorker(q, h, 3, &clock)

	_ = q.Push(context.Background(), PayoutJob{UserID: "u1", Amount: 5000, Reference: "ref-3"}, clock)
	_ = w.Drain(context.Background())
	if h.calls != 1 || q.Len() != 0 || len(h.exhausted) != 0 {
		t.Fatalf("permanent failure should stop: calls=%d len=%d exhausted=%v", h.calls, q.Len(), h.exhausted)
	}
}

func TestBackoff(t *testing.T) {
	clock := time.Now()
	w := newTestWorker(NewMemoryQueue(), &stubHandler{}, 3, &clock)
	w.cfg.MaxDelay = 100 * time.Second

	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 100 * time.Second},
		{8, 100 * time.Second},
	}
	for _, tt := range tests {
		if got := w.Backoff(tt.n); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}

	w.jitter = func(n int64) int64 { return 0 }
	if got := w.Backoff(1); got != 15*time.Second {
		t.Errorf("minimum jittered backoff = %v, want 15s", got)
	}
}

func TestMemoryQueueOrdersByReadyTime(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	_ = q.Push(ctx, PayoutJob{Reference: "later"}, now.Add(time.Minute))
	_ = q.Push(ctx, PayoutJob{Reference: "first"}, now)
	_ = q.Push(ctx, PayoutJob{Reference: "second"}, now)

	for _, want := range []string{"first", "second"} {
		job, _ := q.Claim(ctx, now)
		if job == nil || job.Reference != want {
			t.Fatalf("claimed %+v, want %s", job, want)
		}
	}
	if job, _ := q.Claim(ctx, now); job != nil {
		t.Fatalf("job claimed before ready: %+v", job)
	}
}
