package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PayoutJob is one payout work item.
type PayoutJob struct {
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	Reference  string    `json:"reference"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// Queue is a delayed work queue. Claim removes and returns one job whose
// ready time has passed, or nil when none is ready.
type Queue interface {
	Push(ctx context.Context, job PayoutJob, readyAt time.Time) error
	Claim(ctx context.Context, now time.Time) (*PayoutJob, error)
}

// Enqueuer adapts a Queue to the reconciler's payout hand-off.
type Enqueuer struct {
	Queue Queue
	Now   func() time.Time
}

func (e Enqueuer) EnqueuePayout(ctx context.Context, userID string, amount int64, reference string) error {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	t := now().UTC()
	return e.Queue.Push(ctx, PayoutJob{UserID: userID, Amount: amount, Reference: reference, EnqueuedAt: t}, t)
}

type memItem struct {
	job     PayoutJob
	readyAt time.Time
	seq     uint64
}

// MemoryQueue is an in-process Queue for single-instance runs and tests.
type MemoryQueue struct {
	mu    sync.Mutex
	items []memItem
	seq   uint64
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(ctx context.Context, job PayoutJob, readyAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.items = append(q.items, memItem{job: job, readyAt: readyAt, seq: q.seq})
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].readyAt.Equal(q.items[j].readyAt) {
			return q.items[i].seq < q.items[j].seq
		}
		return q.items[i].readyAt.Before(q.items[j].readyAt)
	})
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, now time.Time) (*PayoutJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].readyAt.After(now) {
		return nil, nil
	}
	job := q.items[0].job
	q.items = q.items[1:]
	return &job, nil
}

// Len reports queued jobs, ready or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Jobs returns a snapshot of queued jobs in ready order.
func (q *MemoryQueue) Jobs() []PayoutJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PayoutJob, len(q.items))
	for i, it := range q.items {
		out[i] = it.job
	}
	return out
}
