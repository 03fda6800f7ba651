package queue

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/payla/internal/domain"
	"github.com/punchamoorthee/payla/internal/service"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	jobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payla_payout_jobs_total",
		Help: "Payout jobs processed, labeled by result",
	}, []string{"result"})

	jobLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payla_payout_job_duration_seconds",
		Help:    "Time spent on one payout attempt",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// PayoutHandler runs payout attempts and records exhausted ones.
type PayoutHandler interface {
	InitiatePayout(ctx context.Context, userID string, amount int64, reference string) (service.PayoutOutcome, error)
	FailPermanently(ctx context.Context, userID string, amount int64, reference string, cause error) error
}

type WorkerConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	PollInterval time.Duration
	RatePerSec   float64
}

// Worker drains the payout queue, retrying transient failures with
// exponential backoff and jitter.
type Worker struct {
	queue   Queue
	handler PayoutHandler
	cfg     WorkerConfig
	limiter *rate.Limiter
	log     logrus.FieldLogger
	now     func() time.Time
	jitter  func(n int64) int64
}

func NewWorker(q Queue, h PayoutHandler, cfg WorkerConfig, log logrus.FieldLogger) *Worker {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 30 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Worker{
		queue:   q,
		handler: h,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
		now:     time.Now,
		jitter:  rand.Int64N,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.log.WithField("interval", w.cfg.PollInterval).Info("payout worker started")
	for {
		if err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.WithError(err).Error("payout queue drain failed")
		}
		select {
		case <-ctx.Done():
			w.log.Info("payout worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Drain processes every job that is ready now.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := w.queue.Claim(ctx, w.now())
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		if err := w.limiter.Wait(ctx); err != nil {
			w.requeue(ctx, *job, w.now())
			return err
		}
		w.process(ctx, *job)
	}
}

func (w *Worker) process(ctx context.Context, job PayoutJob) {
	log := w.log.WithFields(logrus.Fields{"reference": job.Reference, "user_id": job.UserID, "attempt": job.Attempt})
	timer := prometheus.NewTimer(jobLatency)
	outcome, err := w.handler.InitiatePayout(ctx, job.UserID, job.Amount, job.Reference)
	timer.ObserveDuration()

	switch {
	case err == nil:
		jobsProcessedTotal.WithLabelValues(string(outcome)).Inc()
		return
	case ctx.Err() != nil:
		// Shutdown interrupted the attempt; it will be retried on restart.
		w.requeue(ctx, job, w.now())
		return
	case permanent(err):
		jobsProcessedTotal.WithLabelValues("permanent_failure").Inc()
		log.WithError(err).Warn("payout failed permanently")
		return
	}

	if job.Attempt >= w.cfg.MaxRetries {
		jobsProcessedTotal.WithLabelValues("exhausted").Inc()
		log.WithError(err).Error("payout retries exhausted")
		if ferr := w.handler.FailPermanently(ctx, job.UserID, job.Amount, job.Reference, err); ferr != nil {
			log.WithError(ferr).Error("record exhausted payout")
		}
		return
	}

	job.Attempt++
	job.LastError = err.Error()
	delay := w.Backoff(job.Attempt)
	jobsProcessedTotal.WithLabelValues("retry").Inc()
	log.WithError(err).WithField("retry_in", delay).Warn("payout attempt failed, retrying")
	w.requeue(ctx, job, w.now().Add(delay))
}

// Backoff returns the delay before retry n (1-based): base*2^(n-1) capped
// at MaxDelay, with the upper half randomized.
func (w *Worker) Backoff(n int) time.Duration {
	d := w.cfg.BaseDelay
	for i := 1; i < n && d < w.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > w.cfg.MaxDelay {
		d = w.cfg.MaxDelay
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + w.jitter(half+1))
}

func (w *Worker) requeue(ctx context.Context, job PayoutJob, at time.Time) {
	if err := w.queue.Push(context.WithoutCancel(ctx), job, at); err != nil {
		w.log.WithError(err).WithField("reference", job.Reference).Error("requeue payout job")
	}
}

func permanent(err error) bool {
	return domain.IsPermanent(err) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound)
}
