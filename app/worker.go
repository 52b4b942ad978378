package app

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"feedpipe/domain"
)

// Job asks a worker to run one fetch cycle for a source.
type Job struct {
	SourceID string
	// Claimed is set when the caller already moved the source to Pending.
	Claimed bool
	Attempt int

	retry backoff.BackOff
}

// RetryPolicy decides how transient failures are retried. A negative
// MaxRetries retries forever.
type RetryPolicy struct {
	Delay      time.Duration
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Delay: 5 * time.Minute, MaxRetries: 3}
}

func (p RetryPolicy) newBackOff() backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	if p.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	return b
}

// Enqueuer accepts jobs without blocking.
type Enqueuer interface {
	Enqueue(job Job) error
}

type Worker struct {
	store      domain.SourceRepository
	normalizer *Normalizer
	reconciler *Reconciler
	policy     RetryPolicy
	leaseTTL   time.Duration
	queue      Enqueuer
	now        func() time.Time
}

func NewWorker(store domain.SourceRepository, normalizer *Normalizer, reconciler *Reconciler, policy RetryPolicy, leaseTTL time.Duration) *Worker {
	return &Worker{
		store:      store,
		normalizer: normalizer,
		reconciler: reconciler,
		policy:     policy,
		leaseTTL:   leaseTTL,
		now:        time.Now,
	}
}

// SetQueue sets where retries are sent.
func (w *Worker) SetQueue(q Enqueuer) { w.queue = q }

// Run executes one attempt. Transient failures are retried through the queue
// and end in Failed once the policy gives up; they never surface as errors.
// Any other failure is returned and leaves the status as it is.
func (w *Worker) Run(ctx context.Context, job Job) error {
	if job.SourceID == "" {
		return nil
	}
	logger := log.WithFields(log.Fields{"source_id": job.SourceID, "attempt": job.Attempt})

	source, err := w.store.GetSource(ctx, job.SourceID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("Source is gone, dropping fetch")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load source")
	}

	if job.Claimed {
		err = w.store.SetFetchStatus(ctx, source.ID, domain.FetchPending)
	} else {
		var ok bool
		ok, err = w.store.ClaimFetch(ctx, source.ID, w.now().Add(-w.leaseTTL))
		if err == nil && !ok {
			fetchAttempts.WithLabelValues("skipped").Inc()
			logger.Info("Fetch already in progress, skipping")
			return nil
		}
	}
	if err != nil {
		return errors.Wrap(err, "mark pending")
	}

	started := time.Now()
	err = w.cycle(ctx, source)
	fetchDuration.Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		if err := w.store.SetFetchStatus(ctx, source.ID, domain.FetchDone); err != nil {
			return errors.Wrap(err, "mark done")
		}
		fetchAttempts.WithLabelValues("done").Inc()
		logger.Info("Fetch cycle done")
		return nil
	case domain.IsTransient(err):
		return w.retryOrFail(ctx, source, job, err)
	default:
		fetchAttempts.WithLabelValues("error").Inc()
		return err
	}
}

func (w *Worker) cycle(ctx context.Context, source domain.Source) error {
	agg, err := w.normalizer.Aggregate(ctx, source.URL, nil)
	if err != nil {
		return err
	}
	return w.reconciler.Reconcile(ctx, source, agg)
}

func (w *Worker) retryOrFail(ctx context.Context, source domain.Source, job Job, cause error) error {
	logger := log.WithFields(log.Fields{
		"source_id": source.ID,
		"attempt":   job.Attempt,
		"error":     cause.Error(),
	})

	if job.retry == nil {
		job.retry = w.policy.newBackOff()
	}
	delay := job.retry.NextBackOff()
	if delay == backoff.Stop || w.queue == nil {
		if err := w.store.SetFetchStatus(ctx, source.ID, domain.FetchFailed); err != nil {
			return errors.Wrap(err, "mark failed")
		}
		fetchAttempts.WithLabelValues("failed").Inc()
		logger.Error("Fetch failed, retries exhausted")
		return nil
	}

	next := Job{SourceID: source.ID, Claimed: true, Attempt: job.Attempt + 1, retry: job.retry}
	fetchAttempts.WithLabelValues("retry").Inc()
	retriesScheduled.Inc()
	logger.WithField("retry_in", delay.String()).Warn("Fetch failed, retry scheduled")

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := w.queue.Enqueue(next); err != nil {
			log.WithFields(log.Fields{"source_id": next.SourceID, "error": err.Error()}).Error("Could not enqueue retry")
		}
	}()
	return nil
}
