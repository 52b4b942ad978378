package app

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"feedpipe/domain"
)

// Runner executes a single job.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// Pool is a resizable set of workers draining a bounded job queue.
type Pool struct {
	runner Runner

	mu            sync.Mutex
	workers       int
	jobs          chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
	workerCancels []context.CancelFunc
	wg            sync.WaitGroup
}

func NewPool(runner Runner, workers, queueSize int) *Pool {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Pool{runner: runner, workers: workers, jobs: make(chan Job, queueSize)}
}

func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("pool already started")
	}
	if p.workers <= 0 {
		return errors.New("workers must be > 0")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.workerCancels = nil
	p.startWorkers(p.workers)
	p.started = true
	return nil
}

// Stop cancels every worker and waits for in-flight jobs to return.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.started = false
	p.workerCancels = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	return nil
}

// Enqueue never blocks. A full queue yields domain.ErrQueueFull.
func (p *Pool) Enqueue(job Job) error {
	select {
	case p.jobs <- job:
		queueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (p *Pool) Resize(workers int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers == workers {
		return nil
	}
	if !p.started {
		p.workers = workers
		return nil
	}
	if workers > p.workers {
		p.startWorkers(workers - p.workers)
	} else {
		for i := 0; i < p.workers-workers && len(p.workerCancels) > 0; i++ {
			idx := len(p.workerCancels) - 1
			c := p.workerCancels[idx]
			p.workerCancels = p.workerCancels[:idx]
			c()
		}
	}
	log.WithFields(log.Fields{"from": p.workers, "to": workers}).Info("Worker pool resized")
	p.workers = workers
	return nil
}

func (p *Pool) CurrentWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Pending reports how many jobs are queued.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

func (p *Pool) startWorkers(count int) {
	for i := 0; i < count; i++ {
		wctx, cancel := context.WithCancel(p.ctx)
		p.workerCancels = append(p.workerCancels, cancel)
		p.wg.Add(1)
		go p.work(wctx)
	}
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			queueDepth.Set(float64(len(p.jobs)))
			// Retries outlive the worker that scheduled them.
			if err := p.runner.Run(p.ctx, job); err != nil {
				log.WithFields(log.Fields{
					"source_id": job.SourceID,
					"attempt":   job.Attempt,
					"error":     err.Error(),
				}).Error("Fetch job failed")
			}
		}
	}
}
