package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kspro0090/baradar/internal/models"
	"github.com/kspro0090/baradar/internal/store"
)

// Handler runs one task. The returned string is recorded as the job
// result.
type Handler func(ctx context.Context, task Task) (string, error)

type PoolOptions struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration // multiplied by the attempt number
	JobTimeout time.Duration
	// Retryable decides whether a failed attempt is repeated. Nil means
	// only deadline errors are.
	Retryable func(error) bool
}

// Pool runs tasks from a queue on a fixed number of workers and keeps
// the job records up to date.
type Pool struct {
	queue  Queue
	jobs   store.Jobs
	handle Handler
	opts   PoolOptions
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

func NewPool(q Queue, jobs store.Jobs, handle Handler, opts PoolOptions, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2 * time.Minute
	}
	if opts.Retryable == nil {
		opts.Retryable = func(err error) bool { return errors.Is(err, context.DeadlineExceeded) }
	}
	return &Pool{queue: q, jobs: jobs, handle: handle, opts: opts, logger: logger, now: time.Now}
}

// Start launches the workers. They stop taking new tasks when ctx ends;
// a task already running finishes on its own timeout.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("Started PDF workers", zap.Int("count", p.opts.Workers))
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return
			}
			p.logger.Error("Failed to dequeue task", zap.Int("worker", id), zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		p.Process(ctx, task)
	}
}

// Process runs task with retries and records the outcome on its job.
func (p *Pool) Process(ctx context.Context, task Task) {
	logger := p.logger.With(zap.String("job_id", task.JobID), zap.String("tracking_code", task.TrackingCode))

	job, err := p.jobs.GetJob(ctx, task.JobID)
	if err != nil {
		logger.Error("Job record missing, running task without it", zap.Error(err))
		job = &models.PDFJob{ID: task.JobID, RequestID: task.RequestID, TrackingCode: task.TrackingCode}
	}

	for {
		job.Attempts++
		job.Status = models.JobProcessing
		job.Error = ""
		p.save(ctx, job, logger)

		start := p.now()
		result, err := p.attempt(ctx, task)
		if err == nil {
			done := p.now()
			job.Status = models.JobCompleted
			job.Result = result
			job.CompletedAt = &done
			p.save(ctx, job, logger)
			logger.Info("PDF job completed",
				zap.Int("attempts", job.Attempts), zap.Duration("took", done.Sub(start)))
			return
		}

		job.Error = err.Error()
		if !p.opts.Retryable(err) || job.Attempts > p.opts.MaxRetries {
			job.Status = models.JobFailed
			p.save(ctx, job, logger)
			logger.Error("PDF job failed", zap.Int("attempts", job.Attempts), zap.Error(err))
			return
		}

		delay := p.opts.RetryDelay * time.Duration(job.Attempts)
		job.Status = models.JobPending
		p.save(ctx, job, logger)
		logger.Warn("PDF job will be retried",
			zap.Int("attempts", job.Attempts), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Shutting down: hand the task back so another process can
			// pick it up.
			if err := p.queue.Enqueue(context.WithoutCancel(ctx), task); err != nil {
				logger.Error("Failed to requeue task on shutdown", zap.Error(err))
			}
			return
		}
	}
}

func (p *Pool) attempt(ctx context.Context, task Task) (result string, err error) {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return p.handle(jctx, task)
}

func (p *Pool) save(ctx context.Context, job *models.PDFJob, logger *zap.Logger) {
	if err := p.jobs.UpdateJob(context.WithoutCancel(ctx), job); err != nil {
		logger.Warn("Failed to update job status", zap.String("status", job.Status), zap.Error(err))
	}
}
