// Package queue provides the generic work queue and worker pool serving the
// pipeline stages. There is one Queue type: stage behavior is injected as a
// handler function rather than built through subclassing.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snaptrans/snaptrans/internal/job"
	"github.com/snaptrans/snaptrans/internal/observability"
	"github.com/snaptrans/snaptrans/internal/store"
)

// claimBackoff is how long a worker sleeps after a failed claim before
// retrying, so an unreachable store is not hammered in a tight loop.
const claimBackoff = time.Second

// Stage runs one pipeline step for a claimed job and returns the job result
// bytes. Errors mark the job Failed; the worker moves on to the next job.
type Stage func(ctx context.Context, j *job.Job) ([]byte, error)

// Queue is a named work queue backed by the shared job store.
type Queue struct {
	name   string
	store  store.JobStore
	logger *observability.Logger
}

// New creates a queue with the given name.
func New(name string, s store.JobStore, logger *observability.Logger) *Queue {
	return &Queue{name: name, store: s, logger: logger.WithComponent(name + "-queue")}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue persists the job as Waiting on this queue.
func (q *Queue) Enqueue(ctx context.Context, j *job.Job) error {
	j.Queue = q.name
	if err := q.store.Enqueue(ctx, j); err != nil {
		return fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}

	q.logger.Debug().Str("job_id", j.ID).Str("file", j.FileName).Msg("Job enqueued")
	return nil
}

// Run starts n workers pulling from the queue and blocks until ctx is done.
// Each worker loop claims a job, runs the stage, and records the outcome;
// one failing job never stops the pool.
func (q *Queue) Run(ctx context.Context, workers int, stage Stage) {
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			q.worker(ctx, n, stage)
		}(i)
	}
	wg.Wait()
}

func (q *Queue) worker(ctx context.Context, n int, stage Stage) {
	for {
		if ctx.Err() != nil {
			return
		}

		j, err := q.store.Claim(ctx, q.name)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			q.logger.Error().Int("worker", n).Err(err).Msg("Claim failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimBackoff):
			}
			continue
		}

		q.logger.Info().Int("worker", n).Str("job_id", j.ID).Msg("Job claimed")

		result, err := q.runStage(ctx, j, stage)
		if err != nil {
			q.logger.Error().Int("worker", n).Str("job_id", j.ID).Err(err).Msg("Job failed")
			if failErr := q.store.Fail(ctx, j.ID, err.Error()); failErr != nil && !errors.Is(failErr, store.ErrJobNotFound) {
				q.logger.Error().Str("job_id", j.ID).Err(failErr).Msg("Recording failure failed")
			}
			continue
		}

		if err := q.store.Complete(ctx, j.ID, result); err != nil {
			// ErrJobNotFound here means the client cancelled mid-flight and
			// the record was removed: the result is simply discarded.
			if !errors.Is(err, store.ErrJobNotFound) {
				q.logger.Error().Str("job_id", j.ID).Err(err).Msg("Recording completion failed")
			}
			continue
		}

		q.logger.Info().Int("worker", n).Str("job_id", j.ID).Msg("Job completed")
	}
}

func (q *Queue) runStage(ctx context.Context, j *job.Job, stage Stage) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panic: %v", r)
		}
	}()
	return stage(ctx, j)
}
