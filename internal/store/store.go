// Package store provides the durable, shared-by-all-processes job store.
// Job records and the per-queue waiting lists are the only coordination
// state the worker pools share; all mutation goes through the JobStore API.
package store

import (
	"context"
	"errors"

	"github.com/snaptrans/snaptrans/internal/job"
)

// ErrJobNotFound indicates a lookup for a job id that does not exist.
var ErrJobNotFound = errors.New("job not found")

// ErrTerminal indicates a terminal write to a job that is already terminal.
// Terminal is terminal: the stored outcome never changes afterwards.
var ErrTerminal = errors.New("job already in a terminal state")

// JobStore is the shared record of job existence, state, progress and
// outcome. A single job id is claimed by exactly one worker for its Active
// lifetime, so implementations need no per-job locking beyond the atomic
// claim step.
type JobStore interface {
	// Enqueue persists a Waiting job and makes it claimable on its queue.
	Enqueue(ctx context.Context, j *job.Job) error

	// Get returns the job with the given id, or ErrJobNotFound.
	Get(ctx context.Context, id string) (*job.Job, error)

	// Claim blocks until a Waiting job is available on the queue (or ctx is
	// done), atomically removes it from the waiting list and marks it Active.
	Claim(ctx context.Context, queue string) (*job.Job, error)

	// UpdateProgress sets the job progress and publishes a progress event.
	// Progress is monotonic per job: a lower value than the stored one is
	// clamped to the stored value.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// Complete marks the job Completed with the given result and publishes a
	// completed event. Returns ErrTerminal if the job is already terminal.
	Complete(ctx context.Context, id string, result []byte) error

	// Fail marks the job Failed with the given reason and publishes a failed
	// event. Returns ErrTerminal if the job is already terminal.
	Fail(ctx context.Context, id string, reason string) error

	// Remove deletes a job record and its waiting-list entry, if any. It is
	// a no-op for ids that do not exist.
	Remove(ctx context.Context, id string) error

	Close() error
}
