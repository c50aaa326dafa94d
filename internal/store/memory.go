package store

import (
	"context"
	"sync"
	"time"

	"github.com/snaptrans/snaptrans/internal/bus"
	"github.com/snaptrans/snaptrans/internal/job"
)

// MemoryStore implements the JobStore in-process, for single-process
// development mode and tests. Semantics match the Redis driver.
type MemoryStore struct {
	bridge bus.Bridge
	poll   time.Duration

	mu      sync.Mutex
	jobs    map[string]*job.Job
	waiting map[string][]string
}

// NewMemoryStore creates a new in-memory job store publishing events on the
// given bridge.
func NewMemoryStore(bridge bus.Bridge, poll time.Duration) *MemoryStore {
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	return &MemoryStore{
		bridge:  bridge,
		poll:    poll,
		jobs:    make(map[string]*job.Job),
		waiting: make(map[string][]string),
	}
}

// Enqueue persists a Waiting job and makes it claimable.
func (s *MemoryStore) Enqueue(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	s.jobs[cp.ID] = &cp
	s.waiting[cp.Queue] = append(s.waiting[cp.Queue], cp.ID)
	return nil
}

// Get returns a copy of the job with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	cp := *j
	return &cp, nil
}

// Claim pops the next Waiting job off the queue and marks it Active.
func (s *MemoryStore) Claim(ctx context.Context, queue string) (*job.Job, error) {
	for {
		s.mu.Lock()
		ids := s.waiting[queue]
		if len(ids) > 0 {
			id := ids[0]
			s.waiting[queue] = ids[1:]

			j, ok := s.jobs[id]
			if !ok {
				// Removed while waiting; skip.
				s.mu.Unlock()
				continue
			}

			j.State = job.StateActive
			j.UpdatedAt = time.Now().UTC()
			cp := *j
			s.mu.Unlock()
			return &cp, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

// UpdateProgress sets the job progress, clamped to be non-decreasing, and
// publishes a progress event.
func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if j.Terminal() {
		s.mu.Unlock()
		return nil
	}

	if progress < j.Progress {
		progress = j.Progress
	}
	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	return s.bridge.Publish(ctx, bus.Event{Kind: bus.KindProgress, JobID: id, Progress: progress})
}

// Complete marks the job Completed with the given result.
func (s *MemoryStore) Complete(ctx context.Context, id string, result []byte) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if j.Terminal() {
		s.mu.Unlock()
		return ErrTerminal
	}

	j.State = job.StateCompleted
	j.Result = result
	j.UpdatedAt = time.Now().UTC()
	progress := j.Progress
	s.mu.Unlock()

	return s.bridge.Publish(ctx, bus.Event{Kind: bus.KindCompleted, JobID: id, Progress: progress})
}

// Fail marks the job Failed with the given reason.
func (s *MemoryStore) Fail(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if j.Terminal() {
		s.mu.Unlock()
		return ErrTerminal
	}

	j.State = job.StateFailed
	j.FailureReason = reason
	j.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	return s.bridge.Publish(ctx, bus.Event{Kind: bus.KindFailed, JobID: id, Error: reason})
}

// Remove deletes the job record and its waiting-list entry, if any.
func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil
	}

	ids := s.waiting[j.Queue]
	for i, waiting := range ids {
		if waiting == id {
			s.waiting[j.Queue] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}

	delete(s.jobs, id)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
