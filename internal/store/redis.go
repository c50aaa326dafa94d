package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snaptrans/snaptrans/internal/bus"
	"github.com/snaptrans/snaptrans/internal/job"
)

// Keys: job records at job:<id>, waiting lists at queue:<name>:waiting.
const (
	jobKeyPrefix    = "job:"
	queueKeyPrefix  = "queue:"
	waitingKeySuffx = ":waiting"
)

// RedisStore implements the JobStore on Redis. Job records are JSON blobs;
// waiting lists are Redis lists popped by the claim step, which makes the
// claim atomic across worker processes.
type RedisStore struct {
	client *redis.Client
	bridge bus.Bridge
	poll   time.Duration
}

// NewRedisStore creates a job store on top of an existing Redis connection.
// Events for progress and terminal transitions are published on the bridge.
func NewRedisStore(client *redis.Client, bridge bus.Bridge, poll time.Duration) *RedisStore {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &RedisStore{client: client, bridge: bridge, poll: poll}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func waitingKey(queue string) string {
	return queueKeyPrefix + queue + waitingKeySuffx
}

// Enqueue persists a Waiting job and pushes its id on the queue's waiting list.
func (s *RedisStore) Enqueue(ctx context.Context, j *job.Job) error {
	if err := s.save(ctx, j); err != nil {
		return err
	}

	if err := s.client.RPush(ctx, waitingKey(j.Queue), j.ID).Err(); err != nil {
		return fmt.Errorf("push waiting job: %w", err)
	}

	return nil
}

// Get returns the job with the given id.
func (s *RedisStore) Get(ctx context.Context, id string) (*job.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}

	return &j, nil
}

// Claim pops the next Waiting job id off the queue and marks the job Active.
// LPOP is atomic, so each id is handed to exactly one worker even across
// processes. Blocks with a poll interval until work is available.
func (s *RedisStore) Claim(ctx context.Context, queue string) (*job.Job, error) {
	for {
		id, err := s.client.LPop(ctx, waitingKey(queue)).Result()
		switch {
		case errors.Is(err, redis.Nil):
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.poll):
				continue
			}
		case err != nil:
			return nil, fmt.Errorf("pop waiting job: %w", err)
		}

		j, err := s.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// Removed between push and pop (client cancellation); skip.
			continue
		}
		if err != nil {
			return nil, err
		}

		j.State = job.StateActive
		if err := s.save(ctx, j); err != nil {
			return nil, err
		}

		return j, nil
	}
}

// UpdateProgress sets the job progress, clamped to be non-decreasing, and
// publishes a progress event with the stored value.
func (s *RedisStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Terminal() {
		return nil
	}

	if progress < j.Progress {
		progress = j.Progress
	}
	j.Progress = progress
	if err := s.save(ctx, j); err != nil {
		return err
	}

	return s.publish(ctx, bus.Event{Kind: bus.KindProgress, JobID: id, Progress: progress})
}

// Complete marks the job Completed with the given result.
func (s *RedisStore) Complete(ctx context.Context, id string, result []byte) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Terminal() {
		return ErrTerminal
	}

	j.State = job.StateCompleted
	j.Result = result
	if err := s.save(ctx, j); err != nil {
		return err
	}

	return s.publish(ctx, bus.Event{Kind: bus.KindCompleted, JobID: id, Progress: j.Progress})
}

// Fail marks the job Failed with the given reason.
func (s *RedisStore) Fail(ctx context.Context, id string, reason string) error {
	j, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if j.Terminal() {
		return ErrTerminal
	}

	j.State = job.StateFailed
	j.FailureReason = reason
	if err := s.save(ctx, j); err != nil {
		return err
	}

	return s.publish(ctx, bus.Event{Kind: bus.KindFailed, JobID: id, Error: reason})
}

// Remove deletes the job record and its waiting-list entry, if any.
func (s *RedisStore) Remove(ctx context.Context, id string) error {
	j, err := s.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.client.LRem(ctx, waitingKey(j.Queue), 0, id).Err(); err != nil {
		return fmt.Errorf("remove waiting job: %w", err)
	}

	if err := s.client.Del(ctx, jobKey(id)).Err(); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) save(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	if err := s.client.Set(ctx, jobKey(j.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("store job: %w", err)
	}

	return nil
}

func (s *RedisStore) publish(ctx context.Context, e bus.Event) error {
	if err := s.bridge.Publish(ctx, e); err != nil {
		return fmt.Errorf("publish %s event: %w", e.Kind, err)
	}
	return nil
}
