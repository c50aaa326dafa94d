package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaptrans/snaptrans/internal/bus"
	"github.com/snaptrans/snaptrans/internal/job"
)

// eventRecorder collects bridge events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *eventRecorder) record(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Event(nil), r.events...)
}

func newTestStore(t *testing.T) (*MemoryStore, *eventRecorder) {
	t.Helper()

	bridge := bus.NewMemoryBridge()
	rec := &eventRecorder{}
	_, err := bridge.Subscribe(context.Background(), rec.record)
	require.NoError(t, err)

	return NewMemoryStore(bridge, 5*time.Millisecond), rec
}

func enqueueRecognition(t *testing.T, s *MemoryStore) *job.Job {
	t.Helper()

	j, err := job.NewRecognition([]byte("img"), "a.png", false)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(context.Background(), j))
	return j
}

func TestEnqueueAndClaim(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	j := enqueueRecognition(t, s)

	claimed, err := s.Claim(ctx, job.QueueRecognition)
	require.NoError(t, err)
	assert.Equal(t, j.ID, claimed.ID)
	assert.Equal(t, job.StateActive, claimed.State)

	stored, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateActive, stored.State)
}

func TestClaimBlocksUntilContextDone(t *testing.T) {
	s, _ := newTestStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.Claim(ctx, job.QueueRecognition)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClaimHandsEachJobToOneWorker(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	const jobs = 20
	ids := make(map[string]bool)
	for i := 0; i < jobs; i++ {
		j := enqueueRecognition(t, s)
		ids[j.ID] = true
	}

	var mu sync.Mutex
	claimed := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
				j, err := s.Claim(claimCtx, job.QueueRecognition)
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				claimed[j.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, count := range claimed {
		assert.True(t, ids[id])
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestUpdateProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	j := enqueueRecognition(t, s)

	require.NoError(t, s.UpdateProgress(ctx, j.ID, 40))
	require.NoError(t, s.UpdateProgress(ctx, j.ID, 20)) // clamped, never regresses
	require.NoError(t, s.UpdateProgress(ctx, j.ID, 50))

	stored, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, stored.Progress)

	last := -1
	for _, e := range rec.all() {
		require.Equal(t, bus.KindProgress, e.Kind)
		assert.GreaterOrEqual(t, e.Progress, last)
		last = e.Progress
	}
}

func TestCompleteIsTerminalExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	j := enqueueRecognition(t, s)

	require.NoError(t, s.Complete(ctx, j.ID, []byte("result")))

	assert.ErrorIs(t, s.Complete(ctx, j.ID, []byte("other")), ErrTerminal)
	assert.ErrorIs(t, s.Fail(ctx, j.ID, "too late"), ErrTerminal)

	stored, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, stored.State)
	assert.Equal(t, []byte("result"), stored.Result)
	assert.Empty(t, stored.FailureReason)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, bus.KindCompleted, events[0].Kind)
}

func TestFailRecordsReason(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	j := enqueueRecognition(t, s)

	require.NoError(t, s.Fail(ctx, j.ID, "ocr exploded"))
	assert.ErrorIs(t, s.Complete(ctx, j.ID, nil), ErrTerminal)

	stored, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, stored.State)
	assert.Equal(t, "ocr exploded", stored.FailureReason)
	assert.Nil(t, stored.Result)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, bus.KindFailed, events[0].Kind)
	assert.Equal(t, "ocr exploded", events[0].Error)
}

func TestProgressAfterTerminalIsIgnored(t *testing.T) {
	ctx := context.Background()
	s, rec := newTestStore(t)
	j := enqueueRecognition(t, s)

	require.NoError(t, s.Complete(ctx, j.ID, []byte("done")))
	require.NoError(t, s.UpdateProgress(ctx, j.ID, 99))

	for _, e := range rec.all() {
		assert.NotEqual(t, bus.KindProgress, e.Kind)
	}
}

func TestRemoveWaitingJob(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	j := enqueueRecognition(t, s)

	require.NoError(t, s.Remove(ctx, j.ID))

	_, err := s.Get(ctx, j.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	// The waiting list entry is gone too: a claim must not resurrect it.
	claimCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = s.Claim(claimCtx, job.QueueRecognition)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoveMissingJobIsNoOp(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NoError(t, s.Remove(context.Background(), "no-such-job"))
}

func TestGetMissingJob(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
