package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/snaptrans/snaptrans/internal/cache"
	"github.com/snaptrans/snaptrans/internal/job"
	"github.com/snaptrans/snaptrans/internal/observability"
	"github.com/snaptrans/snaptrans/internal/queue"
	"github.com/snaptrans/snaptrans/internal/store"
)

// RecognitionStage runs OCR on uploaded images and enqueues the correlated
// translation job. Results are memoized by image content hash.
type RecognitionStage struct {
	store      store.JobStore
	cache      cache.Client
	recognizer Recognizer
	next       *queue.Queue
	logger     *observability.Logger
}

// NewRecognitionStage creates the recognition stage handler. next is the
// translation queue that receives the correlated downstream job.
func NewRecognitionStage(s store.JobStore, c cache.Client, r Recognizer, next *queue.Queue, logger *observability.Logger) *RecognitionStage {
	return &RecognitionStage{
		store:      s,
		cache:      c,
		recognizer: r,
		next:       next,
		logger:     logger.WithComponent("recognition-stage"),
	}
}

// Stage returns the stage handler for a recognition worker pool.
func (st *RecognitionStage) Stage() queue.Stage {
	return st.run
}

func (st *RecognitionStage) run(ctx context.Context, j *job.Job) ([]byte, error) {
	payload, err := j.RecognitionPayload()
	if err != nil {
		return nil, err
	}

	if err := st.store.UpdateProgress(ctx, j.ID, 0); err != nil {
		return nil, err
	}

	text, err := st.recognize(ctx, j, payload.Image)
	if err != nil {
		return nil, err
	}

	next, err := job.NewTranslation(j.ID, text, j.FileName, j.UseCache)
	if err != nil {
		return nil, err
	}
	if err := st.next.Enqueue(ctx, next); err != nil {
		return nil, err
	}

	// Text produced and handed off: the logical request is half done.
	if err := st.store.UpdateProgress(ctx, j.ID, 50); err != nil {
		return nil, err
	}

	return []byte(text), nil
}

// recognize returns the OCR text for the image, consulting the content cache
// first when the job allows it. A cache hit skips the external capability
// entirely; progress still reaches the same checkpoint either way.
func (st *RecognitionStage) recognize(ctx context.Context, j *job.Job, image []byte) (string, error) {
	key := cache.ImageKey(image)

	if err := st.store.UpdateProgress(ctx, j.ID, 10); err != nil {
		return "", err
	}

	if j.UseCache {
		cached, err := st.cache.Get(ctx, key)
		if err == nil {
			st.logger.Debug().Str("job_id", j.ID).Msg("Recognition cache hit")
			if err := st.store.UpdateProgress(ctx, j.ID, 40); err != nil {
				return "", err
			}
			return string(cached), nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			return "", fmt.Errorf("recognition cache lookup: %w", err)
		}
	}

	if err := st.store.UpdateProgress(ctx, j.ID, 20); err != nil {
		return "", err
	}

	text, err := st.recognizer.Recognize(ctx, image)
	if err != nil {
		return "", fmt.Errorf("recognize image: %w", err)
	}

	if err := st.cache.Set(ctx, key, []byte(text)); err != nil {
		return "", fmt.Errorf("store recognition result: %w", err)
	}

	if err := st.store.UpdateProgress(ctx, j.ID, 40); err != nil {
		return "", err
	}

	return text, nil
}
