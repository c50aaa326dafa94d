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

// TranslationStage translates recognized text and renders the final PDF.
// Translations are memoized by text content hash; the PDF is the job result.
type TranslationStage struct {
	store      store.JobStore
	cache      cache.Client
	translator Translator
	renderer   Renderer
	logger     *observability.Logger
}

// NewTranslationStage creates the translation stage handler.
func NewTranslationStage(s store.JobStore, c cache.Client, t Translator, r Renderer, logger *observability.Logger) *TranslationStage {
	return &TranslationStage{
		store:      s,
		cache:      c,
		translator: t,
		renderer:   r,
		logger:     logger.WithComponent("translation-stage"),
	}
}

// Stage returns the stage handler for a translation worker pool.
func (st *TranslationStage) Stage() queue.Stage {
	return st.run
}

func (st *TranslationStage) run(ctx context.Context, j *job.Job) ([]byte, error) {
	payload, err := j.TranslationPayload()
	if err != nil {
		return nil, err
	}

	// Continue the progress sequence started by the recognition stage.
	if err := st.store.UpdateProgress(ctx, j.ID, 50); err != nil {
		return nil, err
	}

	translated, err := st.translate(ctx, j, payload.Text)
	if err != nil {
		return nil, err
	}

	if err := st.store.UpdateProgress(ctx, j.ID, 80); err != nil {
		return nil, err
	}

	pdf, err := st.renderer.Render(ctx, translated)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	if err := st.store.UpdateProgress(ctx, j.ID, 100); err != nil {
		return nil, err
	}

	return pdf, nil
}

func (st *TranslationStage) translate(ctx context.Context, j *job.Job, text string) (string, error) {
	key := cache.TextKey(text)

	if err := st.store.UpdateProgress(ctx, j.ID, 60); err != nil {
		return "", err
	}

	if j.UseCache {
		cached, err := st.cache.Get(ctx, key)
		if err == nil {
			st.logger.Debug().Str("job_id", j.ID).Msg("Translation cache hit")
			if err := st.store.UpdateProgress(ctx, j.ID, 70); err != nil {
				return "", err
			}
			return string(cached), nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			return "", fmt.Errorf("translation cache lookup: %w", err)
		}
	}

	translated, err := st.translator.Translate(ctx, text)
	if err != nil {
		return "", fmt.Errorf("translate text: %w", err)
	}

	if err := st.cache.Set(ctx, key, []byte(translated)); err != nil {
		return "", fmt.Errorf("store translation result: %w", err)
	}

	if err := st.store.UpdateProgress(ctx, j.ID, 70); err != nil {
		return "", err
	}

	return translated, nil
}
