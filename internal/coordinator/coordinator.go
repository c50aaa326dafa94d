// Package coordinator glues the HTTP layer to the job pipeline: it enqueues
// recognition jobs, wires per-request listeners for both pipeline stages,
// streams progress as Server-Sent Events and serves final results.
package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/snaptrans/snaptrans/internal/bus"
	"github.com/snaptrans/snaptrans/internal/job"
	"github.com/snaptrans/snaptrans/internal/observability"
	"github.com/snaptrans/snaptrans/internal/queue"
	"github.com/snaptrans/snaptrans/internal/store"
)

// cleanupTimeout bounds the best-effort job removal after a disconnect,
// whose own context is already done.
const cleanupTimeout = 5 * time.Second

// Coordinator exposes the streaming upload contract to the HTTP layer.
type Coordinator struct {
	recognition *queue.Queue
	store       store.JobStore
	registry    *bus.Registry
	logger      *observability.Logger
}

// New creates a coordinator. The registry must be fed by a bridge
// subscription owned by the caller (one subscription per process).
func New(recognition *queue.Queue, s store.JobStore, registry *bus.Registry, logger *observability.Logger) *Coordinator {
	return &Coordinator{
		recognition: recognition,
		store:       s,
		registry:    registry,
		logger:      logger.WithComponent("coordinator"),
	}
}

// Registry returns the listener registry the coordinator dispatches into.
func (c *Coordinator) Registry() *bus.Registry {
	return c.registry
}

// Upload is one file submitted by a client.
type Upload struct {
	FileName string
	Image    []byte
	UseCache bool
}

// Stream enqueues a recognition job per upload and streams progress frames
// until every upload reaches a terminal state or the client disconnects.
// Each upload runs an independent state machine; progress is reported
// per-file, never averaged across files.
func (c *Coordinator) Stream(ctx context.Context, w http.ResponseWriter, uploads []Upload) error {
	sse, err := newSSEWriter(w)
	if err != nil {
		return err
	}

	done := make(chan string, len(uploads))
	tracked := make([]*fileStream, 0, len(uploads))

	for _, up := range uploads {
		fs, err := c.startFile(ctx, sse, up, done)
		if err != nil {
			// The stream is already open; report the failure in-band.
			sse.send(failedFrame{State: "failed", JobID: "", Error: err.Error(), FileName: up.FileName})
			done <- up.FileName
			continue
		}
		tracked = append(tracked, fs)
	}

	remaining := len(uploads)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			c.abandon(tracked)
			return nil
		case <-done:
			remaining--
		}
	}

	return nil
}

// fileStream is the per-file state machine: one recognition job, its derived
// translation job, and the listeners bound to the lifetime of the request.
type fileStream struct {
	recognitionID string
	translationID string
	fileName      string
	finish        sync.Once
}

// startFile registers listeners for both stage ids and then enqueues the
// recognition job. Registration happens first: the translation id is
// deterministic, so listeners can exist before either job does, and no event
// can slip through between enqueue and registration.
func (c *Coordinator) startFile(ctx context.Context, sse *sseWriter, up Upload, done chan<- string) (*fileStream, error) {
	j, err := job.NewRecognition(up.Image, up.FileName, up.UseCache)
	if err != nil {
		return nil, err
	}

	fs := &fileStream{
		recognitionID: j.ID,
		translationID: job.TranslationID(j.ID),
		fileName:      up.FileName,
	}

	// Frames are tagged with the caller-visible recognition id for both
	// stages; the translation job is an internal continuation.
	progress := func(e bus.Event) {
		sse.send(activeFrame{State: "active", JobID: fs.recognitionID, Progress: e.Progress, FileName: fs.fileName})
	}

	failed := func(e bus.Event) {
		sse.send(failedFrame{State: "failed", JobID: fs.recognitionID, Error: e.Error, FileName: fs.fileName})
		c.removeListeners(fs)
		fs.finish.Do(func() { done <- fs.fileName })
	}

	c.registry.Add(fs.recognitionID, bus.KindProgress, progress)
	c.registry.Add(fs.translationID, bus.KindProgress, progress)
	c.registry.Add(fs.recognitionID, bus.KindFailed, failed)
	c.registry.Add(fs.translationID, bus.KindFailed, failed)

	// Recognition completion only retires that id's listeners; the stream
	// ends when the translation job completes.
	c.registry.Add(fs.recognitionID, bus.KindCompleted, func(e bus.Event) {
		c.registry.RemoveJob(fs.recognitionID)
	})
	c.registry.Add(fs.translationID, bus.KindCompleted, func(e bus.Event) {
		sse.send(completedFrame{State: "completed", JobID: fs.recognitionID, FileName: fs.fileName})
		c.removeListeners(fs)
		fs.finish.Do(func() { done <- fs.fileName })
	})

	// The initial frame goes out before the enqueue: once the job exists a
	// worker may publish progress immediately, and the client must see the
	// initial frame first.
	sse.send(initialFrame{JobID: fs.recognitionID, FileName: fs.fileName})

	if err := c.recognition.Enqueue(ctx, j); err != nil {
		c.removeListeners(fs)
		return nil, err
	}

	c.logger.Info().Str("job_id", fs.recognitionID).Str("file", fs.fileName).Bool("use_cache", up.UseCache).Msg("Upload submitted")
	return fs, nil
}

func (c *Coordinator) removeListeners(fs *fileStream) {
	c.registry.RemoveJob(fs.recognitionID)
	c.registry.RemoveJob(fs.translationID)
}

// abandon handles a client disconnect: listeners go immediately, and jobs
// that are still Waiting are removed from their queue. A job a worker has
// already claimed runs to completion; only its result is discarded.
func (c *Coordinator) abandon(tracked []*fileStream) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, fs := range tracked {
		c.removeListeners(fs)

		for _, id := range []string{fs.recognitionID, fs.translationID} {
			j, err := c.store.Get(ctx, id)
			if err != nil {
				continue
			}
			if j.State != job.StateWaiting {
				continue
			}
			if err := c.store.Remove(ctx, id); err != nil {
				c.logger.Error().Str("job_id", id).Err(err).Msg("Cancellation cleanup failed")
			}
		}

		c.logger.Info().Str("job_id", fs.recognitionID).Msg("Client disconnected, stream abandoned")
	}
}

// Result is the terminal outcome (or current state) of an upload.
type Result struct {
	State         job.State
	FileName      string
	PDF           []byte
	FailureReason string
}

// ErrNotFound indicates a result lookup for an unknown job id.
var ErrNotFound = errors.New("job not found")

// Result reports the outcome of the upload identified by its recognition
// job id. The PDF lives on the correlated translation job; before that job
// exists the recognition job's state is reported instead.
func (c *Coordinator) Result(ctx context.Context, jobID string) (*Result, error) {
	t, err := c.store.Get(ctx, job.TranslationID(jobID))
	if err == nil {
		res := &Result{State: t.State, FileName: t.FileName, FailureReason: t.FailureReason}
		if t.State == job.StateCompleted {
			res.PDF = t.Result
		}
		return res, nil
	}
	if !errors.Is(err, store.ErrJobNotFound) {
		return nil, err
	}

	r, err := c.store.Get(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &Result{State: r.State, FileName: r.FileName, FailureReason: r.FailureReason}, nil
}
