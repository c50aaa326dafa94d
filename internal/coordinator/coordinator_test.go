package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaptrans/snaptrans/internal/bus"
	"github.com/snaptrans/snaptrans/internal/cache"
	"github.com/snaptrans/snaptrans/internal/job"
	"github.com/snaptrans/snaptrans/internal/observability"
	"github.com/snaptrans/snaptrans/internal/pipeline"
	"github.com/snaptrans/snaptrans/internal/queue"
	"github.com/snaptrans/snaptrans/internal/store"
)

type staticRecognizer struct {
	text string
	err  error
}

func (r staticRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	return r.text, r.err
}

type staticTranslator struct{ out string }

func (t staticTranslator) Translate(ctx context.Context, text string) (string, error) {
	return t.out, nil
}

type staticRenderer struct{ pdf []byte }

func (r staticRenderer) Render(ctx context.Context, text string) ([]byte, error) {
	return r.pdf, nil
}

type env struct {
	store       *store.MemoryStore
	coord       *Coordinator
	cancelPools context.CancelFunc
	pools       sync.WaitGroup
}

// newEnv wires a full in-process pipeline: memory store and bridge, listener
// registry fed by the bridge, and one worker per stage.
func newEnv(t *testing.T, rec pipeline.Recognizer) *env {
	t.Helper()

	bridge := bus.NewMemoryBridge()
	s := store.NewMemoryStore(bridge, 5*time.Millisecond)
	registry := bus.NewRegistry()

	cancelSub, err := bridge.Subscribe(context.Background(), registry.Dispatch)
	require.NoError(t, err)
	t.Cleanup(cancelSub)

	logger := observability.Nop()
	recognitionQ := queue.New(job.QueueRecognition, s, logger)
	translationQ := queue.New(job.QueueTranslation, s, logger)

	c := cache.NewMemoryClient()
	recStage := pipeline.NewRecognitionStage(s, c, rec, translationQ, logger)
	transStage := pipeline.NewTranslationStage(s, c, staticTranslator{out: "translated"}, staticRenderer{pdf: []byte("%PDF-test")}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	e := &env{
		store:       s,
		coord:       New(recognitionQ, s, registry, logger),
		cancelPools: cancel,
	}

	e.pools.Add(2)
	go func() {
		defer e.pools.Done()
		recognitionQ.Run(ctx, 1, recStage.Stage())
	}()
	go func() {
		defer e.pools.Done()
		translationQ.Run(ctx, 1, transStage.Stage())
	}()

	t.Cleanup(func() {
		cancel()
		e.pools.Wait()
	})
	return e
}

type frame struct {
	State    string `json:"state"`
	JobID    string `json:"jobId"`
	Progress int    `json:"progress"`
	Error    string `json:"error"`
	FileName string `json:"fileName"`
}

func parseFrames(t *testing.T, body string) []frame {
	t.Helper()

	var frames []frame
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f))
		frames = append(frames, f)
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestStreamDeliversFullFrameSequence(t *testing.T) {
	e := newEnv(t, staticRecognizer{text: "hello"})

	rec := httptest.NewRecorder()
	err := e.coord.Stream(context.Background(), rec, []Upload{
		{FileName: "photo.png", Image: []byte("image-bytes")},
	})
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)

	first := frames[0]
	assert.Empty(t, first.State)
	assert.NotEmpty(t, first.JobID)
	assert.Equal(t, "photo.png", first.FileName)

	last := frames[len(frames)-1]
	assert.Equal(t, "completed", last.State)
	assert.Equal(t, first.JobID, last.JobID)
	assert.Equal(t, "photo.png", last.FileName)

	var ticks []int
	for _, f := range frames[1 : len(frames)-1] {
		assert.Equal(t, "active", f.State)
		assert.Equal(t, first.JobID, f.JobID, "every frame carries the submitted job id")
		ticks = append(ticks, f.Progress)
	}
	assert.Contains(t, ticks, 0)
	assert.Contains(t, ticks, 100)

	assert.False(t, e.coord.Registry().Has(first.JobID))
	assert.False(t, e.coord.Registry().Has(job.TranslationID(first.JobID)))
}

func TestStreamReportsPerFileProgress(t *testing.T) {
	e := newEnv(t, staticRecognizer{text: "hello"})

	rec := httptest.NewRecorder()
	err := e.coord.Stream(context.Background(), rec, []Upload{
		{FileName: "a.png", Image: []byte("first")},
		{FileName: "b.png", Image: []byte("second")},
	})
	require.NoError(t, err)

	frames := parseFrames(t, rec.Body.String())

	completed := map[string]bool{}
	ids := map[string]string{}
	for _, f := range frames {
		if f.State == "" {
			ids[f.FileName] = f.JobID
		}
		if f.State == "completed" {
			completed[f.FileName] = true
		}
	}
	assert.True(t, completed["a.png"])
	assert.True(t, completed["b.png"])
	assert.NotEqual(t, ids["a.png"], ids["b.png"])

	// No frame ever mixes one file's id with another file's name.
	for _, f := range frames {
		if f.JobID != "" {
			assert.Equal(t, ids[f.FileName], f.JobID)
		}
	}
}

// eagerStore drives progress synchronously inside Enqueue, standing in for a
// worker that claims and reports before the enqueue call even returns.
type eagerStore struct {
	*store.MemoryStore
}

func (s *eagerStore) Enqueue(ctx context.Context, j *job.Job) error {
	if err := s.MemoryStore.Enqueue(ctx, j); err != nil {
		return err
	}
	if j.Queue == job.QueueRecognition {
		if _, err := s.Claim(ctx, job.QueueRecognition); err != nil {
			return err
		}
		if err := s.UpdateProgress(ctx, j.ID, 10); err != nil {
			return err
		}
	}
	return nil
}

func TestInitialFramePrecedesProgressFromFastWorker(t *testing.T) {
	bridge := bus.NewMemoryBridge()
	s := &eagerStore{MemoryStore: store.NewMemoryStore(bridge, 5*time.Millisecond)}
	registry := bus.NewRegistry()
	logger := observability.Nop()

	cancelSub, err := bridge.Subscribe(context.Background(), registry.Dispatch)
	require.NoError(t, err)
	defer cancelSub()

	coord := New(queue.New(job.QueueRecognition, s, logger), s, registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() {
		done <- coord.Stream(ctx, rec, []Upload{{FileName: "fast.png", Image: []byte("img")}})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	frames := parseFrames(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Empty(t, frames[0].State, "the first frame must be the initial frame")
	assert.Equal(t, "active", frames[1].State)
	assert.Equal(t, frames[0].JobID, frames[1].JobID)
}

func TestStreamEmitsFailedFrame(t *testing.T) {
	e := newEnv(t, staticRecognizer{err: errors.New("text extraction failed")})

	rec := httptest.NewRecorder()
	err := e.coord.Stream(context.Background(), rec, []Upload{
		{FileName: "broken.png", Image: []byte("img")},
	})
	require.NoError(t, err)

	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)

	last := frames[len(frames)-1]
	assert.Equal(t, "failed", last.State)
	assert.Contains(t, last.Error, "text extraction failed")
	assert.Equal(t, "broken.png", last.FileName)

	assert.False(t, e.coord.Registry().Has(last.JobID))
}

func TestStreamDisconnectRemovesWaitingJobs(t *testing.T) {
	// No worker pools here: the job stays Waiting so the disconnect path can
	// pull it back off the queue.
	bridge := bus.NewMemoryBridge()
	s := store.NewMemoryStore(bridge, 5*time.Millisecond)
	registry := bus.NewRegistry()
	logger := observability.Nop()
	recognitionQ := queue.New(job.QueueRecognition, s, logger)
	coord := New(recognitionQ, s, registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() {
		done <- coord.Stream(ctx, rec, []Upload{{FileName: "gone.png", Image: []byte("img")}})
	}()

	// Give startFile time to enqueue and write the initial frame.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not end after disconnect")
	}

	frames := parseFrames(t, rec.Body.String())
	require.NotEmpty(t, frames)
	jobID := frames[0].JobID

	assert.False(t, registry.Has(jobID))
	assert.False(t, registry.Has(job.TranslationID(jobID)))

	_, err := s.Get(context.Background(), jobID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestStreamRequiresFlushableWriter(t *testing.T) {
	e := newEnv(t, staticRecognizer{text: "hello"})

	err := e.coord.Stream(context.Background(), plainWriter{httptest.NewRecorder()}, nil)
	require.Error(t, err)
}

// plainWriter hides the recorder's Flusher implementation.
type plainWriter struct{ rec *httptest.ResponseRecorder }

func (p plainWriter) Header() http.Header         { return p.rec.Header() }
func (p plainWriter) Write(b []byte) (int, error) { return p.rec.Write(b) }
func (p plainWriter) WriteHeader(code int)        { p.rec.WriteHeader(code) }

func TestResultPrefersTranslationJob(t *testing.T) {
	bridge := bus.NewMemoryBridge()
	s := store.NewMemoryStore(bridge, 5*time.Millisecond)
	coord := New(queue.New(job.QueueRecognition, s, observability.Nop()), s, bus.NewRegistry(), observability.Nop())

	recJob, err := job.NewRecognition([]byte("img"), "done.png", false)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(context.Background(), recJob))

	transJob, err := job.NewTranslation(recJob.ID, "text", "done.png", false)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(context.Background(), transJob))
	_, err = s.Claim(context.Background(), job.QueueTranslation)
	require.NoError(t, err)
	require.NoError(t, s.Complete(context.Background(), transJob.ID, []byte("%PDF-result")))

	res, err := coord.Result(context.Background(), recJob.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, res.State)
	assert.Equal(t, []byte("%PDF-result"), res.PDF)
	assert.Equal(t, "done.png", res.FileName)
}

func TestResultFallsBackToRecognitionJob(t *testing.T) {
	bridge := bus.NewMemoryBridge()
	s := store.NewMemoryStore(bridge, 5*time.Millisecond)
	coord := New(queue.New(job.QueueRecognition, s, observability.Nop()), s, bus.NewRegistry(), observability.Nop())

	recJob, err := job.NewRecognition([]byte("img"), "pending.png", false)
	require.NoError(t, err)
	require.NoError(t, s.Enqueue(context.Background(), recJob))

	res, err := coord.Result(context.Background(), recJob.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateWaiting, res.State)
	assert.Nil(t, res.PDF)
}

func TestResultUnknownJob(t *testing.T) {
	bridge := bus.NewMemoryBridge()
	s := store.NewMemoryStore(bridge, 5*time.Millisecond)
	coord := New(queue.New(job.QueueRecognition, s, observability.Nop()), s, bus.NewRegistry(), observability.Nop())

	_, err := coord.Result(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
