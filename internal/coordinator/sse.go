package coordinator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// frame shapes streamed to the client.
type initialFrame struct {
	JobID    string `json:"jobId"`
	FileName string `json:"fileName"`
}

type activeFrame struct {
	State    string `json:"state"`
	JobID    string `json:"jobId"`
	Progress int    `json:"progress"`
	FileName string `json:"fileName"`
}

type completedFrame struct {
	State    string `json:"state"`
	JobID    string `json:"jobId"`
	FileName string `json:"fileName"`
}

type failedFrame struct {
	State    string `json:"state"`
	JobID    string `json:"jobId"`
	Error    string `json:"error"`
	FileName string `json:"fileName"`
}

// sseWriter serializes concurrent event callbacks into well-formed
// Server-Sent Events frames, flushing after every frame.
type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	f  http.Flusher
}

// newSSEWriter sets the SSE response headers and returns a writer. The
// response writer must support flushing.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	return &sseWriter{w: w, f: f}, nil
}

// send writes one data frame. Write errors are swallowed: a broken client
// connection is detected through the request context, not here.
func (s *sseWriter) send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.f.Flush()
}
