package ambassador

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaptrans/snaptrans/internal/observability"
)

func newProxy(t *testing.T, upstreamURL string) *Proxy {
	t.Helper()

	p, err := New(Config{UpstreamURL: upstreamURL, Timeout: time.Second}, observability.Nop())
	require.NoError(t, err)
	return p
}

// deadUpstreamURL returns a URL nothing is listening on.
func deadUpstreamURL(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func TestProxyForwardsRequestsBothWays(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Upstream", "core")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, "%s %s %s %s", r.Method, r.URL.Path, r.Header.Get("X-Client"), body)
	}))
	defer upstream.Close()

	front := httptest.NewServer(newProxy(t, upstream.URL))
	defer front.Close()

	req, err := http.NewRequest(http.MethodPost, front.URL+"/upload", strings.NewReader("payload"))
	require.NoError(t, err)
	req.Header.Set("X-Client", "cli")

	resp, err := front.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "core", resp.Header.Get("X-Upstream"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "POST /upload cli payload", string(body))
}

func TestProxyForwardsUpstreamErrorsAsIs(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	front := httptest.NewServer(newProxy(t, upstream.URL))
	defer front.Close()

	resp, err := front.Client().Get(front.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "upstream exploded")
}

func TestProxyFallbackWhenUpstreamUnreachable(t *testing.T) {
	front := httptest.NewServer(newProxy(t, deadUpstreamURL(t)))
	defer front.Close()

	resp, err := front.Client().Get(front.URL + "/upload")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Service temporarily unavailable"}`, string(body))
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	p := newProxy(t, deadUpstreamURL(t))
	front := httptest.NewServer(p)
	defer front.Close()

	for i := 0; i < 5; i++ {
		resp, err := front.Client().Get(front.URL + "/upload")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}

	// The core recovers, but the open breaker keeps failing fast until its
	// reset timeout elapses.
	recovered := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer recovered.Close()

	u, err := url.Parse(recovered.URL)
	require.NoError(t, err)
	p.upstream = u

	resp, err := front.Client().Get(front.URL + "/upload")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Service temporarily unavailable"}`, string(body))
}

func TestProxyStreamsServerSentEvents(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		f := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: {\"progress\":%d}\n\n", i*50)
			f.Flush()
		}
	}))
	defer upstream.Close()

	front := httptest.NewServer(newProxy(t, upstream.URL))
	defer front.Close()

	resp, err := front.Client().Get(front.URL + "/upload")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(body), "data: "))
}
