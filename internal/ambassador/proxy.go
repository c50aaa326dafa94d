// Package ambassador implements the reverse proxy that fronts the core
// service: byte-for-byte forwarding (including SSE and binary PDF
// passthrough) behind a circuit breaker with a fixed fallback response.
package ambassador

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/snaptrans/snaptrans/internal/breaker"
	"github.com/snaptrans/snaptrans/internal/observability"
)

const fallbackBody = `{"error":"Service temporarily unavailable"}`

// hop-by-hop headers are not forwarded.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// Proxy forwards every request to the core service. An unresponsive core
// (no response headers within the timeout) counts as a breaker failure;
// once the breaker opens, callers get the fallback immediately instead of
// hanging.
type Proxy struct {
	upstream *url.URL
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
	timeout  time.Duration
	logger   *observability.Logger
}

// Config holds proxy settings.
type Config struct {
	UpstreamURL string
	Timeout     time.Duration
}

// New creates a proxy for the given upstream base URL.
func New(cfg Config, logger *observability.Logger) (*Proxy, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Proxy{
		upstream: upstream,
		// ResponseHeaderTimeout rather than an overall client timeout:
		// established SSE and PDF streams must keep flowing past it.
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
			},
		},
		cb:      breaker.New("ambassador"),
		timeout: timeout,
		logger:  logger.WithComponent("ambassador"),
	}, nil
}

// ServeHTTP forwards the request and streams the response back unbuffered.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := p.cb.Execute(func() (interface{}, error) {
		return p.forward(r)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.logger.Warn().Str("path", r.URL.Path).Msg("Circuit open, returning fallback")
		} else {
			p.logger.Error().Str("path", r.URL.Path).Err(err).Msg("Forward failed, returning fallback")
		}
		p.fallback(w)
		return
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if _, skip := hopHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		p.copyFlushing(w, resp.Body)
		return
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Error().Str("path", r.URL.Path).Err(err).Msg("Response copy interrupted")
	}
}

// forward sends the request upstream. Error responses from the core are
// still responses: they are forwarded as-is and do not trip the breaker,
// matching the fail-fast contract (only an unreachable or unresponsive core
// counts as failure).
func (p *Proxy) forward(r *http.Request) (*http.Response, error) {
	target := *r.URL
	target.Scheme = p.upstream.Scheme
	target.Host = p.upstream.Host

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}

	for key, values := range r.Header {
		if _, skip := hopHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		out.Header[key] = values
	}

	return p.client.Do(out)
}

// copyFlushing streams an SSE body, flushing after every read so frames
// reach the client as they are produced.
func (p *Proxy) copyFlushing(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *Proxy) fallback(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(w, fallbackBody)
}
