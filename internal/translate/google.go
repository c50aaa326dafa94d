// Package translate implements the translation capability against the
// public Google translate endpoint.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/snaptrans/snaptrans/internal/breaker"
)

// Google translates text via the translate_a/single endpoint, behind a
// circuit breaker so an unreachable service fails fast.
type Google struct {
	endpoint string
	from     string
	to       string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
}

// Config holds translation settings.
type Config struct {
	Endpoint string
	From     string
	To       string
	Timeout  time.Duration
}

// New creates a Google-backed translator.
func New(cfg Config) *Google {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://translate.googleapis.com/translate_a/single"
	}
	if cfg.From == "" {
		cfg.From = "en"
	}
	if cfg.To == "" {
		cfg.To = "vi"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Google{
		endpoint: cfg.Endpoint,
		from:     cfg.From,
		to:       cfg.To,
		client:   &http.Client{Timeout: cfg.Timeout},
		cb:       breaker.New("translate"),
	}
}

// Translate translates the text from the configured source language to the
// configured target language.
func (g *Google) Translate(ctx context.Context, text string) (string, error) {
	result, err := g.cb.Execute(func() (interface{}, error) {
		return g.call(ctx, text)
	})
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}

	return result.(string), nil
}

func (g *Google) call(ctx context.Context, text string) (string, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", g.from)
	params.Set("tl", g.to)
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return parseResponse(body)
}

// parseResponse extracts the translated text from the endpoint's nested
// array response: the first element is a list of segments whose first field
// is the translated chunk.
func parseResponse(body []byte) (string, error) {
	var outer []json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(outer) == 0 {
		return "", fmt.Errorf("empty response")
	}

	var segments [][]json.RawMessage
	if err := json.Unmarshal(outer[0], &segments); err != nil {
		return "", fmt.Errorf("decode segments: %w", err)
	}

	var sb strings.Builder
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		var piece string
		if err := json.Unmarshal(seg[0], &piece); err != nil {
			return "", fmt.Errorf("decode segment: %w", err)
		}
		sb.WriteString(piece)
	}

	return sb.String(), nil
}
