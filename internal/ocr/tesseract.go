// Package ocr implements the recognition capability on the tesseract CLI.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sony/gobreaker"

	"github.com/snaptrans/snaptrans/internal/breaker"
)

// Tesseract recognizes text by shelling out to the tesseract binary. Calls
// run behind a circuit breaker so a wedged OCR install fails fast instead of
// tying up the whole recognition pool.
type Tesseract struct {
	binary  string
	lang    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	run     runFunc
}

type runFunc func(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error)

// Config holds tesseract settings.
type Config struct {
	Binary  string
	Lang    string
	Timeout time.Duration
}

// New creates a tesseract-backed recognizer.
func New(cfg Config) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Tesseract{
		binary:  cfg.Binary,
		lang:    cfg.Lang,
		timeout: cfg.Timeout,
		cb:      breaker.New("ocr"),
		run:     runCommand,
	}
}

// Recognize extracts text from the image bytes. The image is normalized to
// grayscale PNG first; tesseract copes better with it and the decode step
// doubles as input validation.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (string, error) {
	normalized, err := Normalize(image)
	if err != nil {
		return "", err
	}

	out, err := t.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		args := []string{"stdin", "stdout", "-l", t.lang}
		return t.run(ctx, t.binary, args, normalized)
	})
	if err != nil {
		return "", fmt.Errorf("tesseract: %w", err)
	}

	return strings.TrimSpace(string(out.([]byte))), nil
}

// Normalize decodes the image and re-encodes it as grayscale PNG. Returns an
// error for payloads that are not a decodable image.
func Normalize(image []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.Grayscale(img), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	return buf.Bytes(), nil
}
