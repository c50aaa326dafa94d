// Package cache provides the content-addressed result cache shared by all
// pipeline workers. Keys are derived from a hash of the stage input, so
// entries are pure-function results and never expire.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the content cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// ImageKey returns the cache key for a recognition result computed from the
// given image bytes.
func ImageKey(image []byte) string {
	sum := sha256.Sum256(image)
	return "ocr:" + hex.EncodeToString(sum[:])
}

// TextKey returns the cache key for a translation result computed from the
// given recognized text.
func TextKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "translate:" + hex.EncodeToString(sum[:])
}
