// Package pipeline implements the two processing stages of the image
// translation pipeline: recognition, and translation plus PDF rendering.
// The expensive capabilities are external and injected behind interfaces.
package pipeline

import "context"

// Recognizer extracts text from image bytes.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Translator translates recognized text.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Renderer renders translated text into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, text string) ([]byte, error)
}
