// Package render implements the PDF rendering capability.
package render

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-pdf/fpdf"
)

// FPDF renders plain text into a single-column PDF document.
type FPDF struct {
	fontPath string
	fontSize float64
}

// Config holds renderer settings. FontPath points at a TTF with coverage for
// the target language; without it the built-in Helvetica is used, which only
// covers latin text.
type Config struct {
	FontPath string
	FontSize float64
}

// New creates a PDF renderer.
func New(cfg Config) *FPDF {
	if cfg.FontSize <= 0 {
		cfg.FontSize = 14
	}
	return &FPDF{fontPath: cfg.FontPath, fontSize: cfg.FontSize}
}

// Render produces PDF bytes for the given text.
func (r *FPDF) Render(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(20, 20, 20)
	doc.AddPage()

	if r.fontPath != "" {
		doc.AddUTF8Font("body", "", r.fontPath)
		doc.SetFont("body", "", r.fontSize)
		doc.MultiCell(0, 7, text, "", "L", false)
	} else {
		tr := doc.UnicodeTranslatorFromDescriptor("")
		doc.SetFont("Helvetica", "", r.fontSize)
		doc.MultiCell(0, 7, tr(text), "", "L", false)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	return buf.Bytes(), nil
}
