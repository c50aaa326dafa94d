package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeProducesGrayscalePNG(t *testing.T) {
	out, err := Normalize(testPNG(t))
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestNormalizeRejectsNonImage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode image")
}

func TestRecognizeInvokesBinaryOverStdin(t *testing.T) {
	tess := New(Config{Binary: "tesseract-custom", Lang: "vie"})

	var gotBinary string
	var gotArgs []string
	var gotStdin []byte
	tess.run = func(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
		gotBinary = binary
		gotArgs = args
		gotStdin = stdin
		return []byte("  recognized text \n\n"), nil
	}

	text, err := tess.Recognize(context.Background(), testPNG(t))
	require.NoError(t, err)

	assert.Equal(t, "recognized text", text)
	assert.Equal(t, "tesseract-custom", gotBinary)
	assert.Equal(t, []string{"stdin", "stdout", "-l", "vie"}, gotArgs)
	assert.NotEmpty(t, gotStdin)
	assert.True(t, bytes.HasPrefix(gotStdin, []byte("\x89PNG")), "stdin must carry the normalized PNG")
}

func TestRecognizeRejectsBadImageBeforeRunning(t *testing.T) {
	tess := New(Config{})

	ran := false
	tess.run = func(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
		ran = true
		return nil, nil
	}

	_, err := tess.Recognize(context.Background(), []byte("garbage"))
	require.Error(t, err)
	assert.False(t, ran, "the binary must not run for undecodable input")
}

func TestRecognizeWrapsRunFailure(t *testing.T) {
	tess := New(Config{})
	tess.run = func(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
		return nil, errors.New("exit status 1: Error in pixReadStream")
	}

	_, err := tess.Recognize(context.Background(), testPNG(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract")
	assert.Contains(t, err.Error(), "pixReadStream")
}
