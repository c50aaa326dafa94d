package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// runCommand executes the OCR binary feeding the image on stdin and reading
// the recognized text from stdout.
func runCommand(ctx context.Context, binary string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%s: %s", binary, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("%s: %w", binary, err)
	}

	return stdout.Bytes(), nil
}
