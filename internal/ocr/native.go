package ocr

import (
	"context"
	"fmt"
)

// nativePageText extracts the embedded text layer of a single page.
func (e *Extractor) nativePageText(ctx context.Context, pdfPath string, n int) (string, error) {
	// pdftotext -f n -l n -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext,
		"-f", fmt.Sprintf("%d", n),
		"-l", fmt.Sprintf("%d", n),
		"-layout", "-enc", "UTF-8", "-eol", "unix",
		pdfPath, "-")
	if err != nil {
		return "", fmt.Errorf("pdftotext page %d: %w (%s)", n, err, truncate(string(errb), 512))
	}
	return string(out), nil
}
