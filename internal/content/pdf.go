package content

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// pdfToText extracts text from PDFs using the pdftotext CLI tool.
type pdfToText struct {
	binPath string
}

// newPdfToText creates a pdfToText extractor. If binPath is empty,
// "pdftotext" is used.
func newPdfToText(binPath string) *pdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &pdfToText{binPath: binPath}
}

// extract runs pdftotext -layout on the given PDF and returns stdout plus
// the page count. pdftotext separates pages with form feeds.
func (p *pdfToText) extract(ctx context.Context, pdfPath string) (string, int, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", 0, eris.Wrapf(err, "content: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}

	text := stdout.String()
	pages := strings.Count(text, "\f")
	if !strings.HasSuffix(text, "\f") {
		pages++
	}
	// Keep form feeds out of the normalized text; page boundaries are
	// recorded in the page count and chunking.
	text = strings.ReplaceAll(text, "\f", "\n\n")
	return text, pages, nil
}
