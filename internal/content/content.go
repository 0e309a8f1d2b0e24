// Package content extracts normalized text from data-room documents.
// Supported formats: PDF, DOCX, XLSX, CSV, TXT, JSON.
package content

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/diligence-cli/internal/config"
)

// Format identifies a supported document format.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatDOCX    Format = "docx"
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatTXT     Format = "txt"
	FormatJSON    Format = "json"
	FormatUnknown Format = "unknown"
)

// wordsPerPage is the page-count heuristic for formats without native
// pagination.
const wordsPerPage = 350

// Chunk is a slice of a large document's text.
type Chunk struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

// Result holds the outcome of a content extraction. Extraction failures
// are reported through OK=false and Error rather than a Go error; only
// unexpected failures (e.g., the file disappearing mid-read) surface as
// errors from Extract.
type Result struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	Format    Format            `json:"format"`
	Text      string            `json:"text"`
	PageCount int               `json:"page_count"`
	WordCount int               `json:"word_count"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Chunks    []Chunk           `json:"chunks,omitempty"`
}

// Extractor turns document files into normalized text.
type Extractor struct {
	cfg config.ContentConfig
	pdf *pdfToText
}

// NewExtractor creates an Extractor using the given content configuration.
func NewExtractor(cfg config.ContentConfig) *Extractor {
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = 20
	}
	if cfg.ChunkPages <= 0 {
		cfg.ChunkPages = 10
	}
	return &Extractor{
		cfg: cfg,
		pdf: newPdfToText(cfg.PdfToTextPath),
	}
}

// DetectFormat resolves the document format from an optional type hint and
// the file extension. The hint wins when it names a known format.
func DetectFormat(path, hint string) Format {
	if hint != "" {
		switch Format(strings.ToLower(hint)) {
		case FormatPDF, FormatDOCX, FormatXLSX, FormatCSV, FormatTXT, FormatJSON:
			return Format(strings.ToLower(hint))
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv":
		return FormatCSV
	case ".txt", ".md", ".log":
		return FormatTXT
	case ".json":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// Extract reads the file at path, extracts its text, and normalizes it.
// The result carries page/word counts and, for documents over the chunk
// threshold, pre-split chunks.
func (e *Extractor) Extract(ctx context.Context, path, hint string) (*Result, error) {
	format := DetectFormat(path, hint)

	res := &Result{Format: format, Metadata: map[string]string{}}

	var text string
	var pages int
	var err error

	switch format {
	case FormatPDF:
		text, pages, err = e.pdf.extract(ctx, path)
	case FormatDOCX:
		text, err = extractDOCX(path)
	case FormatXLSX:
		text, err = extractXLSX(path, res.Metadata)
	case FormatCSV:
		text, err = extractCSV(path)
	case FormatTXT:
		text, err = extractPlain(path)
	case FormatJSON:
		text, err = extractJSON(path)
	default:
		res.Error = "unsupported format: " + filepath.Ext(path)
		return res, nil
	}

	if err != nil {
		zap.L().Warn("content: extraction failed",
			zap.String("path", path),
			zap.String("format", string(format)),
			zap.Error(err),
		)
		res.Error = err.Error()
		return res, nil
	}

	text = normalizeText(text)
	res.Text = text
	res.WordCount = len(strings.Fields(text))
	if pages > 0 {
		res.PageCount = pages
	} else {
		res.PageCount = estimatePages(res.WordCount)
	}

	if res.PageCount > e.cfg.ChunkThreshold {
		res.Chunks = chunkText(text, res.PageCount, e.cfg.ChunkPages)
	}

	res.OK = true
	return res, nil
}

// estimatePages approximates a page count for unpaginated formats.
func estimatePages(wordCount int) int {
	pages := wordCount / wordsPerPage
	if wordCount%wordsPerPage != 0 || pages == 0 {
		pages++
	}
	return pages
}

// normalizeText applies NFC normalization, unifies line endings, and
// collapses runs of blank lines.
func normalizeText(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	blanks := 0
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			blanks++
			if blanks > 1 {
				continue
			}
			b.WriteByte('\n')
			continue
		}
		blanks = 0
		b.WriteString(trimmed)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
