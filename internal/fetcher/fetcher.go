// Package fetcher pulls remote data-room documents into the local inbox
// directory so the processor can ingest them like uploaded files.
package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads the documents behind a source reference and returns
// the local paths it wrote.
type Fetcher interface {
	Fetch(ctx context.Context, source, destDir string) ([]string, error)
}

// ensureDir creates the inbox directory when missing.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "fetcher: create dir %s", dir)
	}
	return nil
}

// safeFilename strips path separators and query junk from a remote name.
func safeFilename(name string) string {
	name = filepath.Base(name)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == ".." || name == "/" {
		return "download"
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	return name
}
