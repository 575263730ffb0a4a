package document

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type extractor func(path, name string) ([]Document, error)

var extractors = map[string]extractor{
	".pdf":  loadPDF,
	".docx": loadDOCX,
}

// IsSupported reports whether the file name has a loadable extension.
func IsSupported(name string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(name))]
	return ok
}

// SupportedFiles lists loadable file names in dir, sorted by name.
func SupportedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsSupported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// LoadDirectory extracts every supported file in dir. Unsupported files are
// skipped silently; a file that fails to parse aborts the load.
func LoadDirectory(ctx context.Context, dir string) ([]Document, error) {
	names, err := SupportedFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var docs []Document
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		extract := extractors[strings.ToLower(filepath.Ext(name))]
		loaded, err := extract(filepath.Join(dir, name), name)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}

		slog.DebugContext(ctx, "document loaded", "file", name, "units", len(loaded))
		docs = append(docs, loaded...)
	}

	return docs, nil
}
