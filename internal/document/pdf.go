package document

import (
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
)

// loadPDF yields one Document per page, numbered from 1.
func loadPDF(path, name string) ([]Document, error) {
	file, err := os.Open(path) // #nosec G304 -- path comes from the configured raw directory
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var docs []Document
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}

		docs = append(docs, Document{
			Text:     text,
			Metadata: Metadata{SourceFile: name, Page: Page(i)},
		})
	}

	return docs, nil
}
