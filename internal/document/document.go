// Package document turns raw PDF and DOCX files into text Documents.
package document

import "strconv"

// Metadata travels with every Document, Chunk and indexed record.
type Metadata struct {
	SourceFile string `json:"source_file"`
	// Page is 1-based and only set for paginated formats (PDF).
	Page *int `json:"page,omitempty"`
}

// PageLabel renders the page for identifiers, "na" when absent.
func (m Metadata) PageLabel() string {
	if m.Page == nil {
		return "na"
	}
	return strconv.Itoa(*m.Page)
}

// Document is one page (PDF) or one whole file (DOCX) of extracted text.
type Document struct {
	Text     string
	Metadata Metadata
}

// Page returns a pointer suitable for Metadata.Page.
func Page(n int) *int {
	return &n
}
