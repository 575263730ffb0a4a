package document

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

var errNoBody = errors.New("docx has no " + docxBody)

// loadDOCX yields a single page-less Document for the whole file.
func loadDOCX(path, name string) ([]Document, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer archive.Close()

	for _, f := range archive.File {
		if f.Name != docxBody {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		text, err := extractWordText(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", docxBody, err)
		}
		return []Document{{Text: text, Metadata: Metadata{SourceFile: name}}}, nil
	}

	return nil, errNoBody
}

// extractWordText walks WordprocessingML tokens. Paragraphs (including
// table cells) end with a newline; inside a run w:tab becomes a tab and
// w:br a newline.
func extractWordText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var b strings.Builder
	inRun, inText := false, false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "r":
				inRun = true
			case "t":
				inText = true
			case "tab":
				if inRun {
					b.WriteByte('\t')
				}
			case "br", "cr":
				if inRun {
					b.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "r":
				inRun = false
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return strings.TrimSpace(b.String()), nil
}
