// Package e2e provides end-to-end tests; this file builds minimal files for the ingestible formats.
package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SupportedFileExtensions is the list of file extensions used in file-based E2E tests.
// PDF is not generated here (no minimal PDF with extractable text).
var SupportedFileExtensions = []string{
	".txt", ".md", ".rst",
	".docx", ".xlsx",
}

// WriteMinimalFile returns the bytes of a minimal file of the given extension holding text.
// Each line of text becomes a paragraph (.docx) or a row (.xlsx).
func WriteMinimalFile(ext, text string) ([]byte, error) {
	switch ext {
	case ".txt", ".md", ".rst":
		return []byte(text), nil
	case ".docx":
		return minimalDocx(text)
	case ".xlsx":
		return minimalXlsx(text)
	default:
		return nil, fmt.Errorf("unsupported fixture extension %q", ext)
	}
}

func minimalDocx(text string) ([]byte, error) {
	var body strings.Builder
	for _, line := range strings.Split(text, "\n") {
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		body.WriteString(html.EscapeString(line))
		body.WriteString(`</w:t></w:r></w:p>`)
	}
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.Create("word/document.xml")
	if err != nil {
		return nil, err
	}
	doc := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		body.String() + `</w:body></w:document>`
	if _, err := fw.Write([]byte(doc)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func minimalXlsx(text string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, line := range strings.Split(text, "\n") {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue("Sheet1", cell, line); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
