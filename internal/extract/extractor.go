// Package extract reads store documents (plain text, PDF, DOCX, XLSX) as UTF-8 text.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type extractFunc func(content []byte) (string, error)

var extractors = map[string]extractFunc{
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extensions returns the recognized file extensions, sorted.
func Extensions() []string {
	out := make([]string, 0, len(extractors))
	for ext := range extractors {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text content.
// A missing file yields an error wrapping fs.ErrNotExist.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension (with leading dot).
// Unknown extensions are read as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := extractors[strings.ToLower(ext)]
	if !ok {
		fn = extractPlain
	}
	return fn(content)
}
