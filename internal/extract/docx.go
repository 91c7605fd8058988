package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

const (
	docxDocumentXMLPath = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	// wpTag matches one paragraph, with or without attributes.
	wpTag = regexp.MustCompile(`(?s)<w:p[ >].*?</w:p>`)
	// wtTag matches <w:t>text</w:t> with any attributes.
	wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// The main part may be declared with either attribute order.
	partNameRe  = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)
	partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)
)

func readZipFile(zr *zip.Reader, name string) ([]byte, bool, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, true, err
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		return b, true, err
	}
	return nil, false, nil
}

// mainDocumentPath returns the main document part named by [Content_Types].xml,
// or word/document.xml when none is declared.
func mainDocumentPath(zr *zip.Reader) string {
	ct, ok, err := readZipFile(zr, contentTypesPath)
	if !ok || err != nil {
		return docxDocumentXMLPath
	}
	for _, re := range []*regexp.Regexp{partNameRe, partNameRe2} {
		if m := re.FindSubmatch(ct); len(m) > 1 {
			return strings.TrimPrefix(string(m[1]), "/")
		}
	}
	return docxDocumentXMLPath
}

// extractDOCX returns the document's paragraphs, one per line. Runs inside a paragraph are
// concatenated as-is because Word splits words across runs.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	docPath := mainDocumentPath(zr)
	docXML, ok, err := readZipFile(zr, docPath)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: read %s: %w", docPath, err)
	}
	if !ok {
		return "", fmt.Errorf("extract DOCX: %s not found", docPath)
	}

	var lines []string
	for _, para := range wpTag.FindAll(docXML, -1) {
		var b strings.Builder
		for _, m := range wtTag.FindAllSubmatch(para, -1) {
			b.Write(m[1])
		}
		if line := strings.TrimSpace(html.UnescapeString(b.String())); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}
