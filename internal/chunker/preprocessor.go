package chunker

import "strings"

// Normalize converts CRLF and lone CR line endings to LF and trims outer whitespace.
// Inner whitespace is preserved so newlines still mark sentence boundaries.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
