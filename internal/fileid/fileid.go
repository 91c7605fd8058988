// Package fileid derives deterministic document ids from file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// ForPath returns a stable document id for path: the file's base name without extension,
// reduced to letters, digits and underscores, followed by a short hash of the cleaned absolute
// path. Two files with the same name in different directories get different ids.
func ForPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	abs = filepath.Clean(abs)
	sum := sha256.Sum256([]byte(abs))

	base := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	slug := strings.Trim(unsafeChars.ReplaceAllString(strings.ToLower(base), "_"), "_")
	if slug == "" {
		slug = "file"
	}
	return slug + "-" + hex.EncodeToString(sum[:4])
}
