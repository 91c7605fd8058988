// Package chunker splits source documents into overlapping fixed-size segments.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/dalil/internal/models"
)

// Unit is the measure used for chunk size, overlap and sentence lookback.
type Unit string

const (
	// UnitChars counts Unicode code points.
	UnitChars Unit = "chars"
	// UnitWords counts whitespace-separated words; chunks are re-joined with single spaces.
	UnitWords Unit = "words"
)

// Chunker splits text into overlapping windows.
type Chunker struct {
	size     int
	overlap  int
	lookback int
	unit     Unit
}

// NewChunker creates a chunker. size must be positive; a negative overlap or lookback is treated as 0.
// lookback bounds how far back from a window end the chunker searches for a sentence boundary.
func NewChunker(size, overlap int, unit Unit, lookback int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	switch unit {
	case "":
		unit = UnitChars
	case UnitChars, UnitWords:
	default:
		return nil, fmt.Errorf("unknown chunk unit %q", unit)
	}
	if overlap < 0 {
		overlap = 0
	}
	if lookback < 0 {
		lookback = 0
	}
	return &Chunker{size: size, overlap: overlap, lookback: lookback, unit: unit}, nil
}

// Unit returns the unit the chunker measures in.
func (c *Chunker) Unit() Unit {
	return c.unit
}

// Chunk splits text into an ordered sequence of non-empty chunks.
// Each window starts at the previous window's end minus overlap, and always at least one unit
// after the previous start, so the loop runs at most once per unit.
func (c *Chunker) Chunk(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	units, sep := c.split(text)
	n := len(units)

	var chunks []string
	start := 0
	for start < n {
		end := start + c.size
		if end > n {
			end = n
		}
		if end < n {
			end = c.sentenceEnd(units, start, end)
		}
		if piece := strings.TrimSpace(strings.Join(units[start:end], sep)); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= n {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

func (c *Chunker) split(text string) ([]string, string) {
	if c.unit == UnitWords {
		return strings.Fields(text), " "
	}
	units := make([]string, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		units = append(units, string(r))
	}
	return units, ""
}

// sentenceEnd moves end back to just after the last sentence terminator found within the
// lookback tail of the window, never reaching the window start.
func (c *Chunker) sentenceEnd(units []string, start, end int) int {
	lo := end - c.lookback
	if lo < start+1 {
		lo = start + 1
	}
	for j := end - 1; j >= lo; j-- {
		if isTerminator(units[j]) {
			return j + 1
		}
	}
	return end
}

func isTerminator(unit string) bool {
	r, _ := utf8.DecodeLastRuneInString(unit)
	switch r {
	case '.', '!', '?', '؟', '\n':
		return true
	}
	return false
}

// Assemble turns chunk texts into chunks of docID with ids "{docID}_{i}", contiguous indices,
// and metadata holding doc_id, chunk_index and a copy of meta.
func Assemble(docID string, texts []string, meta map[string]interface{}) []models.Chunk {
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		md := make(map[string]interface{}, len(meta)+2)
		for k, v := range meta {
			md[k] = v
		}
		md[models.MetaDocID] = docID
		md[models.MetaChunkIndex] = i
		chunks[i] = models.Chunk{
			ID:         ChunkID(docID, i),
			DocumentID: docID,
			Index:      i,
			Text:       text,
			Metadata:   md,
		}
	}
	return chunks
}

// ChunkID returns the id of chunk i of docID.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s_%d", docID, i)
}
