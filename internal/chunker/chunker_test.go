package chunker

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewChunker_invalid(t *testing.T) {
	if _, err := NewChunker(0, 0, UnitChars, 0); err == nil {
		t.Error("size 0 should be rejected")
	}
	if _, err := NewChunker(10, 2, Unit("tokens"), 0); err == nil {
		t.Error("unknown unit should be rejected")
	}
	c, err := NewChunker(10, -3, "", -1)
	if err != nil {
		t.Fatal(err)
	}
	if c.Unit() != UnitChars {
		t.Errorf("empty unit should default to chars, got %s", c.Unit())
	}
}

func TestChunker_ChunkWords(t *testing.T) {
	c, _ := NewChunker(3, 1, UnitWords, 0)
	chunks := c.Chunk("one two three four five six seven")
	want := []string{"one two three", "three four five", "five six seven"}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks %q, want %d", len(chunks), chunks, len(want))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c, _ := NewChunker(5, 1, UnitChars, 0)
	for _, text := range []string{"", "   \n\t  ", "\r\n\r\n"} {
		if chunks := c.Chunk(text); chunks != nil {
			t.Errorf("Chunk(%q) should return nil, got %q", text, chunks)
		}
	}
}

func TestChunker_coverage(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz0123456789"
	size, overlap := 10, 3
	c, _ := NewChunker(size, overlap, UnitChars, 0)
	chunks := c.Chunk(text)

	var b strings.Builder
	for i, ch := range chunks {
		if i == 0 {
			b.WriteString(ch)
			continue
		}
		b.WriteString(ch[overlap:])
	}
	if b.String() != text {
		t.Errorf("reconstructed %q, want %q", b.String(), text)
	}

	want := int(math.Ceil(float64(len(text)-overlap) / float64(size-overlap)))
	if d := len(chunks) - want; d < -1 || d > 1 {
		t.Errorf("chunk count %d, expected %d±1", len(chunks), want)
	}
}

func TestChunker_forwardProgress(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"overlap equals size", 5, 5},
		{"overlap exceeds size", 4, 10},
		{"size one", 1, 0},
	}
	text := "The quick brown fox jumps over the lazy dog."
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewChunker(tt.size, tt.overlap, UnitChars, 0)
			chunks := c.Chunk(text)
			if len(chunks) == 0 {
				t.Fatal("expected chunks")
			}
			if len(chunks) > utf8.RuneCountInString(text) {
				t.Errorf("%d chunks exceeds one per unit", len(chunks))
			}
			for i, ch := range chunks {
				if ch == "" {
					t.Errorf("chunk %d is empty", i)
				}
				if utf8.RuneCountInString(ch) > tt.size {
					t.Errorf("chunk %d longer than size: %q", i, ch)
				}
			}
		})
	}
}

func TestChunker_sentenceBoundaries(t *testing.T) {
	c, _ := NewChunker(20, 5, UnitChars, 100)
	chunks := c.Chunk("A cat sat. A dog ran. A bird flew.")
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %q", chunks)
	}
	if chunks[0] != "A cat sat." {
		t.Errorf("first chunk should end at the sentence boundary, got %q", chunks[0])
	}
	for i, ch := range chunks {
		if utf8.RuneCountInString(ch) > 20 {
			t.Errorf("chunk %d exceeds 20 chars: %q", i, ch)
		}
	}
	if !strings.HasSuffix(chunks[len(chunks)-1], "A bird flew.") {
		t.Errorf("last chunk should reach end of text, got %q", chunks[len(chunks)-1])
	}
}

func TestChunker_arabicQuestionMark(t *testing.T) {
	c, _ := NewChunker(14, 0, UnitChars, 14)
	chunks := c.Chunk("هل يوجد ضمان؟ نعم لمدة سنة")
	if len(chunks) < 2 || !strings.HasSuffix(chunks[0], "؟") {
		t.Errorf("expected cut after Arabic question mark, got %q", chunks)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize("  line one\r\nline two\rline three \n")
	if got != "line one\nline two\nline three" {
		t.Errorf("got %q", got)
	}
}

func TestAssemble(t *testing.T) {
	meta := map[string]interface{}{"lang": "ar"}
	chunks := Assemble("manual", []string{"a", "b", "c"}, meta)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if ch.ID != ChunkID("manual", i) {
			t.Errorf("chunk %d id = %s", i, ch.ID)
		}
		if ch.Index != i || ch.DocumentID != "manual" {
			t.Errorf("chunk %d = %+v", i, ch)
		}
		if ch.Metadata["doc_id"] != "manual" || ch.Metadata["chunk_index"] != i || ch.Metadata["lang"] != "ar" {
			t.Errorf("chunk %d metadata = %v", i, ch.Metadata)
		}
	}
	chunks[0].Metadata["lang"] = "en"
	if meta["lang"] != "ar" || chunks[1].Metadata["lang"] != "ar" {
		t.Error("chunk metadata must not alias the caller's map")
	}
	if ChunkID("manual", 2) != "manual_2" {
		t.Errorf("ChunkID = %s", ChunkID("manual", 2))
	}
}
