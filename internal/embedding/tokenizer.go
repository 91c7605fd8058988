package embedding

import (
	"hash/fnv"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "did", "do", "does", "for", "from",
		"how", "in", "is", "it", "of", "on", "or", "that", "the", "this", "to", "was", "what",
		"when", "where", "which", "who", "why", "with",
		"في", "من", "على", "إلى", "عن", "ما", "هل", "هذا", "هذه", "أن", "او", "أو", "و",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Tokenize returns the lower-cased letter and digit runs of text.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens returns Tokenize(text) without stopwords.
func ContentTokens(text string) []string {
	tokens := Tokenize(text)
	out := tokens[:0]
	for _, tok := range tokens {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer maps words to hash-based token IDs. It does not reproduce a model vocabulary.
type SimpleTokenizer struct{}

// Tokenize produces [CLS] word... [SEP] padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = 101 // [CLS]
	attentionMask[0] = 1

	pos := 1
	for _, word := range Tokenize(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(word) % 30000)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = 102 // [SEP]
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}
