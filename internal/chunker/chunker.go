// Package chunker bounds text into token-limited chunks and combines chunk
// embeddings back into a single vector.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxTokens is the default per-chunk token budget for embedding.
const DefaultMaxTokens = 8000

var (
	// ErrTokenization indicates the tokenizer failed or did not round-trip.
	ErrTokenization = errors.New("tokenization failed")

	// ErrInvalidBudget indicates a non-positive chunk budget.
	ErrInvalidBudget = errors.New("chunk budget must be positive")

	// ErrNoVectors indicates Mean was called with no vectors.
	ErrNoVectors = errors.New("no vectors to combine")

	// ErrDimensionMismatch indicates vectors of differing length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
}

// Splitter splits text into chunks of at most MaxTokens tokens.
type Splitter struct {
	tok       Tokenizer
	maxTokens int
}

// NewSplitter creates a Splitter. A maxTokens of 0 uses DefaultMaxTokens.
func NewSplitter(tok Tokenizer, maxTokens int) (*Splitter, error) {
	if tok == nil {
		return nil, errors.New("tokenizer is required")
	}
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	if maxTokens < 0 {
		return nil, ErrInvalidBudget
	}
	return &Splitter{tok: tok, maxTokens: maxTokens}, nil
}

// MaxTokens returns the per-chunk budget.
func (s *Splitter) MaxTokens() int {
	return s.maxTokens
}

// Split splits text using the splitter's budget.
func (s *Splitter) Split(text string) ([]string, error) {
	return Split(s.tok, text, s.maxTokens)
}

// Count returns the number of tokens in text.
func (s *Splitter) Count(text string) (int, error) {
	tokens, err := s.tok.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenization, err)
	}
	return len(tokens), nil
}

// Split returns text as a single chunk when it fits in maxTokens tokens.
// Otherwise it returns chunks decoded from contiguous token slices of at most
// maxTokens tokens, so that concatenating them reproduces text. Each slice
// ends on a rune boundary: when the last tokens of a full slice would end
// inside a multi-byte rune they move to the next chunk. For text whose token
// boundaries all fall between runes, which includes ASCII, that gives
// exactly ceil(n/maxTokens) chunks.
//
// Split fails closed: tokenizer errors, a rune that cannot fit in one
// slice and decodes that do not round-trip all return ErrTokenization and no
// chunks.
func Split(tok Tokenizer, text string, maxTokens int) ([]string, error) {
	if maxTokens <= 0 {
		return nil, ErrInvalidBudget
	}

	tokens, err := tok.Encode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrTokenization, err)
	}
	if len(tokens) <= maxTokens {
		return []string{text}, nil
	}

	// Input that is not UTF-8 to begin with has no rune boundaries to keep.
	runeSafe := utf8.ValidString(text)

	chunks := make([]string, 0, (len(tokens)+maxTokens-1)/maxTokens)
	for start := 0; start < len(tokens); {
		end := min(start+maxTokens, len(tokens))
		chunk, next, err := cut(tok, tokens, start, end, runeSafe)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrTokenization, len(chunks), err)
		}
		chunks = append(chunks, chunk)
		start = next
	}

	if strings.Join(chunks, "") != text {
		return nil, fmt.Errorf("%w: chunks do not reproduce input", ErrTokenization)
	}
	return chunks, nil
}

// cut decodes tokens[start:end], moving end back while the decoded bytes
// are not valid UTF-8. It returns the chunk and the end used.
func cut(tok Tokenizer, tokens []int, start, end int, runeSafe bool) (string, int, error) {
	for e := end; e > start; e-- {
		chunk, err := tok.Decode(tokens[start:e])
		if err != nil {
			return "", 0, fmt.Errorf("decode: %w", err)
		}
		if !runeSafe || utf8.ValidString(chunk) {
			return chunk, e, nil
		}
	}
	return "", 0, errors.New("a rune spans more tokens than the budget")
}

// Mean returns the elementwise arithmetic mean of vectors. A single vector
// is returned as a copy.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}

	dim := len(vectors[0])
	sum := make([]float64, dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}

	out := make([]float32, dim)
	n := float64(len(vectors))
	for j := range sum {
		out[j] = float32(sum[j] / n)
	}
	return out, nil
}
