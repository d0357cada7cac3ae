package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HashingModel is the model name reported for hashing provider vectors.
const HashingModel = "vecfs/feature-hashing"

// HashingProvider maps text to vectors with the hashing trick: every lowercase
// word and word bigram increments one signed bucket, and the result is L2
// normalized. Texts sharing vocabulary score high cosine similarity.
type HashingProvider struct {
	dimension int
}

// NewHashingProvider returns a provider producing vectors of size dimension.
func NewHashingProvider(dimension int) (*HashingProvider, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dimension)
	}
	return &HashingProvider{dimension: dimension}, nil
}

// EmbedDocuments embeds each text.
func (h *HashingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (h *HashingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

// Dimension returns the vector size.
func (h *HashingProvider) Dimension() int { return h.dimension }

// Close is a no-op.
func (h *HashingProvider) Close() error { return nil }

func (h *HashingProvider) vector(text string) []float32 {
	v := make([]float32, h.dimension)
	words := tokenize(text)
	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func (h *HashingProvider) add(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := int(sum % uint64(h.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"to": true, "was": true, "were": true, "with": true, "who": true, "what": true,
}
