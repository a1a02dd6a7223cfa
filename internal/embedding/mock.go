package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Mock is a deterministic, offline embedder for tests and local runs.
// Each token hashes to a dimension bucket, so texts sharing words produce
// positively correlated vectors. That is enough to exercise ranking,
// thresholds and tie-breaks without a model.
type Mock struct {
	dims int
}

// NewMock creates a mock embedder. dims below 1 defaults to 256.
func NewMock(dims int) *Mock {
	if dims < 1 {
		dims = 256
	}
	return &Mock{dims: dims}
}

// Embed produces a unit-length bag-of-words vector for text.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("mock embedder: no tokens in %q", text)
	}

	vec := make([]float32, m.dims)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum64()%uint64(m.dims)]++
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (m *Mock) Dimensions() int { return m.dims }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
