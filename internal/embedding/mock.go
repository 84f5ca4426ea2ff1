package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultMockDimensions = 256

// MockProvider hashes tokens into a fixed-size bag-of-words vector. Texts
// that share words land close together, which is enough for local runs.
type MockProvider struct {
	dims int
}

func NewMockProvider(dims int) *MockProvider {
	if dims <= 0 {
		dims = defaultMockDimensions
	}
	return &MockProvider{dims: dims}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *MockProvider) vector(text string) []float32 {
	vec := make([]float32, p.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(p.dims)] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
