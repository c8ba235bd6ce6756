// Package local provides an offline embedder based on feature hashing.
// Vectors are deterministic, L2-normalised and of a fixed length, which makes
// it suitable for air-gapped runs and tests. It has no semantic model behind
// it: similarity reflects shared identifiers and words.
package local

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/efebarandurmaz/repoqa/internal/llm"
)

// DefaultDimensions is used when no dimension is configured.
const DefaultDimensions = 384

// Embedder hashes tokens into a fixed number of buckets.
type Embedder struct {
	dims int
}

// New creates a hashing embedder producing vectors of length dims.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dims: dims}
}

func (e *Embedder) Name() string { return "local" }

// Dimensions returns the fixed vector length.
func (e *Embedder) Dimensions() int { return e.dims }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(text)
	}
	return out, nil
}

func (e *Embedder) Complete(context.Context, *llm.Prompt, *llm.RequestOptions) (*llm.Response, error) {
	return nil, errors.New("local: completion not supported")
}

func (e *Embedder) vector(text string) []float32 {
	v := make([]float32, e.dims)
	for _, tok := range Tokenize(text) {
		h := xxhash.Sum64String(tok)
		idx := int(h % uint64(e.dims))
		// Top bit picks the sign so collisions tend to cancel.
		if h>>63 == 1 {
			v[idx]--
		} else {
			v[idx]++
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

// Tokenize lowercases text and splits it into words, further splitting
// camelCase and snake_case identifiers. The whole identifier is kept as
// well so exact identifier matches weigh more.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	var tokens []string
	for _, f := range fields {
		parts := splitIdentifier(f)
		if len(parts) > 1 {
			tokens = append(tokens, strings.ToLower(f))
		}
		for _, p := range parts {
			tokens = append(tokens, strings.ToLower(p))
		}
	}
	return tokens
}

func splitIdentifier(s string) []string {
	var parts []string
	for _, chunk := range strings.Split(s, "_") {
		if chunk == "" {
			continue
		}
		start := 0
		runes := []rune(chunk)
		for i := 1; i < len(runes); i++ {
			if unicode.IsUpper(runes[i]) && unicode.IsLower(runes[i-1]) {
				parts = append(parts, string(runes[start:i]))
				start = i
			}
		}
		parts = append(parts, string(runes[start:]))
	}
	return parts
}
