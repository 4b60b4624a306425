// Package hashing provides a deterministic, offline text encoder based on feature
// hashing of word unigrams and bigrams.
package hashing

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/hupe1980/vecclf/distance"
)

// DefaultDim matches the output size of common MiniLM sentence encoders.
const DefaultDim = 384

// Encoder hashes tokens into a fixed number of buckets. Each token adds +1 or -1 to its
// bucket depending on a second hash bit; vectors are L2-normalized.
type Encoder struct {
	dim     int
	bigrams bool
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithoutBigrams restricts features to single words.
func WithoutBigrams() Option {
	return func(e *Encoder) { e.bigrams = false }
}

// New creates an encoder producing dim-sized vectors. dim <= 0 selects DefaultDim.
func New(dim int, optFns ...Option) *Encoder {
	if dim <= 0 {
		dim = DefaultDim
	}
	e := &Encoder{dim: dim, bigrams: true}
	for _, fn := range optFns {
		fn(e)
	}
	return e
}

// Dim returns the output dimension.
func (e *Encoder) Dim() int {
	return e.dim
}

// Encode returns one vector per text.
func (e *Encoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	data := make([]float32, len(texts)*e.dim)
	out := make([][]float32, len(texts))

	for i, text := range texts {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		vec := data[i*e.dim : (i+1)*e.dim]
		e.embed(text, vec)
		out[i] = vec
	}
	return out, nil
}

func (e *Encoder) embed(text string, vec []float32) {
	tokens := Tokenize(text)

	for i, tok := range tokens {
		e.add(vec, tok)
		if e.bigrams && i > 0 {
			e.add(vec, tokens[i-1]+" "+tok)
		}
	}

	distance.NormalizeL2InPlace(vec)
}

func (e *Encoder) add(vec []float32, feature string) {
	h := xxhash.Sum64String(feature)
	idx := h % uint64(e.dim)
	if h>>63 == 1 {
		vec[idx]--
	} else {
		vec[idx]++
	}
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
