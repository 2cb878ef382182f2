package ai

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// HashEmbedder projects words and word bigrams into a fixed number of
// buckets. It is deterministic and needs no network.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embedOne(t)
	}
	return out, nil
}

func (h *HashEmbedder) embedOne(text string) []float32 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil
	}

	v := make([]float32, h.dim)
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
		return nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	sum := blake2b.Sum256([]byte(feature))
	bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(h.dim)
	if sum[8]&1 == 1 {
		weight = -weight
	}
	v[bucket] += weight
}
