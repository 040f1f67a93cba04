package cache

import (
	"crypto/md5"
	"encoding/binary"
	"math"
	"strings"
)

// Embedder maps text to a fixed-dimension L2-normalized vector. Embeddings
// from different Embedder implementations are not comparable; a cache must
// use one implementation for its lifetime.
type Embedder interface {
	Embed(text string) []float32
}

const (
	trigramDim      = 256
	trigramMaxInput = 2048
)

// TrigramEmbedder is the default zero-dependency embedder: a hashed
// character-trigram frequency vector. It needs no model and no network and
// is deterministic across processes, which is what makes the semantic tier
// durable in Redis.
type TrigramEmbedder struct {
	dim int
}

// NewTrigramEmbedder returns a trigram embedder with the standard dimension.
func NewTrigramEmbedder() *TrigramEmbedder {
	return &TrigramEmbedder{dim: trigramDim}
}

// Embed lowercases and caps the input, buckets each character trigram by
// md5 hash, and L2-normalizes the counts. Inputs shorter than one trigram
// produce the zero vector, which matches nothing.
func (e *TrigramEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)

	text = strings.ToLower(text)
	if len(text) > trigramMaxInput {
		text = text[:trigramMaxInput]
	}
	if len(text) < 3 {
		return vec
	}

	for i := 0; i+3 <= len(text); i++ {
		sum := md5.Sum([]byte(text[i : i+3]))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(e.dim)
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec
}

// Cosine returns the cosine similarity of two vectors, 0 for mismatched or
// zero-norm inputs.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
