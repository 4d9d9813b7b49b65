// Package embedding provides the vector math shared by memory search and
// skill discovery, plus a deterministic hash-based Engine that stands in
// for the real sentence-embedding model (out of scope for this runtime).
package embedding

import (
	"hash/fnv"
	"math"

	"github.com/saorsa-labs/fae/internal/ferr"
)

// Dim is the fixed embedding width used across memory and discovery.
const Dim = 384

// Engine produces a Dim-length embedding vector for a piece of text.
type Engine interface {
	Embed(text string) ([]float32, error)
}

// HashEngine is a deterministic, model-free Engine: it seeds a
// pseudo-random but reproducible vector from a FNV hash of the input text,
// then L2-normalizes it. It exists so the rest of the runtime can exercise
// real KNN search and dimension-validation paths without a model
// dependency.
type HashEngine struct{}

// NewHashEngine returns a ready-to-use HashEngine.
func NewHashEngine() *HashEngine { return &HashEngine{} }

// Embed returns a deterministic, L2-normalized Dim-length vector for text.
func (HashEngine) Embed(text string) ([]float32, error) {
	if text == "" {
		return nil, ferr.Memory("embed: text must not be empty")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, Dim)
	state := seed
	for i := range vec {
		// xorshift64 for a cheap, deterministic pseudo-random stream.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		// Map to [-1, 1).
		vec[i] = float32(state%2000)/1000.0 - 1.0
	}
	return L2Normalize(vec), nil
}

// MeanPool computes an attention-mask-weighted mean over token vectors,
// where flat holds numTokens*dim values in row-major order.
func MeanPool(flat []float32, mask []float32, dim int) []float32 {
	out := make([]float32, dim)
	if dim == 0 || len(mask) == 0 {
		return out
	}
	var total float32
	for tok, m := range mask {
		if m == 0 {
			continue
		}
		base := tok * dim
		if base+dim > len(flat) {
			break
		}
		for d := 0; d < dim; d++ {
			out[d] += flat[base+d] * m
		}
		total += m
	}
	if total < 1e-12 {
		return out
	}
	for d := range out {
		out[d] /= total
	}
	return out
}

// L2Normalize returns vec scaled to unit length, or vec unchanged if its
// norm is effectively zero.
func L2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm < 1e-12 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 if either
// vector has an effectively-zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA < 1e-24 || normB < 1e-24 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// L2Distance returns the Euclidean distance between a and b.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// ScoreFromL2 converts an L2 distance d into a bounded [0,1] similarity
// score, max(0, 1 - d/2). The discovery index does not use it: its Search
// scores are cosine similarities.
func ScoreFromL2(distance float64) float64 {
	score := 1.0 - distance/2.0
	if score < 0 {
		return 0
	}
	return score
}

// Scored pairs an identifier with a similarity score.
type Scored struct {
	ID    string
	Score float64
}

// TopKByCosine ranks candidates by cosine similarity to query and returns
// the top k, highest score first, breaking ties by ascending ID for
// determinism.
func TopKByCosine(query []float32, candidates map[string][]float32, k int) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for id, vec := range candidates {
		scored = append(scored, Scored{ID: id, Score: CosineSimilarity(query, vec)})
	}
	sortScoredDesc(scored)
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func sortScoredDesc(s []Scored) {
	// Simple insertion sort: candidate lists are small (skill/memory counts
	// are not expected to reach the scale where this matters).
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && less(s[j], s[j-1]) {
			s[j], s[j-1] = s[j-1], s[j]
			j--
		}
	}
}

// less reports whether a should sort before b: higher score first, then
// lexicographically smaller ID.
func less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// ValidateDim returns an error if vec does not have exactly Dim elements.
func ValidateDim(vec []float32) error {
	if len(vec) != Dim {
		return ferr.Memory("embedding has wrong dimension: got %d, want %d", len(vec), Dim)
	}
	return nil
}
