// Package matching finds the enrolled identity closest to a query embedding.
package matching

import (
	"sort"

	"github.com/your-org/fdclock/internal/models"
)

// CandidateSource supplies identities in enrollment order.
type CandidateSource interface {
	Candidates() []models.Identity
}

// Engine does a linear scan over the enrolled identities. Embeddings are
// expected to be L2-normalized already, so the inner product is the cosine
// similarity.
type Engine struct {
	source CandidateSource
}

func NewEngine(source CandidateSource) *Engine {
	return &Engine{source: source}
}

// Result is one scored candidate.
type Result struct {
	Identity   models.Identity
	Similarity float32
}

// Match returns the identity with the highest similarity at or above
// threshold. On equal similarity the earlier enrolled identity wins.
func (e *Engine) Match(query []float32, threshold float32) (Result, bool) {
	var (
		best  Result
		found bool
	)
	for _, c := range e.source.Candidates() {
		if len(c.Embedding) != len(query) {
			continue
		}
		sim := Similarity(query, c.Embedding)
		// NaN compares false, so a NaN similarity never qualifies.
		if !(sim >= threshold) {
			continue
		}
		if !found || sim > best.Similarity {
			best = Result{Identity: c, Similarity: sim}
			found = true
		}
	}
	if found {
		best.Identity = best.Identity.Clone()
	}
	return best, found
}

// Rank returns up to limit candidates ordered by similarity, best first.
// limit <= 0 returns all of them.
func (e *Engine) Rank(query []float32, limit int) []Result {
	candidates := e.source.Candidates()
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) != len(query) {
			continue
		}
		sim := Similarity(query, c.Embedding)
		if isNaN(sim) {
			continue
		}
		results = append(results, Result{Identity: c, Similarity: sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Identity = results[i].Identity.Clone()
	}
	return results
}

// Similarity is the inner product of a and b. Vectors of different length
// score 0.
func Similarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

func isNaN(f float32) bool { return f != f }
