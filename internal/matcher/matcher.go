// Package matcher ranks corpus foods against a query embedding.
//
// Similarity is cosine over float64 accumulation. Rows belonging to the same
// food (primary description and aliases) collapse to their best score, which
// is mapped to a confidence with the fixed monotonic mapping
// confidence = clamp(cos, 0, 1). Results are ordered by confidence descending;
// exact ties keep corpus insertion order.
package matcher

import (
	"fmt"
	"math"
	"slices"

	"github.com/MrWong99/foodtracker/internal/corpus"
	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// Result is one ranked candidate.
type Result struct {
	// Food is a copy of the matched corpus food.
	Food food.Food `json:"food"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Matcher holds ranking options. The zero value ranks without a confidence
// floor. A Matcher is a value; it is safe for concurrent use.
type Matcher struct {
	// MinConfidence excludes candidates scoring below it, even when they
	// would fit in topK.
	MinConfidence float64
}

// Confidence maps a raw cosine similarity to a confidence in [0, 1].
func Confidence(cos float64) float64 {
	switch {
	case math.IsNaN(cos), cos <= 0:
		return 0
	case cos >= 1:
		return 1
	default:
		return cos
	}
}

// Rank returns at most topK foods from idx ordered by descending confidence.
//
// topK <= 0 and a query whose length differs from the index dimensionality
// fail with [food.ErrInvalidInput]. A nil or empty index yields an empty
// result. When every candidate falls below MinConfidence the result is empty,
// not an error. Rank never mutates idx.
func (m Matcher) Rank(query []float32, idx *corpus.Index, topK int) ([]Result, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("matcher: %w: top_k must be positive, got %d", food.ErrInvalidInput, topK)
	}
	if idx.Len() == 0 || len(idx.Rows()) == 0 {
		return []Result{}, nil
	}
	if len(query) != idx.Dimensions() {
		return nil, fmt.Errorf("matcher: %w: query has %d dimensions, index has %d",
			food.ErrInvalidInput, len(query), idx.Dimensions())
	}

	best := make([]float64, idx.Len())
	for i := range best {
		best[i] = math.Inf(-1)
	}
	for _, r := range idx.Rows() {
		if s := embeddings.Cosine(query, r.Vector); s > best[r.Food] {
			best[r.Food] = s
		}
	}

	type scored struct {
		food int
		conf float64
	}
	cands := make([]scored, 0, len(best))
	for i, s := range best {
		if math.IsInf(s, -1) {
			continue
		}
		c := Confidence(s)
		if c < m.MinConfidence {
			continue
		}
		cands = append(cands, scored{food: i, conf: c})
	}
	// cands is in insertion order, so a stable sort keeps the first inserted
	// food ahead on ties.
	slices.SortStableFunc(cands, func(a, b scored) int {
		switch {
		case a.conf > b.conf:
			return -1
		case a.conf < b.conf:
			return 1
		default:
			return 0
		}
	})
	if len(cands) > topK {
		cands = cands[:topK]
	}

	out := make([]Result, len(cands))
	for i, c := range cands {
		out[i] = Result{Food: idx.Food(c.food), Confidence: c.conf}
	}
	return out, nil
}
