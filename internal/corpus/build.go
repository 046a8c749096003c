package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/foodtracker/internal/observe"
	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// Default build parameters.
const (
	DefaultBatchSize   = 64
	DefaultConcurrency = 4
)

// BuildOptions tunes [Build]. Zero fields take their defaults.
type BuildOptions struct {
	// BatchSize is the number of row texts per EmbedBatch call.
	BatchSize int

	// Concurrency bounds the number of EmbedBatch calls in flight.
	Concurrency int

	// Metrics receives build and embedding measurements. Nil disables them.
	Metrics *observe.Metrics
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// ValidateFoods checks every food and rejects duplicate names (compared after
// trimming and lower-casing). The error wraps [food.ErrInvalidInput].
func ValidateFoods(foods []food.Food) error {
	var errs []error
	seen := make(map[string]int, len(foods))
	for i, f := range foods {
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("food %d: %w", i, err))
			continue
		}
		key := normalize(f.Name)
		if j, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("%w: food %d: name %q duplicates food %d", food.ErrInvalidInput, i, f.Name, j))
			continue
		}
		seen[key] = i
	}
	return errors.Join(errs...)
}

// Build embeds every row of foods with p and returns the resulting index.
//
// Row texts are embedded in batches of opts.BatchSize with at most
// opts.Concurrency batches in flight. Build is all-or-nothing: the first
// provider error, a missing vector or a dimensionality disagreement cancels
// the remaining batches and fails with [food.ErrEmbeddingFailure]. Invalid
// foods fail with [food.ErrInvalidInput] before anything is embedded.
func Build(ctx context.Context, foods []food.Food, p embeddings.Provider, opts BuildOptions) (_ *Index, err error) {
	opts = opts.withDefaults()
	if err := ValidateFoods(foods); err != nil {
		return nil, fmt.Errorf("corpus: build: %w", err)
	}

	ctx, span := observe.StartSpan(ctx, "corpus.Build")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	rows := RowsFor(foods)
	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = r.Text
	}

	id := embeddings.Identity(p)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for lo := 0; lo < len(texts); lo += opts.BatchSize {
		hi := min(lo+opts.BatchSize, len(texts))
		g.Go(func() error {
			batchStart := time.Now()
			vecs, err := p.EmbedBatch(gctx, texts[lo:hi])
			if opts.Metrics != nil {
				opts.Metrics.RecordEmbed(gctx, p.ModelID(), "batch", time.Since(batchStart), err)
			}
			if err != nil {
				return fmt.Errorf("rows %d-%d: %w", lo, hi-1, err)
			}
			if len(vecs) != hi-lo {
				return fmt.Errorf("rows %d-%d: provider returned %d vectors", lo, hi-1, len(vecs))
			}
			for i, v := range vecs {
				rows[lo+i].Vector = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, buildFailure(err)
	}

	want := p.Dimensions()
	for i, r := range rows {
		switch {
		case len(r.Vector) == 0:
			return nil, buildFailure(fmt.Errorf("row %d (%q): empty vector", i, r.Text))
		case want > 0 && len(r.Vector) != want:
			return nil, buildFailure(fmt.Errorf("row %d (%q): dimension %d, provider reports %d", i, r.Text, len(r.Vector), want))
		case hasNaN(r.Vector):
			return nil, buildFailure(fmt.Errorf("row %d (%q): vector contains NaN", i, r.Text))
		}
	}

	ix, err := New(foods, rows, id)
	if err != nil {
		return nil, buildFailure(err)
	}

	elapsed := time.Since(start)
	if opts.Metrics != nil {
		opts.Metrics.CorpusBuildDuration.Record(ctx, elapsed.Seconds())
	}
	slog.Debug("corpus built", "foods", len(foods), "rows", len(rows), "provider", id, "elapsed", elapsed)
	return ix, nil
}

func buildFailure(err error) error {
	if errors.Is(err, food.ErrEmbeddingFailure) {
		return fmt.Errorf("corpus: build: %w", err)
	}
	return fmt.Errorf("corpus: build: %w: %w", food.ErrEmbeddingFailure, err)
}

func hasNaN(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) {
			return true
		}
	}
	return false
}
