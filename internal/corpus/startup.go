package corpus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// Source reports where [LoadOrBuild] got its index from.
type Source string

const (
	SourceCache Source = "cache"
	SourceBuilt Source = "built"
)

// LoadOrBuild performs the two-phase corpus startup: try c, and on a cache
// miss build from scratch and save the result back. A nil c always builds.
//
// Save failures are logged and otherwise ignored; the built index is still
// returned. The decision is logged once.
func LoadOrBuild(ctx context.Context, c Cache, foods []food.Food, p embeddings.Provider, opts BuildOptions) (*Index, Source, error) {
	if c != nil {
		ix, err := LoadCached(ctx, c, foods, p)
		switch {
		case err == nil:
			lookup(ctx, opts, "hit", ix)
			slog.Info("corpus index loaded from cache",
				"foods", ix.Len(), "rows", len(ix.Rows()), "provider", ix.ProviderID())
			return ix, SourceCache, nil
		case errors.Is(err, errCacheRead):
			lookup(ctx, opts, "error", nil)
			slog.Warn("corpus cache unreadable, rebuilding", "error", err)
		default:
			lookup(ctx, opts, "miss", nil)
			slog.Info("corpus cache miss, rebuilding", "reason", err)
		}
	}

	ix, err := Build(ctx, foods, p, opts)
	if err != nil {
		return nil, "", err
	}
	if opts.Metrics != nil {
		opts.Metrics.CorpusRows.Record(ctx, int64(len(ix.Rows())))
	}
	if c != nil {
		if err := c.Save(ctx, ix.Snapshot()); err != nil {
			slog.Warn("corpus cache save failed, continuing in memory", "error", err)
		}
	}
	slog.Info("corpus index built",
		"foods", ix.Len(), "rows", len(ix.Rows()), "provider", ix.ProviderID())
	return ix, SourceBuilt, nil
}

func lookup(ctx context.Context, opts BuildOptions, result string, ix *Index) {
	if opts.Metrics == nil {
		return
	}
	opts.Metrics.RecordCacheLookup(ctx, result)
	if ix != nil {
		opts.Metrics.CorpusRows.Record(ctx, int64(len(ix.Rows())))
	}
}
