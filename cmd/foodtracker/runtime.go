package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/MrWong99/foodtracker/internal/config"
	"github.com/MrWong99/foodtracker/internal/corpus"
	"github.com/MrWong99/foodtracker/internal/corpus/postgres"
	"github.com/MrWong99/foodtracker/internal/dataset"
	"github.com/MrWong99/foodtracker/internal/health"
	"github.com/MrWong99/foodtracker/internal/observe"
	"github.com/MrWong99/foodtracker/internal/resilience"
	"github.com/MrWong99/foodtracker/internal/store"
	"github.com/MrWong99/foodtracker/internal/store/filestore"
	"github.com/MrWong99/foodtracker/internal/store/sqlite"
	"github.com/MrWong99/foodtracker/internal/tracker"
	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// runtime owns everything a command needs: the provider, the corpus index,
// the store and the tracker over them.
type runtime struct {
	cfg      *config.Config
	provider embeddings.Provider
	cache    corpus.Cache
	store    store.Store
	tracker  *tracker.Tracker
	source   corpus.Source
	metrics  *observe.Metrics

	checkers []health.Checker
	closers  []func() error
}

// openProvider creates, wraps and loads the configured embeddings provider.
func (rt *runtime) openProvider(ctx context.Context) error {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, func(c func() error) { rt.closers = append(rt.closers, c) })

	breaker := resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			rt.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
	p, err := reg.Open(ctx, rt.cfg.Providers.Embeddings, breaker)
	if err != nil {
		return err
	}
	rt.provider = p
	if fb, ok := p.(*resilience.EmbeddingsFallback); ok {
		rt.checkers = append(rt.checkers, health.BreakerChecker(fb.States))
	}
	slog.Info("embeddings provider ready", "provider", p.ModelID(), "dimensions", p.Dimensions(),
		"image", embeddings.SupportsImage(p))
	return nil
}

// openCache selects the corpus cache backend. Must run after openProvider
// because the postgres cache is keyed by provider identity.
func (rt *runtime) openCache(ctx context.Context) error {
	switch rt.cfg.Corpus.Cache.Backend {
	case config.CacheNone:
		return nil
	case config.CachePostgres:
		pg, err := postgres.NewCache(ctx, rt.cfg.Corpus.Cache.PostgresDSN, embeddings.Identity(rt.provider))
		if err != nil {
			return err
		}
		rt.cache = pg
		rt.checkers = append(rt.checkers, health.Optional(health.PingChecker("corpus_cache", pg.Ping)))
		rt.closers = append(rt.closers, func() error { pg.Close(); return nil })
	default:
		rt.cache = &corpus.FileCache{Path: rt.cfg.CachePath()}
	}
	return nil
}

// openStore opens the configured entry store.
func (rt *runtime) openStore(ctx context.Context) error {
	dir := rt.cfg.StoreDir()
	var (
		st  store.Store
		err error
	)
	switch rt.cfg.Store.Backend {
	case config.StoreSQLite:
		st, err = sqlite.Open(ctx, filepath.Join(dir, sqlite.DefaultFile), sqlite.WithMetrics(rt.metrics))
	default:
		st, err = filestore.Open(ctx, dir, filestore.WithMetrics(rt.metrics))
	}
	if err != nil {
		return err
	}
	rt.store = st
	rt.checkers = append(rt.checkers, health.StoreChecker(st))
	return nil
}

// loadFoods returns the reference dataset followed by the user's custom foods.
func (rt *runtime) loadFoods() (all, custom []food.Food, saver *dataset.CustomFoods, err error) {
	base := dataset.Builtin()
	if p := rt.cfg.Corpus.DatasetPath; p != "" {
		if base, err = dataset.Load(config.ExpandHome(p)); err != nil {
			return nil, nil, nil, err
		}
	}
	saver, err = dataset.NewCustomFoods(rt.cfg.CustomFoodsPath())
	if err != nil {
		return nil, nil, nil, err
	}
	if custom, err = saver.Load(); err != nil {
		return nil, nil, nil, fmt.Errorf("load custom foods: %w", err)
	}
	all = append(append([]food.Food(nil), base...), custom...)
	return all, custom, saver, nil
}

// openRuntime builds the full stack in dependency order. On error everything
// opened so far is closed.
func openRuntime(ctx context.Context, c *config.Config) (_ *runtime, err error) {
	rt := &runtime{cfg: c, metrics: observe.DefaultMetrics()}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if err := rt.openProvider(ctx); err != nil {
		return nil, err
	}
	if err := rt.openCache(ctx); err != nil {
		return nil, err
	}
	foods, custom, saver, err := rt.loadFoods()
	if err != nil {
		return nil, err
	}

	build := corpus.BuildOptions{
		BatchSize:   c.Corpus.BatchSize,
		Concurrency: c.Corpus.Concurrency,
		Metrics:     rt.metrics,
	}
	idx, source, err := corpus.LoadOrBuild(ctx, rt.cache, foods, rt.provider, build)
	if err != nil {
		return nil, err
	}
	rt.source = source

	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}

	rt.tracker, err = tracker.New(ctx, rt.provider, idx, rt.store,
		tracker.WithMatcher(tracker.MatcherSettings{TopK: c.Matcher.TopK, MinConfidence: c.Matcher.Threshold()}),
		tracker.WithEmbedTimeout(c.Providers.Embeddings.Timeout),
		tracker.WithCustomFoods(saver, custom),
		tracker.WithCache(rt.cache),
		tracker.WithBuildOptions(build),
		tracker.WithMetrics(rt.metrics),
	)
	if err != nil {
		return nil, err
	}
	rt.checkers = append(rt.checkers, health.CorpusChecker(rt.tracker.Index))
	return rt, nil
}

// Close releases the store and every provider resource. Safe on a partially
// opened runtime.
func (rt *runtime) Close() error {
	var errs []error
	if rt.tracker != nil {
		errs = append(errs, rt.tracker.Close())
	} else if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	return errors.Join(errs...)
}
