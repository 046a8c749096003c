package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foodtracker/internal/corpus"
	"github.com/MrWong99/foodtracker/internal/observe"
)

var precomputeCmd = &cobra.Command{
	Use:   "precompute",
	Short: "Embed the food corpus and write the vector cache",
	Long: `Build the corpus index with the configured provider and save it to
the configured cache backend, so later starts skip the build. The cache
is rebuilt even when a valid one exists.`,
	Args: cobra.NoArgs,
	RunE: runPrecompute,
}

func init() {
	rootCmd.AddCommand(precomputeCmd)
}

func runPrecompute(cmd *cobra.Command, _ []string) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt := &runtime{cfg: cfg, metrics: observe.DefaultMetrics()}
	defer func() { err = errors.Join(err, rt.Close()) }()

	if err := rt.openProvider(ctx); err != nil {
		return err
	}
	if err := rt.openCache(ctx); err != nil {
		return err
	}
	if rt.cache == nil {
		return fmt.Errorf("corpus.cache.backend is %q; nothing to precompute", cfg.Corpus.Cache.Backend)
	}
	foods, _, _, err := rt.loadFoods()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Computing embeddings for %d foods with %s...\n", len(foods), rt.provider.ModelID())
	ix, err := corpus.Build(ctx, foods, rt.provider, corpus.BuildOptions{
		BatchSize:   cfg.Corpus.BatchSize,
		Concurrency: cfg.Corpus.Concurrency,
		Metrics:     rt.metrics,
	})
	if err != nil {
		return err
	}
	if err := rt.cache.Save(ctx, ix.Snapshot()); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d rows (%d dimensions) to the %s cache\n",
		len(ix.Rows()), ix.Dimensions(), cfg.Corpus.Cache.Backend)
	return nil
}
