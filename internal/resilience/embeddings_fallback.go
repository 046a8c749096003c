package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with failover across
// replicas of one embedding model. Replicas must produce vectors in the same
// space: Load rejects a group whose loaded replicas report different model ids
// or dimensions.
//
// Caller errors ([food.ErrInvalidInput], [food.ErrUnsupportedMedia]) are
// returned from the first replica without failover.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]

	// Set by Load from the first replica that loaded.
	modelID string
	dims    int
}

var (
	_ embeddings.Provider        = (*EmbeddingsFallback)(nil)
	_ embeddings.ImageEmbedder   = (*EmbeddingsFallback)(nil)
	_ embeddings.ImageCapability = (*EmbeddingsFallback)(nil)
	_ embeddings.Loader          = (*EmbeddingsFallback)(nil)
)

// ErrReplicaMismatch is returned by Load when replicas disagree on the model.
var ErrReplicaMismatch = errors.New("embedding replicas serve different models")

// IsCallerError reports whether err is a caller error that no replica can fix.
func IsCallerError(err error) bool {
	return errors.Is(err, food.ErrInvalidInput) || errors.Is(err, food.ErrUnsupportedMedia)
}

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred replica.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	if cfg.Permanent == nil {
		cfg.Permanent = IsCallerError
	}
	return &EmbeddingsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional replica.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// States returns the breaker state per replica.
func (f *EmbeddingsFallback) States() map[string]State {
	return f.group.States()
}

// Snapshots returns the breaker snapshot per replica.
func (f *EmbeddingsFallback) Snapshots() map[string]Snapshot {
	return f.group.Snapshots()
}

// Load loads every replica that implements [embeddings.Loader]. It fails when
// no replica could load, or when the loaded replicas disagree on ModelID or
// Dimensions.
func (f *EmbeddingsFallback) Load(ctx context.Context) error {
	var (
		loaded   int
		errs     []error
		refID    string
		refDims  int
		refName  string
		mismatch error
	)
	_ = f.group.Each(func(name string, p embeddings.Provider) error {
		if l, ok := p.(embeddings.Loader); ok {
			if err := l.Load(ctx); err != nil {
				slog.Warn("embedding replica failed to load", "replica", name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return nil
			}
		}
		loaded++
		if refName == "" {
			refName, refID, refDims = name, p.ModelID(), p.Dimensions()
			return nil
		}
		if p.ModelID() != refID || p.Dimensions() != refDims {
			mismatch = fmt.Errorf("resilience: %w: %s is %s/%d, %s is %s/%d",
				ErrReplicaMismatch, refName, refID, refDims, name, p.ModelID(), p.Dimensions())
			return mismatch
		}
		return nil
	})
	if mismatch != nil {
		return mismatch
	}
	if loaded == 0 {
		return fmt.Errorf("resilience: no embedding replica loaded: %w", errors.Join(errs...))
	}
	f.modelID, f.dims = refID, refDims
	return nil
}

// Embed implements embeddings.Provider.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := Call(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
	return v, classify(err)
}

// EmbedBatch implements embeddings.Provider.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vs, err := Call(ctx, f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
	return vs, classify(err)
}

// EmbedImage implements embeddings.ImageEmbedder. Replicas without image
// support are skipped.
func (f *EmbeddingsFallback) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if !f.SupportsImage() {
		return nil, fmt.Errorf("resilience: %w: model %s has no image support", food.ErrUnsupportedMedia, f.ModelID())
	}
	v, err := Call(ctx, f.group, func(p embeddings.Provider) ([]float32, error) {
		ie, ok := p.(embeddings.ImageEmbedder)
		if !ok {
			return nil, fmt.Errorf("%w: replica has no image support", food.ErrEmbeddingFailure)
		}
		return ie.EmbedImage(ctx, data)
	})
	return v, classify(err)
}

// SupportsImage implements embeddings.ImageCapability using the primary.
func (f *EmbeddingsFallback) SupportsImage() bool {
	return embeddings.SupportsImage(f.group.Primary())
}

// Dimensions returns the dimensionality verified by Load, or the primary's
// before Load.
func (f *EmbeddingsFallback) Dimensions() int {
	if f.modelID != "" {
		return f.dims
	}
	return f.group.Primary().Dimensions()
}

// ModelID returns the model id verified by Load, or the primary's before Load.
func (f *EmbeddingsFallback) ModelID() string {
	if f.modelID != "" {
		return f.modelID
	}
	return f.group.Primary().ModelID()
}

// classify makes sure every non-caller failure carries food.ErrEmbeddingFailure,
// including the all-breakers-open case.
func classify(err error) error {
	if err == nil || IsCallerError(err) || errors.Is(err, food.ErrEmbeddingFailure) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", food.ErrEmbeddingFailure, err)
}
