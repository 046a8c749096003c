// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider maps a food description (and, for joint image/text
// models, a photo) to a dense float32 vector. Vectors from one provider share a
// single dimensionality and space; the corpus index and the matcher rely on
// that to compare query and reference vectors.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// Provider is the abstraction over any text-embedding backend.
//
// All embedding vectors returned by a single Provider instance must share the same
// dimensionality (returned by Dimensions). Vectors from providers with a different
// [Identity] must never be compared.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Empty text
	// fails with [food.ErrInvalidInput]; backend failures wrap
	// [food.ErrEmbeddingFailure].
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of text strings. The
	// returned slice has the same length as texts and the i-th element
	// corresponds to texts[i]. On error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced by
	// this provider. Zero means "not known until the first embedding".
	Dimensions() int

	// ModelID returns the provider-specific model identifier, including a
	// version where the backend has one.
	ModelID() string
}

// ImageEmbedder is implemented by providers whose model places images and text
// in one joint space.
type ImageEmbedder interface {
	// EmbedImage computes the embedding of encoded image bytes (png, jpeg or
	// gif). Bytes that are not a decodable image fail with
	// [food.ErrUnsupportedMedia].
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
}

// Loader is implemented by providers that own a model resource which must be
// loaded before first use. Load is idempotent.
type Loader interface {
	Load(ctx context.Context) error
}

// ImageCapability is implemented by wrappers that expose EmbedImage but only
// serve images when the wrapped provider does.
type ImageCapability interface {
	SupportsImage() bool
}

// SupportsImage reports whether p can embed image queries.
func SupportsImage(p Provider) bool {
	if c, ok := p.(ImageCapability); ok {
		return c.SupportsImage()
	}
	_, ok := p.(ImageEmbedder)
	return ok
}

// Identity returns the string that distinguishes vector spaces: the model id
// and dimensionality. Cached vectors are only reusable under an identical
// Identity.
func Identity(p Provider) string {
	return p.ModelID() + "/" + strconv.Itoa(p.Dimensions())
}

// ValidateText rejects text that is empty after trimming.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("embeddings: %w: text must not be empty", food.ErrInvalidInput)
	}
	return nil
}

// Failure wraps err from the named provider as an [food.ErrEmbeddingFailure].
// Context deadlines are reported as timeouts. Errors that already carry one of
// the taxonomy sentinels are returned with the provider prefix only.
func Failure(provider string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, food.ErrInvalidInput), errors.Is(err, food.ErrUnsupportedMedia),
		errors.Is(err, food.ErrEmbeddingFailure):
		return fmt.Errorf("%s: %w", provider, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: timed out: %w", provider, food.ErrEmbeddingFailure, err)
	default:
		return fmt.Errorf("%s: %w: %w", provider, food.ErrEmbeddingFailure, err)
	}
}
