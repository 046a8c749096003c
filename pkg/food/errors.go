package food

import "errors"

// Error taxonomy shared across the module. Callers classify failures with
// errors.Is; every package wraps these with its own context.
var (
	// ErrInvalidInput reports a caller error: empty text, an out-of-range
	// quantity, a non-positive top_k, a malformed food.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedMedia reports an image query the active provider cannot
	// serve, or image bytes that do not decode as a supported raster format.
	ErrUnsupportedMedia = errors.New("unsupported media")

	// ErrEmbeddingFailure reports that the embedding backend failed. It is
	// retryable by the caller.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrNotFound reports an edit or remove of an entry id that does not exist.
	ErrNotFound = errors.New("not found")
)
