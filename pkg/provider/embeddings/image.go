package embeddings

import (
	"bytes"
	"fmt"
	"image"

	// Register the raster decoders accepted for image queries.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// MaxImageBytes caps the size of an image query.
const MaxImageBytes = 20 << 20

// ValidateImage checks that data is a decodable raster image and returns its
// format name ("png", "jpeg", "gif").
func ValidateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("embeddings: %w: empty image", food.ErrUnsupportedMedia)
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("embeddings: %w: image exceeds %d bytes", food.ErrUnsupportedMedia, MaxImageBytes)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("embeddings: %w: %w", food.ErrUnsupportedMedia, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("embeddings: %w: image has no pixels", food.ErrUnsupportedMedia)
	}
	return format, nil
}
