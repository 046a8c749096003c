// Package dataset reads the reference food dataset and the user's custom
// foods file. Files are JSON or YAML, chosen by extension, and hold a list of
// foods.
package dataset

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// Format is a dataset serialisation.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

//go:embed foods.json
var builtin []byte

// Builtin returns the bundled reference dataset.
func Builtin() []food.Food {
	foods, err := Decode(bytes.NewReader(builtin), FormatJSON)
	if err != nil {
		panic("dataset: bundled foods.json is invalid: " + err.Error())
	}
	return foods
}

// FormatFor picks the format from path's extension. Unknown extensions fail.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("dataset: %s: unsupported extension, want .json, .yaml or .yml", path)
	}
}

// Load reads and validates the dataset at path. An empty path returns
// [Builtin].
func Load(path string) ([]food.Food, error) {
	if path == "" {
		return Builtin(), nil
	}
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()

	foods, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("dataset: %s: %w", path, err)
	}
	return foods, nil
}

// Decode reads a food list in the given format and validates every food.
// Unknown fields are rejected.
func Decode(r io.Reader, format Format) ([]food.Food, error) {
	var foods []food.Food
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&foods); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&foods); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	var errs []error
	for i, f := range foods {
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entry %d: %w", i, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return foods, nil
}

// Encode writes foods in the given format.
func Encode(w io.Writer, foods []food.Food, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(foods)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(foods); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("dataset: unknown format %q", format)
	}
}

// CustomFoods is the user's file of registered foods. A missing file is an
// empty list. Saves replace the file atomically.
type CustomFoods struct {
	path   string
	format Format
	mu     sync.Mutex
}

// NewCustomFoods returns the custom foods file at path. The format follows the
// extension.
func NewCustomFoods(path string) (*CustomFoods, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	return &CustomFoods{path: path, format: format}, nil
}

// Path returns the file location.
func (c *CustomFoods) Path() string { return c.path }

// Load returns the saved custom foods.
func (c *CustomFoods) Load() ([]food.Food, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	foods, err := Load(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return foods, err
}

// Save replaces the file with foods.
func (c *CustomFoods) Save(_ context.Context, foods []food.Food) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var buf bytes.Buffer
	if err := Encode(&buf, foods, c.format); err != nil {
		return fmt.Errorf("dataset: encode custom foods: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("dataset: create dir: %w", err)
	}
	if err := renameio.WriteFile(c.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("dataset: write custom foods: %w", err)
	}
	return nil
}
