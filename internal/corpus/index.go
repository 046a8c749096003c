// Package corpus materialises the reference food dataset into embedding
// vectors and persists that computation between runs.
//
// An [Index] is immutable once [Build], [LoadCached] or [New] returns it. Any
// change to the dataset or the embedding provider produces a new Index through
// a full rebuild; there is no incremental patching, so every vector in one
// Index comes from the same provider identity.
//
// Startup is two-phase: [LoadOrBuild] first tries a [Cache] and falls back to
// [Build] followed by a best-effort save.
package corpus

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// Row is one embedded corpus entry. Every food has a primary row (Alias empty)
// whose text is [Describe] of the food, plus one row per non-empty alias.
type Row struct {
	// Food is the position of the owning food in the index.
	Food int

	// Alias is the alias this row embeds, or "" for the primary row.
	Alias string

	// Text is the exact string that was embedded.
	Text string

	// Vector is the embedding of Text.
	Vector []float32
}

// Index maps every reference food to its embedded rows.
//
// Index is safe for concurrent readers. Rows returns the shared backing slice;
// callers must not modify it.
type Index struct {
	foods       []food.Food
	rows        []Row
	dims        int
	fingerprint string
	providerID  string
}

// New assembles an index from already embedded rows. Rows must reference valid
// food positions and share one non-zero dimensionality. The fingerprint is
// computed from foods and providerID. New copies rows and their vectors, so
// the caller keeps ownership of its slices.
func New(foods []food.Food, rows []Row, providerID string) (*Index, error) {
	dims := 0
	owned := make([]Row, len(rows))
	for i, r := range rows {
		if r.Food < 0 || r.Food >= len(foods) {
			return nil, fmt.Errorf("corpus: row %d: food index %d out of range", i, r.Food)
		}
		if len(r.Vector) == 0 {
			return nil, fmt.Errorf("corpus: row %d: empty vector", i)
		}
		if dims == 0 {
			dims = len(r.Vector)
		} else if len(r.Vector) != dims {
			return nil, fmt.Errorf("corpus: row %d: dimension %d, want %d", i, len(r.Vector), dims)
		}
		r.Vector = slices.Clone(r.Vector)
		owned[i] = r
	}
	return &Index{
		foods:       cloneFoods(foods),
		rows:        owned,
		dims:        dims,
		fingerprint: Fingerprint(foods, providerID),
		providerID:  providerID,
	}, nil
}

// Len returns the number of foods. A nil Index is empty.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.foods)
}

// Foods returns a deep copy of the indexed foods in insertion order.
func (ix *Index) Foods() []food.Food {
	if ix == nil {
		return nil
	}
	return cloneFoods(ix.foods)
}

// Food returns a copy of the i-th food.
func (ix *Index) Food(i int) food.Food {
	return ix.foods[i].Clone()
}

// Rows returns the embedded rows. The slice is shared; treat it as read-only.
func (ix *Index) Rows() []Row {
	if ix == nil {
		return nil
	}
	return ix.rows
}

// Dimensions returns the vector length shared by every row, or 0 for an empty
// index.
func (ix *Index) Dimensions() int {
	if ix == nil {
		return 0
	}
	return ix.dims
}

// Fingerprint returns the content fingerprint the index was built for.
func (ix *Index) Fingerprint() string {
	if ix == nil {
		return ""
	}
	return ix.fingerprint
}

// ProviderID returns the [embeddings.Identity] of the provider that produced
// the vectors.
func (ix *Index) ProviderID() string {
	if ix == nil {
		return ""
	}
	return ix.providerID
}

// Describe composes the text embedded for a food's primary row:
// "<name> | <alias1>, <alias2> | <serving size>". Empty segments are omitted.
func Describe(f food.Food) string {
	parts := make([]string, 0, 3)
	if name := strings.TrimSpace(f.Name); name != "" {
		parts = append(parts, name)
	}
	aliases := make([]string, 0, len(f.Aliases))
	for _, a := range f.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			aliases = append(aliases, a)
		}
	}
	if len(aliases) > 0 {
		parts = append(parts, strings.Join(aliases, ", "))
	}
	if s := strings.TrimSpace(f.ServingSize); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " | ")
}

// RowsFor lays out the rows (without vectors) that an index over foods
// contains, in order: for each food its primary row, then its aliases.
func RowsFor(foods []food.Food) []Row {
	rows := make([]Row, 0, len(foods)*2)
	for i, f := range foods {
		rows = append(rows, Row{Food: i, Text: Describe(f)})
		for _, a := range f.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				rows = append(rows, Row{Food: i, Alias: a, Text: a})
			}
		}
	}
	return rows
}

func cloneFoods(foods []food.Food) []food.Food {
	out := make([]food.Food, len(foods))
	for i, f := range foods {
		out[i] = f.Clone()
	}
	return out
}
