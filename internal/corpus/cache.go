package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/MrWong99/foodtracker/pkg/food"
	"github.com/MrWong99/foodtracker/pkg/provider/embeddings"
)

// SnapshotVersion is the current persisted snapshot format.
const SnapshotVersion = 1

// ErrCacheMiss signals that no usable snapshot exists. It is never surfaced by
// [LoadOrBuild]; callers rebuild instead.
var ErrCacheMiss = errors.New("corpus: cache miss")

// errCacheRead marks misses caused by an unreadable cache rather than an
// absent or stale one.
var errCacheRead = errors.New("cache unreadable")

// Snapshot is the persisted form of an [Index].
type Snapshot struct {
	Version     int           `json:"version"`
	ProviderID  string        `json:"provider_id"`
	Dimensions  int           `json:"dimensions"`
	Fingerprint string        `json:"fingerprint"`
	CreatedAt   time.Time     `json:"created_at"`
	Rows        []SnapshotRow `json:"rows"`
}

// SnapshotRow is one persisted row. Text is not stored; it is recomputed from
// the dataset and compared through the fingerprint.
type SnapshotRow struct {
	Food   int       `json:"food"`
	Alias  string    `json:"alias,omitempty"`
	Vector []float32 `json:"vector"`
}

// Snapshot returns the persisted form of ix.
func (ix *Index) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:     SnapshotVersion,
		ProviderID:  ix.ProviderID(),
		Dimensions:  ix.Dimensions(),
		Fingerprint: ix.Fingerprint(),
		CreatedAt:   time.Now().UTC(),
		Rows:        make([]SnapshotRow, len(ix.Rows())),
	}
	for i, r := range ix.Rows() {
		s.Rows[i] = SnapshotRow{Food: r.Food, Alias: r.Alias, Vector: r.Vector}
	}
	return s
}

// Cache persists snapshots between runs.
type Cache interface {
	// Load returns the stored snapshot, or an error wrapping [ErrCacheMiss]
	// when none exists.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, s *Snapshot) error
}

// LoadCached loads a snapshot from c and turns it into an index for foods
// under provider p. Any absence, decode failure or mismatch (format version,
// provider identity, dimensionality, fingerprint, row layout) yields an error
// wrapping [ErrCacheMiss]; a snapshot is never partially reused.
func LoadCached(ctx context.Context, c Cache, foods []food.Food, p embeddings.Provider) (*Index, error) {
	snap, err := c.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w: %w", ErrCacheMiss, errCacheRead, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: empty snapshot", ErrCacheMiss)
	}

	id := embeddings.Identity(p)
	switch {
	case snap.Version != SnapshotVersion:
		return nil, fmt.Errorf("%w: snapshot version %d, want %d", ErrCacheMiss, snap.Version, SnapshotVersion)
	case snap.ProviderID != id:
		return nil, fmt.Errorf("%w: provider %q, want %q", ErrCacheMiss, snap.ProviderID, id)
	case p.Dimensions() > 0 && snap.Dimensions != p.Dimensions():
		return nil, fmt.Errorf("%w: dimensions %d, want %d", ErrCacheMiss, snap.Dimensions, p.Dimensions())
	case snap.Fingerprint != Fingerprint(foods, id):
		return nil, fmt.Errorf("%w: dataset fingerprint changed", ErrCacheMiss)
	}

	rows := RowsFor(foods)
	if len(snap.Rows) != len(rows) {
		return nil, fmt.Errorf("%w: %d rows, want %d", ErrCacheMiss, len(snap.Rows), len(rows))
	}
	for i, sr := range snap.Rows {
		if sr.Food != rows[i].Food || sr.Alias != rows[i].Alias {
			return nil, fmt.Errorf("%w: row %d layout mismatch", ErrCacheMiss, i)
		}
		if len(sr.Vector) != snap.Dimensions || hasNaN(sr.Vector) {
			return nil, fmt.Errorf("%w: row %d: malformed vector", ErrCacheMiss, i)
		}
		rows[i].Vector = sr.Vector
	}

	ix, err := New(foods, rows, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheMiss, err)
	}
	return ix, nil
}

// FileCache stores a snapshot as a JSON file. Writes are atomic: a reader sees
// either the previous file or the new one.
type FileCache struct {
	Path string
}

var _ Cache = (*FileCache)(nil)

// Load implements Cache.
func (c *FileCache) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrCacheMiss, c.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("corpus: read cache: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corpus: decode cache %s: %w", c.Path, err)
	}
	return &s, nil
}

// Save implements Cache.
func (c *FileCache) Save(_ context.Context, s *Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("corpus: encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return fmt.Errorf("corpus: create cache dir: %w", err)
	}
	if err := renameio.WriteFile(c.Path, data, 0o644); err != nil {
		return fmt.Errorf("corpus: write cache: %w", err)
	}
	return nil
}
