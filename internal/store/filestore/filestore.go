// Package filestore implements [store.Store] on two JSON documents in a
// directory: entries.json ({next_id, entries}) and goals.json. Each document
// has a .bak sibling holding the previous committed version.
//
// Every write first replaces the backup with the last committed bytes, then
// replaces the primary. Both replacements are atomic renames (renameio), so a
// reader never observes a partial file and the backup is always a complete
// earlier state.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/MrWong99/foodtracker/internal/observe"
	"github.com/MrWong99/foodtracker/internal/store"
	"github.com/MrWong99/foodtracker/pkg/food"
)

// File names inside the store directory.
const (
	EntriesFile = "entries.json"
	GoalsFile   = "goals.json"
	backupExt   = ".bak"
)

// WriteFunc atomically replaces path with data.
type WriteFunc func(path string, data []byte, perm os.FileMode) error

// Option configures a Store.
type Option func(*Store)

// WithMetrics records store writes and recoveries on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithWriteFunc replaces the atomic file writer. Tests use it to inject write
// failures.
func WithWriteFunc(w WriteFunc) Option {
	return func(s *Store) { s.write = w }
}

// entriesDoc is the on-disk layout of entries.json.
type entriesDoc struct {
	NextID  int64        `json:"next_id"`
	Entries []food.Entry `json:"entries"`
}

// Store is a JSON file backed [store.Store].
type Store struct {
	dir     string
	write   WriteFunc
	metrics *observe.Metrics

	mu       sync.RWMutex
	entries  []food.Entry
	nextID   int64
	goal     food.Goal
	recovery store.Recovery

	// Bytes of the last committed primary documents; written to the backups
	// before the next replace.
	lastEntries []byte
	lastGoal    []byte
}

var _ store.Store = (*Store)(nil)

// Open loads the store in dir, creating dir if needed. Unreadable documents
// fall back to their backups; if a backup is unreadable too, that document
// starts empty and the damaged files are moved aside with a .corrupt suffix.
func Open(ctx context.Context, dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, write: writeAtomic, nextID: 1}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}

	doc, rec, raw := loadDocument(s.path(EntriesFile), decodeEntries)
	s.entries, s.lastEntries = doc.Entries, raw
	s.nextID = max(doc.NextID, 1)
	for _, e := range s.entries {
		s.nextID = max(s.nextID, e.ID+1)
	}
	s.recovery = rec

	goal, rec, raw := loadDocument(s.path(GoalsFile), decodeGoal)
	s.goal, s.lastGoal = goal.Clone(), raw
	s.recovery = max(s.recovery, rec)

	if s.recovery != store.RecoveryNone {
		slog.Warn("filestore: opened with recovery", "dir", dir, "recovery", s.recovery.String())
		if s.metrics != nil {
			s.metrics.RecordStoreRecovery(ctx, s.recovery.String())
		}
	}
	return s, nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// Recovery implements store.Store.
func (s *Store) Recovery() store.Recovery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovery
}

// Close implements store.Store. It is a no-op; every write is already durable.
func (s *Store) Close() error { return nil }

// LoadAll implements store.Store.
func (s *Store) LoadAll(_ context.Context) ([]food.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneEntries(s.entries), nil
}

// AppendEntry implements store.Store.
func (s *Store) AppendEntry(ctx context.Context, e food.Entry) (food.Entry, error) {
	if err := e.Validate(); err != nil {
		return food.Entry{}, fmt.Errorf("filestore: append: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextID
	e.Food = e.Food.Clone()
	e.Timestamp = e.Timestamp.UTC()
	next := append(cloneEntries(s.entries), e)
	if err := s.commitEntries(ctx, "append", next, s.nextID+1); err != nil {
		return food.Entry{}, err
	}
	return cloneEntry(e), nil
}

// EditEntry implements store.Store.
func (s *Store) EditEntry(ctx context.Context, id int64, quantity float64) (food.Entry, error) {
	if err := food.ValidateQuantity(quantity); err != nil {
		return food.Entry{}, fmt.Errorf("filestore: edit: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return food.Entry{}, fmt.Errorf("filestore: edit entry %d: %w", id, food.ErrNotFound)
	}
	next := cloneEntries(s.entries)
	next[i].Quantity = quantity
	if err := s.commitEntries(ctx, "edit", next, s.nextID); err != nil {
		return food.Entry{}, err
	}
	return cloneEntry(next[i]), nil
}

// RemoveEntry implements store.Store.
func (s *Store) RemoveEntry(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(id)
	if i < 0 {
		return fmt.Errorf("filestore: remove entry %d: %w", id, food.ErrNotFound)
	}
	next := slices.Delete(cloneEntries(s.entries), i, i+1)
	return s.commitEntries(ctx, "remove", next, s.nextID)
}

// Goal implements store.Store.
func (s *Store) Goal(_ context.Context) (food.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.goal.Clone(), nil
}

// SetGoal implements store.Store.
func (s *Store) SetGoal(ctx context.Context, g food.Goal) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("filestore: set goal: %w", err)
	}
	g = g.Clone()
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode goal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(ctx, "set_goal", GoalsFile, data, &s.lastGoal); err != nil {
		return err
	}
	s.goal = g
	return nil
}

func (s *Store) find(id int64) int {
	return slices.IndexFunc(s.entries, func(e food.Entry) bool { return e.ID == id })
}

// commitEntries persists next and, only on success, makes it the in-memory
// state. Callers hold s.mu.
func (s *Store) commitEntries(ctx context.Context, op string, next []food.Entry, nextID int64) error {
	data, err := json.MarshalIndent(entriesDoc{NextID: nextID, Entries: next}, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode entries: %w", err)
	}
	if err := s.persist(ctx, op, EntriesFile, data, &s.lastEntries); err != nil {
		return err
	}
	s.entries, s.nextID = next, nextID
	return nil
}

// persist writes the previous committed bytes to the backup and data to the
// primary, retrying once. On success *last becomes data.
func (s *Store) persist(ctx context.Context, op, name string, data []byte, last *[]byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("filestore: %s: %w", op, err)
	}
	primary := s.path(name)
	attempt := func() error {
		if *last != nil {
			if err := s.write(primary+backupExt, *last, 0o644); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
		}
		if err := s.write(primary, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}

	err := attempt()
	if err != nil {
		slog.Warn("filestore: write failed, retrying", "op", op, "file", primary, "error", err)
		err = attempt()
	}
	if s.metrics != nil {
		s.metrics.RecordStoreWrite(ctx, op, err)
	}
	if err != nil {
		return fmt.Errorf("filestore: %s: %w", op, err)
	}
	*last = data
	return nil
}

// loadDocument reads path, falling back to path.bak. It returns the decoded
// value, the recovery taken and the raw bytes that are now the committed
// primary (nil when starting empty).
func loadDocument[T any](path string, decode func([]byte) (T, error)) (T, store.Recovery, []byte) {
	var zero T
	primary, perr := readDocument(path, decode)
	if perr == nil {
		return primary.value, store.RecoveryNone, primary.raw
	}

	backup, berr := readDocument(path+backupExt, decode)
	if errors.Is(perr, os.ErrNotExist) && errors.Is(berr, os.ErrNotExist) {
		return zero, store.RecoveryNone, nil
	}
	if berr == nil {
		slog.Warn("filestore: primary unreadable, using backup", "file", path, "error", perr)
		if err := writeAtomic(path, backup.raw, 0o644); err != nil {
			slog.Warn("filestore: could not restore primary from backup", "file", path, "error", err)
		}
		return backup.value, store.RecoveryFromBackup, backup.raw
	}

	slog.Error("filestore: primary and backup unreadable, starting empty",
		"file", path, "primary_error", perr, "backup_error", berr)
	stamp := time.Now().UTC().Format("20060102T150405")
	for _, p := range []string{path, path + backupExt} {
		if _, err := os.Stat(p); err == nil {
			_ = os.Rename(p, p+".corrupt-"+stamp)
		}
	}
	return zero, store.RecoveryReset, nil
}

type document[T any] struct {
	value T
	raw   []byte
}

func readDocument[T any](path string, decode func([]byte) (T, error)) (document[T], error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return document[T]{}, err
	}
	v, err := decode(raw)
	if err != nil {
		return document[T]{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return document[T]{value: v, raw: raw}, nil
}

func decodeEntries(raw []byte) (entriesDoc, error) {
	var doc entriesDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entriesDoc{}, err
	}
	seen := make(map[int64]bool, len(doc.Entries))
	for i, e := range doc.Entries {
		if e.ID <= 0 || seen[e.ID] {
			return entriesDoc{}, fmt.Errorf("entry %d: invalid or duplicate id %d", i, e.ID)
		}
		seen[e.ID] = true
	}
	return doc, nil
}

func decodeGoal(raw []byte) (food.Goal, error) {
	var g food.Goal
	if err := json.Unmarshal(raw, &g); err != nil {
		return food.Goal{}, err
	}
	return g, g.Validate()
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}

func cloneEntry(e food.Entry) food.Entry {
	e.Food = e.Food.Clone()
	return e
}

func cloneEntries(in []food.Entry) []food.Entry {
	out := make([]food.Entry, len(in))
	for i, e := range in {
		out[i] = cloneEntry(e)
	}
	return out
}
