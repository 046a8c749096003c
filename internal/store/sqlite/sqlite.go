// Package sqlite implements [store.Store] on a single SQLite database using
// the pure-Go modernc.org/sqlite driver.
//
// After every committed mutation the database is copied to <path>.bak with
// VACUUM INTO a temporary file followed by a rename, so the backup is always a
// complete, consistent database. On open, a failed PRAGMA quick_check restores
// the backup; if the backup is damaged as well both files are moved aside and
// a fresh database is created.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/foodtracker/internal/observe"
	"github.com/MrWong99/foodtracker/internal/store"
	"github.com/MrWong99/foodtracker/pkg/food"
)

// DefaultFile is the database file name used inside a store directory.
const DefaultFile = "foodtracker.db"

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    food       TEXT    NOT NULL,
    quantity   REAL    NOT NULL,
    timestamp  TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS goal (
    id        INTEGER PRIMARY KEY CHECK (id = 1),
    calories  REAL,
    macros    TEXT    NOT NULL DEFAULT '{}'
);
`

// Option configures a Store.
type Option func(*Store)

// WithMetrics records store writes and recoveries on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is a SQLite backed [store.Store].
type Store struct {
	path     string
	db       *sql.DB
	metrics  *observe.Metrics
	recovery store.Recovery

	// mu serialises writers and the backup that follows each commit.
	mu sync.Mutex
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path, recovering from the backup when
// the integrity check fails.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{path: path}
	for _, o := range opts {
		o(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create dir: %w", err)
	}
	rec, err := prepare(ctx, path)
	if err != nil {
		return nil, err
	}
	s.recovery = rec

	db, err := openDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	s.db = db

	if rec != store.RecoveryNone {
		slog.Warn("sqlite store: opened with recovery", "path", path, "recovery", rec.String())
		if s.metrics != nil {
			s.metrics.RecordStoreRecovery(ctx, rec.String())
		}
	}
	return s, nil
}

// prepare makes sure path holds a healthy database (or nothing), restoring
// from the backup or moving damaged files aside.
func prepare(ctx context.Context, path string) (store.Recovery, error) {
	backup := path + ".bak"
	perr := check(ctx, path)
	if perr == nil {
		return store.RecoveryNone, nil
	}
	if errors.Is(perr, os.ErrNotExist) {
		if _, err := os.Stat(backup); errors.Is(err, os.ErrNotExist) {
			return store.RecoveryNone, nil
		}
	}

	berr := check(ctx, backup)
	stamp := time.Now().UTC().Format("20060102T150405")
	if berr == nil {
		slog.Warn("sqlite store: database unreadable, restoring backup", "path", path, "error", perr)
		moveAside(path, stamp)
		if err := copyFile(backup, path); err != nil {
			return 0, fmt.Errorf("sqlite store: restore backup: %w", err)
		}
		return store.RecoveryFromBackup, nil
	}

	slog.Error("sqlite store: database and backup unreadable, starting empty",
		"path", path, "primary_error", perr, "backup_error", berr)
	moveAside(path, stamp)
	moveAside(backup, stamp)
	return store.RecoveryReset, nil
}

// check opens path read-only and runs PRAGMA quick_check.
func check(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer db.Close()
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check: %s", result)
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	// One connection keeps writes and VACUUM INTO strictly ordered.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

func moveAside(path, stamp string) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".corrupt-"+stamp)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Recovery implements store.Store.
func (s *Store) Recovery() store.Recovery { return s.recovery }

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

// LoadAll implements store.Store.
func (s *Store) LoadAll(ctx context.Context) ([]food.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, food, quantity, timestamp FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: load entries: %w", err)
	}
	defer rows.Close()

	var out []food.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: iterate entries: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (food.Entry, error) {
	var (
		e       food.Entry
		rawFood string
		ts      string
	)
	if err := sc.Scan(&e.ID, &rawFood, &e.Quantity, &ts); err != nil {
		return food.Entry{}, fmt.Errorf("sqlite store: scan entry: %w", err)
	}
	if err := json.Unmarshal([]byte(rawFood), &e.Food); err != nil {
		return food.Entry{}, fmt.Errorf("sqlite store: decode food of entry %d: %w", e.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return food.Entry{}, fmt.Errorf("sqlite store: decode timestamp of entry %d: %w", e.ID, err)
	}
	e.Timestamp = t.UTC()
	return e, nil
}

// AppendEntry implements store.Store.
func (s *Store) AppendEntry(ctx context.Context, e food.Entry) (food.Entry, error) {
	if err := e.Validate(); err != nil {
		return food.Entry{}, fmt.Errorf("sqlite store: append: %w", err)
	}
	e.Food = e.Food.Clone()
	e.Timestamp = e.Timestamp.UTC()
	rawFood, err := json.Marshal(e.Food)
	if err != nil {
		return food.Entry{}, fmt.Errorf("sqlite store: encode food: %w", err)
	}

	err = s.mutate(ctx, "append", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entries (food, quantity, timestamp) VALUES (?, ?, ?)`,
			string(rawFood), e.Quantity, e.Timestamp.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		e.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return food.Entry{}, err
	}
	return e, nil
}

// EditEntry implements store.Store.
func (s *Store) EditEntry(ctx context.Context, id int64, quantity float64) (food.Entry, error) {
	if err := food.ValidateQuantity(quantity); err != nil {
		return food.Entry{}, fmt.Errorf("sqlite store: edit: %w", err)
	}
	var out food.Entry
	err := s.mutate(ctx, "edit", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE entries SET quantity = ? WHERE id = ?`, quantity, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("entry %d: %w", id, food.ErrNotFound)
		}
		out, err = scanEntry(tx.QueryRowContext(ctx,
			`SELECT id, food, quantity, timestamp FROM entries WHERE id = ?`, id))
		return err
	})
	return out, err
}

// RemoveEntry implements store.Store.
func (s *Store) RemoveEntry(ctx context.Context, id int64) error {
	return s.mutate(ctx, "remove", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("entry %d: %w", id, food.ErrNotFound)
		}
		return nil
	})
}

// Goal implements store.Store.
func (s *Store) Goal(ctx context.Context) (food.Goal, error) {
	var (
		cal    sql.NullFloat64
		macros string
	)
	err := s.db.QueryRowContext(ctx, `SELECT calories, macros FROM goal WHERE id = 1`).Scan(&cal, &macros)
	if errors.Is(err, sql.ErrNoRows) {
		return food.Goal{}.Clone(), nil
	}
	if err != nil {
		return food.Goal{}, fmt.Errorf("sqlite store: load goal: %w", err)
	}
	var g food.Goal
	if err := json.Unmarshal([]byte(macros), &g.Macronutrients); err != nil {
		return food.Goal{}, fmt.Errorf("sqlite store: decode goal: %w", err)
	}
	if cal.Valid {
		g.Calories = &cal.Float64
	}
	return g.Clone(), nil
}

// SetGoal implements store.Store.
func (s *Store) SetGoal(ctx context.Context, g food.Goal) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("sqlite store: set goal: %w", err)
	}
	g = g.Clone()
	macros, err := json.Marshal(g.Macronutrients)
	if err != nil {
		return fmt.Errorf("sqlite store: encode goal: %w", err)
	}
	var cal sql.NullFloat64
	if g.Calories != nil {
		cal = sql.NullFloat64{Float64: *g.Calories, Valid: true}
	}
	return s.mutate(ctx, "set_goal", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO goal (id, calories, macros) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET calories = excluded.calories, macros = excluded.macros`,
			cal, string(macros))
		return err
	})
}

// mutate runs fn in a transaction, retrying once on failure, then refreshes
// the backup. Not-found errors are returned without retry.
func (s *Store) mutate(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}

	err := attempt()
	if err != nil && !errors.Is(err, food.ErrNotFound) && ctx.Err() == nil {
		slog.Warn("sqlite store: write failed, retrying", "op", op, "error", err)
		err = attempt()
	}
	if errors.Is(err, food.ErrNotFound) {
		return fmt.Errorf("sqlite store: %s: %w", op, err)
	}
	if s.metrics != nil {
		s.metrics.RecordStoreWrite(ctx, op, err)
	}
	if err != nil {
		return fmt.Errorf("sqlite store: %s: %w", op, err)
	}

	if err := s.backup(ctx); err != nil {
		slog.Warn("sqlite store: backup failed", "path", s.path, "error", err)
	}
	return nil
}

// backup copies the database to path.bak. Callers hold s.mu.
func (s *Store) backup(ctx context.Context) error {
	tmp := s.path + ".bak.tmp"
	_ = os.Remove(tmp)
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, tmp); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	if err := os.Rename(tmp, s.path+".bak"); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}
