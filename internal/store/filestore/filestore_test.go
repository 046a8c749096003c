package filestore_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/foodtracker/internal/store"
	"github.com/MrWong99/foodtracker/internal/store/filestore"
	"github.com/MrWong99/foodtracker/internal/store/storetest"
	"github.com/MrWong99/foodtracker/pkg/food"
)

func open(t *testing.T, dir string, opts ...filestore.Option) *filestore.Store {
	t.Helper()
	s, err := filestore.Open(context.Background(), dir, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func entry(t *testing.T, name string) food.Entry {
	t.Helper()
	e, err := food.NewEntry(food.Food{Name: name, Calories: 50}, 1, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, dir string) store.Store { return open(t, dir) })
}

// ── Recovery ────────────────────────────────────────────────────────────────

func TestOpen_RecoversFromBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := open(t, dir)
	for _, n := range []string{"a", "b"} {
		if _, err := s.AppendEntry(ctx, entry(t, n)); err != nil {
			t.Fatal(err)
		}
	}
	// The backup now holds the state after "a".
	primary := filepath.Join(dir, filestore.EntriesFile)
	if err := os.WriteFile(primary, []byte(`{"next_id": 3, "entries": [`), 0o644); err != nil {
		t.Fatal(err)
	}

	s = open(t, dir)
	if s.Recovery() != store.RecoveryFromBackup {
		t.Fatalf("Recovery = %v, want backup", s.Recovery())
	}
	all, _ := s.LoadAll(ctx)
	if len(all) != 1 || all[0].Food.Name != "a" {
		t.Fatalf("entries = %+v, want the one-entry backup state", all)
	}

	// The primary is restored, so the next write backs up a valid document.
	if _, err := s.AppendEntry(ctx, entry(t, "c")); err != nil {
		t.Fatalf("AppendEntry after recovery: %v", err)
	}
	raw, err := os.ReadFile(primary + ".bak")
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(raw) {
		t.Error("backup after recovery is not valid JSON")
	}
}

func TestOpen_ResetWhenBothUnreadable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	primary := filepath.Join(dir, filestore.EntriesFile)
	for _, p := range []string{primary, primary + ".bak"} {
		if err := os.WriteFile(p, []byte("garbage"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s := open(t, dir)
	if s.Recovery() != store.RecoveryReset {
		t.Fatalf("Recovery = %v, want reset", s.Recovery())
	}
	all, _ := s.LoadAll(ctx)
	if len(all) != 0 {
		t.Fatalf("entries = %d, want 0", len(all))
	}

	// Still accepts writes.
	e, err := s.AppendEntry(ctx, entry(t, "fresh"))
	if err != nil {
		t.Fatalf("AppendEntry after reset: %v", err)
	}
	if e.ID != 1 {
		t.Errorf("first id after reset = %d, want 1", e.ID)
	}

	// Damaged files were moved aside rather than deleted.
	matches, _ := filepath.Glob(filepath.Join(dir, "*.corrupt-*"))
	if len(matches) != 2 {
		t.Errorf("corrupt files moved aside = %v, want 2", matches)
	}
}

func TestOpen_GoalRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cal := 2000.0

	s := open(t, dir)
	_ = s.SetGoal(ctx, food.Goal{Calories: &cal})
	_ = s.SetGoal(ctx, food.Goal{Macronutrients: map[string]float64{food.MacroProtein: 150}})
	if err := os.WriteFile(filepath.Join(dir, filestore.GoalsFile), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	s = open(t, dir)
	if s.Recovery() != store.RecoveryFromBackup {
		t.Fatalf("Recovery = %v, want backup", s.Recovery())
	}
	g, _ := s.Goal(ctx)
	if g.Calories == nil || *g.Calories != 2000 {
		t.Errorf("goal = %+v, want the earlier 2000 kcal goal", g)
	}
}

func TestOpen_DuplicateIDsTreatedAsCorrupt(t *testing.T) {
	dir := t.TempDir()
	doc := `{"next_id": 3, "entries": [
		{"id": 1, "food": {"name": "a", "serving_size": "", "calories": 1}, "quantity": 1, "timestamp": "2026-01-01T00:00:00Z"},
		{"id": 1, "food": {"name": "b", "serving_size": "", "calories": 1}, "quantity": 1, "timestamp": "2026-01-01T00:00:00Z"}
	]}`
	if err := os.WriteFile(filepath.Join(dir, filestore.EntriesFile), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	s := open(t, dir)
	if s.Recovery() != store.RecoveryReset {
		t.Errorf("Recovery = %v, want reset", s.Recovery())
	}
}

// ── Write failures ──────────────────────────────────────────────────────────

// flakyWriter fails the first n writes of the primary entries file.
func flakyWriter(n int32) (filestore.WriteFunc, *atomic.Int32) {
	var calls atomic.Int32
	return func(path string, data []byte, perm os.FileMode) error {
		if strings.HasSuffix(path, filestore.EntriesFile) && calls.Add(1) <= n {
			return errors.New("disk full")
		}
		return os.WriteFile(path, data, perm)
	}, &calls
}

func TestWrite_RetriedOnce(t *testing.T) {
	w, calls := flakyWriter(1)
	s := open(t, t.TempDir(), filestore.WithWriteFunc(w))
	if _, err := s.AppendEntry(context.Background(), entry(t, "a")); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("primary writes = %d, want 2", calls.Load())
	}
}

func TestWrite_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := open(t, dir)
	first, err := s.AppendEntry(ctx, entry(t, "kept"))
	if err != nil {
		t.Fatal(err)
	}

	w, _ := flakyWriter(1 << 20)
	s = open(t, dir, filestore.WithWriteFunc(w))
	if _, err := s.AppendEntry(ctx, entry(t, "lost")); err == nil {
		t.Fatal("AppendEntry succeeded despite failing writes")
	}
	if err := s.RemoveEntry(ctx, first.ID); err == nil {
		t.Fatal("RemoveEntry succeeded despite failing writes")
	}

	all, _ := s.LoadAll(ctx)
	if len(all) != 1 || all[0].Food.Name != "kept" {
		t.Fatalf("in-memory state after failures = %+v, want only kept", all)
	}

	// A later successful write does not reuse ids handed out by failed ones.
	s = open(t, dir)
	next, err := s.AppendEntry(ctx, entry(t, "next"))
	if err != nil {
		t.Fatal(err)
	}
	if next.ID != first.ID+1 {
		t.Errorf("next id = %d, want %d", next.ID, first.ID+1)
	}
}

func TestWrite_InvalidEntryNeverWritten(t *testing.T) {
	w, calls := flakyWriter(0)
	s := open(t, t.TempDir(), filestore.WithWriteFunc(w))
	_, err := s.AppendEntry(context.Background(), food.Entry{Food: food.Food{Name: "x"}, Quantity: -1})
	if !errors.Is(err, food.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := s.EditEntry(context.Background(), 1, 0); !errors.Is(err, food.ErrInvalidInput) {
		t.Fatalf("edit err = %v, want ErrInvalidInput", err)
	}
	if calls.Load() != 0 {
		t.Errorf("writes = %d, want 0", calls.Load())
	}
}
