// Package storetest holds the behavioural suite every [store.Store]
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/foodtracker/internal/store"
	"github.com/MrWong99/foodtracker/pkg/food"
)

// Opener opens a store rooted at dir. Calling it twice with the same dir must
// reopen the same data.
type Opener func(t *testing.T, dir string) store.Store

func ptr(v float64) *float64 { return &v }

func entry(t *testing.T, name string, qty float64) food.Entry {
	t.Helper()
	e, err := food.NewEntry(food.Food{
		Name:           name,
		ServingSize:    "1 serving",
		Calories:       100,
		Macronutrients: map[string]float64{food.MacroProtein: 5},
		Aliases:        []string{name + " alias"},
	}, qty, time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	return e
}

// Run executes the suite.
func Run(t *testing.T, open Opener) {
	ctx := context.Background()

	t.Run("AppendAssignsIncreasingIDs", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		a, err := s.AppendEntry(ctx, entry(t, "apple", 1))
		if err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
		b, err := s.AppendEntry(ctx, entry(t, "apple", 1))
		if err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
		if b.ID <= a.ID {
			t.Errorf("ids %d, %d are not increasing", a.ID, b.ID)
		}
		all, _ := s.LoadAll(ctx)
		if len(all) != 2 {
			t.Errorf("identical appends stored %d entries, want 2", len(all))
		}
	})

	t.Run("IDsNeverReused", func(t *testing.T) {
		dir := t.TempDir()
		s := open(t, dir)
		a, _ := s.AppendEntry(ctx, entry(t, "a", 1))
		b, _ := s.AppendEntry(ctx, entry(t, "b", 1))
		if err := s.RemoveEntry(ctx, b.ID); err != nil {
			t.Fatalf("RemoveEntry: %v", err)
		}
		s.Close()

		s = open(t, dir)
		defer s.Close()
		c, err := s.AppendEntry(ctx, entry(t, "c", 1))
		if err != nil {
			t.Fatalf("AppendEntry: %v", err)
		}
		if c.ID == a.ID || c.ID == b.ID || c.ID < b.ID {
			t.Errorf("new id %d reuses or precedes earlier ids %d, %d", c.ID, a.ID, b.ID)
		}
	})

	t.Run("PersistsAcrossReopen", func(t *testing.T) {
		dir := t.TempDir()
		s := open(t, dir)
		want, _ := s.AppendEntry(ctx, entry(t, "oatmeal", 2))
		if err := s.SetGoal(ctx, food.Goal{Calories: ptr(2000), Macronutrients: map[string]float64{food.MacroProtein: 120}}); err != nil {
			t.Fatalf("SetGoal: %v", err)
		}
		s.Close()

		s = open(t, dir)
		defer s.Close()
		if s.Recovery() != store.RecoveryNone {
			t.Errorf("Recovery = %v, want none", s.Recovery())
		}
		all, err := s.LoadAll(ctx)
		if err != nil {
			t.Fatalf("LoadAll: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("entries = %d, want 1", len(all))
		}
		got := all[0]
		if got.ID != want.ID || got.Food.Name != "oatmeal" || got.Quantity != 2 || !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("entry = %+v, want %+v", got, want)
		}
		if got.Food.Macronutrients[food.MacroProtein] != 5 || len(got.Food.Aliases) != 1 {
			t.Errorf("food snapshot lost fields: %+v", got.Food)
		}
		g, err := s.Goal(ctx)
		if err != nil {
			t.Fatalf("Goal: %v", err)
		}
		if g.Calories == nil || *g.Calories != 2000 || g.Macronutrients[food.MacroProtein] != 120 {
			t.Errorf("goal = %+v", g)
		}
	})

	t.Run("EditEntry", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		e, _ := s.AppendEntry(ctx, entry(t, "rice", 1))
		got, err := s.EditEntry(ctx, e.ID, 2.5)
		if err != nil {
			t.Fatalf("EditEntry: %v", err)
		}
		if got.Quantity != 2.5 || got.ID != e.ID {
			t.Errorf("edited = %+v", got)
		}
		// Same quantity again is a successful no-op.
		if _, err := s.EditEntry(ctx, e.ID, 2.5); err != nil {
			t.Errorf("repeat edit: %v", err)
		}
		all, _ := s.LoadAll(ctx)
		if len(all) != 1 || all[0].Quantity != 2.5 {
			t.Errorf("entries after edit = %+v", all)
		}
	})

	t.Run("MissingIDIsNotFound", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		for _, n := range []string{"a", "b", "c"} {
			if _, err := s.AppendEntry(ctx, entry(t, n, 1)); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.RemoveEntry(ctx, 999); !errors.Is(err, food.ErrNotFound) {
			t.Errorf("RemoveEntry(999) err = %v, want ErrNotFound", err)
		}
		if _, err := s.EditEntry(ctx, 999, 1); !errors.Is(err, food.ErrNotFound) {
			t.Errorf("EditEntry(999) err = %v, want ErrNotFound", err)
		}
		all, _ := s.LoadAll(ctx)
		if len(all) != 3 {
			t.Errorf("entries = %d, want 3", len(all))
		}
	})

	t.Run("RemoveKeepsOrder", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		var ids []int64
		for _, n := range []string{"a", "b", "c"} {
			e, _ := s.AppendEntry(ctx, entry(t, n, 1))
			ids = append(ids, e.ID)
		}
		if err := s.RemoveEntry(ctx, ids[1]); err != nil {
			t.Fatalf("RemoveEntry: %v", err)
		}
		all, _ := s.LoadAll(ctx)
		if len(all) != 2 || all[0].Food.Name != "a" || all[1].Food.Name != "c" {
			t.Errorf("entries = %+v", all)
		}
	})

	t.Run("GoalOverwrittenWholesale", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		g, err := s.Goal(ctx)
		if err != nil || g.Calories != nil || len(g.Macronutrients) != 0 {
			t.Fatalf("initial goal = %+v, %v", g, err)
		}
		_ = s.SetGoal(ctx, food.Goal{Calories: ptr(1800), Macronutrients: map[string]float64{food.MacroFat: 60}})
		_ = s.SetGoal(ctx, food.Goal{Macronutrients: map[string]float64{food.MacroCarbs: 200}})
		g, _ = s.Goal(ctx)
		if g.Calories != nil || g.Macronutrients[food.MacroFat] != 0 || g.Macronutrients[food.MacroCarbs] != 200 {
			t.Errorf("goal = %+v, want only carbs", g)
		}
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		e := entry(t, "x", 1)
		var wg sync.WaitGroup
		for range 20 {
			wg.Go(func() {
				if _, err := s.AppendEntry(ctx, e); err != nil {
					t.Errorf("AppendEntry: %v", err)
				}
			})
		}
		wg.Wait()
		all, _ := s.LoadAll(ctx)
		if len(all) != 20 {
			t.Fatalf("entries = %d, want 20", len(all))
		}
		seen := map[int64]bool{}
		for _, e := range all {
			if seen[e.ID] {
				t.Errorf("duplicate id %d", e.ID)
			}
			seen[e.ID] = true
		}
	})

	t.Run("LoadAllReturnsCopies", func(t *testing.T) {
		s := open(t, t.TempDir())
		defer s.Close()
		_, _ = s.AppendEntry(ctx, entry(t, "a", 1))
		all, _ := s.LoadAll(ctx)
		all[0].Food.Macronutrients[food.MacroProtein] = 999
		again, _ := s.LoadAll(ctx)
		if again[0].Food.Macronutrients[food.MacroProtein] != 5 {
			t.Error("LoadAll exposes internal state")
		}
	})
}
