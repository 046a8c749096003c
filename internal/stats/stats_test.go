package stats_test

import (
	"testing"
	"time"

	"github.com/MrWong99/foodtracker/internal/stats"
	"github.com/MrWong99/foodtracker/pkg/food"
)

var today = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func entry(name string, cal, protein, qty float64, daysAgo int, hour int) food.Entry {
	d := stats.Day(today).AddDate(0, 0, -daysAgo).Add(time.Duration(hour) * time.Hour)
	return food.Entry{
		Food: food.Food{
			Name:           name,
			Calories:       cal,
			Macronutrients: map[string]float64{food.MacroProtein: protein},
		},
		Quantity:  qty,
		Timestamp: d,
	}
}

// ── Daily logs ───────────────────────────────────────────────────────────────

func TestGroupByDay_SortedWithTotals(t *testing.T) {
	entries := []food.Entry{
		entry("eggs", 150, 12, 2, 0, 8),
		entry("rice", 200, 4, 1, 2, 12),
		entry("apple", 95, 0.5, 1, 0, 10),
	}
	logs := stats.GroupByDay(entries)
	if len(logs) != 2 {
		t.Fatalf("days = %d, want 2", len(logs))
	}
	if !logs[0].Day.Before(logs[1].Day) {
		t.Errorf("days not sorted: %v, %v", logs[0].Day, logs[1].Day)
	}
	todayLog := logs[1]
	if got := todayLog.TotalCalories(); got != 395 {
		t.Errorf("TotalCalories = %v, want 395", got)
	}
	if got := todayLog.TotalMacros()[food.MacroProtein]; got != 24.5 {
		t.Errorf("protein = %v, want 24.5", got)
	}
	if todayLog.Entries[0].Food.Name != "eggs" {
		t.Errorf("first entry = %q, want eggs", todayLog.Entries[0].Food.Name)
	}
}

func TestForDay_UsesUTCBoundaries(t *testing.T) {
	// 23:30 in UTC-5 is 04:30 UTC the next day.
	loc := time.FixedZone("EST", -5*3600)
	e := food.Entry{Food: food.Food{Name: "late snack", Calories: 100}, Quantity: 1,
		Timestamp: time.Date(2026, 3, 13, 23, 30, 0, 0, loc)}

	if got := len(stats.ForDay([]food.Entry{e}, today).Entries); got != 1 {
		t.Errorf("entries on 2026-03-14 = %d, want 1", got)
	}
	if got := len(stats.ForDay([]food.Entry{e}, today.AddDate(0, 0, -1)).Entries); got != 0 {
		t.Errorf("entries on 2026-03-13 = %d, want 0", got)
	}
}

func TestForDay_EmptyDay(t *testing.T) {
	log := stats.ForDay(nil, today)
	if log.TotalCalories() != 0 || len(log.TotalMacros()) != 0 {
		t.Errorf("empty day totals = %v, %v", log.TotalCalories(), log.TotalMacros())
	}
}

// ── Progress ─────────────────────────────────────────────────────────────────

func TestProgress(t *testing.T) {
	entries := []food.Entry{entry("eggs", 150, 12, 2, 0, 8)}
	goal := food.Goal{
		Calories:       ptr(2000),
		Macronutrients: map[string]float64{food.MacroProtein: 120, food.MacroFat: 0},
	}
	p := stats.Progress(entries, goal, today)

	if p.Day != "2026-03-14" {
		t.Errorf("Day = %q", p.Day)
	}
	if p.Calories.Consumed != 300 || *p.Calories.Remaining != 1700 || *p.Calories.Progress != 0.15 {
		t.Errorf("calories = %+v", p.Calories)
	}
	protein := p.Macronutrients[food.MacroProtein]
	if protein.Consumed != 24 || *protein.Remaining != 96 || *protein.Progress != 0.2 {
		t.Errorf("protein = %+v", protein)
	}
	fat, ok := p.Macronutrients[food.MacroFat]
	if !ok {
		t.Fatal("targeted macro without consumption is missing")
	}
	if fat.Progress != nil {
		t.Errorf("zero target progress = %v, want nil", *fat.Progress)
	}
}

func TestProgress_NoGoal(t *testing.T) {
	p := stats.Progress([]food.Entry{entry("eggs", 150, 12, 1, 0, 8)}, food.Goal{}, today)
	if p.Calories.Target != nil || p.Calories.Remaining != nil || p.Calories.Progress != nil {
		t.Errorf("calories without goal = %+v", p.Calories)
	}
	if p.Macronutrients[food.MacroProtein].Consumed != 12 {
		t.Errorf("consumed macro missing: %+v", p.Macronutrients)
	}
}

// ── Weekly ───────────────────────────────────────────────────────────────────

func TestWeekly_CountsActiveDays(t *testing.T) {
	entries := []food.Entry{
		entry("a", 100, 0, 1, 0, 8),
		entry("b", 300, 0, 1, 1, 8),
		entry("c", 1000, 0, 1, 10, 8), // outside the window
	}
	w := stats.Weekly(entries, today, 7)
	if len(w.Days) != 7 {
		t.Fatalf("series = %d days, want 7", len(w.Days))
	}
	if w.Days[0].Day != "2026-03-08" || w.Days[6].Day != "2026-03-14" {
		t.Errorf("series spans %s..%s", w.Days[0].Day, w.Days[6].Day)
	}
	if w.ActiveDays != 2 {
		t.Errorf("ActiveDays = %d, want 2", w.ActiveDays)
	}
	if w.AverageCalories != 200 {
		t.Errorf("AverageCalories = %v, want 200", w.AverageCalories)
	}
	if w.CurrentStreak != 2 {
		t.Errorf("CurrentStreak = %d, want 2", w.CurrentStreak)
	}
	if w.Days[6].EntryCount != 1 || w.Days[3].EntryCount != 0 {
		t.Errorf("entry counts = %d, %d", w.Days[6].EntryCount, w.Days[3].EntryCount)
	}
}

func TestWeekly_NonPositiveDays(t *testing.T) {
	w := stats.Weekly([]food.Entry{entry("a", 100, 0, 1, 0, 8)}, today, 0)
	if w.Days == nil || len(w.Days) != 0 {
		t.Errorf("Days = %v, want empty non-nil", w.Days)
	}
	if w.CurrentStreak != 1 {
		t.Errorf("CurrentStreak = %d, want 1", w.CurrentStreak)
	}
}

func TestWeekly_CapsAtMaxDays(t *testing.T) {
	w := stats.Weekly([]food.Entry{entry("a", 100, 0, 1, 0, 8)}, today, 2_000_000_000)
	if len(w.Days) != stats.MaxDays {
		t.Fatalf("len(Days) = %d, want %d", len(w.Days), stats.MaxDays)
	}
	if last := w.Days[len(w.Days)-1]; last.Day != stats.FormatDay(today) || last.EntryCount != 1 {
		t.Errorf("last day = %+v, want today with one entry", last)
	}
}

func TestStreak(t *testing.T) {
	tests := []struct {
		name    string
		daysAgo []int
		want    int
	}{
		{"no entries", nil, 0},
		{"today only", []int{0}, 1},
		{"three in a row", []int{0, 1, 2}, 3},
		{"breaks on gap", []int{0, 1, 3, 4}, 2},
		{"nothing today", []int{1, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []food.Entry
			for _, d := range tt.daysAgo {
				entries = append(entries, entry("x", 10, 0, 1, d, 9))
			}
			if got := stats.Streak(entries, today); got != tt.want {
				t.Errorf("Streak = %d, want %d", got, tt.want)
			}
		})
	}
}

// ── Lifetime ─────────────────────────────────────────────────────────────────

func TestLifetime_Empty(t *testing.T) {
	l := stats.Lifetime(nil)
	if l.TotalEntries != 0 || l.FirstEntry != nil || l.MostLoggedFood != nil {
		t.Errorf("empty lifetime = %+v", l)
	}
}

func TestLifetime(t *testing.T) {
	entries := []food.Entry{
		entry("rice", 200, 0, 1, 1, 8),
		entry("apple", 95, 0, 2, 3, 8),
		entry("apple", 95, 0, 1, 0, 8),
		entry("rice", 200, 0, 1, 0, 9),
		entry("tea", 0, 0, 1, 0, 10),
	}
	l := stats.Lifetime(entries)
	if l.TotalEntries != 5 || l.UniqueFoods != 3 {
		t.Errorf("counts = %d entries, %d foods", l.TotalEntries, l.UniqueFoods)
	}
	if l.TotalCalories != 685 {
		t.Errorf("TotalCalories = %v, want 685", l.TotalCalories)
	}
	if want := stats.Day(today).AddDate(0, 0, -3).Add(8 * time.Hour); !l.FirstEntry.Equal(want) {
		t.Errorf("FirstEntry = %v, want %v", l.FirstEntry, want)
	}
	// rice and apple tie at two; rice was logged first.
	if l.MostLoggedFood.Name != "rice" || l.MostLoggedFood.Count != 2 {
		t.Errorf("MostLoggedFood = %+v, want rice/2", l.MostLoggedFood)
	}
}
