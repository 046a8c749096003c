package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foodtracker/internal/matcher"
	"github.com/MrWong99/foodtracker/internal/stats"
	"github.com/MrWong99/foodtracker/pkg/food"
)

func TestFormatMacros(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]float64
		want string
	}{
		{"empty", nil, "-"},
		{"conventional order", map[string]float64{"fat": 1.25, "protein": 10}, "protein: 10.0g, fat: 1.2g"},
		{"extra keys sorted last", map[string]float64{"sugar": 2, "fiber": 3, "carbs": 1}, "carbs: 1.0g, fiber: 3.0g, sugar: 2.0g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatMacros(tt.in); got != tt.want {
				t.Errorf("formatMacros = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintMatches(t *testing.T) {
	var buf bytes.Buffer
	printMatches(&buf, "apple", nil)
	if !strings.Contains(buf.String(), "No matches found") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	printMatches(&buf, "apple", []matcher.Result{{Food: food.Food{Name: "Apple", Calories: 95}, Confidence: 0.876}})
	out := buf.String()
	for _, want := range []string{"Top 1 matches for 'apple':", "1. Apple (95 kcal) [-] confidence=0.88"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDailyLog(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := food.Entry{
		ID:        7,
		Food:      food.Food{Name: "Test Food", ServingSize: "100g", Calories: 50, Macronutrients: map[string]float64{"protein": 5}},
		Quantity:  2,
		Timestamp: day.Add(12 * time.Hour),
	}
	var buf bytes.Buffer
	printDailyLog(&buf, stats.DailyLog{Day: day, Entries: []food.Entry{e}})

	out := buf.String()
	for _, want := range []string{"=== 2024-01-01 ===", "[12:00] #7 Test Food x2 (100 kcal, protein: 10.0g)", "Total: 100 kcal"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintFoods_Limit(t *testing.T) {
	foods := []food.Food{{Name: "A", ServingSize: "1"}, {Name: "B", ServingSize: "1"}, {Name: "C", ServingSize: "1"}}
	var buf bytes.Buffer
	printFoods(&buf, foods, 2)
	out := buf.String()
	if !strings.Contains(out, "Listing 2 foods") || strings.Contains(out, "- C") {
		t.Errorf("limit not applied:\n%s", out)
	}

	buf.Reset()
	printFoods(&buf, foods, -1)
	if !strings.Contains(buf.String(), "Listing 3 foods") {
		t.Errorf("negative limit should list all:\n%s", buf.String())
	}
}

func TestPrintStats(t *testing.T) {
	target, progress := 2000.0, 0.05
	today := stats.DayProgress{
		Day:      "2026-03-14",
		Calories: stats.Target{Target: &target, Consumed: 100, Progress: &progress},
		Macronutrients: map[string]stats.Target{
			"protein": {Consumed: 4.5},
		},
	}
	weekly := stats.WeeklyOverview{ActiveDays: 3, AverageCalories: 1500, CurrentStreak: 2}
	lifetime := stats.LifetimeStats{TotalEntries: 9, TotalCalories: 4500, MostLoggedFood: &stats.FoodCount{Name: "Apple", Count: 4}}

	var buf bytes.Buffer
	printStats(&buf, today, weekly, lifetime)
	out := buf.String()
	for _, want := range []string{
		"Calories: 100/2000 kcal (5%)",
		"  - Protein: 4.5g",
		"Active days last week: 3",
		"Current streak: 2 days",
		"Most logged food: Apple (4x)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

// ── goals flags ──────────────────────────────────────────────────────────────

func newGoalsCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	goalClear = false
	cmd := &cobra.Command{Use: "goals"}
	cmd.Flags().Float64("calories", 0, "")
	for _, k := range goalFlags {
		cmd.Flags().Float64(k, 0, "")
	}
	cmd.Flags().BoolVar(&goalClear, "clear", false, "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return cmd
}

func TestGoalUpdate(t *testing.T) {
	if _, ok := goalUpdate(newGoalsCmd(t)); ok {
		t.Error("no flags reported an update")
	}

	u, ok := goalUpdate(newGoalsCmd(t, "--calories", "1800", "--protein", "0"))
	if !ok {
		t.Fatal("flags not reported as update")
	}
	if u.Calories == nil || *u.Calories != 1800 {
		t.Errorf("Calories = %v, want 1800", u.Calories)
	}
	if v := u.Macros["protein"]; v == nil || *v != 0 {
		t.Errorf("protein = %v, want explicit 0", v)
	}
	if _, set := u.Macros["fat"]; set {
		t.Error("fat set without its flag")
	}

	u, ok = goalUpdate(newGoalsCmd(t, "--clear", "--calories", "1800"))
	if !ok || !u.ClearCalories || u.Calories != nil {
		t.Errorf("clear update = %+v", u)
	}
	if v, set := u.Macros["carbs"]; !set || v != nil {
		t.Errorf("carbs = %v, %v; want cleared", v, set)
	}
}

// ── Flags and startup summary ────────────────────────────────────────────────

func TestCheckFlagRange(t *testing.T) {
	tests := []struct {
		name    string
		v       int
		upper   int
		wantErr bool
	}{
		{"top default", 3, 0, false},
		{"top zero", 0, 0, true},
		{"days max", stats.MaxDays, stats.MaxDays, false},
		{"days over max", stats.MaxDays + 1, stats.MaxDays, true},
		{"days negative", -7, stats.MaxDays, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFlagRange("days", tt.v, tt.upper)
			if tt.wantErr != errors.Is(err, food.ErrInvalidInput) {
				t.Errorf("checkFlagRange(%d, %d) = %v, want error %v", tt.v, tt.upper, err, tt.wantErr)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"lexical-v2", "lexical-v2"},
		{"openai:text-embedding-3-small", "openai:text-embeddin…"},
		{"clip:ViT-B-32@äöüäöüäöüäöü", "clip:ViT-B-32@äöüäöü…"},
	}
	for _, tt := range tests {
		got := truncateRunes(tt.in, summaryValueWidth)
		if got != tt.want {
			t.Errorf("truncateRunes(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !utf8.ValidString(got) || utf8.RuneCountInString(got) > summaryValueWidth {
			t.Errorf("truncateRunes(%q) = %q: invalid or wider than %d runes", tt.in, got, summaryValueWidth)
		}
	}
}

func TestPrintRow_PadsByRunes(t *testing.T) {
	var buf bytes.Buffer
	printRow(&buf, "Provider", "clip:ViT-B-32@äöüäöüäöüäöü")
	printRow(&buf, "Store", "file")
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 || utf8.RuneCountInString(lines[0]) != utf8.RuneCountInString(lines[1]) {
		t.Errorf("rows have different widths:\n%s", buf.String())
	}
}
