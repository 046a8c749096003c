package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/foodtracker/internal/matcher"
	"github.com/MrWong99/foodtracker/internal/stats"
	"github.com/MrWong99/foodtracker/pkg/food"
)

// macroOrder lists the conventional macros first; any other key follows in
// alphabetical order.
var macroOrder = []string{food.MacroProtein, food.MacroCarbs, food.MacroFat}

func macroKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for _, k := range macroOrder {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if !slices.Contains(macroOrder, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// formatMacros renders "protein: 10.0g, fat: 1.2g", or "-" for none.
func formatMacros(m map[string]float64) string {
	if len(m) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(m))
	for _, k := range macroKeys(m) {
		parts = append(parts, fmt.Sprintf("%s: %.1fg", k, m[k]))
	}
	return strings.Join(parts, ", ")
}

func printMatches(w io.Writer, description string, results []matcher.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches found. Try providing more detail or add the item manually.")
		return
	}
	fmt.Fprintf(w, "Top %d matches for '%s':\n", len(results), description)
	for i, r := range results {
		fmt.Fprintf(w, "%d. %s (%.0f kcal) [%s] confidence=%.2f\n",
			i+1, r.Food.Name, r.Food.Calories, formatMacros(r.Food.Macronutrients), r.Confidence)
	}
}

func printLogged(w io.Writer, e food.Entry) {
	fmt.Fprintf(w, "Logged %s x%g (%.0f kcal, %s) [#%d]\n",
		e.Food.Name, e.Quantity, e.Calories(), formatMacros(e.Macronutrients()), e.ID)
}

func printDailyLog(w io.Writer, l stats.DailyLog) {
	fmt.Fprintf(w, "\n=== %s ===\n", l.Day.Format(stats.DayLayout))
	for _, e := range l.Entries {
		fmt.Fprintf(w, "[%s] #%d %s x%g (%.0f kcal, %s)\n",
			e.Timestamp.Format("15:04"), e.ID, e.Food.Name, e.Quantity, e.Calories(), formatMacros(e.Macronutrients()))
	}
	fmt.Fprintf(w, "Total: %.0f kcal | Macros: %s\n", l.TotalCalories(), formatMacros(l.TotalMacros()))
}

func printFoods(w io.Writer, foods []food.Food, limit int) {
	if limit >= 0 && limit < len(foods) {
		foods = foods[:limit]
	}
	fmt.Fprintf(w, "Listing %d foods known by the recognition engine:\n", len(foods))
	for _, f := range foods {
		fmt.Fprintf(w, "- %s (%.0f kcal per %s) [%s]\n", f.Name, f.Calories, f.ServingSize, formatMacros(f.Macronutrients))
	}
}

func formatGoal(g food.Goal) (calories, macros string) {
	calories = "not set"
	if g.Calories != nil {
		calories = fmt.Sprintf("%.0f kcal", *g.Calories)
	}
	return calories, formatMacros(g.Macronutrients)
}

// printStats renders today's progress, the weekly overview and lifetime totals.
func printStats(w io.Writer, today stats.DayProgress, weekly stats.WeeklyOverview, lifetime stats.LifetimeStats) {
	fmt.Fprintln(w, "\n=== Today's Progress ===")
	if c := today.Calories; c.Target != nil {
		fmt.Fprintf(w, "Calories: %.0f/%.0f kcal (%.0f%%)\n", c.Consumed, *c.Target, percent(c.Progress))
	} else {
		fmt.Fprintf(w, "Calories logged: %.0f kcal\n", c.Consumed)
	}
	if len(today.Macronutrients) > 0 {
		fmt.Fprintln(w, "Macros:")
		for _, k := range macroKeys(today.Macronutrients) {
			t := today.Macronutrients[k]
			name := strings.ToUpper(k[:1]) + k[1:]
			if t.Target != nil {
				fmt.Fprintf(w, "  - %s: %.1f/%.1fg (%.0f%%)\n", name, t.Consumed, *t.Target, percent(t.Progress))
			} else {
				fmt.Fprintf(w, "  - %s: %.1fg\n", name, t.Consumed)
			}
		}
	}

	fmt.Fprintln(w, "\n=== Weekly Overview ===")
	fmt.Fprintf(w, "Active days last week: %d\n", weekly.ActiveDays)
	fmt.Fprintf(w, "Average calories (active days): %.0f kcal\n", weekly.AverageCalories)
	fmt.Fprintf(w, "Current streak: %d days\n", weekly.CurrentStreak)

	fmt.Fprintln(w, "\n=== Lifetime Stats ===")
	fmt.Fprintf(w, "Entries logged: %d\n", lifetime.TotalEntries)
	fmt.Fprintf(w, "Total calories logged: %.0f kcal\n", lifetime.TotalCalories)
	if top := lifetime.MostLoggedFood; top != nil {
		fmt.Fprintf(w, "Most logged food: %s (%dx)\n", top.Name, top.Count)
	}
}

func percent(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p * 100
}
