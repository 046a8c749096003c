// Package stats derives daily logs, goal progress and longer-running
// statistics from the entry log. Every function is pure; day boundaries are
// UTC calendar days.
package stats

import (
	"maps"
	"slices"
	"time"

	"github.com/MrWong99/foodtracker/pkg/food"
)

// DayLayout is the wire format of a calendar day.
const DayLayout = time.DateOnly

// MaxDays is the longest series [Weekly] builds, roughly ten years.
const MaxDays = 3660

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDay renders the UTC calendar day of t.
func FormatDay(t time.Time) string { return Day(t).Format(DayLayout) }

// ParseDay parses a DayLayout string as a UTC day.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, time.UTC)
}

// DailyLog is the set of entries logged on one UTC day.
type DailyLog struct {
	Day     time.Time
	Entries []food.Entry
}

// TotalCalories sums quantity × calories over the log.
func (l DailyLog) TotalCalories() float64 {
	var sum float64
	for _, e := range l.Entries {
		sum += e.Calories()
	}
	return sum
}

// TotalMacros sums every macro over the log. Never nil.
func (l DailyLog) TotalMacros() map[string]float64 {
	out := map[string]float64{}
	for _, e := range l.Entries {
		for k, v := range e.Macronutrients() {
			out[k] += v
		}
	}
	return out
}

// GroupByDay buckets entries by UTC day, oldest day first. Entries keep their
// log order within a day.
func GroupByDay(entries []food.Entry) []DailyLog {
	byDay := groupMap(entries)
	days := slices.SortedFunc(maps.Keys(byDay), func(a, b time.Time) int { return a.Compare(b) })
	out := make([]DailyLog, 0, len(days))
	for _, d := range days {
		out = append(out, DailyLog{Day: d, Entries: byDay[d]})
	}
	return out
}

// ForDay returns the log of the UTC day containing day. A day without entries
// yields an empty log.
func ForDay(entries []food.Entry, day time.Time) DailyLog {
	d := Day(day)
	log := DailyLog{Day: d}
	for _, e := range entries {
		if Day(e.Timestamp).Equal(d) {
			log.Entries = append(log.Entries, e)
		}
	}
	return log
}

func groupMap(entries []food.Entry) map[time.Time][]food.Entry {
	out := make(map[time.Time][]food.Entry)
	for _, e := range entries {
		d := Day(e.Timestamp)
		out[d] = append(out[d], e)
	}
	return out
}

// ── Progress ─────────────────────────────────────────────────────────────────

// Target is progress towards one goal value.
type Target struct {
	Target    *float64 `json:"target"`
	Consumed  float64  `json:"consumed"`
	Remaining *float64 `json:"remaining"`
	// Progress is consumed / target; nil when there is no target or it is zero.
	Progress *float64 `json:"progress"`
}

func newTarget(consumed float64, target *float64) Target {
	t := Target{Consumed: consumed}
	if target == nil {
		return t
	}
	goal := *target
	remaining := goal - consumed
	t.Target, t.Remaining = &goal, &remaining
	if goal != 0 {
		p := consumed / goal
		t.Progress = &p
	}
	return t
}

// DayProgress is one day measured against the goal.
type DayProgress struct {
	Day            string            `json:"day"`
	Calories       Target            `json:"calories"`
	Macronutrients map[string]Target `json:"macronutrients"`
}

// Progress measures the UTC day containing day against goal. Macros cover the
// union of consumed and targeted keys.
func Progress(entries []food.Entry, goal food.Goal, day time.Time) DayProgress {
	log := ForDay(entries, day)
	consumed := log.TotalMacros()

	macros := make(map[string]Target, len(consumed)+len(goal.Macronutrients))
	for k, v := range consumed {
		macros[k] = newTarget(v, nil)
	}
	for k, v := range goal.Macronutrients {
		macros[k] = newTarget(consumed[k], &v)
	}
	return DayProgress{
		Day:            log.Day.Format(DayLayout),
		Calories:       newTarget(log.TotalCalories(), goal.Calories),
		Macronutrients: macros,
	}
}

// ── Weekly overview and streak ───────────────────────────────────────────────

// DayPoint is one day of a weekly series.
type DayPoint struct {
	Day            string             `json:"day"`
	Calories       float64            `json:"calories"`
	Macronutrients map[string]float64 `json:"macronutrients"`
	EntryCount     int                `json:"entry_count"`
}

// WeeklyOverview summarises the last few days.
type WeeklyOverview struct {
	Days []DayPoint `json:"days"`
	// AverageCalories is averaged over days that have at least one entry.
	AverageCalories float64 `json:"average_calories"`
	ActiveDays      int     `json:"active_days"`
	CurrentStreak   int     `json:"current_streak"`
}

// Weekly builds a series of days calendar days ending on today's UTC day.
// days <= 0 yields an empty series that still reports the streak; days above
// [MaxDays] is cut to MaxDays.
func Weekly(entries []food.Entry, today time.Time, days int) WeeklyOverview {
	out := WeeklyOverview{Days: []DayPoint{}, CurrentStreak: Streak(entries, today)}
	if days <= 0 {
		return out
	}
	days = min(days, MaxDays)
	out.Days = make([]DayPoint, 0, days)

	byDay := groupMap(entries)
	start := Day(today).AddDate(0, 0, -(days - 1))
	var activeCalories float64
	for i := range days {
		d := start.AddDate(0, 0, i)
		log := DailyLog{Day: d, Entries: byDay[d]}
		p := DayPoint{
			Day:            d.Format(DayLayout),
			Calories:       log.TotalCalories(),
			Macronutrients: log.TotalMacros(),
			EntryCount:     len(log.Entries),
		}
		if p.EntryCount > 0 {
			out.ActiveDays++
			activeCalories += p.Calories
		}
		out.Days = append(out.Days, p)
	}
	if out.ActiveDays > 0 {
		out.AverageCalories = activeCalories / float64(out.ActiveDays)
	}
	return out
}

// Streak counts consecutive UTC days with at least one entry, ending on
// today's day. A day without entries today means a streak of zero.
func Streak(entries []food.Entry, today time.Time) int {
	if len(entries) == 0 {
		return 0
	}
	byDay := groupMap(entries)
	n := 0
	for d := Day(today); len(byDay[d]) > 0; d = d.AddDate(0, 0, -1) {
		n++
	}
	return n
}

// ── Lifetime ─────────────────────────────────────────────────────────────────

// FoodCount is a food name with the number of entries logged for it.
type FoodCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LifetimeStats covers the whole log.
type LifetimeStats struct {
	TotalEntries   int        `json:"total_entries"`
	TotalCalories  float64    `json:"total_calories"`
	UniqueFoods    int        `json:"unique_foods"`
	FirstEntry     *time.Time `json:"first_entry"`
	MostLoggedFood *FoodCount `json:"most_logged_food"`
}

// Lifetime aggregates every entry. Foods are counted by name; on a tie the
// food encountered first in the log wins.
func Lifetime(entries []food.Entry) LifetimeStats {
	var out LifetimeStats
	if len(entries) == 0 {
		return out
	}

	counts := make(map[string]int)
	var order []string
	first := entries[0].Timestamp
	for _, e := range entries {
		out.TotalCalories += e.Calories()
		if e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if counts[e.Food.Name] == 0 {
			order = append(order, e.Food.Name)
		}
		counts[e.Food.Name]++
	}

	best := FoodCount{Name: order[0], Count: counts[order[0]]}
	for _, name := range order[1:] {
		if counts[name] > best.Count {
			best = FoodCount{Name: name, Count: counts[name]}
		}
	}

	first = first.UTC()
	out.TotalEntries = len(entries)
	out.UniqueFoods = len(counts)
	out.FirstEntry = &first
	out.MostLoggedFood = &best
	return out
}
