package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foodtracker/internal/stats"
	"github.com/MrWong99/foodtracker/internal/tracker"
	"github.com/MrWong99/foodtracker/pkg/food"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the entries for today or a given date",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "View or update nutrition goals",
	Long: `Without flags, print the current goals. Each flag sets one target;
--clear removes every target.`,
	Args: cobra.NoArgs,
	RunE: runGoals,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show today's progress, weekly insights and streaks",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var (
	summaryDate string
	goalClear   bool
	statsDays   int
)

// goalFlags are the macro targets settable from the goals command.
var goalFlags = []string{food.MacroProtein, food.MacroCarbs, food.MacroFat}

func init() {
	rootCmd.AddCommand(summaryCmd, goalsCmd, statsCmd)

	summaryCmd.Flags().StringVar(&summaryDate, "date", "", "day in YYYY-MM-DD format (default today, UTC)")

	goalsCmd.Flags().Float64("calories", 0, "daily calorie target")
	goalsCmd.Flags().Float64("protein", 0, "daily protein target in grams")
	goalsCmd.Flags().Float64("carbs", 0, "daily carbs target in grams")
	goalsCmd.Flags().Float64("fat", 0, "daily fat target in grams")
	goalsCmd.Flags().BoolVar(&goalClear, "clear", false, "reset all saved goals")

	statsCmd.Flags().IntVar(&statsDays, "days", tracker.DefaultWeeklyDays, "length of the overview window in days")
}

func runSummary(cmd *cobra.Command, _ []string) error {
	return withRuntime(func(ctx context.Context, rt *runtime) error {
		day := rt.tracker.Today()
		if summaryDate != "" {
			d, err := stats.ParseDay(summaryDate)
			if err != nil {
				return fmt.Errorf("--date %q: %w", summaryDate, food.ErrInvalidInput)
			}
			day = d
		}
		l, err := rt.tracker.DaySummary(ctx, day)
		if err != nil {
			return err
		}
		if len(l.Entries) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No entries for %s yet.\n", stats.FormatDay(day))
			return nil
		}
		printDailyLog(cmd.OutOrStdout(), l)
		return nil
	})
}

// goalUpdate builds the update described by the goals flags. ok is false when
// no flag was given.
func goalUpdate(cmd *cobra.Command) (u food.GoalUpdate, ok bool) {
	flags := cmd.Flags()
	if goalClear {
		u.ClearCalories = true
		u.Macros = make(map[string]*float64, len(goalFlags))
		for _, k := range goalFlags {
			u.Macros[k] = nil
		}
		return u, true
	}
	if flags.Changed("calories") {
		v, _ := flags.GetFloat64("calories")
		u.Calories = &v
		ok = true
	}
	for _, k := range goalFlags {
		if !flags.Changed(k) {
			continue
		}
		v, _ := flags.GetFloat64(k)
		if u.Macros == nil {
			u.Macros = make(map[string]*float64)
		}
		u.Macros[k] = &v
		ok = true
	}
	return u, ok
}

func runGoals(cmd *cobra.Command, _ []string) error {
	u, update := goalUpdate(cmd)
	return withRuntime(func(ctx context.Context, rt *runtime) error {
		if !update {
			g, err := rt.tracker.Goals(ctx)
			if err != nil {
				return err
			}
			cal, macros := formatGoal(g)
			fmt.Fprintf(cmd.OutOrStdout(), "Current goals -> Calories: %s | Macros: %s\n", cal, macros)
			return nil
		}
		g, err := rt.tracker.UpdateGoals(ctx, u)
		if err != nil {
			return err
		}
		cal, macros := formatGoal(g)
		fmt.Fprintf(cmd.OutOrStdout(), "Saved goals: Calories %s | Macros %s\n", cal, macros)
		return nil
	})
}

func runStats(cmd *cobra.Command, _ []string) error {
	if err := checkFlagRange("days", statsDays, stats.MaxDays); err != nil {
		return err
	}
	return withRuntime(func(ctx context.Context, rt *runtime) error {
		today, err := rt.tracker.Progress(ctx, rt.tracker.Today())
		if err != nil {
			return err
		}
		weekly, err := rt.tracker.Weekly(ctx, statsDays)
		if err != nil {
			return err
		}
		lifetime, err := rt.tracker.Lifetime(ctx)
		if err != nil {
			return err
		}
		printStats(cmd.OutOrStdout(), today, weekly, lifetime)
		return nil
	})
}
