package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/foodtracker/pkg/food"
)

var scanCmd = &cobra.Command{
	Use:   "scan <description>",
	Short: "Recognise a food from a text description",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScan,
}

var logCmd = &cobra.Command{
	Use:   "log <description>",
	Short: "Log the best match for a description",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runLog,
}

var addCmd = &cobra.Command{
	Use:   "add <name> <serving_size> <calories>",
	Short: "Log a food item manually",
	Long: `Log a food that is not in the library. The food itself is not
registered; POST it to /api/foods to make it scannable.`,
	Args: cobra.ExactArgs(3),
	RunE: runAdd,
}

var foodsCmd = &cobra.Command{
	Use:   "foods",
	Short: "List known foods",
	Args:  cobra.NoArgs,
	RunE:  runFoods,
}

var (
	scanTop     int
	logQuantity float64
	addQuantity float64
	addCarbs    float64
	addProtein  float64
	addFat      float64
	foodsLimit  int
)

func init() {
	rootCmd.AddCommand(scanCmd, logCmd, addCmd, foodsCmd)

	scanCmd.Flags().IntVar(&scanTop, "top", 3, "number of matches to return")
	logCmd.Flags().Float64Var(&logQuantity, "quantity", 1, "servings eaten")

	addCmd.Flags().Float64Var(&addQuantity, "quantity", 1, "servings eaten")
	addCmd.Flags().Float64Var(&addCarbs, "carbs", 0, "carbs per serving in grams")
	addCmd.Flags().Float64Var(&addProtein, "protein", 0, "protein per serving in grams")
	addCmd.Flags().Float64Var(&addFat, "fat", 0, "fat per serving in grams")

	foodsCmd.Flags().IntVar(&foodsLimit, "limit", 20, "maximum number of foods to list (negative for all)")
}

// withRuntime opens the runtime for one command and closes it afterwards.
func withRuntime(fn func(ctx context.Context, rt *runtime) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(ctx, rt)
	if err := rt.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// checkFlagRange rejects an integer flag outside [1, upper]. upper <= 0
// means no upper bound.
func checkFlagRange(name string, v, upper int) error {
	if v < 1 || (upper > 0 && v > upper) {
		if upper > 0 {
			return fmt.Errorf("%w: --%s must be between 1 and %d, got %d", food.ErrInvalidInput, name, upper, v)
		}
		return fmt.Errorf("%w: --%s must be positive, got %d", food.ErrInvalidInput, name, v)
	}
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := checkFlagRange("top", scanTop, 0); err != nil {
		return err
	}
	description := strings.Join(args, " ")
	return withRuntime(func(ctx context.Context, rt *runtime) error {
		results, err := rt.tracker.ScanText(ctx, description, scanTop)
		if err != nil {
			return err
		}
		printMatches(cmd.OutOrStdout(), description, results)
		return nil
	})
}

func runLog(cmd *cobra.Command, args []string) error {
	description := strings.Join(args, " ")
	return withRuntime(func(ctx context.Context, rt *runtime) error {
		results, err := rt.tracker.ScanText(ctx, description, 1)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Could not recognise the food. Use 'add' to create a manual entry.")
			return nil
		}
		entry, err := rt.tracker.LogMatch(ctx, results[0].Food, logQuantity, time.Time{})
		if err != nil {
			return err
		}
		printLogged(cmd.OutOrStdout(), entry)
		return nil
	})
}

func runAdd(cmd *cobra.Command, args []string) error {
	calories, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("calories %q: %w", args[2], food.ErrInvalidInput)
	}
	f := food.Food{
		Name:        args[0],
		ServingSize: args[1],
		Calories:    calories,
		Macronutrients: map[string]float64{
			food.MacroCarbs:   addCarbs,
			food.MacroProtein: addProtein,
			food.MacroFat:     addFat,
		},
	}
	return withRuntime(func(ctx context.Context, rt *runtime) error {
		entry, err := rt.tracker.ManualEntry(ctx, f, addQuantity)
		if err != nil {
			return err
		}
		printLogged(cmd.OutOrStdout(), entry)
		return nil
	})
}

func runFoods(cmd *cobra.Command, _ []string) error {
	return withRuntime(func(_ context.Context, rt *runtime) error {
		printFoods(cmd.OutOrStdout(), rt.tracker.KnownFoods(), foodsLimit)
		return nil
	})
}
