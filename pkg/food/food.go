// Package food defines the data model shared by the matcher, the corpus and
// the entry store: reference foods, logged entries and nutrition goals.
//
// All types are plain values. Entries carry a deep copy of the food they were
// logged against so later edits to the reference dataset never rewrite history.
package food

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"
	"time"
)

// Validation limits for foods and entries.
const (
	// MaxCalories is the upper bound for per-serving calories.
	MaxCalories = 10000.0

	// MaxQuantity is the upper bound for the number of servings in one entry.
	MaxQuantity = 1000.0
)

// Conventional macronutrient keys. The macro map is an open set; these are the
// keys the bundled dataset and the statistics views use.
const (
	MacroProtein = "protein"
	MacroCarbs   = "carbs"
	MacroFat     = "fat"
)

// Food is a reference food from the dataset or a user-registered custom food.
type Food struct {
	// Name is the display name. Must be non-empty after trimming.
	Name string `json:"name" yaml:"name"`

	// ServingSize is a free-form serving description such as "1 medium".
	ServingSize string `json:"serving_size" yaml:"serving_size"`

	// Calories per serving, in [0, MaxCalories].
	Calories float64 `json:"calories" yaml:"calories"`

	// Macronutrients maps a macro name to grams per serving. Values must be
	// non-negative.
	Macronutrients map[string]float64 `json:"macronutrients,omitempty" yaml:"macronutrients,omitempty"`

	// Aliases are alternative names the matcher also compares against.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Validate reports whether f satisfies the data model constraints. The
// returned error wraps [ErrInvalidInput] and joins every violation found.
func (f Food) Validate() error {
	var errs []error
	if strings.TrimSpace(f.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if math.IsNaN(f.Calories) || f.Calories < 0 || f.Calories > MaxCalories {
		errs = append(errs, fmt.Errorf("calories %v outside [0, %v]", f.Calories, MaxCalories))
	}
	for k, v := range f.Macronutrients {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, errors.New("macronutrient name must not be empty"))
		}
		if math.IsNaN(v) || v < 0 {
			errs = append(errs, fmt.Errorf("macronutrient %q: %v must be non-negative", k, v))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: food %q: %w", ErrInvalidInput, f.Name, errors.Join(errs...))
}

// Clone returns a deep copy of f.
func (f Food) Clone() Food {
	out := f
	if f.Macronutrients != nil {
		out.Macronutrients = maps.Clone(f.Macronutrients)
	}
	if f.Aliases != nil {
		out.Aliases = append([]string(nil), f.Aliases...)
	}
	return out
}

// Entry is one logged consumption: a food snapshot, a quantity in servings and
// the time it was logged.
type Entry struct {
	// ID is assigned by the store on append. It is unique, increases
	// monotonically and is never reused.
	ID int64 `json:"id"`

	// Food is a snapshot of the food at the time of logging.
	Food Food `json:"food"`

	// Quantity is the number of servings, in (0, MaxQuantity].
	Quantity float64 `json:"quantity"`

	// Timestamp is the logging time in UTC.
	Timestamp time.Time `json:"timestamp"`
}

// Calories returns quantity × per-serving calories.
func (e Entry) Calories() float64 {
	return e.Quantity * e.Food.Calories
}

// Macronutrients returns quantity × per-serving grams for every macro of the
// food snapshot.
func (e Entry) Macronutrients() map[string]float64 {
	out := make(map[string]float64, len(e.Food.Macronutrients))
	for k, v := range e.Food.Macronutrients {
		out[k] = v * e.Quantity
	}
	return out
}

// Validate checks the entry's food and quantity.
func (e Entry) Validate() error {
	if err := e.Food.Validate(); err != nil {
		return err
	}
	return ValidateQuantity(e.Quantity)
}

// NewEntry snapshots f and builds an entry stamped with ts in UTC. The ID is
// left zero for the store to assign.
func NewEntry(f Food, quantity float64, ts time.Time) (Entry, error) {
	e := Entry{Food: f.Clone(), Quantity: quantity, Timestamp: ts.UTC()}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// ValidateQuantity reports whether q is a valid number of servings.
func ValidateQuantity(q float64) error {
	if math.IsNaN(q) || q <= 0 || q > MaxQuantity {
		return fmt.Errorf("%w: quantity %v outside (0, %v]", ErrInvalidInput, q, MaxQuantity)
	}
	return nil
}
