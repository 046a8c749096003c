package food

import (
	"fmt"
	"maps"
	"math"
)

// Goal holds the user's daily nutrition targets. There is exactly one Goal per
// store and it is overwritten wholesale on update. A nil Calories or a missing
// macro key means "no target".
type Goal struct {
	Calories       *float64           `json:"calories"`
	Macronutrients map[string]float64 `json:"macronutrients"`
}

// Clone returns a deep copy of g.
func (g Goal) Clone() Goal {
	out := Goal{Macronutrients: maps.Clone(g.Macronutrients)}
	if g.Calories != nil {
		c := *g.Calories
		out.Calories = &c
	}
	if out.Macronutrients == nil {
		out.Macronutrients = map[string]float64{}
	}
	return out
}

// Validate rejects negative or NaN targets.
func (g Goal) Validate() error {
	if g.Calories != nil && (math.IsNaN(*g.Calories) || *g.Calories < 0) {
		return fmt.Errorf("%w: calorie goal %v must be non-negative", ErrInvalidInput, *g.Calories)
	}
	for k, v := range g.Macronutrients {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("%w: %s goal %v must be non-negative", ErrInvalidInput, k, v)
		}
	}
	return nil
}

// GoalUpdate is a partial change to a Goal.
type GoalUpdate struct {
	// Calories, when non-nil, replaces the calorie target.
	Calories *float64 `json:"calories,omitempty"`

	// ClearCalories removes the calorie target. Ignored when Calories is set.
	ClearCalories bool `json:"clear_calories,omitempty"`

	// Macros sets (non-nil value) or clears (nil value) individual macro
	// targets. Keys not present keep their current target.
	Macros map[string]*float64 `json:"macronutrients,omitempty"`
}

// Apply returns a new Goal with u applied to g. g is not modified.
func (u GoalUpdate) Apply(g Goal) (Goal, error) {
	out := g.Clone()
	switch {
	case u.Calories != nil:
		c := *u.Calories
		out.Calories = &c
	case u.ClearCalories:
		out.Calories = nil
	}
	for k, v := range u.Macros {
		if v == nil {
			delete(out.Macronutrients, k)
			continue
		}
		out.Macronutrients[k] = *v
	}
	if err := out.Validate(); err != nil {
		return Goal{}, err
	}
	return out, nil
}
