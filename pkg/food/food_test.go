package food_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/foodtracker/pkg/food"
)

func apple() food.Food {
	return food.Food{
		Name:           "Apple",
		ServingSize:    "1 medium",
		Calories:       95,
		Macronutrients: map[string]float64{food.MacroCarbs: 25, food.MacroProtein: 0.5},
		Aliases:        []string{"green apple"},
	}
}

func ptr(v float64) *float64 { return &v }

// ── Food ─────────────────────────────────────────────────────────────────────

func TestFoodValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*food.Food)
		wantErr bool
	}{
		{"valid", func(*food.Food) {}, false},
		{"blank name", func(f *food.Food) { f.Name = "   " }, true},
		{"negative calories", func(f *food.Food) { f.Calories = -1 }, true},
		{"calories above limit", func(f *food.Food) { f.Calories = food.MaxCalories + 1 }, true},
		{"calories at limit", func(f *food.Food) { f.Calories = food.MaxCalories }, false},
		{"nan calories", func(f *food.Food) { f.Calories = math.NaN() }, true},
		{"negative macro", func(f *food.Food) { f.Macronutrients["fat"] = -2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := apple()
			tt.mutate(&f)
			err := f.Validate()
			if tt.wantErr {
				if !errors.Is(err, food.ErrInvalidInput) {
					t.Fatalf("err = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestFoodClone_IsDeep(t *testing.T) {
	f := apple()
	c := f.Clone()
	c.Macronutrients[food.MacroCarbs] = 1
	c.Aliases[0] = "changed"
	if f.Macronutrients[food.MacroCarbs] != 25 {
		t.Errorf("original macros mutated: got %v", f.Macronutrients[food.MacroCarbs])
	}
	if f.Aliases[0] != "green apple" {
		t.Errorf("original aliases mutated: got %q", f.Aliases[0])
	}
}

// ── Entry ────────────────────────────────────────────────────────────────────

func TestNewEntry_SnapshotsFoodAndDerivesTotals(t *testing.T) {
	f := apple()
	loc := time.FixedZone("CEST", 2*3600)
	e, err := food.NewEntry(f, 2, time.Date(2026, 3, 1, 9, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("NewEntry: %v", err)
	}
	f.Macronutrients[food.MacroCarbs] = 999

	if got := e.Calories(); got != 190 {
		t.Errorf("Calories() = %v, want 190", got)
	}
	if got := e.Macronutrients()[food.MacroCarbs]; got != 50 {
		t.Errorf("carbs = %v, want 50", got)
	}
	if e.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp location = %v, want UTC", e.Timestamp.Location())
	}
	if e.Timestamp.Hour() != 7 {
		t.Errorf("timestamp hour = %d, want 7", e.Timestamp.Hour())
	}
}

func TestValidateQuantity(t *testing.T) {
	for _, q := range []float64{0, -1, food.MaxQuantity + 0.1, math.NaN()} {
		if err := food.ValidateQuantity(q); !errors.Is(err, food.ErrInvalidInput) {
			t.Errorf("ValidateQuantity(%v) = %v, want ErrInvalidInput", q, err)
		}
	}
	for _, q := range []float64{0.01, 1, food.MaxQuantity} {
		if err := food.ValidateQuantity(q); err != nil {
			t.Errorf("ValidateQuantity(%v) = %v, want nil", q, err)
		}
	}
}

// ── Goal ─────────────────────────────────────────────────────────────────────

func TestGoalUpdate_Apply(t *testing.T) {
	g := food.Goal{
		Calories:       ptr(2000),
		Macronutrients: map[string]float64{food.MacroProtein: 120, food.MacroFat: 70},
	}

	got, err := food.GoalUpdate{
		Macros: map[string]*float64{food.MacroProtein: nil, food.MacroCarbs: ptr(250)},
	}.Apply(g)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Calories == nil || *got.Calories != 2000 {
		t.Errorf("calories = %v, want 2000 kept", got.Calories)
	}
	if _, ok := got.Macronutrients[food.MacroProtein]; ok {
		t.Error("protein target should be cleared")
	}
	if got.Macronutrients[food.MacroCarbs] != 250 {
		t.Errorf("carbs = %v, want 250", got.Macronutrients[food.MacroCarbs])
	}
	if got.Macronutrients[food.MacroFat] != 70 {
		t.Errorf("fat = %v, want 70 kept", got.Macronutrients[food.MacroFat])
	}
	if _, ok := g.Macronutrients[food.MacroProtein]; !ok {
		t.Error("input goal must not be modified")
	}

	cleared, err := food.GoalUpdate{ClearCalories: true}.Apply(got)
	if err != nil {
		t.Fatalf("Apply clear: %v", err)
	}
	if cleared.Calories != nil {
		t.Errorf("calories = %v, want nil", *cleared.Calories)
	}
}

func TestGoalUpdate_RejectsNegative(t *testing.T) {
	_, err := food.GoalUpdate{Calories: ptr(-5)}.Apply(food.Goal{})
	if !errors.Is(err, food.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
