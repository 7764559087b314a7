package web

import (
	"errors"
	"testing"

	"github.com/sweeney/scent-dispenser/internal/logic"
)

func TestBuildMapsIngredientsToChannels(t *testing.T) {
	v, err := NewRecipeValidator(testIngredients, testLimits)
	if err != nil {
		t.Fatalf("NewRecipeValidator: %v", err)
	}

	r, err := v.Build(map[string]float64{"persimmon": 5, "GINKGO": 4.5, "pine": 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := logic.Recipe{0, 5, 4.5, 0, 0, 0, 0, 0, 0, 5}
	if r != want {
		t.Errorf("got %v, want %v", r, want)
	}
}

func TestBuildSharedChannelAccumulates(t *testing.T) {
	v, err := NewRecipeValidator(map[string]int{"rose": 4, "rose_absolute": 4}, testLimits)
	if err != nil {
		t.Fatalf("NewRecipeValidator: %v", err)
	}

	r, err := v.Build(map[string]float64{"rose": 7, "rose_absolute": 7.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r[3] != 14.5 {
		t.Errorf("channel 4: got %v, want 14.5", r[3])
	}
}

func TestBuildZeroVolumeCountsAsIngredient(t *testing.T) {
	v, err := NewRecipeValidator(testIngredients, Limits{MinIngredients: 2, MaxIngredients: 7, MinTotalMl: 14, MaxTotalMl: 15.1})
	if err != nil {
		t.Fatalf("NewRecipeValidator: %v", err)
	}

	if _, err := v.Build(map[string]float64{"omija": 14.5, "pine": 0}); err != nil {
		t.Errorf("zero volume entry should count toward the ingredient minimum: %v", err)
	}
}

func TestBuildErrorsAreRequestErrors(t *testing.T) {
	v, err := NewRecipeValidator(testIngredients, testLimits)
	if err != nil {
		t.Fatalf("NewRecipeValidator: %v", err)
	}

	_, err = v.Build(nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}

	_, err = v.Build(map[string]float64{"omija": 20})
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Details["total_ml"] != 20.0 {
		t.Errorf("details: got %v", reqErr.Details)
	}
}

func TestBuildRejectsCaseDuplicates(t *testing.T) {
	v, err := NewRecipeValidator(testIngredients, testLimits)
	if err != nil {
		t.Fatalf("NewRecipeValidator: %v", err)
	}

	_, err = v.Build(map[string]float64{"Pine": 7, "pine": 7.5, "PINE": 1, "omija": 1})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	dup, _ := reqErr.Details["duplicate_ingredients"].([]string)
	if len(dup) != 1 || dup[0] != "pine" {
		t.Errorf("duplicates: got %v, want [pine]", reqErr.Details)
	}
}

func TestBuildCountsDistinctIngredients(t *testing.T) {
	v, err := NewRecipeValidator(testIngredients, Limits{MinIngredients: 2, MaxIngredients: 2, MinTotalMl: 14, MaxTotalMl: 15.1})
	if err != nil {
		t.Fatalf("NewRecipeValidator: %v", err)
	}

	r, err := v.Build(map[string]float64{"OMIJA": 7, "Pine": 7.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r[0] != 7 || r[9] != 7.5 {
		t.Errorf("got %v", r)
	}
}
