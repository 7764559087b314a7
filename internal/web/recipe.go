package web

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sweeney/scent-dispenser/internal/logic"
)

//go:embed schema/recipe-v1.json
var recipeSchemaJSON string

// Limits bounds a submitted recipe.
type Limits struct {
	MinIngredients int
	MaxIngredients int
	MinTotalMl     float64
	MaxTotalMl     float64
}

// RecipeRequest is the body of POST /api/recipe.
type RecipeRequest struct {
	Name         string             `json:"name"`
	ProductionID string             `json:"productionId,omitempty"`
	CallbackURL  string             `json:"callbackUrl,omitempty"`
	Recipe       map[string]float64 `json:"recipe"`
}

// Production returns the production the request reports back to.
func (r RecipeRequest) Production() logic.Production {
	return logic.Production{ID: r.ProductionID, CallbackURL: r.CallbackURL}
}

// RequestError is a rejected submission. Details is echoed to the client.
type RequestError struct {
	Message string
	Details map[string]any
}

func (e *RequestError) Error() string { return e.Message }

// RecipeValidator checks submissions against the schema and maps ingredient
// names onto pump channels.
type RecipeValidator struct {
	schema      *jsonschema.Schema
	ingredients map[string]int
	limits      Limits
}

// NewRecipeValidator compiles the embedded schema. ingredients maps names to channels 1-10.
func NewRecipeValidator(ingredients map[string]int, limits Limits) (*RecipeValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("recipe-v1.json", strings.NewReader(recipeSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("recipe-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	m := make(map[string]int, len(ingredients))
	for name, ch := range ingredients {
		m[strings.ToLower(name)] = ch
	}
	return &RecipeValidator{schema: schema, ingredients: m, limits: limits}, nil
}

// Decode validates the raw body and builds the ten-channel recipe.
func (v *RecipeValidator) Decode(data []byte) (RecipeRequest, logic.Recipe, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return RecipeRequest{}, logic.Recipe{}, &RequestError{Message: "invalid JSON: " + err.Error()}
	}
	if err := v.schema.Validate(doc); err != nil {
		return RecipeRequest{}, logic.Recipe{}, &RequestError{
			Message: "schema validation failed",
			Details: map[string]any{"error": err.Error()},
		}
	}

	var req RecipeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return RecipeRequest{}, logic.Recipe{}, &RequestError{Message: "invalid JSON: " + err.Error()}
	}
	if err := checkCallbackURL(req.CallbackURL); err != nil {
		return RecipeRequest{}, logic.Recipe{}, err
	}
	r, err := v.Build(req.Recipe)
	return req, r, err
}

func checkCallbackURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &RequestError{
			Message: "callbackUrl must be an absolute http or https URL",
			Details: map[string]any{"callbackUrl": raw},
		}
	}
	return nil
}

// Build maps named volumes onto channels and enforces the count and total limits.
func (v *RecipeValidator) Build(named map[string]float64) (logic.Recipe, error) {
	var r logic.Recipe
	if len(named) == 0 {
		return r, &RequestError{Message: "recipe needs at least one ingredient"}
	}

	// Names match case-insensitively, so "Pine" and "pine" name the same ingredient.
	volumes := make(map[string]float64, len(named))
	var unknown []string
	dup := map[string]bool{}
	for name, ml := range named {
		key := strings.ToLower(name)
		if _, ok := v.ingredients[key]; !ok {
			unknown = append(unknown, name)
			continue
		}
		if _, seen := volumes[key]; seen {
			dup[key] = true
			continue
		}
		volumes[key] = ml
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return r, &RequestError{
			Message: "unknown ingredients",
			Details: map[string]any{"unknown_ingredients": unknown},
		}
	}
	if len(dup) > 0 {
		names := make([]string, 0, len(dup))
		for name := range dup {
			names = append(names, name)
		}
		sort.Strings(names)
		return r, &RequestError{
			Message: "duplicate ingredients",
			Details: map[string]any{"duplicate_ingredients": names},
		}
	}

	if n := len(volumes); n < v.limits.MinIngredients || n > v.limits.MaxIngredients {
		return r, &RequestError{
			Message: fmt.Sprintf("ingredient count must be %d-%d", v.limits.MinIngredients, v.limits.MaxIngredients),
			Details: map[string]any{"count": n},
		}
	}

	total := 0.0
	for name, ml := range volumes {
		if ml < 0 || math.IsNaN(ml) {
			return r, &RequestError{Message: fmt.Sprintf("%q: volume must not be negative", name)}
		}
		r[v.ingredients[name]-1] += ml
		total += ml
	}

	if total < v.limits.MinTotalMl || total > v.limits.MaxTotalMl {
		return r, &RequestError{
			Message: fmt.Sprintf("total must be %.1f-%.1f ml", v.limits.MinTotalMl, v.limits.MaxTotalMl),
			Details: map[string]any{"total_ml": math.Round(total*1000) / 1000},
		}
	}
	return r.Clamp(), nil
}
