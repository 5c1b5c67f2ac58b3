package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quantloop/enginecore/internal/recipe"
)

// RecipeStore persists recipe.Recipe definitions by name, so the reporting
// API can serve GET /api/v1/recipes/:name without a filesystem dependency.
type RecipeStore struct {
	pool PoolInterface
}

// NewRecipeStore creates a RecipeStore backed by pool.
func NewRecipeStore(pool PoolInterface) *RecipeStore {
	return &RecipeStore{pool: pool}
}

// Save upserts r under its own Name, keeping the most recently saved
// definition as the canonical one for that name.
func (s *RecipeStore) Save(ctx context.Context, r *recipe.Recipe) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling recipe %s: %w", r.Name, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO recipes (name, body_json, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET body_json = EXCLUDED.body_json, updated_at = now()
	`, r.Name, body)
	if err != nil {
		return fmt.Errorf("saving recipe %s: %w", r.Name, err)
	}
	return nil
}

// Get fetches the recipe stored under name.
func (s *RecipeStore) Get(ctx context.Context, name string) (*recipe.Recipe, error) {
	row := s.pool.QueryRow(ctx, `SELECT body_json FROM recipes WHERE name = $1`, name)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("recipe %q not found", name)
		}
		return nil, fmt.Errorf("fetching recipe %q: %w", name, err)
	}

	var r recipe.Recipe
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling recipe %q: %w", name, err)
	}
	return &r, nil
}
