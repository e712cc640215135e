package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Identity is the caller resolved from an API key.
type Identity struct {
	UserID string
	TeamID string
	Email  string
}

// APIKeyRepository resolves API keys to identities.
type APIKeyRepository struct {
	db *sql.DB
}

// Resolve maps an API key to its identity. Unknown keys report ErrNotFound.
func (r *APIKeyRepository) Resolve(ctx context.Context, apiKey string) (*Identity, error) {
	query := `SELECT user_id, team_id, email FROM api_keys WHERE api_key = $1`

	var id Identity
	err := r.db.QueryRowContext(ctx, query, apiKey).Scan(&id.UserID, &id.TeamID, &id.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving api key: %w", err)
	}
	return &id, nil
}
