package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UsageProfile is a user's quota tier and reset anchor.
type UsageProfile struct {
	UserID           string
	Tier             string
	LastUsageResetAt *time.Time
}

// UsageLogEntry is one append-only API usage record.
type UsageLogEntry struct {
	UserID    string
	Endpoint  string
	Success   bool
	CreatedAt time.Time
}

// UsageRepository persists usage profiles and the append-only usage log.
type UsageRepository struct {
	db *sql.DB
}

// GetProfile returns the user's usage profile. Users without a row get the
// free tier with an unset reset anchor.
func (r *UsageRepository) GetProfile(ctx context.Context, userID string) (*UsageProfile, error) {
	query := `SELECT user_id, tier, last_usage_reset_at FROM usage_profiles WHERE user_id = $1`

	var (
		p       UsageProfile
		resetAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&p.UserID, &p.Tier, &resetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &UsageProfile{UserID: userID, Tier: "free"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting usage profile: %w", err)
	}
	if resetAt.Valid {
		t := resetAt.Time
		p.LastUsageResetAt = &t
	}
	return &p, nil
}

// CountLogsSince counts the user's usage log entries created at or after the
// window start.
func (r *UsageRepository) CountLogsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT count(*) FROM usage_logs WHERE user_id = $1 AND created_at >= $2`

	var n int
	if err := r.db.QueryRowContext(ctx, query, userID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage logs: %w", err)
	}
	return n, nil
}

// InsertLog appends one usage record.
func (r *UsageRepository) InsertLog(ctx context.Context, e UsageLogEntry) error {
	query := `INSERT INTO usage_logs (user_id, endpoint, success) VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, e.UserID, e.Endpoint, e.Success); err != nil {
		return fmt.Errorf("inserting usage log: %w", err)
	}
	return nil
}

// ListDueReset returns profiles whose reset anchor is at or before the
// cutoff. Profiles with an unset anchor are skipped; their window falls back
// to the calendar month and needs no advancing.
func (r *UsageRepository) ListDueReset(ctx context.Context, cutoff time.Time, limit int) ([]UsageProfile, error) {
	query := `
		SELECT user_id, tier, last_usage_reset_at
		FROM usage_profiles
		WHERE last_usage_reset_at IS NOT NULL AND last_usage_reset_at <= $1
		ORDER BY last_usage_reset_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing profiles due reset: %w", err)
	}
	defer rows.Close()

	var profiles []UsageProfile
	for rows.Next() {
		var (
			p       UsageProfile
			resetAt sql.NullTime
		)
		if err := rows.Scan(&p.UserID, &p.Tier, &resetAt); err != nil {
			return nil, fmt.Errorf("scanning profile row: %w", err)
		}
		if resetAt.Valid {
			t := resetAt.Time
			p.LastUsageResetAt = &t
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profile rows: %w", err)
	}
	return profiles, nil
}

// AdvanceReset moves the user's reset anchor forward. The scheduled reset
// job is the only caller.
func (r *UsageRepository) AdvanceReset(ctx context.Context, userID string, to time.Time) error {
	query := `UPDATE usage_profiles SET last_usage_reset_at = $2 WHERE user_id = $1`

	res, err := r.db.ExecContext(ctx, query, userID, to)
	if err != nil {
		return fmt.Errorf("advancing usage reset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("usage profile %s: %w", userID, ErrNotFound)
	}
	return nil
}
