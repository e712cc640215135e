package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// File is one uploaded or submitted document row.
type File struct {
	ID          string
	TeamID      string
	FileName    string
	Type        string
	StoragePath string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// FileRepository persists File rows. All reads filter on deleted_at IS NULL
// so deleted files behave as missing.
type FileRepository struct {
	db *sql.DB
}

// Insert creates the File row and fills the timestamps. The caller supplies
// the ID because passages reference it before the row exists.
func (r *FileRepository) Insert(ctx context.Context, f *File) error {
	query := `
		INSERT INTO files (id, team_id, file_name, type, storage_path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, f.ID, f.TeamID, f.FileName, f.Type, f.StoragePath).
		Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting file: %w", err)
	}
	return nil
}

// GetOwned returns the live File when it belongs to the team.
func (r *FileRepository) GetOwned(ctx context.Context, id, teamID string) (*File, error) {
	query := `
		SELECT id, team_id, file_name, type, storage_path, created_at, updated_at
		FROM files
		WHERE id = $1 AND team_id = $2 AND deleted_at IS NULL`

	var f File
	err := r.db.QueryRowContext(ctx, query, id, teamID).
		Scan(&f.ID, &f.TeamID, &f.FileName, &f.Type, &f.StoragePath, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("selecting file %s: %w", id, err)
	}
	return &f, nil
}

// CountOwned returns how many of the given IDs are live files of the team.
// Callers compare against len(ids) to verify ownership of the whole set.
func (r *FileRepository) CountOwned(ctx context.Context, ids []string, teamID string) (int, error) {
	query := `
		SELECT count(*)
		FROM files
		WHERE id = ANY($1) AND team_id = $2 AND deleted_at IS NULL`

	var n int
	if err := r.db.QueryRowContext(ctx, query, ids, teamID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting owned files: %w", err)
	}
	return n, nil
}

// ListByTeam returns one page of the team's live files, newest first, with
// the total live count.
func (r *FileRepository) ListByTeam(ctx context.Context, teamID string, limit, offset int) ([]File, int, error) {
	query := `
		SELECT id, team_id, file_name, type, storage_path, created_at, updated_at,
		       count(*) OVER () AS total
		FROM files
		WHERE team_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, teamID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var (
		files []File
		total int
	)
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.TeamID, &f.FileName, &f.Type, &f.StoragePath, &f.CreatedAt, &f.UpdatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("scanning file row: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating file rows: %w", err)
	}
	return files, total, nil
}

// UpdateContent replaces file_name and storage_path after an overwrite.
func (r *FileRepository) UpdateContent(ctx context.Context, id, teamID, fileName, storagePath string) error {
	query := `
		UPDATE files
		SET file_name = $3, storage_path = $4, updated_at = now()
		WHERE id = $1 AND team_id = $2 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id, teamID, fileName, storagePath)
	if err != nil {
		return fmt.Errorf("updating file %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}

// SoftDelete stamps deleted_at. Deleting an already-deleted file reports
// ErrNotFound, keeping the operation idempotent for callers.
func (r *FileRepository) SoftDelete(ctx context.Context, id, teamID string) error {
	query := `
		UPDATE files
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND team_id = $2 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id, teamID)
	if err != nil {
		return fmt.Errorf("soft-deleting file %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return nil
}
