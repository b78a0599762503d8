package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Sync Cursor Operations
// =============================================================================

// GetCursor retrieves the stored change token for a scope. Returns an
// empty token (no error) if the scope has never completed a fetch.
func (db *DB) GetCursor(scope string) (string, error) {
	var token string

	err := db.QueryRow(
		`SELECT change_token FROM sync_cursor WHERE owner_scope = ?`,
		scope).Scan(&token)

	if err == sql.ErrNoRows {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return token, nil
}

// SaveCursor stores the change token for a scope. Called only after a
// fetch has paginated to completion and its pages have been applied;
// never advanced speculatively.
func (db *DB) SaveCursor(scope, token string) error {
	query := `
		INSERT INTO sync_cursor (owner_scope, change_token, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_scope) DO UPDATE SET
			change_token = excluded.change_token,
			updated_at = excluded.updated_at
	`

	_, err := db.Exec(query, scope, token, time.Now().UTC())
	return err
}
