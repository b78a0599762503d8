package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Record Row Operations
// =============================================================================

// RecordRow is the persisted shape of a synced record. Fields are
// stored as a JSON blob; decoding back into typed values is the
// store adapter's job.
type RecordRow struct {
	ID           string
	Kind         string
	OwnerScope   string
	FieldsJSON   string
	LocalVersion int64
	RemoteTag    string
	ModifiedAt   time.Time
	Dirty        bool
	Deleted      bool
	Blocked      bool
}

// UpsertRecord inserts or replaces a record row
func (db *DB) UpsertRecord(row *RecordRow) error {
	query := `
		INSERT INTO records (id, kind, owner_scope, fields, local_version, remote_tag, modified_at, dirty, deleted, blocked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			owner_scope = excluded.owner_scope,
			fields = excluded.fields,
			local_version = excluded.local_version,
			remote_tag = excluded.remote_tag,
			modified_at = excluded.modified_at,
			dirty = excluded.dirty,
			deleted = excluded.deleted,
			blocked = excluded.blocked
	`

	_, err := db.Exec(query,
		row.ID, row.Kind, row.OwnerScope, row.FieldsJSON, row.LocalVersion,
		row.RemoteTag, row.ModifiedAt, row.Dirty, row.Deleted, row.Blocked)
	return err
}

// GetRecord retrieves a record row by id, tombstones included
func (db *DB) GetRecord(id string) (*RecordRow, error) {
	row := &RecordRow{}

	query := `
		SELECT id, kind, owner_scope, fields, local_version, remote_tag, modified_at, dirty, deleted, blocked
		FROM records
		WHERE id = ?
	`

	err := db.QueryRow(query, id).Scan(
		&row.ID,
		&row.Kind,
		&row.OwnerScope,
		&row.FieldsJSON,
		&row.LocalVersion,
		&row.RemoteTag,
		&row.ModifiedAt,
		&row.Dirty,
		&row.Deleted,
		&row.Blocked,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return row, nil
}

// RecordExists reports whether any row (live or tombstoned) holds the id
func (db *DB) RecordExists(id string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(1) FROM records WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDirtyRecords retrieves all live dirty rows for a scope in
// modification order
func (db *DB) ListDirtyRecords(scope string) ([]*RecordRow, error) {
	query := `
		SELECT id, kind, owner_scope, fields, local_version, remote_tag, modified_at, dirty, deleted, blocked
		FROM records
		WHERE owner_scope = ? AND dirty = 1 AND deleted = 0
		ORDER BY modified_at ASC, id ASC
	`

	rows, err := db.Query(query, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RecordRow
	for rows.Next() {
		row := &RecordRow{}
		err := rows.Scan(
			&row.ID,
			&row.Kind,
			&row.OwnerScope,
			&row.FieldsJSON,
			&row.LocalVersion,
			&row.RemoteTag,
			&row.ModifiedAt,
			&row.Dirty,
			&row.Deleted,
			&row.Blocked,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// MarkRecordClean clears the dirty flag and records the remote version
// tag issued by the server
func (db *DB) MarkRecordClean(id, remoteTag string) error {
	result, err := db.Exec(
		`UPDATE records SET dirty = 0, remote_tag = ? WHERE id = ?`,
		remoteTag, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkRecordDeleted tombstones a record row
func (db *DB) MarkRecordDeleted(id string) error {
	result, err := db.Exec(
		`UPDATE records SET deleted = 1, dirty = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// SetRecordBlocked flags or unflags a record as blocked from sync
// while a manual conflict awaits resolution
func (db *DB) SetRecordBlocked(id string, blocked bool) error {
	_, err := db.Exec(`UPDATE records SET blocked = ? WHERE id = ?`, blocked, id)
	return err
}

// ListBlockedRecords returns ids of records awaiting manual conflict
// resolution in a scope
func (db *DB) ListBlockedRecords(scope string) ([]string, error) {
	rows, err := db.Query(
		`SELECT id FROM records WHERE owner_scope = ? AND blocked = 1 ORDER BY id ASC`,
		scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
