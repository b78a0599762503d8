package db

// Schema for the three durable pieces of sync state: the local record
// copies, the offline mutation queue and the per-scope change cursor.
// All three must survive process restarts.

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS records (
		id            TEXT PRIMARY KEY,
		kind          TEXT NOT NULL,
		owner_scope   TEXT NOT NULL,
		fields        TEXT NOT NULL,
		local_version INTEGER NOT NULL,
		remote_tag    TEXT NOT NULL DEFAULT '',
		modified_at   TIMESTAMP NOT NULL,
		dirty         INTEGER NOT NULL DEFAULT 0,
		deleted       INTEGER NOT NULL DEFAULT 0,
		blocked       INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_scope_dirty
		ON records(owner_scope, dirty)`,

	`CREATE TABLE IF NOT EXISTS sync_queue (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		id            TEXT NOT NULL UNIQUE,
		record_id     TEXT NOT NULL,
		kind          TEXT NOT NULL,
		op            TEXT NOT NULL,
		snapshot      TEXT NOT NULL,
		enqueued_at   TIMESTAMP NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_queue_record
		ON sync_queue(record_id)`,

	`CREATE TABLE IF NOT EXISTS sync_cursor (
		owner_scope  TEXT PRIMARY KEY,
		change_token TEXT NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`,
}

// InitSchema creates all tables and indexes if they do not exist.
// Safe to call on every startup.
func (db *DB) InitSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
