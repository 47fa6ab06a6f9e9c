package store

import (
	"context"
	"database/sql"
	"fmt"
)

const metaTable = "vault_meta"

const createMetaTable = `
CREATE TABLE IF NOT EXISTS vault_meta (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	salt          BLOB    NOT NULL,
	encrypted_dek BLOB    NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER,
	version       INTEGER NOT NULL DEFAULT 1
);`

// Record tables are owned by the record layer; the vault only guarantees they exist.
// Sensitive columns hold blobs sealed with Handle.SealField.
var recordSchema = []string{
	`CREATE TABLE IF NOT EXISTS vault_folders (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		parent_id  TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (parent_id) REFERENCES vault_folders(id)
	)`,
	`CREATE TABLE IF NOT EXISTS vault_passwords (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		username           TEXT,
		email              TEXT,
		encrypted_password BLOB NOT NULL,
		website            TEXT,
		notes              TEXT,
		folder_id          TEXT,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL,
		last_used_at       INTEGER,
		tags               TEXT,
		is_favorite        INTEGER DEFAULT 0,
		FOREIGN KEY (folder_id) REFERENCES vault_folders(id)
	)`,
	`CREATE TABLE IF NOT EXISTS vault_cards (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		cardholder_name  TEXT,
		encrypted_number BLOB NOT NULL,
		encrypted_cvv    BLOB,
		expiry_month     INTEGER,
		expiry_year      INTEGER,
		brand            TEXT,
		notes            TEXT,
		folder_id        TEXT,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL,
		last_used_at     INTEGER,
		tags             TEXT,
		is_favorite      INTEGER DEFAULT 0,
		FOREIGN KEY (folder_id) REFERENCES vault_folders(id)
	)`,
	`CREATE TABLE IF NOT EXISTS vault_notes (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL,
		encrypted_content BLOB NOT NULL,
		folder_id         TEXT,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		tags              TEXT,
		is_favorite       INTEGER DEFAULT 0,
		FOREIGN KEY (folder_id) REFERENCES vault_folders(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_vault_passwords_folder ON vault_passwords(folder_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vault_cards_folder ON vault_cards(folder_id)`,
	`CREATE INDEX IF NOT EXISTS idx_vault_notes_folder ON vault_notes(folder_id)`,
}

var recordTables = map[string]struct{}{
	"vault_folders":   {},
	"vault_passwords": {},
	"vault_cards":     {},
	"vault_notes":     {},
}

// IsRecordTable reports whether name is one of the record tables created with the vault.
// Callers must check it before placing a table name in identifier position.
func IsRecordTable(name string) bool {
	_, ok := recordTables[name]
	return ok
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createRecordSchema(ctx context.Context, db execer) error {
	for _, stmt := range recordSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create record schema: %w", err)
		}
	}
	return nil
}
