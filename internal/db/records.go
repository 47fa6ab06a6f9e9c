package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Hussein-Mazeh/vaultcore/store"
)

// ErrUnknownTable is returned when a table name is not one of the vault record tables.
var ErrUnknownTable = errors.New("unknown record table")

// PasswordRow represents a login record retrieved from vault_passwords.
// The password stays sealed; open it with Handle.OpenField.
type PasswordRow struct {
	ID                string
	Name              string
	Username          string
	Website           string
	EncryptedPassword []byte
	CreatedAt         int64
	UpdatedAt         int64
}

// PasswordSummary is the listing form of a login record.
type PasswordSummary struct {
	ID       string
	Name     string
	Username string
	Website  string
}

// InsertPassword seals plaintext under the session key and stores a new login record.
// It returns the generated record ID.
func InsertPassword(ctx context.Context, h *store.Handle, name, username, website, plaintext string) (string, error) {
	if h == nil {
		return "", fmt.Errorf("database handle is nil")
	}
	if name == "" {
		return "", fmt.Errorf("record name is required")
	}

	sealed, err := h.SealField([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("seal password: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().Unix()
	_, err = h.DB().ExecContext(ctx,
		`INSERT INTO vault_passwords (id, name, username, website, encrypted_password, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, nullable(username), nullable(website), sealed, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert password: %w", err)
	}
	return id, nil
}

// UpdatePassword re-seals the password of an existing record.
// It returns sql.ErrNoRows if no record has that ID.
func UpdatePassword(ctx context.Context, h *store.Handle, id, plaintext string) error {
	if h == nil {
		return fmt.Errorf("database handle is nil")
	}

	sealed, err := h.SealField([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}

	res, err := h.DB().ExecContext(ctx,
		`UPDATE vault_passwords SET encrypted_password = ?, updated_at = ? WHERE id = ?`,
		sealed, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(res)
}

// GetPasswordByName returns the record with the given name.
func GetPasswordByName(ctx context.Context, h *store.Handle, name string) (*PasswordRow, error) {
	if h == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	var (
		r                 PasswordRow
		username, website sql.NullString
	)
	err := h.DB().QueryRowContext(ctx,
		`SELECT id, name, username, website, encrypted_password, created_at, updated_at
		 FROM vault_passwords
		 WHERE name = ?
		 ORDER BY created_at
		 LIMIT 1`,
		name,
	).Scan(&r.ID, &r.Name, &username, &website, &r.EncryptedPassword, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("select password: %w", err)
	}
	r.Username = username.String
	r.Website = website.String
	return &r, nil
}

// RevealPassword opens the sealed password of r and stamps the record as used.
func RevealPassword(ctx context.Context, h *store.Handle, r *PasswordRow) (string, error) {
	plain, err := h.OpenField(r.EncryptedPassword)
	if err != nil {
		return "", fmt.Errorf("open password: %w", err)
	}
	if _, err := h.DB().ExecContext(ctx,
		`UPDATE vault_passwords SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), r.ID,
	); err != nil {
		return string(plain), fmt.Errorf("touch last used: %w", err)
	}
	return string(plain), nil
}

// ListPasswords returns every login record ordered by name.
func ListPasswords(ctx context.Context, h *store.Handle) ([]PasswordSummary, error) {
	if h == nil {
		return nil, fmt.Errorf("database handle is nil")
	}

	rows, err := h.DB().QueryContext(ctx,
		`SELECT id, name, username, website FROM vault_passwords ORDER BY name, created_at`)
	if err != nil {
		return nil, fmt.Errorf("select passwords: %w", err)
	}
	defer rows.Close()

	var out []PasswordSummary
	for rows.Next() {
		var (
			s                 PasswordSummary
			username, website sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Name, &username, &website); err != nil {
			return nil, fmt.Errorf("scan password row: %w", err)
		}
		s.Username = username.String
		s.Website = website.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate password rows: %w", err)
	}
	return out, nil
}

// Count returns the number of rows in a record table.
func Count(ctx context.Context, h *store.Handle, table string) (int, error) {
	if !store.IsRecordTable(table) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	var n int
	if err := h.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// DeleteByID removes one row from a record table.
// It returns sql.ErrNoRows if nothing was deleted.
func DeleteByID(ctx context.Context, h *store.Handle, table, id string) error {
	if !store.IsRecordTable(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	res, err := h.DB().ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
