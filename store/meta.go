package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

// CurrentVersion is the metadata format written by Initialize.
const CurrentVersion = 1

var (
	// ErrVaultAlreadyInitialized is returned when a metadata row already exists.
	ErrVaultAlreadyInitialized = errors.New("vault already initialized")
	// ErrVaultNotInitialized is returned when no metadata row exists.
	ErrVaultNotInitialized = errors.New("vault not initialized")
	// ErrInvalidConfig marks malformed persisted metadata.
	ErrInvalidConfig = errors.New("invalid vault metadata")
	// ErrStorage wraps backing-store I/O and schema failures.
	ErrStorage = errors.New("storage error")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// VaultMeta is the single persisted metadata row.
type VaultMeta struct {
	Salt         krypto.Salt
	EncryptedDek krypto.EncryptedDek
	CreatedAt    int64
	UpdatedAt    int64
	Version      int
}

// NewVaultMeta builds metadata for a vault created now.
func NewVaultMeta(salt krypto.Salt, wrapped krypto.EncryptedDek) VaultMeta {
	now := time.Now().Unix()
	return VaultMeta{
		Salt:         salt,
		EncryptedDek: wrapped,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      CurrentVersion,
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for storage lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Store persists vault metadata in a SQLite file and owns the session handle while the
// vault is unlocked.
type Store struct {
	path string
	log  *slog.Logger

	mu     sync.Mutex
	handle *Handle
}

// New returns a Store backed by the database file at path. The file is not opened until needed.
func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}
	s := &Store{path: path, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// IsInitialized reports whether the metadata table holds a row. It needs no key material and
// does not create the database file.
func (s *Store) IsInitialized(ctx context.Context) (bool, error) {
	exists, err := fileExists(s.path)
	if err != nil {
		return false, storageErr("stat database", err)
	}
	if !exists {
		return false, nil
	}

	db, err := openDB(ctx, s.path)
	if err != nil {
		return false, storageErr("open database", err)
	}
	defer db.Close()

	return hasMetaRow(ctx, db)
}

func hasMetaRow(ctx context.Context, q querier) (bool, error) {
	ok, err := tableExists(ctx, q, metaTable)
	if err != nil {
		return false, storageErr("probe metadata table", err)
	}
	if !ok {
		return false, nil
	}
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_meta`).Scan(&n); err != nil {
		return false, storageErr("count metadata rows", err)
	}
	return n > 0, nil
}

// Initialize creates the metadata table and record schema and inserts meta as the single row.
// The check and insert run in one immediate transaction. On success the store keeps the
// database open with its own copy of dek until Close.
func (s *Store) Initialize(ctx context.Context, meta VaultMeta, dek *krypto.SecureDEK) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := openDB(ctx, s.path)
	if err != nil {
		return storageErr("open database", err)
	}

	if err := initializeTx(ctx, db, meta); err != nil {
		db.Close()
		return err
	}

	own, err := dek.Clone()
	if err != nil {
		db.Close()
		return fmt.Errorf("retain data key: %w", err)
	}

	s.replaceHandle(&Handle{db: db, dek: own})
	s.log.Info("vault metadata created", "path", s.path, "version", meta.Version)
	return nil
}

func initializeTx(ctx context.Context, db *sql.DB, meta VaultMeta) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createMetaTable); err != nil {
		return storageErr("create metadata table", err)
	}
	if err := ensureColumn(ctx, tx, metaTable, "updated_at", "INTEGER"); err != nil {
		return storageErr("migrate metadata table", err)
	}

	exists, err := hasMetaRow(ctx, tx)
	if err != nil {
		return err
	}
	if exists {
		return ErrVaultAlreadyInitialized
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO vault_meta (id, salt, encrypted_dek, created_at, updated_at, version)
		 VALUES (1, ?, ?, ?, ?, ?)`,
		meta.Salt[:], meta.EncryptedDek.Bytes(), meta.CreatedAt, meta.UpdatedAt, meta.Version,
	)
	if err != nil {
		return storageErr("insert metadata", err)
	}

	if err := createRecordSchema(ctx, tx); err != nil {
		return storageErr("create record schema", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit initialization", err)
	}
	return nil
}

// OpenWithDEK opens the storage session for an existing vault. It confirms the store is
// reachable but does not check dek against the wrapped key.
func (s *Store) OpenWithDEK(ctx context.Context, dek *krypto.SecureDEK) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := fileExists(s.path)
	if err != nil {
		return storageErr("stat database", err)
	}
	if !exists {
		return ErrVaultNotInitialized
	}

	db, err := openDB(ctx, s.path)
	if err != nil {
		return storageErr("open database", err)
	}

	if err := prepareSession(ctx, db); err != nil {
		db.Close()
		return err
	}

	own, err := dek.Clone()
	if err != nil {
		db.Close()
		return fmt.Errorf("retain data key: %w", err)
	}

	s.replaceHandle(&Handle{db: db, dek: own})
	s.log.Debug("storage session opened", "path", s.path)
	return nil
}

func prepareSession(ctx context.Context, db *sql.DB) error {
	ok, err := hasMetaRow(ctx, db)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVaultNotInitialized
	}

	// Vaults created before updated_at existed lack the column.
	if err := ensureColumn(ctx, db, metaTable, "updated_at", "INTEGER"); err != nil {
		return storageErr("migrate metadata table", err)
	}
	if err := createRecordSchema(ctx, db); err != nil {
		return storageErr("ensure record schema", err)
	}

	var probe int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_folders`).Scan(&probe); err != nil {
		return storageErr("probe record schema", err)
	}
	return nil
}

// LoadMeta reads the metadata row.
func (s *Store) LoadMeta(ctx context.Context) (VaultMeta, error) {
	exists, err := fileExists(s.path)
	if err != nil {
		return VaultMeta{}, storageErr("stat database", err)
	}
	if !exists {
		return VaultMeta{}, ErrVaultNotInitialized
	}

	db, err := openDB(ctx, s.path)
	if err != nil {
		return VaultMeta{}, storageErr("open database", err)
	}
	defer db.Close()

	ok, err := tableExists(ctx, db, metaTable)
	if err != nil {
		return VaultMeta{}, storageErr("probe metadata table", err)
	}
	if !ok {
		return VaultMeta{}, ErrVaultNotInitialized
	}

	// Vaults created before updated_at existed are migrated on open, not here.
	withUpdated, err := hasColumn(ctx, db, metaTable, "updated_at")
	if err != nil {
		return VaultMeta{}, storageErr("probe metadata columns", err)
	}
	updatedCol := "NULL"
	if withUpdated {
		updatedCol = "updated_at"
	}

	var (
		salt, wrapped []byte
		createdAt     int64
		updatedAt     sql.NullInt64
		version       int
	)
	err = db.QueryRowContext(ctx,
		`SELECT salt, encrypted_dek, created_at, `+updatedCol+`, version FROM vault_meta WHERE id = 1`,
	).Scan(&salt, &wrapped, &createdAt, &updatedAt, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return VaultMeta{}, ErrVaultNotInitialized
	}
	if err != nil {
		return VaultMeta{}, storageErr("read metadata", err)
	}

	meta := VaultMeta{CreatedAt: createdAt, Version: version}
	if meta.Salt, err = krypto.SaltFromBytes(salt); err != nil {
		return VaultMeta{}, fmt.Errorf("%w: salt: %v", ErrInvalidConfig, err)
	}
	if meta.EncryptedDek, err = krypto.ParseEncryptedDek(wrapped); err != nil {
		return VaultMeta{}, fmt.Errorf("%w: encrypted key: %v", ErrInvalidConfig, err)
	}
	meta.UpdatedAt = createdAt
	if updatedAt.Valid {
		meta.UpdatedAt = updatedAt.Int64
	}
	return meta, nil
}

// UpdateWrapping replaces the salt and wrapped key after a password change. The store must
// be open.
func (s *Store) UpdateWrapping(ctx context.Context, salt krypto.Salt, wrapped krypto.EncryptedDek) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return ErrClosed
	}
	res, err := s.handle.db.ExecContext(ctx,
		`UPDATE vault_meta SET salt = ?, encrypted_dek = ?, updated_at = ? WHERE id = 1`,
		salt[:], wrapped.Bytes(), time.Now().Unix(),
	)
	if err != nil {
		return storageErr("update metadata", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrVaultNotInitialized
	}
	return nil
}

// Handle returns the open session, or ErrClosed.
func (s *Store) Handle() (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil, ErrClosed
	}
	return s.handle, nil
}

// IsOpen reports whether a session is open.
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// Close ends the session: the database is closed and the store's copy of the data key is
// wiped. Closing a closed store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	h := s.handle
	s.handle = nil
	if err := h.close(); err != nil {
		return storageErr("close database", err)
	}
	return nil
}

func (s *Store) replaceHandle(h *Handle) {
	if s.handle != nil {
		if err := s.handle.close(); err != nil {
			s.log.Warn("closing previous storage session", "err", err)
		}
	}
	s.handle = h
}
