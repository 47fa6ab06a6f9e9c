package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Hussein-Mazeh/vaultcore/auth"
	"github.com/Hussein-Mazeh/vaultcore/internal/vault"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

// Result is the envelope returned by every command: a payload on success, a message
// and a stable code on failure.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`

	err error
}

// Ok wraps a successful payload.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{Error: err.Error(), Code: ErrorCode(err), err: err}
}

// Err returns the failure as an error, or nil on success. The error keeps its chain, so
// errors.Is works against the vault sentinels. A decoded envelope only has its message.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return errors.New(r.Error)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{vault.ErrPasswordValidation, "password_validation"},
	{vault.ErrVaultAlreadyInitialized, "vault_already_initialized"},
	{vault.ErrVaultNotInitialized, "vault_not_initialized"},
	{vault.ErrVaultAlreadyUnlocked, "vault_already_unlocked"},
	{vault.ErrVaultLocked, "vault_locked"},
	{vault.ErrInvalidMasterPassword, "invalid_master_password"},
	{vault.ErrInvalidConfig, "invalid_config"},
	{vault.ErrStorage, "storage_error"},
	{ErrBreachedPassword, "breached_password"},
	{krypto.ErrKeyDerivation, "key_derivation"},
	{krypto.ErrEncryption, "encryption"},
	{vault.ErrManagerNotRegistered, "manager_unavailable"},
}

// ErrorCode maps an error to a stable code for callers that branch on failure kind.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// ErrBreachedPassword is returned when breach checking is enabled and the new master
// password appears in the Pwned Passwords corpus.
var ErrBreachedPassword = errors.New("password appears in known data breaches")

// BreachChecker looks a password up in a breach corpus.
type BreachChecker interface {
	CheckHIBP(ctx context.Context, pw string) (auth.HIBPResult, error)
}

// Service exposes the vault lifecycle to the command layer.
type Service struct {
	m      *vault.Manager
	log    *slog.Logger
	breach BreachChecker
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBreachCheck rejects new master passwords found by c. Lookup failures are logged and
// do not block the operation.
func WithBreachCheck(c BreachChecker) Option {
	return func(s *Service) { s.breach = c }
}

// New returns a service bound to m.
func New(m *vault.Manager, opts ...Option) *Service {
	s := &Service{m: m, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromRegistry returns a service bound to the process-wide manager.
func FromRegistry(opts ...Option) (*Service, error) {
	m, err := vault.Registered()
	if err != nil {
		return nil, err
	}
	return New(m, opts...), nil
}

// Manager returns the underlying vault manager.
func (s *Service) Manager() *vault.Manager { return s.m }

// GetVaultStatus reports state, whether a vault exists, and its creation time and version.
func (s *Service) GetVaultStatus(ctx context.Context) Result[vault.Status] {
	st, err := s.m.Status(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "get vault status", "err", err)
		return Fail[vault.Status](err)
	}
	return Ok(st)
}

// InitializeVault creates a vault and returns the resulting status.
func (s *Service) InitializeVault(ctx context.Context, masterPassword string) Result[vault.Status] {
	if err := s.checkBreach(ctx, masterPassword); err != nil {
		return Fail[vault.Status](err)
	}
	if err := s.m.Initialize(ctx, masterPassword); err != nil {
		s.log.WarnContext(ctx, "initialize vault failed", "code", ErrorCode(err))
		return Fail[vault.Status](err)
	}
	return s.GetVaultStatus(ctx)
}

// UnlockVault unlocks the vault and returns the resulting status.
func (s *Service) UnlockVault(ctx context.Context, masterPassword string) Result[vault.Status] {
	if err := s.m.Unlock(ctx, masterPassword); err != nil {
		return Fail[vault.Status](err)
	}
	return s.GetVaultStatus(ctx)
}

// LockVault locks the vault. A storage close failure is logged; the key is wiped regardless.
func (s *Service) LockVault(ctx context.Context) Result[vault.Status] {
	if err := s.m.Lock(ctx); err != nil {
		s.log.ErrorContext(ctx, "lock vault: storage close failed", "err", err)
	}
	return s.GetVaultStatus(ctx)
}

// ChangeMasterPassword re-wraps the data key under next.
func (s *Service) ChangeMasterPassword(ctx context.Context, current, next string) Result[struct{}] {
	if !s.m.IsUnlocked() {
		return Fail[struct{}](vault.ErrVaultLocked)
	}
	if err := s.checkBreach(ctx, next); err != nil {
		return Fail[struct{}](err)
	}
	if err := s.m.ChangeMasterPassword(ctx, current, next); err != nil {
		return Fail[struct{}](err)
	}
	return Ok(struct{}{})
}

// IsVaultUnlocked reports whether the vault is unlocked.
func (s *Service) IsVaultUnlocked() Result[bool] {
	return Ok(s.m.IsUnlocked())
}

// EmergencyShutdown wipes the data key. Storage errors are logged, never returned.
func (s *Service) EmergencyShutdown(ctx context.Context) Result[struct{}] {
	s.log.WarnContext(ctx, "emergency vault shutdown requested")
	if err := s.m.Shutdown(ctx); err != nil {
		s.log.ErrorContext(ctx, "emergency shutdown: storage close failed", "err", err)
	}
	return Ok(struct{}{})
}

// ValidateMasterPassword scores a candidate password without touching the vault.
func (s *Service) ValidateMasterPassword(password string) Result[auth.Strength] {
	return Ok(auth.EvaluateMasterPassword(password))
}

// HealthCheck confirms the manager can report its status.
func (s *Service) HealthCheck(ctx context.Context) Result[string] {
	st, err := s.m.Status(ctx)
	if err != nil {
		return Fail[string](fmt.Errorf("health check failed: %w", err))
	}
	return Ok(fmt.Sprintf("vault system healthy: state=%s initialized=%t", st.State, st.IsInitialized))
}

func (s *Service) checkBreach(ctx context.Context, pw string) error {
	if s.breach == nil || pw == "" {
		return nil
	}
	res, err := s.breach.CheckHIBP(ctx, pw)
	if err != nil {
		s.log.WarnContext(ctx, "breach lookup unavailable", "err", err)
		return nil
	}
	if res.Found {
		return fmt.Errorf("%w (%d occurrences)", ErrBreachedPassword, res.Count)
	}
	return nil
}
