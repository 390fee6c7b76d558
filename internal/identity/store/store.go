package store

import (
	"context"
	"errors"

	"github.com/wattleglen/authrelay/internal/identity/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for now)
// implement this. Sub-repositories keep concerns tidy and testable.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	Verifications() Verifications

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back if fn errors and
	// committing otherwise. This is the recommended way to run multi-step
	// operations that must be atomic (e.g. refresh rotation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It exposes the same repos plus Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is used during password authentication. Email lookup is
	// case-insensitive.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by the app via ULID).
	// Returns ErrAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	// UpdatePermissions replaces the user's permission list.
	UpdatePermissions(ctx context.Context, userID string, permissions []string) error

	// MarkEmailVerified stamps verified_at. Idempotent.
	MarkEmailVerified(ctx context.Context, userID string) error

	// UpdateTOTPSecret stores a pending TOTP secret for a user.
	UpdateTOTPSecret(ctx context.Context, userID string, secret string) error

	// EnableTOTP stamps totp_enabled once the user proves possession.
	EnableTOTP(ctx context.Context, userID string) error

	// DisableTOTP clears both TOTP columns.
	DisableTOTP(ctx context.Context, userID string) error

	// DeleteUser cascades to refresh_tokens and verifications (per schema).
	DeleteUser(ctx context.Context, userID string) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new ledger record for a freshly minted
	// refresh JWT.
	CreateRefreshToken(ctx context.Context, r domain.RefreshTokenRecord) error

	// GetRefreshTokenByJTI returns the ledger record for a refresh JWT.
	GetRefreshTokenByJTI(ctx context.Context, jti string) (domain.RefreshTokenRecord, error)

	// MarkRefreshTokenUsed stamps used_at, but only when the record is still
	// unspent. Returns ErrNotFound when the record was already used or
	// revoked, which is the reuse-detection signal.
	MarkRefreshTokenUsed(ctx context.Context, jti string) error

	// RevokeAllUserRefreshTokens revokes every live record for a user.
	// Used on sign-out and as the reuse response.
	RevokeAllUserRefreshTokens(ctx context.Context, userID string) error

	// DeleteExpiredRefreshTokens is housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context) error
}

type Verifications interface {
	// CreateVerification stores a new email verification code hash.
	CreateVerification(ctx context.Context, v domain.EmailVerification) error

	// GetActiveVerification returns the newest unconsumed, unexpired code
	// for a user.
	GetActiveVerification(ctx context.Context, userID string) (domain.EmailVerification, error)

	// ConsumeVerification stamps consumed_at, but only when still unconsumed.
	// Returns ErrNotFound otherwise.
	ConsumeVerification(ctx context.Context, id string) error

	// DeleteExpiredVerifications is housekeeping.
	DeleteExpiredVerifications(ctx context.Context) error
}
