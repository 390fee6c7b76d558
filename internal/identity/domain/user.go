package domain

import "time"

// User is an account on the onboarding side of the relay. Downstream apps
// never see this record directly, only the claims minted from it.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string     // argon2 encoded
	Permissions  []string   // carried into every minted token
	VerifiedAt   *time.Time // email verification timestamp (nullable)
	TOTPSecret   *string    // base32 TOTP secret (nullable)
	TOTPEnabled  *time.Time // timestamp when TOTP was confirmed (nullable)
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Verified reports whether the user has completed email verification.
func (u User) Verified() bool { return u.VerifiedAt != nil }

// TOTPActive reports whether the user has a confirmed TOTP enrolment.
func (u User) TOTPActive() bool { return u.TOTPEnabled != nil && u.TOTPSecret != nil }

// EmailVerification is a short-lived code mailed to a user to prove they own
// their address. The plaintext code never touches the database.
type EmailVerification struct {
	ID         string
	UserID     string
	CodeHash   string // deterministic fingerprint (base64url SHA-256)
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
