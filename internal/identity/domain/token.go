package domain

import "time"

// TokenPair is what the issuance and refresh paths return: two JWTs minted
// together, bound to the same audience.
type TokenPair struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	ExpiresIn    time.Duration `json:"expiresIn"` // access token lifetime
}

// RefreshTokenRecord is the server-side ledger entry backing a refresh JWT.
// The token itself carries its own expiry and signature; the ledger exists so
// a refresh token can only be spent once.
type RefreshTokenRecord struct {
	ID        string
	UserID    string
	JTI       string     // the jti claim of the refresh JWT
	TokenHash string     // deterministic fingerprint (base64url SHA-256)
	Audience  string     // primary audience the pair was minted for
	ExpiresAt time.Time
	UsedAt    *time.Time // set when the token is spent in a rotation
	RevokedAt *time.Time // set by sign-out or reuse response
	CreatedAt time.Time
}

// Spent reports whether the record has been used or revoked.
func (r RefreshTokenRecord) Spent() bool { return r.UsedAt != nil || r.RevokedAt != nil }
