package authsdk

// ErrorResponse represents a standard OAuth2-style error response. This is
// used internally for parsing HTTP error responses; client code should use
// the OAuth2Error type from errors.go instead.
type ErrorResponse struct {
	// Error is the error code (e.g. "invalid_request", "invalid_grant")
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error
	ErrorDescription string `json:"error_description"`
}

// TokenPairResponse is returned by the POST /token/refresh endpoint. A
// successful refresh always rotates the full pair.
type TokenPairResponse struct {
	// AccessToken is the short-lived JWT used to authenticate API requests
	AccessToken string `json:"accessToken"`

	// RefreshToken is the long-lived JWT used to obtain the next pair
	RefreshToken string `json:"refreshToken"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expiresIn"`
}

// RefreshRequest is the body of POST /token/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// UserInfo describes the subject behind a verified access token, as returned
// by GET /token/verify.
type UserInfo struct {
	// UserID is the unique identifier for the user
	UserID string `json:"user_id"`

	// Email is the user's email address
	Email string `json:"email"`

	// Name is the user's display name
	Name string `json:"name"`

	// Verified reports whether the user completed email verification
	Verified bool `json:"verified"`

	// Permissions is the list of permissions granted to the user
	Permissions []string `json:"permissions,omitempty"`
}

// VerifyResponse is the body of a successful GET /token/verify.
type VerifyResponse struct {
	Valid bool     `json:"valid"`
	User  UserInfo `json:"user"`
}

// HealthResponse is the response of the /livez and /readyz endpoints. The
// Checks field only appears on /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the status of each critical dependency.
type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}
