// Package session holds browser login sessions for the identity service's
// own HTML surfaces (sign-in form, OAuth callbacks). Token relay to client
// apps does not depend on these sessions; they only keep a user signed in
// to the identity service between page loads.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/wattleglen/authrelay/pkg/cryptox"
)

var ErrNotFound = errors.New("session: not found")

// Session stores identity pointers only, never tokens or auth state.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s Session) Expired() bool {
	return !s.ExpiresAt.After(time.Now())
}

// Store defines how sessions are stored and retrieved. Implementations must
// treat session IDs as opaque.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

// NewID generates a cryptographically secure session ID (256 bits).
func NewID() (string, error) {
	return cryptox.GenerateToken(cryptox.TokenSize256)
}
