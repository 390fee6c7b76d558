package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/wattleglen/authrelay/internal/identity/domain"
	"github.com/wattleglen/authrelay/internal/identity/store"
	"github.com/wattleglen/authrelay/pkg/cryptox"
	"github.com/wattleglen/authrelay/pkg/idx"
	"github.com/wattleglen/authrelay/pkg/jwtx"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

var (
	ErrInvalidToken       = errors.New("invalid_token")
	ErrWrongTokenType     = errors.New("wrong_token_type")
	ErrRefreshReused      = errors.New("refresh_token_reused")
	ErrUserNotFound       = errors.New("user_not_found")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrEmailUnverified    = errors.New("email_unverified")
)

// TokenService mints, verifies and rotates the access/refresh token pair.
//
// Both tokens are HS256 JWTs bound to a single audience. Refresh tokens are
// additionally tracked in a server-side ledger keyed by jti, so each one can
// be spent exactly once; presenting a rotated-out refresh token revokes the
// user's whole token family.
type TokenService struct {
	Signer     *jwtx.Signer
	Verifier   *jwtx.Verifier
	Store      store.Store
	Issuer     string
	Audience   string // default audience when the caller names none
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issue mints a fresh token pair for the user, records the refresh token in
// the rotation ledger, and returns both tokens.
func (s *TokenService) Issue(ctx context.Context, user domain.User, audience string) (domain.TokenPair, error) {
	if audience == "" {
		audience = s.Audience
	}
	now := time.Now()

	accessClaims := jwtx.NewAccessClaims(
		user.ID, user.Email, user.Name, user.Verified(), user.Permissions,
		s.AccessTTL, s.Issuer, []string{audience}, now,
	)
	refreshClaims := jwtx.NewRefreshClaims(
		user.ID, user.Email, user.Name, user.Verified(), user.Permissions,
		s.RefreshTTL, s.Issuer, []string{audience}, now,
	)

	accessToken, err := s.Signer.Sign(accessClaims)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refreshToken, err := s.Signer.Sign(refreshClaims)
	if err != nil {
		return domain.TokenPair{}, err
	}

	rec := domain.RefreshTokenRecord{
		ID:        idx.New().String(),
		UserID:    user.ID,
		JTI:       refreshClaims.ID,
		TokenHash: cryptox.FingerprintToken(refreshToken),
		Audience:  audience,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}
	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, rec); err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// Verify validates an access token for the given audience and returns the
// user it identifies. A refresh token presented here fails with
// ErrWrongTokenType, which is distinct so callers can repair swapped slots.
func (s *TokenService) Verify(ctx context.Context, rawAccess string, audience string) (domain.User, error) {
	claims, err := s.verifyForAudience(ctx, rawAccess, audience)
	if err != nil {
		return domain.User{}, err
	}
	if err := claims.ValidateType(jwtx.TokenTypeAccess); err != nil {
		return domain.User{}, ErrWrongTokenType
	}

	user, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

// Refresh spends a refresh token and mints a replacement pair. Rotation is
// full: both tokens are replaced, and the presented token's ledger row is
// marked used inside the same transaction that records the replacement.
//
// A refresh token that was already spent (or whose ledger row is gone) is
// treated as evidence of theft: every live token for the user is revoked and
// the caller gets ErrRefreshReused.
func (s *TokenService) Refresh(ctx context.Context, rawRefresh string, audience string) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	claims, err := s.verifyForAudience(ctx, rawRefresh, audience)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if err := claims.ValidateType(jwtx.TokenTypeRefresh); err != nil {
		return domain.TokenPair{}, ErrWrongTokenType
	}
	if audience == "" {
		audience = s.Audience
	}

	user, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrUserNotFound
		}
		return domain.TokenPair{}, err
	}

	now := time.Now()
	newAccessClaims := jwtx.NewAccessClaims(
		user.ID, user.Email, user.Name, user.Verified(), user.Permissions,
		s.AccessTTL, s.Issuer, []string{audience}, now,
	)
	newRefreshClaims := jwtx.NewRefreshClaims(
		user.ID, user.Email, user.Name, user.Verified(), user.Permissions,
		s.RefreshTTL, s.Issuer, []string{audience}, now,
	)

	newAccess, err := s.Signer.Sign(newAccessClaims)
	if err != nil {
		return domain.TokenPair{}, err
	}
	newRefresh, err := s.Signer.Sign(newRefreshClaims)
	if err != nil {
		return domain.TokenPair{}, err
	}

	fingerprint := cryptox.FingerprintToken(rawRefresh)
	reused := false

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		rec, err := tx.RefreshTokens().GetRefreshTokenByJTI(ctx, claims.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidToken
			}
			return err
		}

		// The ledger row must match the exact token presented, not just
		// its jti.
		if subtle.ConstantTimeCompare([]byte(rec.TokenHash), []byte(fingerprint)) != 1 {
			return ErrInvalidToken
		}

		if rec.Spent() {
			reused = true
			return ErrRefreshReused
		}

		// CAS on used_at; a concurrent spender loses here.
		if err := tx.RefreshTokens().MarkRefreshTokenUsed(ctx, claims.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				reused = true
				return ErrRefreshReused
			}
			return err
		}

		return tx.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshTokenRecord{
			ID:        idx.New().String(),
			UserID:    user.ID,
			JTI:       newRefreshClaims.ID,
			TokenHash: cryptox.FingerprintToken(newRefresh),
			Audience:  audience,
			ExpiresAt: newRefreshClaims.ExpiresAt.Time,
		})
	})
	if err != nil {
		// Reuse revocation must land in its own transaction: the rotation
		// tx above rolled back.
		if reused {
			l.Warn("refresh token reuse detected, revoking token family",
				slog.String("user_id", user.ID),
				slog.String("jti", claims.ID),
			)
			if revokeErr := s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, user.ID); revokeErr != nil {
				l.Error("failed to revoke token family", slog.Any("error", revokeErr))
			}
		}
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  newAccess,
		RefreshToken: newRefresh,
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// RevokeUserTokens revokes every live refresh token for a user. Used by
// sign-out.
func (s *TokenService) RevokeUserTokens(ctx context.Context, userID string) error {
	return s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID)
}

func (s *TokenService) verifyForAudience(ctx context.Context, raw string, audience string) (*jwtx.Claims, error) {
	claims, err := s.Verifier.Verify(raw)
	if err != nil {
		slogx.FromContext(ctx).Debug("token verification failed", slog.Any("error", err))
		return nil, ErrInvalidToken
	}
	if audience == "" {
		audience = s.Audience
	}
	if err := claims.ValidateAudience([]string{audience}); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
