package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/wattleglen/authrelay/internal/identity/domain"
	"github.com/wattleglen/authrelay/internal/identity/provider"
	"github.com/wattleglen/authrelay/internal/identity/store"
	"github.com/wattleglen/authrelay/pkg/cryptox"
	"github.com/wattleglen/authrelay/pkg/idx"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

var (
	ErrTOTPRequired    = errors.New("totp_required")
	ErrInvalidCode     = errors.New("invalid_verification_code")
	ErrEmailTaken      = errors.New("email_taken")
	ErrTOTPNotEnrolled = errors.New("totp_not_enrolled")
)

// VerificationCodeTTL bounds how long an emailed 6-digit code stays valid.
const VerificationCodeTTL = 15 * time.Minute

// DefaultPermissions are granted to every new account. Satellite apps treat
// these as advisory and re-check server-side.
var DefaultPermissions = []string{"read"}

// UserService handles account lifecycle: registration, password and TOTP
// authentication, email verification, and provider-based sign-in. Email
// delivery itself is external; callers receive the plaintext code to hand to
// the mailer.
type UserService struct {
	Store store.Store
}

// Register creates a new account and mints its first email verification code.
func (s *UserService) Register(ctx context.Context, email, name, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, "", err
	}

	user := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Permissions:  DefaultPermissions,
	}

	code, err := generateVerificationCode()
	if err != nil {
		return domain.User{}, "", err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrEmailTaken
			}
			return err
		}
		return tx.Verifications().CreateVerification(ctx, domain.EmailVerification{
			ID:        idx.New().String(),
			UserID:    user.ID,
			CodeHash:  cryptox.FingerprintToken(code),
			ExpiresAt: time.Now().Add(VerificationCodeTTL),
		})
	})
	if err != nil {
		return domain.User{}, "", err
	}

	return user, code, nil
}

// Authenticate checks email + password, plus a TOTP code when the account has
// one enrolled. All credential failures collapse into ErrInvalidCredentials
// so callers can't probe which part was wrong; a missing TOTP code on an
// enrolled account is the one distinct case, so the form can ask for it.
func (s *UserService) Authenticate(ctx context.Context, email, password, totpCode string) (domain.User, error) {
	l := slogx.FromContext(ctx)
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn comparable time so absent accounts aren't distinguishable.
			_ = cryptox.VerifyPassword(password, decoyHash)
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		l.Info("password authentication failed", slog.String("user_id", user.ID))
		return domain.User{}, ErrInvalidCredentials
	}

	if user.TOTPActive() {
		if totpCode == "" {
			return domain.User{}, ErrTOTPRequired
		}
		if user.TOTPSecret == nil || !totp.Validate(totpCode, *user.TOTPSecret) {
			l.Info("totp authentication failed", slog.String("user_id", user.ID))
			return domain.User{}, ErrInvalidCredentials
		}
	}

	return user, nil
}

// VerifyEmail consumes a pending 6-digit code and marks the account verified.
func (s *UserService) VerifyEmail(ctx context.Context, userID, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidCode
	}
	codeHash := cryptox.FingerprintToken(code)

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		pending, err := tx.Verifications().GetActiveVerification(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidCode
			}
			return err
		}
		if subtle.ConstantTimeCompare([]byte(pending.CodeHash), []byte(codeHash)) != 1 {
			return ErrInvalidCode
		}
		if err := tx.Verifications().ConsumeVerification(ctx, pending.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidCode
			}
			return err
		}
		return tx.Users().MarkEmailVerified(ctx, userID)
	})
}

// ReissueVerificationCode mints a replacement code for an unverified account.
func (s *UserService) ReissueVerificationCode(ctx context.Context, userID string) (string, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if user.Verified() {
		return "", nil
	}

	code, err := generateVerificationCode()
	if err != nil {
		return "", err
	}
	err = s.Store.Verifications().CreateVerification(ctx, domain.EmailVerification{
		ID:        idx.New().String(),
		UserID:    user.ID,
		CodeHash:  cryptox.FingerprintToken(code),
		ExpiresAt: time.Now().Add(VerificationCodeTTL),
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// FindOrCreateFromProvider resolves an upstream OAuth identity to a local
// account, creating one on first sign-in. Provider-verified emails count as
// verified here too.
func (s *UserService) FindOrCreateFromProvider(ctx context.Context, ident provider.Identity) (domain.User, error) {
	email := strings.TrimSpace(strings.ToLower(ident.Email))
	if email == "" {
		return domain.User{}, ErrInvalidCredentials
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err == nil {
		if ident.EmailVerified && !user.Verified() {
			if err := s.Store.Users().MarkEmailVerified(ctx, user.ID); err != nil {
				return domain.User{}, err
			}
			now := time.Now()
			user.VerifiedAt = &now
		}
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}

	// Provider accounts never log in with a password; store an unguessable
	// hash so the column constraint holds.
	hash, err := cryptox.HashPassword(cryptox.MustGenerateToken(cryptox.TokenSize256))
	if err != nil {
		return domain.User{}, err
	}

	user = domain.User{
		ID:           idx.New().String(),
		Email:        email,
		Name:         ident.Name,
		PasswordHash: hash,
		Permissions:  DefaultPermissions,
	}
	if ident.EmailVerified {
		now := time.Now()
		user.VerifiedAt = &now
	}

	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// Raced with another sign-in; re-read.
			return s.Store.Users().GetUserByEmail(ctx, email)
		}
		return domain.User{}, err
	}
	return user, nil
}

// BeginTOTPEnrollment generates and stores a pending TOTP secret. The
// returned URL is rendered as a QR code by the caller.
func (s *UserService) BeginTOTPEnrollment(ctx context.Context, userID string, issuer string) (otpauthURL string, err error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return "", err
	}

	if err := s.Store.Users().UpdateTOTPSecret(ctx, userID, key.Secret()); err != nil {
		return "", err
	}
	return key.URL(), nil
}

// ConfirmTOTPEnrollment proves possession of the pending secret and switches
// TOTP on for the account.
func (s *UserService) ConfirmTOTPEnrollment(ctx context.Context, userID, code string) error {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.TOTPSecret == nil || *user.TOTPSecret == "" {
		return ErrTOTPNotEnrolled
	}
	if !totp.Validate(code, *user.TOTPSecret) {
		return ErrInvalidCode
	}
	return s.Store.Users().EnableTOTP(ctx, userID)
}

// DisableTOTP removes the second factor from an account.
func (s *UserService) DisableTOTP(ctx context.Context, userID string) error {
	return s.Store.Users().DisableTOTP(ctx, userID)
}

// decoyHash is a valid argon2 hash of a throwaway value, used to equalize
// timing when the email doesn't resolve to an account.
var decoyHash = func() string {
	h, err := cryptox.HashPassword("decoy")
	if err != nil {
		panic(fmt.Sprintf("service: decoy hash: %v", err))
	}
	return h
}()

func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
