package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"github.com/wattleglen/authrelay/internal/identity/provider"
)

func TestUserServiceRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &UserService{Store: st}

	user, code, err := svc.Register(ctx, "Fern@Example.com", "Fern", "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, "fern@example.com", user.Email)
	require.Len(t, code, 6)
	require.False(t, user.Verified())

	t.Run("duplicate email rejected", func(t *testing.T) {
		_, _, err := svc.Register(ctx, "fern@example.com", "Imposter", "hunter2hunter2")
		require.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("correct password authenticates", func(t *testing.T) {
		got, err := svc.Authenticate(ctx, "fern@example.com", "correct horse battery staple", "")
		require.NoError(t, err)
		require.Equal(t, user.ID, got.ID)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "fern@example.com", "wrong", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email rejected the same way", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "nobody@example.com", "whatever", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestUserServiceVerifyEmail(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &UserService{Store: st}

	user, code, err := svc.Register(ctx, "mara@example.com", "Mara", "a perfectly fine password")
	require.NoError(t, err)

	t.Run("wrong code rejected", func(t *testing.T) {
		err := svc.VerifyEmail(ctx, user.ID, "000000")
		if code == "000000" {
			t.Skip("generated code collided with the probe value")
		}
		require.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("correct code verifies", func(t *testing.T) {
		require.NoError(t, svc.VerifyEmail(ctx, user.ID, code))

		got, err := st.Users().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, got.Verified())
	})

	t.Run("code is single use", func(t *testing.T) {
		err := svc.VerifyEmail(ctx, user.ID, code)
		require.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("reissue is a no-op once verified", func(t *testing.T) {
		code, err := svc.ReissueVerificationCode(ctx, user.ID)
		require.NoError(t, err)
		require.Empty(t, code)
	})
}

func TestUserServiceTOTP(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &UserService{Store: st}

	user, _, err := svc.Register(ctx, "otto@example.com", "Otto", "a perfectly fine password")
	require.NoError(t, err)

	url, err := svc.BeginTOTPEnrollment(ctx, user.ID, "identity-service")
	require.NoError(t, err)
	require.Contains(t, url, "otpauth://")

	stored, err := st.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TOTPSecret)

	t.Run("bad confirmation code rejected", func(t *testing.T) {
		require.ErrorIs(t, svc.ConfirmTOTPEnrollment(ctx, user.ID, "000000"), ErrInvalidCode)
	})

	t.Run("valid code enables TOTP", func(t *testing.T) {
		code, err := totp.GenerateCode(*stored.TOTPSecret, time.Now())
		require.NoError(t, err)
		require.NoError(t, svc.ConfirmTOTPEnrollment(ctx, user.ID, code))

		got, err := st.Users().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, got.TOTPActive())
	})

	t.Run("login now demands a TOTP code", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "otto@example.com", "a perfectly fine password", "")
		require.ErrorIs(t, err, ErrTOTPRequired)

		code, err := totp.GenerateCode(*stored.TOTPSecret, time.Now())
		require.NoError(t, err)

		got, err := svc.Authenticate(ctx, "otto@example.com", "a perfectly fine password", code)
		require.NoError(t, err)
		require.Equal(t, user.ID, got.ID)
	})

	t.Run("disable removes the factor", func(t *testing.T) {
		require.NoError(t, svc.DisableTOTP(ctx, user.ID))

		_, err := svc.Authenticate(ctx, "otto@example.com", "a perfectly fine password", "")
		require.NoError(t, err)
	})
}

func TestUserServiceFindOrCreateFromProvider(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := &UserService{Store: st}

	ident := provider.Identity{
		Provider:       "google",
		ProviderUserID: "sub-123",
		Email:          "Pat@Example.com",
		EmailVerified:  true,
		Name:           "Pat",
	}

	created, err := svc.FindOrCreateFromProvider(ctx, ident)
	require.NoError(t, err)
	require.Equal(t, "pat@example.com", created.Email)
	require.True(t, created.Verified())

	t.Run("second sign-in resolves to the same account", func(t *testing.T) {
		again, err := svc.FindOrCreateFromProvider(ctx, ident)
		require.NoError(t, err)
		require.Equal(t, created.ID, again.ID)
	})

	t.Run("provider verification upgrades an existing account", func(t *testing.T) {
		local, _, err := svc.Register(ctx, "quinn@example.com", "Quinn", "a perfectly fine password")
		require.NoError(t, err)
		require.False(t, local.Verified())

		got, err := svc.FindOrCreateFromProvider(ctx, provider.Identity{
			Provider:      "github",
			Email:         "quinn@example.com",
			EmailVerified: true,
			Name:          "Quinn",
		})
		require.NoError(t, err)
		require.Equal(t, local.ID, got.ID)
		require.True(t, got.Verified())
	})
}
