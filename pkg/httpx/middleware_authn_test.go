package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wattleglen/authrelay/pkg/httpx"
	"github.com/wattleglen/authrelay/pkg/jwtx"
)

const (
	authnTestKID    = "relay-key-001"
	authnTestIssuer = "identity-service"
)

var authnTestSecret = []byte("0123456789abcdef0123456789abcdef")

func newAuthnHarness(t *testing.T) (*jwtx.Signer, http.Handler) {
	t.Helper()

	signer, err := jwtx.NewSigner(authnTestKID, authnTestSecret)
	require.NoError(t, err)

	keys := jwtx.NewKeyring()
	require.NoError(t, keys.Add(authnTestKID, authnTestSecret))
	verifier := jwtx.NewVerifier(keys, authnTestIssuer, []string{"geomap-app"})

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(httpx.UserIDFromContext(r.Context())))
	})

	return signer, httpx.Chain(echo, httpx.AuthnMiddleware(verifier))
}

func signAuthnToken(t *testing.T, signer *jwtx.Signer, typ jwtx.TokenType, ttl time.Duration) string {
	t.Helper()

	var c jwtx.Claims
	now := time.Now().UTC()
	if typ == jwtx.TokenTypeAccess {
		c = jwtx.NewAccessClaims("user-42", "lou@example.com", "Lou", true,
			nil, ttl, authnTestIssuer, []string{"geomap-app"}, now)
	} else {
		c = jwtx.NewRefreshClaims("user-42", "lou@example.com", "Lou", true,
			nil, ttl, authnTestIssuer, []string{"geomap-app"}, now)
	}

	raw, err := signer.Sign(c)
	require.NoError(t, err)
	return raw
}

func TestAuthnMiddleware(t *testing.T) {
	signer, handler := newAuthnHarness(t)

	t.Run("passes valid access token and injects subject", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signAuthnToken(t, signer, jwtx.TokenTypeAccess, time.Hour))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "user-42", rec.Body.String())
	})

	t.Run("rejects missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("rejects refresh token on protected route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signAuthnToken(t, signer, jwtx.TokenTypeRefresh, time.Hour))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects expired access token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signAuthnToken(t, signer, jwtx.TokenTypeAccess, -time.Minute))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestPermissionMiddleware(t *testing.T) {
	signer, err := jwtx.NewSigner(authnTestKID, authnTestSecret)
	require.NoError(t, err)

	keys := jwtx.NewKeyring()
	require.NoError(t, keys.Add(authnTestKID, authnTestSecret))
	verifier := jwtx.NewVerifier(keys, authnTestIssuer, []string{"geomap-app"})

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	signWithPermissions := func(t *testing.T, permissions []string) string {
		t.Helper()
		c := jwtx.NewAccessClaims("user-42", "lou@example.com", "Lou", true,
			permissions, time.Hour, authnTestIssuer, []string{"geomap-app"}, time.Now().UTC())
		raw, err := signer.Sign(c)
		require.NoError(t, err)
		return raw
	}

	get := func(handler http.Handler, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("any-of passes with one matching permission", func(t *testing.T) {
		handler := httpx.Chain(ok,
			httpx.AuthnMiddleware(verifier),
			httpx.RequireAnyPermission("map:edit", "admin"),
		)

		rec := get(handler, signWithPermissions(t, []string{"read", "map:edit"}))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("any-of rejects without a match", func(t *testing.T) {
		handler := httpx.Chain(ok,
			httpx.AuthnMiddleware(verifier),
			httpx.RequireAnyPermission("map:edit", "admin"),
		)

		rec := get(handler, signWithPermissions(t, []string{"read"}))
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "insufficient_scope")
	})

	t.Run("all-of requires every permission", func(t *testing.T) {
		handler := httpx.Chain(ok,
			httpx.AuthnMiddleware(verifier),
			httpx.RequireAllPermissions("read", "map:edit"),
		)

		rec := get(handler, signWithPermissions(t, []string{"read"}))
		require.Equal(t, http.StatusForbidden, rec.Code)

		rec = get(handler, signWithPermissions(t, []string{"read", "map:edit"}))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})
}
