package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wattleglen/authrelay/pkg/jwtx"
)

const (
	testKID    = "relay-key-001"
	testIssuer = "identity-service"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestCodec(t *testing.T, aud ...string) (*jwtx.Signer, *jwtx.Verifier) {
	t.Helper()

	signer, err := jwtx.NewSigner(testKID, testSecret)
	require.NoError(t, err)

	keys := jwtx.NewKeyring()
	require.NoError(t, keys.Add(testKID, testSecret))

	return signer, jwtx.NewVerifier(keys, testIssuer, aud)
}

func signTestToken(t *testing.T, signer *jwtx.Signer, typ jwtx.TokenType, ttl time.Duration, aud string) string {
	t.Helper()

	var c jwtx.Claims
	now := time.Now().UTC()
	if typ == jwtx.TokenTypeAccess {
		c = jwtx.NewAccessClaims("user-1", "fern@example.com", "Fern", true,
			[]string{"read"}, ttl, testIssuer, []string{aud}, now)
	} else {
		c = jwtx.NewRefreshClaims("user-1", "fern@example.com", "Fern", true,
			[]string{"read"}, ttl, testIssuer, []string{aud}, now)
	}

	raw, err := signer.Sign(c)
	require.NoError(t, err)
	return raw
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, verifier := newTestCodec(t, "geomap-app")

	raw := signTestToken(t, signer, jwtx.TokenTypeAccess, time.Minute, "geomap-app")
	require.Equal(t, 3, jwtx.SegmentCount(raw))

	claims, err := verifier.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, jwtx.TokenTypeAccess, claims.TokenType)
	require.Equal(t, "fern@example.com", claims.Email)
}

func TestVerifyMalformed(t *testing.T) {
	_, verifier := newTestCodec(t, "geomap-app")

	for _, raw := range []string{
		"",
		"not-a-token",
		"one.two",
		"one.two.three.four",
		"..",
		"a..c",
	} {
		_, err := verifier.Verify(raw)
		require.ErrorIs(t, err, jwtx.ErrMalformed, "input %q", raw)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	signer, verifier := newTestCodec(t, "geomap-app")

	raw := signTestToken(t, signer, jwtx.TokenTypeAccess, time.Minute, "geomap-app")
	parts := strings.Split(raw, ".")
	tampered := parts[0] + "." + parts[1] + "." + "AAAA" + parts[2][4:]

	_, err := verifier.Verify(tampered)
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}

func TestVerifyExpired(t *testing.T) {
	signer, verifier := newTestCodec(t, "geomap-app")

	raw := signTestToken(t, signer, jwtx.TokenTypeAccess, -time.Minute, "geomap-app")

	_, err := verifier.Verify(raw)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestVerifyAudienceMismatch(t *testing.T) {
	signer, verifier := newTestCodec(t, "geomap-app")

	raw := signTestToken(t, signer, jwtx.TokenTypeAccess, time.Minute, "certification-app")

	_, err := verifier.Verify(raw)
	require.ErrorIs(t, err, jwtx.ErrAudience)
}

func TestVerifyUnknownKID(t *testing.T) {
	otherSigner, err := jwtx.NewSigner("rotated-out-key", testSecret)
	require.NoError(t, err)

	_, verifier := newTestCodec(t, "geomap-app")
	raw := signTestToken(t, otherSigner, jwtx.TokenTypeAccess, time.Minute, "geomap-app")

	_, err = verifier.Verify(raw)
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)
}

func TestVerifyWithRotatedSecret(t *testing.T) {
	oldSecret := []byte("ffffffffffffffffffffffffffffffff")
	oldSigner, err := jwtx.NewSigner("relay-key-000", oldSecret)
	require.NoError(t, err)

	keys := jwtx.NewKeyring()
	require.NoError(t, keys.Add(testKID, testSecret))
	require.NoError(t, keys.Add("relay-key-000", oldSecret))
	verifier := jwtx.NewVerifier(keys, testIssuer, []string{"geomap-app"})

	raw := signTestToken(t, oldSigner, jwtx.TokenTypeAccess, time.Minute, "geomap-app")

	claims, err := verifier.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
}
