package authsdk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wattleglen/authrelay/pkg/authsdk"
	"github.com/wattleglen/authrelay/pkg/jwtx"
)

const (
	bridgeTestKID    = "relay-key-001"
	bridgeTestIssuer = "identity-service"
	bridgeTestApp    = "geomap"
)

var bridgeTestSecret = []byte("0123456789abcdef0123456789abcdef")

// fakeIdentity is an in-memory identity service covering the two token
// endpoints the bridge talks to. Refresh tokens are single use.
type fakeIdentity struct {
	t        *testing.T
	signer   *jwtx.Signer
	verifier *jwtx.Verifier

	mu           sync.Mutex
	usedJTIs     map[string]bool
	refreshCalls int
}

func newFakeIdentity(t *testing.T) *fakeIdentity {
	t.Helper()

	signer, err := jwtx.NewSigner(bridgeTestKID, bridgeTestSecret)
	require.NoError(t, err)

	keys := jwtx.NewKeyring()
	require.NoError(t, keys.Add(bridgeTestKID, bridgeTestSecret))

	return &fakeIdentity{
		t:        t,
		signer:   signer,
		verifier: jwtx.NewVerifier(keys, bridgeTestIssuer, []string{"geomap-app"}),
		usedJTIs: make(map[string]bool),
	}
}

func (f *fakeIdentity) mintPair(accessTTL, refreshTTL time.Duration) (string, string) {
	f.t.Helper()

	now := time.Now().UTC()
	access, err := f.signer.Sign(jwtx.NewAccessClaims(
		"user-7", "mara@example.com", "Mara", true, []string{"maps:read"},
		accessTTL, bridgeTestIssuer, []string{"geomap-app"}, now))
	require.NoError(f.t, err)

	refresh, err := f.signer.Sign(jwtx.NewRefreshClaims(
		"user-7", "mara@example.com", "Mara", true, []string{"maps:read"},
		refreshTTL, bridgeTestIssuer, []string{"geomap-app"}, now))
	require.NoError(f.t, err)

	return access, refresh
}

func (f *fakeIdentity) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /token/verify", func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		claims, err := f.verifier.Verify(raw)
		if err != nil || claims.ValidateType(jwtx.TokenTypeAccess) != nil {
			writeBridgeTestError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken)
			return
		}

		_ = json.NewEncoder(w).Encode(authsdk.VerifyResponse{
			Valid: true,
			User: authsdk.UserInfo{
				UserID:      claims.Subject,
				Email:       claims.Email,
				Name:        claims.Name,
				Verified:    claims.Verified,
				Permissions: claims.Permissions,
			},
		})
	})

	mux.HandleFunc("POST /token/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshCalls++
		f.mu.Unlock()

		var req authsdk.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBridgeTestError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
			return
		}

		claims, err := f.verifier.Verify(req.RefreshToken)
		if err != nil || claims.ValidateType(jwtx.TokenTypeRefresh) != nil {
			writeBridgeTestError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)
			return
		}

		f.mu.Lock()
		reused := f.usedJTIs[claims.ID]
		f.usedJTIs[claims.ID] = true
		f.mu.Unlock()
		if reused {
			writeBridgeTestError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)
			return
		}

		access, refresh := f.mintPair(15*time.Minute, 7*24*time.Hour)
		_ = json.NewEncoder(w).Encode(authsdk.TokenPairResponse{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresIn:    int((15 * time.Minute).Seconds()),
		})
	})

	return mux
}

func writeBridgeTestError(w http.ResponseWriter, code int, errCode string) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errCode})
}

func (f *fakeIdentity) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func newTestBridge(t *testing.T) (*fakeIdentity, *authsdk.Bridge, *authsdk.MemoryTokenStore) {
	t.Helper()

	identity := newFakeIdentity(t)
	srv := httptest.NewServer(identity.handler())
	t.Cleanup(srv.Close)

	store := authsdk.NewMemoryTokenStore(bridgeTestApp)
	bridge := authsdk.NewBridge(bridgeTestApp, authsdk.NewRelayClient(srv.URL), store)
	return identity, bridge, store
}

func TestBridgeLoad(t *testing.T) {
	t.Run("captures tokens from page url and strips them", func(t *testing.T) {
		identity, bridge, store := newTestBridge(t)
		access, refresh := identity.mintPair(15*time.Minute, 7*24*time.Hour)

		pageURL := "https://geomap.example.com/map?zoom=4&token=" +
			url.QueryEscape(access) + "&refresh_token=" + url.QueryEscape(refresh)

		res, err := bridge.Load(t.Context(), pageURL)
		require.NoError(t, err)
		require.Equal(t, authsdk.StatusAuthenticated, res.Status)
		require.True(t, res.Captured)
		require.False(t, res.Refreshed)
		require.Equal(t, "user-7", res.User.UserID)

		require.NotContains(t, res.CleanURL, "token=")
		require.NotContains(t, res.CleanURL, "refresh_token=")
		require.Contains(t, res.CleanURL, "zoom=4")

		storedAccess, storedRefresh, err := store.Tokens()
		require.NoError(t, err)
		require.Equal(t, access, storedAccess)
		require.Equal(t, refresh, storedRefresh)
	})

	t.Run("expired access with live refresh rotates the pair", func(t *testing.T) {
		identity, bridge, store := newTestBridge(t)
		access, refresh := identity.mintPair(-time.Minute, 7*24*time.Hour)
		require.NoError(t, store.SetTokens(access, refresh))

		res, err := bridge.Load(t.Context(), "https://geomap.example.com/map")
		require.NoError(t, err)
		require.Equal(t, authsdk.StatusAuthenticated, res.Status)
		require.True(t, res.Refreshed)

		newAccess, newRefresh, err := store.Tokens()
		require.NoError(t, err)
		require.NotEqual(t, access, newAccess, "access token must be rotated")
		require.NotEqual(t, refresh, newRefresh, "refresh token must be rotated")
		require.Equal(t, 1, identity.refreshCount())
	})

	t.Run("dead pair clears the store", func(t *testing.T) {
		identity, bridge, store := newTestBridge(t)
		access, refresh := identity.mintPair(-time.Hour, -time.Minute)
		require.NoError(t, store.SetTokens(access, refresh))

		res, err := bridge.Load(t.Context(), "https://geomap.example.com/map")
		require.NoError(t, err)
		require.Equal(t, authsdk.StatusUnauthenticated, res.Status)
		require.Equal(t, 1, identity.refreshCount())

		storedAccess, storedRefresh, err := store.Tokens()
		require.NoError(t, err)
		require.Empty(t, storedAccess)
		require.Empty(t, storedRefresh)

		_, err = bridge.CurrentUser()
		require.ErrorIs(t, err, authsdk.ErrNoTokens)
	})

	t.Run("empty store is unauthenticated without a refresh call", func(t *testing.T) {
		identity, bridge, _ := newTestBridge(t)

		res, err := bridge.Load(t.Context(), "https://geomap.example.com/map")
		require.NoError(t, err)
		require.Equal(t, authsdk.StatusUnauthenticated, res.Status)
		require.Zero(t, identity.refreshCount())
	})

	t.Run("repairs swapped slots without refreshing", func(t *testing.T) {
		identity, bridge, store := newTestBridge(t)
		access, refresh := identity.mintPair(15*time.Minute, 7*24*time.Hour)
		require.NoError(t, store.SetTokens(refresh, access)) // swapped on purpose

		res, err := bridge.Load(t.Context(), "https://geomap.example.com/map")
		require.NoError(t, err)
		require.Equal(t, authsdk.StatusAuthenticated, res.Status)
		require.False(t, res.Refreshed)
		require.Zero(t, identity.refreshCount())

		storedAccess, storedRefresh, err := store.Tokens()
		require.NoError(t, err)
		require.Equal(t, access, storedAccess)
		require.Equal(t, refresh, storedRefresh)
	})

	t.Run("lone refresh token in the access slot still rotates", func(t *testing.T) {
		identity, bridge, store := newTestBridge(t)
		_, refresh := identity.mintPair(15*time.Minute, 7*24*time.Hour)
		require.NoError(t, store.SetTokens(refresh, "")) // misplaced, refresh slot empty

		res, err := bridge.Load(t.Context(), "https://geomap.example.com/map")
		require.NoError(t, err)
		require.Equal(t, authsdk.StatusAuthenticated, res.Status)
		require.True(t, res.Refreshed)
		require.Equal(t, 1, identity.refreshCount())

		storedAccess, storedRefresh, err := store.Tokens()
		require.NoError(t, err)
		require.NotEmpty(t, storedAccess)
		require.NotEqual(t, refresh, storedRefresh, "the misplaced token must be spent, not lost")
	})

	t.Run("partial url hand-over keeps the stored refresh token", func(t *testing.T) {
		identity, bridge, store := newTestBridge(t)
		_, refresh := identity.mintPair(15*time.Minute, 7*24*time.Hour)
		require.NoError(t, store.SetTokens("", refresh))

		access, _ := identity.mintPair(15*time.Minute, 7*24*time.Hour)
		pageURL := "https://geomap.example.com/map?token=" + url.QueryEscape(access)

		res, err := bridge.Load(t.Context(), pageURL)
		require.NoError(t, err)
		require.Equal(t, authsdk.StatusAuthenticated, res.Status)
		require.True(t, res.Captured)

		storedAccess, storedRefresh, err := store.Tokens()
		require.NoError(t, err)
		require.Equal(t, access, storedAccess)
		require.Equal(t, refresh, storedRefresh)
	})

	t.Run("ignores malformed tokens in page url", func(t *testing.T) {
		_, bridge, store := newTestBridge(t)

		res, err := bridge.Load(t.Context(),
			"https://geomap.example.com/map?token=garbage&refresh_token=also.garbage")
		require.NoError(t, err)
		require.Equal(t, authsdk.StatusUnauthenticated, res.Status)
		require.False(t, res.Captured)
		require.NotContains(t, res.CleanURL, "token=")

		storedAccess, storedRefresh, err := store.Tokens()
		require.NoError(t, err)
		require.Empty(t, storedAccess)
		require.Empty(t, storedRefresh)
	})

	t.Run("concurrent loads refresh exactly once", func(t *testing.T) {
		identity, bridge, store := newTestBridge(t)
		access, refresh := identity.mintPair(-time.Minute, 7*24*time.Hour)
		require.NoError(t, store.SetTokens(access, refresh))

		const loaders = 4
		var wg sync.WaitGroup
		results := make([]*authsdk.LoadResult, loaders)
		errs := make([]error, loaders)

		for i := range loaders {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = bridge.Load(t.Context(), "https://geomap.example.com/map")
			}()
		}
		wg.Wait()

		for i := range loaders {
			require.NoError(t, errs[i])
			require.Equal(t, authsdk.StatusAuthenticated, results[i].Status, "loader %d", i)
		}
		require.Equal(t, 1, identity.refreshCount(),
			"the single-use refresh token must only be spent once")
	})
}

func TestBridgeLoginURL(t *testing.T) {
	_, bridge, _ := newTestBridge(t)

	t.Run("navigates to the relay with the redirect", func(t *testing.T) {
		loginURL, err := bridge.LoginURL("https://geomap.example.com/map?zoom=4")
		require.NoError(t, err)

		u, err := url.Parse(loginURL)
		require.NoError(t, err)
		require.Equal(t, "/geomap-redirect", u.Path)
		require.Equal(t, "https://geomap.example.com/map?zoom=4", u.Query().Get("redirect"))
	})

	t.Run("refuses redirect back through the relay", func(t *testing.T) {
		_, err := bridge.LoginURL("https://onboarding.example.com/geomap-redirect?redirect=x")
		require.ErrorIs(t, err, authsdk.ErrRedirectLoop)

		_, err = bridge.LoginURL("https://geomap.example.com/map?from_geomap_redirect=true")
		require.ErrorIs(t, err, authsdk.ErrRedirectLoop)
	})
}

func TestBridgeSignOut(t *testing.T) {
	identity, bridge, store := newTestBridge(t)
	access, refresh := identity.mintPair(15*time.Minute, 7*24*time.Hour)
	require.NoError(t, store.SetTokens(access, refresh))

	res, err := bridge.Load(t.Context(), "https://geomap.example.com/map")
	require.NoError(t, err)
	require.Equal(t, authsdk.StatusAuthenticated, res.Status)

	require.NoError(t, bridge.SignOut())
	require.Equal(t, authsdk.StatusUnauthenticated, bridge.Status())

	storedAccess, _, err := store.Tokens()
	require.NoError(t, err)
	require.Empty(t, storedAccess)

	logoutURL := bridge.LogoutURL("https://geomap.example.com/")
	u, err := url.Parse(logoutURL)
	require.NoError(t, err)
	require.Equal(t, "/auth/signout", u.Path)
	require.Equal(t, "https://geomap.example.com/", u.Query().Get("callbackUrl"))
}
