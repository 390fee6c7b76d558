package identity_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wattleglen/authrelay/pkg/authsdk"
)

// TestRelayLoginFlow walks the full interactive path: an anonymous visit to
// the relay bounces to the login screen with the relay marker, and a login
// carrying that marker lands directly on the destination with a token pair.
func TestRelayLoginFlow(t *testing.T) {
	baseURL, cleanup := setupIdentityContainer(t)
	defer cleanup()

	browser := newBrowser(t)
	target := "https://geomap.example.com/map?zoom=12"

	t.Run("anonymous relay visit redirects to login", func(t *testing.T) {
		resp, err := browser.Get(baseURL + "/geomap-redirect?redirect=" + url.QueryEscape(target))
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusFound, resp.StatusCode)
		loc, err := resp.Location()
		require.NoError(t, err)
		require.Equal(t, "/auth/authenticate", loc.Path)
		require.Equal(t, target, loc.Query().Get("redirect"))
		require.Equal(t, "true", loc.Query().Get("from_geomap_redirect"))
	})

	t.Run("login with relay marker lands on target with tokens", func(t *testing.T) {
		form := url.Values{}
		form.Set("redirect", target)
		form.Set("from_geomap_redirect", "true")

		loc := performLogin(t, browser, baseURL, form)

		require.Equal(t, "geomap.example.com", loc.Host)
		require.Equal(t, "/map", loc.Path)
		require.Equal(t, "12", loc.Query().Get("zoom"), "Existing query params should survive")
		require.NotEmpty(t, loc.Query().Get("token"))
		require.NotEmpty(t, loc.Query().Get("refresh_token"))
		require.NotEqual(t, "/geomap-redirect", loc.Path, "Login must never bounce back through the relay")
	})

	t.Run("relay with live session hands over tokens directly", func(t *testing.T) {
		access, _, dest := relayTokens(t, browser, baseURL, target)
		require.Equal(t, "geomap.example.com", dest.Host)

		client := authsdk.NewRelayClient(baseURL)
		user, err := client.Verify(t.Context(), access)
		require.NoError(t, err)
		require.Equal(t, bootstrapEmail, user.Email)
		require.Equal(t, bootstrapName, user.Name)
		require.True(t, user.Verified)
	})

	t.Run("relay without redirect falls back to default destination", func(t *testing.T) {
		_, _, dest := relayTokens(t, browser, baseURL, "")
		require.Equal(t, "geomap.example.com", dest.Host)
		require.Equal(t, "/", dest.Path)
	})

	t.Run("redirect pointing back at the relay is replaced", func(t *testing.T) {
		_, _, dest := relayTokens(t, browser, baseURL, baseURL+"/geomap-redirect")
		require.NotEqual(t, "/geomap-redirect", dest.Path)
		require.Equal(t, "geomap.example.com", dest.Host)
	})

	t.Run("signout kills the session", func(t *testing.T) {
		resp, err := browser.Get(baseURL + "/auth/signout")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)

		resp, err = browser.Get(baseURL + "/geomap-redirect?redirect=" + url.QueryEscape(target))
		require.NoError(t, err)
		defer resp.Body.Close()
		loc, err := resp.Location()
		require.NoError(t, err)
		require.Equal(t, "/auth/authenticate", loc.Path)
	})
}

// TestLoginRejectsBadCredentials covers the failure path of the login form.
func TestLoginRejectsBadCredentials(t *testing.T) {
	baseURL, cleanup := setupIdentityContainer(t)
	defer cleanup()

	browser := newBrowser(t)

	form := url.Values{}
	form.Set("email", bootstrapEmail)
	form.Set("password", "definitely-not-the-password")

	resp, err := browser.PostForm(baseURL+"/auth/authenticate", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
