package authsdk_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wattleglen/authrelay/pkg/authsdk"
)

func TestMemoryTokenStore(t *testing.T) {
	store := authsdk.NewMemoryTokenStore("geomap")

	access, refresh, err := store.Tokens()
	require.NoError(t, err)
	require.Empty(t, access)
	require.Empty(t, refresh)

	require.NoError(t, store.SetTokens("a.b.c", "d.e.f"))

	access, refresh, err = store.Tokens()
	require.NoError(t, err)
	require.Equal(t, "a.b.c", access)
	require.Equal(t, "d.e.f", refresh)

	require.NoError(t, store.Clear())

	access, refresh, err = store.Tokens()
	require.NoError(t, err)
	require.Empty(t, access)
	require.Empty(t, refresh)
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	t.Run("missing file reads as empty", func(t *testing.T) {
		store := authsdk.NewFileTokenStore("geomap", path)

		access, refresh, err := store.Tokens()
		require.NoError(t, err)
		require.Empty(t, access)
		require.Empty(t, refresh)
	})

	t.Run("pair survives a new store instance", func(t *testing.T) {
		store := authsdk.NewFileTokenStore("geomap", path)
		require.NoError(t, store.SetTokens("a.b.c", "d.e.f"))

		reopened := authsdk.NewFileTokenStore("geomap", path)
		access, refresh, err := reopened.Tokens()
		require.NoError(t, err)
		require.Equal(t, "a.b.c", access)
		require.Equal(t, "d.e.f", refresh)
	})

	t.Run("apps are namespaced by storage key", func(t *testing.T) {
		geomap := authsdk.NewFileTokenStore("geomap", path)
		cert := authsdk.NewFileTokenStore("certification", path)

		require.NoError(t, geomap.SetTokens("g.g.g", "gr.gr.gr"))
		require.NoError(t, cert.SetTokens("c.c.c", "cr.cr.cr"))

		access, refresh, err := geomap.Tokens()
		require.NoError(t, err)
		require.Equal(t, "g.g.g", access)
		require.Equal(t, "gr.gr.gr", refresh)

		require.NoError(t, geomap.Clear())

		// Clearing one app must not touch the other.
		access, refresh, err = cert.Tokens()
		require.NoError(t, err)
		require.Equal(t, "c.c.c", access)
		require.Equal(t, "cr.cr.cr", refresh)
	})

	t.Run("file is written with restrictive permissions", func(t *testing.T) {
		store := authsdk.NewFileTokenStore("geomap", path)
		require.NoError(t, store.SetTokens("a.b.c", "d.e.f"))

		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})
}

func TestStorageKeys(t *testing.T) {
	require.Equal(t, "geomap-auth-token", authsdk.AccessTokenKey("geomap"))
	require.Equal(t, "geomap-refresh-token", authsdk.RefreshTokenKey("geomap"))
}
