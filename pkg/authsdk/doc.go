// Package authsdk is the client-side companion to the identity service. It
// carries tokens between the onboarding app and downstream apps, keeps them in
// a pluggable TokenStore, and repairs or refreshes them before the host app
// renders anything.
//
// The typical flow for a downstream app:
//
//	store := authsdk.NewFileTokenStore("geomap", path)
//	bridge := authsdk.NewBridge("geomap", client, store)
//	res, err := bridge.Load(ctx, pageURL)
//	if res.Status != authsdk.StatusAuthenticated {
//	    redirectTo(bridge.LoginURL(pageURL))
//	}
//
// Load captures tokens handed over in the page URL, strips them so they never
// linger in history, verifies the access token against the identity service
// and falls back to a single refresh attempt before declaring the visitor
// unauthenticated.
package authsdk
