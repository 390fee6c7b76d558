package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/wattleglen/authrelay/internal/identity/domain"
	"github.com/wattleglen/authrelay/pkg/authsdk"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

// RelayHandler serves GET /geomap-redirect, the hop a satellite app sends
// users through to pick up a token pair.
//
// No session: bounce to the login screen, carrying the original target plus
// the from_geomap_redirect marker so the login flow knows to finish by
// redirecting straight to the target rather than back through this relay.
// Session but unverified email: detour to the verification screen. Otherwise
// mint a pair and redirect to the target with token and refresh_token query
// params appended.
type RelayHandler struct {
	*Router
}

func (h *RelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := h.sanitizeTarget(r.URL.Query().Get(authsdk.QueryParamRedirect))

	user, ok := h.currentUser(ctx, r)
	if !ok {
		http.Redirect(w, r, h.loginScreenURL(target, true), http.StatusFound)
		return
	}

	if !user.Verified() {
		http.Redirect(w, r, h.verifyScreenURL(target, true), http.StatusFound)
		return
	}

	h.redirectWithTokens(ctx, w, r, user, target)
}

// redirectWithTokens mints a fresh pair and sends the user to the target with
// the tokens appended to its query.
func (r *Router) redirectWithTokens(ctx context.Context, w http.ResponseWriter, req *http.Request, user domain.User, target string) {
	pair, err := r.TokenService.Issue(ctx, user, r.Audience)
	if err != nil {
		slogx.FromContext(ctx).Error("token issue failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	u, err := url.Parse(target)
	if err != nil {
		u, _ = url.Parse(r.DefaultRedirectURL)
	}
	q := u.Query()
	q.Set(authsdk.QueryParamToken, pair.AccessToken)
	q.Set(authsdk.QueryParamRefreshToken, pair.RefreshToken)
	u.RawQuery = q.Encode()

	http.Redirect(w, req, u.String(), http.StatusFound)
}

// finishLogin runs the shared post-authentication continuation. An
// unverified account detours to the verification screen first. A login that
// arrived via the relay marker finishes by minting tokens and redirecting
// straight to the target, never back through the relay.
func (r *Router) finishLogin(ctx context.Context, w http.ResponseWriter, req *http.Request, user domain.User, target string, fromRelay bool) {
	if !user.Verified() {
		http.Redirect(w, req, r.verifyScreenURL(target, fromRelay), http.StatusFound)
		return
	}

	if fromRelay {
		r.redirectWithTokens(ctx, w, req, user, r.sanitizeTarget(target))
		return
	}

	if target == "" {
		target = "/"
	}
	http.Redirect(w, req, target, http.StatusFound)
}

// sanitizeTarget normalizes the redirect target. Unparseable values and
// anything that would route back through the relay fall back to the default
// satellite URL.
func (r *Router) sanitizeTarget(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return r.DefaultRedirectURL
	}

	u, err := url.Parse(target)
	if err != nil {
		return r.DefaultRedirectURL
	}
	if strings.HasSuffix(u.Path, "/geomap-redirect") {
		return r.DefaultRedirectURL
	}
	if u.Query().Get(authsdk.QueryParamFromRelay) == "true" {
		return r.DefaultRedirectURL
	}
	return target
}

func (r *Router) loginScreenURL(target string, fromRelay bool) string {
	q := url.Values{}
	if target != "" {
		q.Set(authsdk.QueryParamRedirect, target)
	}
	if fromRelay {
		q.Set(authsdk.QueryParamFromRelay, "true")
	}
	return "/auth/authenticate?" + q.Encode()
}

func (r *Router) verifyScreenURL(target string, fromRelay bool) string {
	q := url.Values{}
	if target != "" {
		q.Set(authsdk.QueryParamRedirect, target)
	}
	if fromRelay {
		q.Set(authsdk.QueryParamFromRelay, "true")
	}
	return "/auth/verify?" + q.Encode()
}
