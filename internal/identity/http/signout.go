package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/wattleglen/authrelay/pkg/slogx"
)

// SignOutHandler serves GET /auth/signout. It destroys the server session,
// clears the cookie, revokes the user's refresh tokens, and redirects to the
// callback URL.
type SignOutHandler struct {
	*Router
}

func (h *SignOutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if user, ok := h.currentUser(ctx, r); ok {
		if err := h.TokenService.RevokeUserTokens(ctx, user.ID); err != nil {
			slogx.FromContext(ctx).Error("token revocation on signout failed", "err", err)
		}
	}
	h.endSession(ctx, w, r)

	callback := strings.TrimSpace(r.URL.Query().Get("callbackUrl"))
	if callback == "" {
		callback = "/"
	} else if _, err := url.Parse(callback); err != nil {
		callback = "/"
	}

	http.Redirect(w, r, callback, http.StatusFound)
}
