package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wattleglen/authrelay/internal/identity/service"
	"github.com/wattleglen/authrelay/pkg/authsdk"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

// VerifyEmailHandler serves the email verification screen. It requires a
// live session; the code itself is delivered out of band.
type VerifyEmailHandler struct {
	*Router
}

type verifyPage struct {
	Redirect  string
	FromRelay bool
	Email     string
	Error     string
}

func (h *VerifyEmailHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	target := q.Get(authsdk.QueryParamRedirect)
	fromRelay := q.Get(authsdk.QueryParamFromRelay) == "true"

	user, ok := h.currentUser(ctx, r)
	if !ok {
		http.Redirect(w, r, h.loginScreenURL(target, fromRelay), http.StatusFound)
		return
	}

	// Already verified accounts skip straight through.
	if user.Verified() {
		h.finishLogin(ctx, w, r, user, target, fromRelay)
		return
	}

	h.Templates.Render(w, http.StatusOK, "verify", verifyPage{
		Redirect:  target,
		FromRelay: fromRelay,
		Email:     user.Email,
	})
}

func (h *VerifyEmailHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	target := r.Form.Get(authsdk.QueryParamRedirect)
	fromRelay := r.Form.Get(authsdk.QueryParamFromRelay) == "true"
	code := strings.TrimSpace(r.Form.Get("code"))

	user, ok := h.currentUser(ctx, r)
	if !ok {
		http.Redirect(w, r, h.loginScreenURL(target, fromRelay), http.StatusFound)
		return
	}

	if err := h.UserService.VerifyEmail(ctx, user.ID, code); err != nil {
		if errors.Is(err, service.ErrInvalidCode) {
			h.Templates.Render(w, http.StatusUnauthorized, "verify", verifyPage{
				Redirect:  target,
				FromRelay: fromRelay,
				Email:     user.Email,
				Error:     "That code didn't match. Check the latest email and try again.",
			})
			return
		}
		slogx.FromContext(ctx).Error("email verification failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	// Re-read so finishLogin sees the verified flag.
	user, _ = h.currentUser(ctx, r)
	h.finishLogin(ctx, w, r, user, target, fromRelay)
}
