package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wattleglen/authrelay/internal/identity/service"
	"github.com/wattleglen/authrelay/pkg/authsdk"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

// AuthenticateHandler serves the interactive login screen.
type AuthenticateHandler struct {
	*Router
}

type loginPage struct {
	Redirect  string
	FromRelay bool
	Email     string
	Error     string
	NeedTOTP  bool
	Providers []string
}

func (h *AuthenticateHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	target := q.Get(authsdk.QueryParamRedirect)
	fromRelay := q.Get(authsdk.QueryParamFromRelay) == "true"

	// A user with a live session doesn't need the form; run the
	// continuation directly.
	if user, ok := h.currentUser(ctx, r); ok {
		h.finishLogin(ctx, w, r, user, target, fromRelay)
		return
	}

	h.Templates.Render(w, http.StatusOK, "login", loginPage{
		Redirect:  target,
		FromRelay: fromRelay,
		Providers: h.providerNames(),
	})
}

func (h *AuthenticateHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	target := r.Form.Get(authsdk.QueryParamRedirect)
	fromRelay := r.Form.Get(authsdk.QueryParamFromRelay) == "true"
	email := strings.TrimSpace(r.Form.Get("email"))
	password := r.Form.Get("password")
	totpCode := strings.TrimSpace(r.Form.Get("totp_code"))

	page := loginPage{
		Redirect:  target,
		FromRelay: fromRelay,
		Email:     email,
		Providers: h.providerNames(),
	}

	user, err := h.UserService.Authenticate(ctx, email, password, totpCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTOTPRequired):
			page.NeedTOTP = true
			h.Templates.Render(w, http.StatusOK, "login", page)
		case errors.Is(err, service.ErrInvalidCredentials):
			page.Error = "Incorrect email, password or code."
			page.NeedTOTP = totpCode != ""
			h.Templates.Render(w, http.StatusUnauthorized, "login", page)
		default:
			slogx.FromContext(ctx).Error("login failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	if err := h.beginSession(ctx, w, user); err != nil {
		slogx.FromContext(ctx).Error("session create failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	h.finishLogin(ctx, w, r, user, target, fromRelay)
}

func (r *Router) providerNames() []string {
	if r.Providers == nil {
		return nil
	}
	return r.Providers.Names()
}
