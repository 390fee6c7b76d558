package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wattleglen/authrelay/pkg/authsdk"
	"github.com/wattleglen/authrelay/pkg/cryptox"
	"github.com/wattleglen/authrelay/pkg/slogx"
	"golang.org/x/oauth2"
)

const oauthStateCookie = "identity-oauth-state"

// oauthState rides in a short-lived cookie between the start and callback
// legs of the upstream code flow.
type oauthState struct {
	State     string `json:"state"`
	Verifier  string `json:"verifier"`
	Redirect  string `json:"redirect"`
	FromRelay bool   `json:"fromRelay"`
}

// OAuthHandler runs the upstream OAuth sign-in flow against a registered
// provider, then rejoins the normal login continuation.
type OAuthHandler struct {
	*Router
}

func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.Providers.Get(r.PathValue("provider"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	state, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		slogx.FromContext(ctx).Error("oauth state generation failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}
	verifier := oauth2.GenerateVerifier()

	payload, err := json.Marshal(oauthState{
		State:     state,
		Verifier:  verifier,
		Redirect:  r.URL.Query().Get(authsdk.QueryParamRedirect),
		FromRelay: r.URL.Query().Get(authsdk.QueryParamFromRelay) == "true",
	})
	if err != nil {
		authsdk.ErrServerError.WriteError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    base64.RawURLEncoding.EncodeToString(payload),
		Path:     "/auth/callback",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, p.AuthCodeURL(state, oauth2.S256ChallengeFromVerifier(verifier)), http.StatusFound)
}

func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	p, err := h.Providers.Get(r.PathValue("provider"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	st, ok := h.readStateCookie(r)
	if !ok || r.URL.Query().Get("state") != st.State {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	// One-shot: drop the state cookie regardless of outcome.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/callback",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	ident, err := p.ExchangeCode(ctx, code, st.Verifier)
	if err != nil {
		log.Warn("oauth exchange failed", "provider", p.Name(), "err", err)
		authsdk.ErrAccessDenied.WriteError(w)
		return
	}

	user, err := h.UserService.FindOrCreateFromProvider(ctx, ident)
	if err != nil {
		log.Error("provider user resolution failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	if err := h.beginSession(ctx, w, user); err != nil {
		log.Error("session create failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	h.finishLogin(ctx, w, r, user, st.Redirect, st.FromRelay)
}

func (h *OAuthHandler) readStateCookie(r *http.Request) (oauthState, bool) {
	c, err := r.Cookie(oauthStateCookie)
	if err != nil {
		return oauthState{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return oauthState{}, false
	}
	var st oauthState
	if err := json.Unmarshal(raw, &st); err != nil || st.State == "" {
		return oauthState{}, false
	}
	return st, true
}
