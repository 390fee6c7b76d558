package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/wattleglen/authrelay/internal/identity/service"
	"github.com/wattleglen/authrelay/pkg/authsdk"
	"github.com/wattleglen/authrelay/pkg/httpx"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

// TokenVerifyHandler serves GET /token/verify. The access token comes in as
// a Bearer credential; a valid one returns the subject it identifies.
type TokenVerifyHandler struct {
	TokenService *service.TokenService
	Audience     string
}

func (h *TokenVerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, ok := bearerToken(r)
	if !ok {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	user, err := h.TokenService.Verify(ctx, raw, h.Audience)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken),
			errors.Is(err, service.ErrWrongTokenType),
			errors.Is(err, service.ErrUserNotFound):
			authsdk.ErrInvalidToken.WriteError(w)
		default:
			slogx.FromContext(ctx).Error("token verify failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.VerifyResponse{
		Valid: true,
		User: authsdk.UserInfo{
			UserID:      user.ID,
			Email:       user.Email,
			Name:        user.Name,
			Verified:    user.Verified(),
			Permissions: user.Permissions,
		},
	})
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
