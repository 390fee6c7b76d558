package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wattleglen/authrelay/internal/identity/service"
	"github.com/wattleglen/authrelay/pkg/authsdk"
	"github.com/wattleglen/authrelay/pkg/httpx"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

// TokenRefreshHandler serves POST /token/refresh. The body is JSON
// {"refreshToken": "..."} and a success always rotates the full pair.
type TokenRefreshHandler struct {
	TokenService *service.TokenService
	Audience     string
}

func (h *TokenRefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	var req authsdk.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.Refresh(ctx, req.RefreshToken, h.Audience)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken),
			errors.Is(err, service.ErrWrongTokenType),
			errors.Is(err, service.ErrRefreshReused),
			errors.Is(err, service.ErrUserNotFound):
			authsdk.ErrInvalidGrant.WriteError(w)
		default:
			log.Error("token refresh failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
	})
}
