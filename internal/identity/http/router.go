package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/wattleglen/authrelay/internal/identity/domain"
	"github.com/wattleglen/authrelay/internal/identity/provider"
	"github.com/wattleglen/authrelay/internal/identity/service"
	"github.com/wattleglen/authrelay/internal/identity/session"
	"github.com/wattleglen/authrelay/internal/identity/store"
	"github.com/wattleglen/authrelay/pkg/httpx"
	"github.com/wattleglen/authrelay/pkg/jwtx"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.Keyring
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store    store.Store
	sessions session.Store

	TokenService *service.TokenService
	UserService  *service.UserService
	Providers    *provider.Registry
	Templates    *Templates

	// Audience is the satellite app tokens are minted for.
	Audience string

	// DefaultRedirectURL is where the relay sends users when no redirect
	// target was named.
	DefaultRedirectURL string

	// SessionTTL bounds interactive sessions.
	SessionTTL time.Duration

	// SecureCookies must be true everywhere except plain-HTTP dev setups;
	// the __Host- cookie prefix won't stick without it.
	SecureCookies bool
}

func NewRouter(
	keys *jwtx.Keyring,
	buildVersion string,
	st store.Store,
	sessions session.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		sessions:     sessions,
		logger:       logger,
		SessionTTL:   24 * time.Hour,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) ApplyRoutes() {
	r.registerTokens()
	r.registerRelay()
	r.registerAuth()
	r.registerSystem()
}

func (r *Router) registerTokens() {
	refreshHandler := &TokenRefreshHandler{TokenService: r.TokenService, Audience: r.Audience}
	r.Mux.Handle("POST /token/refresh",
		httpx.Chain(refreshHandler,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	verifyHandler := &TokenVerifyHandler{TokenService: r.TokenService, Audience: r.Audience}
	r.Mux.Handle("GET /token/verify",
		httpx.Chain(verifyHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerRelay() {
	h := &RelayHandler{Router: r}
	r.Mux.Handle("GET /geomap-redirect",
		httpx.Chain(h,
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerAuth() {
	login := &AuthenticateHandler{Router: r}

	// GET just renders the form; POST carries credentials, so rate limit by
	// IP + email to slow per-account brute force.
	r.Mux.Handle("GET /auth/authenticate",
		httpx.Chain(http.HandlerFunc(login.HandleGet),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("POST /auth/authenticate",
		httpx.Chain(http.HandlerFunc(login.HandlePost),
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "email"),
		),
	)

	oauth := &OAuthHandler{Router: r}
	r.Mux.Handle("GET /auth/oauth/{provider}",
		httpx.Chain(http.HandlerFunc(oauth.HandleStart),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("GET /auth/callback/{provider}",
		httpx.Chain(http.HandlerFunc(oauth.HandleCallback),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	verify := &VerifyEmailHandler{Router: r}
	r.Mux.Handle("GET /auth/verify",
		httpx.Chain(http.HandlerFunc(verify.HandleGet),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("POST /auth/verify",
		httpx.Chain(http.HandlerFunc(verify.HandlePost),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	signout := &SignOutHandler{Router: r}
	r.Mux.Handle("GET /auth/signout",
		httpx.Chain(signout,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

// currentUser resolves the session cookie to a user, or reports false.
func (r *Router) currentUser(ctx context.Context, req *http.Request) (domain.User, bool) {
	id := session.FromRequest(req)
	if id == "" {
		return domain.User{}, false
	}

	s, err := r.sessions.Get(ctx, id)
	if err != nil {
		return domain.User{}, false
	}

	user, err := r.store.Users().GetUserByID(ctx, s.UserID)
	if err != nil {
		return domain.User{}, false
	}
	return user, true
}

// beginSession creates a server session for the user and sets the cookie.
func (r *Router) beginSession(ctx context.Context, w http.ResponseWriter, user domain.User) error {
	id, err := session.NewID()
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(r.SessionTTL)
	if err := r.sessions.Create(ctx, session.Session{
		ID:        id,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return err
	}

	session.SetCookie(w, id, expiresAt, r.cookieOptions())
	return nil
}

func (r *Router) endSession(ctx context.Context, w http.ResponseWriter, req *http.Request) {
	if id := session.FromRequest(req); id != "" {
		if err := r.sessions.Delete(ctx, id); err != nil {
			slogx.FromContext(ctx).Error("session delete failed", "error", err)
		}
	}
	session.ClearCookie(w, r.cookieOptions())
}

func (r *Router) cookieOptions() session.CookieOptions {
	return session.CookieOptions{
		Secure:   r.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
