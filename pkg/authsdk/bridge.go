package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/wattleglen/authrelay/pkg/jwtx"
	"github.com/wattleglen/authrelay/pkg/slogx"
)

// Status is the bridge's authentication state.
type Status string

const (
	// StatusUnchecked means Load has not run yet.
	StatusUnchecked Status = "unchecked"

	// StatusChecking means a Load call is verifying the stored pair.
	StatusChecking Status = "checking"

	// StatusRefreshing means a Load call is rotating the pair.
	StatusRefreshing Status = "refreshing"

	// StatusAuthenticated means the access token verified successfully.
	StatusAuthenticated Status = "authenticated"

	// StatusUnauthenticated means no usable pair survived Load.
	StatusUnauthenticated Status = "unauthenticated"
)

// Bridge carries tokens between page loads for a downstream app. It captures
// tokens handed over in the URL, repairs swapped slots, verifies against the
// identity service and performs at most one refresh per Load call.
type Bridge struct {
	app    string
	client *RelayClient
	store  TokenStore

	mu     sync.RWMutex
	status Status
	user   *UserInfo

	// refreshMu serialises refresh attempts so concurrent Loads cannot both
	// spend the same single-use refresh token.
	refreshMu sync.Mutex
}

// NewBridge creates a bridge for the named app.
func NewBridge(app string, client *RelayClient, store TokenStore) *Bridge {
	return &Bridge{
		app:    app,
		client: client,
		store:  store,
		status: StatusUnchecked,
	}
}

// LoadResult reports what Load did with the page URL and the stored pair.
type LoadResult struct {
	// Status is the bridge state after the load completed.
	Status Status

	// User is set when Status is StatusAuthenticated.
	User *UserInfo

	// CleanURL is the page URL with token parameters stripped. The host app
	// should install it via history replacement so tokens never linger in
	// the address bar.
	CleanURL string

	// Captured reports whether tokens were taken from the page URL.
	Captured bool

	// Refreshed reports whether the pair was rotated during this load.
	Refreshed bool
}

// Load runs the full check for a page load: capture tokens from pageURL,
// repair swapped slots, verify the access token and fall back to a single
// refresh attempt. Transport failures are returned as errors and leave the
// stored pair untouched; a definitive rejection clears the store.
func (b *Bridge) Load(ctx context.Context, pageURL string) (*LoadResult, error) {
	log := slogx.FromContext(ctx)
	b.setStatus(StatusChecking, nil)

	result := &LoadResult{CleanURL: pageURL}

	urlTokens, err := ExtractTokens(pageURL)
	if err != nil {
		b.setStatus(StatusUnchecked, nil)
		return nil, err
	}
	result.CleanURL = urlTokens.CleanURL

	if urlTokens.Found {
		captAccess, captRefresh := urlTokens.AccessToken, urlTokens.RefreshToken
		// A partial hand-over keeps whatever the other slot already holds.
		if captAccess == "" || captRefresh == "" {
			storedAccess, storedRefresh, err := b.store.Tokens()
			if err != nil {
				b.setStatus(StatusUnchecked, nil)
				return nil, fmt.Errorf("read token store: %w", err)
			}
			if captAccess == "" {
				captAccess = storedAccess
			}
			if captRefresh == "" {
				captRefresh = storedRefresh
			}
		}
		if err := b.store.SetTokens(captAccess, captRefresh); err != nil {
			b.setStatus(StatusUnchecked, nil)
			return nil, fmt.Errorf("persist captured tokens: %w", err)
		}
		result.Captured = true
		log.Debug("captured tokens from page url", "app", b.app)
	}

	access, refresh, err := b.store.Tokens()
	if err != nil {
		b.setStatus(StatusUnchecked, nil)
		return nil, fmt.Errorf("read token store: %w", err)
	}

	// Malformed slots are as good as empty.
	if jwtx.SegmentCount(access) != 3 {
		access = ""
	}
	if jwtx.SegmentCount(refresh) != 3 {
		refresh = ""
	}
	if access == "" && refresh == "" {
		_ = b.store.Clear()
		b.setStatus(StatusUnauthenticated, nil)
		result.Status = StatusUnauthenticated
		return result, nil
	}

	if repairedAccess, repairedRefresh, swapped := repairSlotSwap(access, refresh); swapped {
		access, refresh = repairedAccess, repairedRefresh
		if err := b.store.SetTokens(access, refresh); err != nil {
			b.setStatus(StatusUnchecked, nil)
			return nil, fmt.Errorf("persist repaired tokens: %w", err)
		}
		log.Debug("repaired swapped token slots", "app", b.app)
	}

	if access != "" {
		user, err := b.client.Verify(ctx, access)
		if err == nil {
			b.setStatus(StatusAuthenticated, user)
			result.Status = StatusAuthenticated
			result.User = user
			return result, nil
		}
		if !isUnauthorized(err) {
			// Transport or server failure, keep the pair for a retry.
			b.setStatus(StatusUnchecked, nil)
			return nil, fmt.Errorf("verify access token: %w", err)
		}
	}

	if refresh == "" {
		_ = b.store.Clear()
		b.setStatus(StatusUnauthenticated, nil)
		result.Status = StatusUnauthenticated
		return result, nil
	}

	user, rotated, err := b.refreshAndVerify(ctx, access, refresh)
	if err != nil {
		if isRejection(err) || errors.Is(err, ErrRefreshExhausted) {
			// Definitive rejection, the pair is dead.
			_ = b.store.Clear()
			b.setStatus(StatusUnauthenticated, nil)
			result.Status = StatusUnauthenticated
			return result, nil
		}
		b.setStatus(StatusUnchecked, nil)
		return nil, err
	}

	b.setStatus(StatusAuthenticated, user)
	result.Status = StatusAuthenticated
	result.User = user
	result.Refreshed = rotated
	return result, nil
}

// refreshAndVerify rotates the pair and verifies the new access token. Only
// one goroutine refreshes at a time; latecomers re-verify whatever pair the
// winner stored instead of burning their own stale refresh token.
func (b *Bridge) refreshAndVerify(ctx context.Context, staleAccess, refresh string) (*UserInfo, bool, error) {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	b.setStatus(StatusRefreshing, nil)

	// Double-check: another Load may have rotated while we waited.
	currentAccess, currentRefresh, err := b.store.Tokens()
	if err != nil {
		return nil, false, fmt.Errorf("read token store: %w", err)
	}
	if currentAccess != staleAccess && jwtx.SegmentCount(currentAccess) == 3 {
		user, err := b.client.Verify(ctx, currentAccess)
		if err == nil {
			return user, false, nil
		}
		if !isUnauthorized(err) {
			return nil, false, fmt.Errorf("verify refreshed access token: %w", err)
		}
		// Still rejected, fall through with whatever refresh token is stored.
	}
	if jwtx.SegmentCount(currentRefresh) == 3 {
		refresh = currentRefresh
	}

	pair, err := b.client.Refresh(ctx, refresh)
	if err != nil {
		return nil, false, fmt.Errorf("refresh token pair: %w", err)
	}

	if err := b.store.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
		return nil, false, fmt.Errorf("persist rotated tokens: %w", err)
	}

	// One re-verify after the rotation, never a second refresh.
	user, err := b.client.Verify(ctx, pair.AccessToken)
	if err != nil {
		if isUnauthorized(err) {
			return nil, false, ErrRefreshExhausted
		}
		return nil, false, fmt.Errorf("verify rotated access token: %w", err)
	}
	return user, true, nil
}

// CurrentUser returns the user from the last successful Load.
func (b *Bridge) CurrentUser() (*UserInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.status != StatusAuthenticated || b.user == nil {
		return nil, ErrNoTokens
	}
	return b.user, nil
}

// Status returns the bridge's current state.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// SignOut clears the stored pair and resets the bridge. The host app should
// then navigate to LogoutURL.
func (b *Bridge) SignOut() error {
	if err := b.store.Clear(); err != nil {
		return err
	}
	b.setStatus(StatusUnauthenticated, nil)
	return nil
}

// LoginURL builds the relay URL that returns the visitor to redirect with a
// fresh token pair after authenticating. The relay decides the rest: a live
// session mints tokens immediately, anything else detours through the login
// or verification screens first. Redirects that would bounce straight back
// through the relay are refused.
func (b *Bridge) LoginURL(redirect string) (string, error) {
	target, err := url.Parse(redirect)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	if strings.HasSuffix(target.Path, "/geomap-redirect") ||
		target.Query().Get(QueryParamFromRelay) == "true" {
		return "", ErrRedirectLoop
	}

	q := url.Values{}
	q.Set(QueryParamRedirect, redirect)
	return b.client.BaseURL + "/geomap-redirect?" + q.Encode(), nil
}

// LogoutURL builds the identity service sign-out URL that lands the visitor
// on callbackURL afterwards.
func (b *Bridge) LogoutURL(callbackURL string) string {
	q := url.Values{}
	q.Set("callbackUrl", callbackURL)
	return b.client.BaseURL + "/auth/signout?" + q.Encode()
}

func (b *Bridge) setStatus(status Status, user *UserInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.user = user
}

// isUnauthorized reports whether err is a definitive 401/403 rejection rather
// than a transport failure.
func isUnauthorized(err error) bool {
	var oe *OAuth2Error
	if !errors.As(err, &oe) {
		return false
	}
	return oe.StatusCode == http.StatusUnauthorized || oe.StatusCode == http.StatusForbidden
}

// isRejection reports whether err is any 4xx response. Server-side 5xx
// failures are transient and must not cost the visitor their pair.
func isRejection(err error) bool {
	var oe *OAuth2Error
	if !errors.As(err, &oe) {
		return false
	}
	return oe.StatusCode >= 400 && oe.StatusCode < 500
}
