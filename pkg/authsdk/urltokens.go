package authsdk

import (
	"fmt"
	"net/url"

	"github.com/wattleglen/authrelay/pkg/jwtx"
)

// Query parameter names used in the token hand-over and redirect protocol.
const (
	// QueryParamToken carries the access token appended by the relay.
	QueryParamToken = "token"

	// QueryParamRefreshToken carries the refresh token appended by the relay.
	QueryParamRefreshToken = "refresh_token"

	// QueryParamRedirect carries the destination URL through the login flow.
	QueryParamRedirect = "redirect"

	// QueryParamFromRelay marks a login URL as having come through the
	// relay, so a failed login never bounces back through it again.
	QueryParamFromRelay = "from_geomap_redirect"
)

// URLTokens is the result of scanning a page URL for handed-over tokens.
type URLTokens struct {
	// AccessToken and RefreshToken are the captured tokens, empty when the
	// URL carried none.
	AccessToken  string
	RefreshToken string

	// CleanURL is the page URL with both token parameters stripped, ready
	// for the host app to install via history replacement.
	CleanURL string

	// Found reports whether at least one token parameter was captured.
	Found bool
}

// ExtractTokens scans pageURL for token and refresh_token query parameters.
// Each parameter is captured independently when it has the three-dot segment
// shape of a JWT; a mangled or missing counterpart is stripped and discarded
// without costing the well-formed one.
func ExtractTokens(pageURL string) (*URLTokens, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	q := u.Query()
	access := q.Get(QueryParamToken)
	refresh := q.Get(QueryParamRefreshToken)

	if access == "" && refresh == "" {
		return &URLTokens{CleanURL: pageURL}, nil
	}

	q.Del(QueryParamToken)
	q.Del(QueryParamRefreshToken)
	u.RawQuery = q.Encode()

	tokens := &URLTokens{CleanURL: u.String()}
	if jwtx.SegmentCount(access) == 3 {
		tokens.AccessToken = access
	}
	if jwtx.SegmentCount(refresh) == 3 {
		tokens.RefreshToken = refresh
	}
	tokens.Found = tokens.AccessToken != "" || tokens.RefreshToken != ""
	return tokens, nil
}

// repairSlotSwap fixes a refresh token found in the access slot. A mutually
// swapped pair is flipped back; a lone refresh token is moved over so it can
// still drive a rotation, unless the refresh slot already holds a candidate
// of its own. The access slot is cleared either way. The type claim is peeked
// without signature verification, which is fine here: the result still has to
// survive server-side verification.
func repairSlotSwap(access, refresh string) (string, string, bool) {
	ac, err := jwtx.PeekClaims(access)
	if err != nil || ac.TokenType != jwtx.TokenTypeRefresh {
		return access, refresh, false
	}

	if rc, err := jwtx.PeekClaims(refresh); err == nil && rc.TokenType == jwtx.TokenTypeAccess {
		return refresh, access, true
	}
	if refresh == "" {
		return "", access, true
	}
	return "", refresh, true
}
