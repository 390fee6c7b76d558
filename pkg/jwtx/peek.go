package jwtx

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// SegmentCount returns the number of non-empty dot-separated segments in a
// raw token string. A well-formed bearer token has exactly three.
func SegmentCount(raw string) int {
	if raw == "" {
		return 0
	}
	n := 0
	for _, seg := range strings.Split(raw, ".") {
		if seg == "" {
			continue
		}
		n++
	}
	// An empty segment anywhere makes the token malformed regardless of how
	// many non-empty ones remain.
	if strings.Contains(raw, "..") || strings.HasPrefix(raw, ".") || strings.HasSuffix(raw, ".") {
		return 0
	}
	return n
}

// PeekClaims decodes the middle segment of a token WITHOUT verifying the
// signature. This is a routing hint only - e.g. "is this actually a refresh
// token?" before spending a network round trip - and must never be used as an
// authorization decision.
func PeekClaims(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformed
	}
	for _, p := range parts {
		if p == "" {
			return nil, ErrMalformed
		}
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformed
	}

	var c Claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, ErrMalformed
	}

	return &c, nil
}
