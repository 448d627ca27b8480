package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpiredToken indicates the current access token's expiry has
// passed and a refresh is required before the token can be used.
var ErrExpiredToken = errors.New("auth: access token expired")

// vendorClaims mirrors the registered JWT claims the vendor's access
// tokens carry. The token is never verified against a public key: the
// vendor never publishes a JWKS for it, so decoding here is strictly
// for diagnostics (exp/kid logging), not authorization.
type vendorClaims struct {
	jwt.RegisteredClaims
}

// TokenSet is the vendor's OAuth2 Authorization-Code-with-PKCE token
// response, plus the wall-clock instant it expires at.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired implements the "considered-expired" predicate: now >=
// expiresAt - 5 min.
func (t TokenSet) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now.Add(5 * time.Minute))
}

// decodeForDiagnostics parses the access token's claims without
// signature verification, purely to surface exp/kid in logs. A parse
// failure is not fatal to the caller; the zero value is returned.
func decodeForDiagnostics(accessToken string) (kid string, exp time.Time) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims vendorClaims
	token, _, err := parser.ParseUnverified(accessToken, &claims)
	if err != nil || token == nil {
		return "", time.Time{}
	}
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	if kidVal, ok := token.Header["kid"].(string); ok {
		kid = kidVal
	}
	return kid, exp
}

// tokenBox is a mutex-guarded holder for the current TokenSet, shared
// between AuthEngine's refresh goroutine and its readers.
type tokenBox struct {
	mu  sync.RWMutex
	set TokenSet
}

func (b *tokenBox) get() TokenSet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.set
}

func (b *tokenBox) replace(set TokenSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set = set
}
