package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryMargin refreshes slightly before the access token actually expires.
const expiryMargin = 10 * time.Second

// tokenExpiry reads the exp claim without verifying the signature; the
// provider remains the authority on validity. ok is false for opaque tokens.
func tokenExpiry(accessToken string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func needsRefresh(accessToken string, now time.Time) bool {
	exp, ok := tokenExpiry(accessToken)
	if !ok {
		return false
	}
	return !now.Add(expiryMargin).Before(exp)
}
