// Package token reads claims out of bearer tokens without verifying them.
// Verification belongs to the remote authority; claim extraction only feeds
// the cache key and identity header, and never authorizes anything.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var parser = jwt.NewParser()

// Subject returns the user id claim from the token payload. It prefers the
// "userId" claim and falls back to the registered "sub" claim.
func Subject(raw string) (string, error) {
	claims, err := decode(raw)
	if err != nil {
		return "", err
	}

	if userID, ok := claims["userId"].(string); ok && userID != "" {
		return userID, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("token has no subject claim")
}

// Expiry returns the token's expiration time from the "exp" claim.
func Expiry(raw string) (time.Time, error) {
	claims, err := decode(raw)
	if err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp.Time, nil
}

func decode(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	return claims, nil
}
