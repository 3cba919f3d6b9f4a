// Package auth verifies the bearer credential that every REST request and
// socket connection carries. Issuance is an external collaborator; this
// package only validates tokens signed with a shared HMAC secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any unparsable, unsigned, expired, or
// otherwise untrustworthy token.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carries the {sub, exp} claim set the platform's tokens use.
type Claims struct {
	jwt.RegisteredClaims
}

// ValidatePrincipalToken parses and verifies an access token, returning the
// principal id carried in its subject claim. The signing method is checked
// explicitly so a token signed with "none" or an asymmetric algorithm is
// never accepted as HMAC-valid (algorithm confusion).
func ValidatePrincipalToken(tokenStr, secret, issuer string) (uuid.UUID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	sub := claims.RegisteredClaims.Subject
	principal, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return principal, nil
}

// NewPrincipalToken issues a signed access token for principal, expiring
// after ttl. Issuance is normally external; this helper exists for tests and
// local tooling that need to mint a token without a separate identity
// service running.
func NewPrincipalToken(principal uuid.UUID, secret, issuer string, ttl time.Duration) (string, error) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   principal.String(),
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
