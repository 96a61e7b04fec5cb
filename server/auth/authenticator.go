// Package auth validates the bearer tokens that identify session owners.
// Token issuance belongs to the external identity provider; this package
// only verifies signatures and extracts the owner identifier.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// Issuer is the expected token issuer.
	Issuer = "cfipros"
	// AccessTokenAudience is the expected token audience.
	AccessTokenAudience = "acstracker.access"
)

// ClaimsMessage is the JWT claims layout for access tokens.
// Subject carries the owner identifier.
type ClaimsMessage struct {
	jwt.RegisteredClaims
}

// GenerateAccessToken signs an access token for the given owner.
// Used by tests and the token CLI subcommand; production tokens come from
// the identity provider sharing the same secret.
func GenerateAccessToken(ownerID string, expiresAt time.Time, secret string) (string, error) {
	claims := &ClaimsMessage{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{AccessTokenAudience},
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Authenticate verifies the token and returns the owner identifier.
func Authenticate(tokenString string, secret string) (string, error) {
	if tokenString == "" {
		return "", errors.New("missing access token")
	}

	claims := &ClaimsMessage{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(AccessTokenAudience),
	)
	if err != nil {
		return "", errors.Wrap(err, "invalid access token")
	}
	if claims.Subject == "" {
		return "", errors.New("access token has no subject")
	}
	return claims.Subject, nil
}

// ExtractBearerToken pulls the token out of an Authorization header value.
func ExtractBearerToken(authorizationHeader string) (string, error) {
	if authorizationHeader == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(authorizationHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("malformed authorization header")
	}
	return parts[1], nil
}
