package server

import (
	"context"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type wsAuthorizer interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// tokenAuthorizer resolves the acting user from a signed session token.
// The subject claim carries the user id.
type tokenAuthorizer struct {
	secret []byte
}

func newTokenAuthorizer(secret string) wsAuthorizer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &tokenAuthorizer{secret: []byte(secret)}
}

func (a *tokenAuthorizer) Authenticate(_ context.Context, accessToken string) (string, error) {
	if a == nil || len(a.secret) == 0 {
		return "", errors.New("auth is not configured")
	}
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", errors.New("access token is required")
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return "", err
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return "", errors.New("token subject is empty")
	}
	return userID, nil
}
