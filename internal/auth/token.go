package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractTokenFromRequest reads the bearer token from the Authorization header, or
// from the access_token query parameter for EventSource clients that cannot set headers.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, nil
		}
		return "", errors.New("missing Authorization header")
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// HMACVerifier accepts HS256 tokens signed with secret and returns the 'sub' claim.
func HMACVerifier(secret []byte) TokenVerifier {
	return func(_ context.Context, rawToken string) (string, error) {
		token, err := jwt.Parse(rawToken, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			return "", fmt.Errorf("failed to parse token: %w", err)
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			return "", errors.New("subject claim not found in token")
		}
		return sub, nil
	}
}
