package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-checkin/internal/config"
)

type contextKey string

const userIDKey contextKey = "user_id"

// TokenVerifier checks a raw bearer token and returns its subject.
type TokenVerifier func(ctx context.Context, rawToken string) (string, error)

// NewVerifier picks OIDC when an issuer is configured and falls back to locally signed
// HS256 tokens when only a secret is set.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (TokenVerifier, error) {
	switch {
	case cfg.OIDCIssuer != "":
		return OIDCVerifier(ctx, cfg.OIDCIssuer)
	case cfg.HMACSecret != "":
		return HMACVerifier([]byte(cfg.HMACSecret)), nil
	default:
		return nil, errors.New("neither OIDC_ISSUER nor JWT_HMAC_SECRET is set")
	}
}

// OIDCVerifier verifies tokens against the issuer's published keys.
func OIDCVerifier(ctx context.Context, issuer string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// SkipClientIDCheck → no client ID required
	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	return func(ctx context.Context, rawToken string) (string, error) {
		idToken, err := verifier.Verify(ctx, rawToken)
		if err != nil {
			return "", err
		}
		var claims struct {
			Sub string `json:"sub"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", fmt.Errorf("failed to parse claims: %w", err)
		}
		if claims.Sub == "" {
			return "", errors.New("subject claim not found in token")
		}
		return claims.Sub, nil
	}, nil
}

// Middleware authenticates the operator and stores their id in the request context.
func Middleware(verify TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			userID, err := verify(r.Context(), rawToken)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}
