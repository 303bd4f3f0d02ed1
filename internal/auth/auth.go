// Package auth validates HS256 JWT bearer tokens on admin API requests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dskow/hellomux/internal/apierror"
	"github.com/dskow/hellomux/internal/config"
	"github.com/dskow/hellomux/internal/metrics"
)

type contextKey string

// ClaimsKey is the context key used to store validated JWT claims.
const ClaimsKey contextKey = "jwt_claims"

// Claims represents the validated JWT claims injected into the request context.
type Claims struct {
	Subject  string   `json:"sub"`
	Issuer   string   `json:"iss"`
	Audience string   `json:"aud"`
	Scopes   []string `json:"scopes"`
}

// ClaimsFrom returns the claims stored by Middleware, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ClaimsKey).(*Claims)
	return c, ok
}

// Middleware returns an HTTP middleware that validates bearer tokens against
// the settings returned by current. current is consulted on every request so
// a config reload takes effect without rebuilding the handler chain. When
// auth is disabled requests pass through untouched.
func Middleware(current func() config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := current()
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := extractBearerToken(r)
			if !ok {
				metrics.AdminAuthFailures.WithLabelValues("missing_token").Inc()
				apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthMissingToken,
					"missing or malformed Authorization header")
				return
			}

			claims, err := ValidateToken(tokenStr, cfg)
			if err != nil {
				logger.Warn("admin auth failure", "error", err, "path", r.URL.Path)
				if isScopeError(err) {
					metrics.AdminAuthFailures.WithLabelValues("insufficient_scope").Inc()
					apierror.WriteJSON(w, r, http.StatusForbidden, apierror.AuthInsufficientScope, err.Error())
				} else {
					metrics.AdminAuthFailures.WithLabelValues("invalid_token").Inc()
					apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthInvalidToken, err.Error())
				}
				return
			}

			logger.Debug("admin token accepted", "subject", claims.Subject, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// clockSkew is tolerated on exp, nbf and iat between the token issuer and
// this host.
const clockSkew = 30 * time.Second

// tokenClaims is the wire form of an admin token. Scopes follow the OAuth2
// convention of one space-separated string.
type tokenClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// ValidateToken parses tokenStr and checks signature, issuer, audience,
// expiry and the configured scopes. A token that is valid but lacks a scope
// yields a *ScopeError.
func ValidateToken(tokenStr string, cfg config.AuthConfig) (*Claims, error) {
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(tokenStr, &tc, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{
		Subject: tc.Subject,
		Issuer:  tc.Issuer,
		Scopes:  strings.Fields(tc.Scope),
	}
	if len(tc.Audience) > 0 {
		claims.Audience = tc.Audience[0]
	}

	for _, required := range cfg.Scopes {
		if !slices.Contains(claims.Scopes, required) {
			return nil, &ScopeError{MissingScope: required}
		}
	}
	return claims, nil
}

// ScopeError indicates the token is valid but lacks required scopes.
type ScopeError struct {
	MissingScope string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("missing required scope: %s", e.MissingScope)
}

func isScopeError(err error) bool {
	var se *ScopeError
	return errors.As(err, &se)
}
