// Package auth extracts an optional submitter identity from a bearer token.
// There is no authorization: an absent or invalid token means anonymous.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey struct{}

// Identity is the claims slice the service cares about.
type Identity struct {
	UserID string
}

// FromContext returns the identity attached by Middleware, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Middleware parses an Authorization: Bearer token with the configured
// secret and attaches the subject as the submitter identity. Requests
// without a valid token pass through anonymously.
func Middleware(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			tokenString := strings.TrimPrefix(header, "Bearer ")

			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithIssuer(issuer), jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid || claims.Subject == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, Identity{UserID: claims.Subject})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
