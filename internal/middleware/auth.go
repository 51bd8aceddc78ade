package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type principalKey struct{}

// WithPrincipal stores the principal name in the context.
func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey{}, name)
}

// PrincipalFromContext extracts the principal name from the context.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(principalKey{}).(string)
	return name, ok
}

// Authenticate requires an HS256 bearer token whose "sub" claim names the
// caller. An empty secret disables the check.
func Authenticate(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sub, ok := bearerSubject(r, secret); ok {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), sub)))
				return
			}
			writeJSONError(w, http.StatusUnauthorized, "unauthorized: provide a valid JWT bearer token")
		})
	}
}

func bearerSubject(r *http.Request, secret []byte) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", false
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}
