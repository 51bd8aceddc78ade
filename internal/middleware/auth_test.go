package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, _ := PrincipalFromContext(r.Context())
		_, _ = w.Write([]byte(name))
	})
}

func TestAuthenticate(t *testing.T) {
	h := Authenticate(testSecret)(principalEcho())
	valid := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "dba", "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "dba"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "dba"}), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "dba", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"role": "x"}), http.StatusUnauthorized, ""},
		{"wrong method", "Bearer " + signToken(t, jwt.SigningMethodHS384, testSecret, jwt.MapClaims{"sub": "dba"}), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAuthenticate_Disabled(t *testing.T) {
	h := Authenticate(nil)(principalEcho())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
