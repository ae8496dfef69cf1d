package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	cache := redis.NewMemoryClient()
	var seen string
	handler := AuthMiddleware(cache, testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/balance", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("UserIDClaim", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"user_id": "u-1", "exp": exp}, testSecret)
		rec := serve("Bearer " + token)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "u-1", seen)
	})

	t.Run("SubjectFallback", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"sub": "u-2", "exp": exp}, testSecret)
		rec := serve("Bearer " + token)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "u-2", seen)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve("").Code)
	})

	t.Run("WrongScheme", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve("Basic abc").Code)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"sub": "u-1", "exp": exp}, "other")
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token).Code)
	})

	t.Run("Expired", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"sub": "u-1", "exp": time.Now().Add(-time.Minute).Unix()}, testSecret)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token).Code)
	})

	t.Run("NoSubject", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{"exp": exp}, testSecret)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token).Code)
	})

	t.Run("Revoked", func(t *testing.T) {
		require.NoError(t, cache.Set(context.Background(), RevokedTokenKey("jti-1"), "1", time.Hour))
		token := signToken(t, jwt.MapClaims{"sub": "u-1", "jti": "jti-1", "exp": exp}, testSecret)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+token).Code)
	})
}
