package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Ruyllex/rulo-web/internal/infrastructure/redis"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDFromContext returns the authenticated user id set by AuthMiddleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithUserID stores id the same way AuthMiddleware does.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// RevokedTokenKey is the Redis key marking a token id as revoked.
func RevokedTokenKey(jti string) string {
	return "token:revoked:" + jti
}

// AuthMiddleware accepts HMAC-signed bearer tokens issued by the identity
// provider. The user id is read from the user_id claim, falling back to sub.
func AuthMiddleware(redisClient redis.RedisClient, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(parts[1], jwtSecret)
			if err != nil {
				slog.Warn("rejected bearer token", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			userID := claimString(claims, "user_id")
			if userID == "" {
				userID = claimString(claims, "sub")
			}
			if userID == "" {
				http.Error(w, "invalid user_id in token", http.StatusUnauthorized)
				return
			}

			if jti := claimString(claims, "jti"); jti != "" {
				_, err := redisClient.Get(r.Context(), RevokedTokenKey(jti))
				switch {
				case err == nil:
					slog.Warn("revoked token used", "user_id", userID, "jti", jti)
					http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
					return
				case !errors.Is(err, redis.ErrKeyNotFound):
					slog.Warn("token revocation check unavailable", "user_id", userID, "error", err)
				}
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func ParseToken(tokenStr, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func claimString(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
