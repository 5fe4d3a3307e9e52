package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const AuthenticatedUserContextKey = ContextKey("authenticatedUser")

// AuthenticatedUser is the caller identified by a verified access token.
type AuthenticatedUser struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

// UserFromContext returns the user stored by AuthMiddleware.
func UserFromContext(ctx context.Context) (AuthenticatedUser, bool) {
	u, ok := ctx.Value(AuthenticatedUserContextKey).(AuthenticatedUser)
	return u, ok && u.ID != ""
}

// AuthMiddleware verifies HS256 bearer tokens issued by the user service. The token
// subject is the user id.
func AuthMiddleware(jwtSecret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				writeJSONError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				writeJSONError(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				writeJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			sub, _ := claims.GetSubject()
			if sub == "" {
				logger.WarnContext(r.Context(), "Token has no subject")
				writeJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			user := AuthenticatedUser{ID: sub}
			user.Email, _ = claims["email"].(string)
			user.FirstName, _ = claims["given_name"].(string)
			user.LastName, _ = claims["family_name"].(string)
			user.Phone, _ = claims["phone_number"].(string)

			ctx := context.WithValue(r.Context(), AuthenticatedUserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
