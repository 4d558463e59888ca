package middleware

import (
	"context"
	"net/http"
	"strings"

	"sweetshop-rest-api/internal/model"
	"sweetshop-rest-api/pkg/apierror"
)

// TokenDataKey is the key for storing token data in request context.
const TokenDataKey contextKey = "token_data"

// Authenticator resolves a session token to its claims.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.TokenData, error)
}

// NewAuthMiddleware rejects requests without a valid "Authorization: Bearer"
// session token and stores the token's claims in the request context.
func NewAuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeError(w, apierror.Unauthorized("No token provided"))
				return
			}

			tokenData, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				writeError(w, apierror.Unauthorized("Invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), TokenDataKey, tokenData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows the request through only when the authenticated user
// has the given role. It must run after NewAuthMiddleware.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data := GetTokenDataFromContext(r.Context())
			if data == nil {
				writeError(w, apierror.Unauthorized("No token provided"))
				return
			}
			if data.Role != role {
				writeError(w, apierror.Forbidden("Forbidden: Admins only"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// writeError writes an API error response.
func writeError(w http.ResponseWriter, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	w.Write(err.ToJSON())
}

// GetTokenDataFromContext retrieves token data from request context.
func GetTokenDataFromContext(ctx context.Context) *model.TokenData {
	if data, ok := ctx.Value(TokenDataKey).(*model.TokenData); ok {
		return data
	}
	return nil
}

// WithTokenData returns a copy of ctx carrying data, as NewAuthMiddleware does.
func WithTokenData(ctx context.Context, data *model.TokenData) context.Context {
	return context.WithValue(ctx, TokenDataKey, data)
}
