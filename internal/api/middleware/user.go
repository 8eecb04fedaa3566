package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// UserIDKey is the context key for the caller's user identifier.
const UserIDKey contextKey = "user_id"

// AnonymousUser is the identifier for unauthenticated callers. Quota is
// still enforced for them, shared across everyone without an ID.
const AnonymousUser = "anonymous"

// UserExtractor reads the x-user-id header into the request context,
// falling back to the anonymous identifier.
func UserExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("x-user-id"))
		if userID == "" {
			userID = AnonymousUser
		}
		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID retrieves the user identifier from the request context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return AnonymousUser
}
