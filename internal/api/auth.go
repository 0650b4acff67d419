package api

import (
	"context"
	"net/http"
	"strings"

	"ridehail/internal/auth"
	"ridehail/internal/domain"
	"ridehail/internal/ridestore"
)

type identityCtxKey struct{}

type identity struct {
	UserID int64
	User   *domain.User
}

// authMiddleware resolves the bearer token to a user and attaches it to
// the request context, grounded on the teacher's authConfig.middleware
// but backed by auth.Store/ridestore.Store instead of dispatch.Identity.
func authMiddleware(sessions auth.Store, users ridestore.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := parseToken(r)
			if token == "" {
				respondError(w, http.StatusUnauthorized, "missing token")
				return
			}
			sess, err := sessions.Lookup(r.Context(), token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			user, err := users.GetUser(r.Context(), sess.UserID)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			ctx := context.WithValue(r.Context(), identityCtxKey{}, identity{UserID: user.ID, User: user})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromContext(ctx context.Context) (identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(identity)
	return id, ok
}

func parseToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return ""
}
