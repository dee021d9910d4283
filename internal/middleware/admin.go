package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"photoshopai/backend/internal/store"
)

// RequireAdmin ensures the request user has users.is_admin = true. Use after
// ResolveOwner; device-keyed requests are never admins.
func RequireAdmin(db *store.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserID(r.Context())
			if !ok || userID == uuid.Nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			u, err := db.UserByID(r.Context(), userID)
			if err != nil || u == nil || !u.IsAdmin {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
