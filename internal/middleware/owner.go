package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v2"
	"photoshopai/backend/internal/auth"
	"photoshopai/backend/internal/store"
)

// DeviceCookie is the client-supplied cookie that keys anonymous balances.
const DeviceCookie = "pai_device"

// clientIP prefers the first X-Forwarded-For hop over RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i > 0 {
		ip = ip[:i]
	}
	return ip
}

func deviceID(r *http.Request) string {
	if c, err := r.Cookie(DeviceCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.Header.Get("X-Device-Id"))
}

// ResolveOwner verifies a Supabase JWT when present and sets the ledger
// owner key in context: "user:<email>" for authenticated requests, else
// "device:<id>" from the device cookie. With required=true a request that
// resolves to neither is rejected with 401 before any balance is touched.
func ResolveOwner(secret string, jwks *keyfunc.JWKS, db *store.DB, required bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withClientIP(r.Context(), clientIP(r))

			raw := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if strings.HasPrefix(raw, prefix) {
				token := strings.TrimPrefix(raw, prefix)
				userID, email, err := auth.Verify(token, secret, jwks)
				if err != nil {
					log.Printf("auth: token verify failed: %v", err)
					http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
					return
				}
				if err := db.UpsertUser(r.Context(), userID, email); err != nil {
					log.Printf("auth: UpsertUser failed: %v", err)
					http.Error(w, `{"error":"db error"}`, http.StatusInternalServerError)
					return
				}
				ctx = withUserID(ctx, userID)
				ctx = withEmail(ctx, email)
				ctx = withOwner(ctx, store.UserKey(email))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if id := deviceID(r); id != "" {
				ctx = withDeviceID(ctx, id)
				ctx = withOwner(ctx, store.DeviceKey(id))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if required {
				http.Error(w, `{"error":"missing authorization"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
