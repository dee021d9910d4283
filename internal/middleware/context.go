package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	emailKey    contextKey = "email"
	ownerKey    contextKey = "owner_key"
	deviceIDKey contextKey = "device_id"
	clientIPKey contextKey = "client_ip"
)

func withUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func withEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey, email)
}

func withOwner(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ownerKey, key)
}

func withDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDKey, id)
}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

func Email(ctx context.Context) string {
	e, _ := ctx.Value(emailKey).(string)
	return e
}

// Owner returns the namespaced ledger owner key for the request
// ("user:<email>" or "device:<id>").
func Owner(ctx context.Context) (string, bool) {
	k, ok := ctx.Value(ownerKey).(string)
	return k, ok && k != ""
}

func DeviceID(ctx context.Context) string {
	d, _ := ctx.Value(deviceIDKey).(string)
	return d
}

func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
