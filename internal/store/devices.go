package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Device is the unauthenticated fallback account: same shape as User, keyed
// by a client-supplied cookie value instead of an email.
type Device struct {
	DeviceID  string `json:"device_id"`
	IPAddress string `json:"ip_address,omitempty"`
	Credits   int    `json:"credits"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func (db *DB) DeviceByID(ctx context.Context, deviceID string) (*Device, error) {
	var d Device
	err := db.Pool.QueryRow(ctx, `SELECT device_id, ip_address, credits, created_at::text, COALESCE(updated_at::text, created_at::text)
		FROM device_credits WHERE device_id = $1`, deviceID).
		Scan(&d.DeviceID, &d.IPAddress, &d.Credits, &d.CreatedAt, &d.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &d, err
}

// EnsureDevice returns the device row, creating it with the free-tier balance
// on first sight. The stored IP is refreshed on every call.
func (db *DB) EnsureDevice(ctx context.Context, deviceID, ip string) (*Device, error) {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO device_credits (device_id, ip_address, credits) VALUES ($1, $2, $3)
		 ON CONFLICT (device_id) DO UPDATE SET ip_address = EXCLUDED.ip_address, updated_at = NOW()`,
		deviceID, ip, db.FreeCredits)
	if err != nil {
		return nil, err
	}
	return db.DeviceByID(ctx, deviceID)
}
