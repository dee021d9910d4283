package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Credits   int       `json:"credits"`
	IsAdmin   bool      `json:"is_admin,omitempty"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at,omitempty"`
}

func (db *DB) UserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := db.Pool.QueryRow(ctx, `SELECT id, email, credits, is_admin, created_at::text, COALESCE(updated_at::text, created_at::text)
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Credits, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

// UpsertUser inserts or updates user by id (from Supabase Auth). New rows
// start with the free-tier balance; existing rows keep their credits. The
// caller resolves a placeholder email before calling when the token has none.
func (db *DB) UpsertUser(ctx context.Context, id uuid.UUID, email string) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO users (id, email, credits) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET email = COALESCE(NULLIF(EXCLUDED.email,''), users.email), updated_at = NOW()`,
		id, email, db.FreeCredits)
	return err
}

func (db *DB) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
