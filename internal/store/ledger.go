package store

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Owner keys are namespaced so one ledger serves both account kinds:
// "user:<email>" for authenticated users, "device:<device_id>" for the
// anonymous cookie fallback.
const (
	userKeyPrefix   = "user:"
	deviceKeyPrefix = "device:"
)

func UserKey(email string) string { return userKeyPrefix + email }

func DeviceKey(deviceID string) string { return deviceKeyPrefix + deviceID }

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUnknownOwner        = errors.New("unknown owner key")
)

// LedgerEntry is one append-only audit row for a balance change.
type LedgerEntry struct {
	ID             uuid.UUID `json:"id"`
	OwnerKey       string    `json:"owner_key"`
	IPAddress      string    `json:"ip_address,omitempty"`
	Delta          int       `json:"delta"`
	Reason         string    `json:"reason"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	CreatedAt      string    `json:"created_at"`
}

// ApplyResult is the outcome of ApplyCredit.
type ApplyResult struct {
	Credits    int  `json:"credits"`
	Idempotent bool `json:"idempotent,omitempty"`
}

const insertLedgerSQL = `INSERT INTO credit_ledger (id, owner_key, ip_address, delta, reason, idempotency_key)
	VALUES ($1,$2,$3,$4,$5,$6)`

// rowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ApplyCredit applies a signed balance change to an owner with idempotency
// and non-negativity guarantees:
//
//  1. A repeat of an already-recorded (owner, idempotencyKey) pair returns
//     the current balance without mutating anything. The ledger insert is
//     the deduplication point: it runs ON CONFLICT DO NOTHING in the same
//     transaction as the balance update, so a concurrent replay either
//     observes the committed key (zero rows inserted) or blocks on the
//     unique index until the first transaction settles.
//  2. The balance write is a single conditional UPDATE, so two concurrent
//     debits cannot race the read-modify-write below zero.
//  3. Keyless entries cannot be deduplicated; for those the audit append is
//     best-effort with the balance update authoritative.
func (db *DB) ApplyCredit(ctx context.Context, ownerKey, ip string, delta int, reason, idempotencyKey string) (ApplyResult, error) {
	if idempotencyKey == "" {
		credits, err := db.applyDelta(ctx, db.Pool, ownerKey, delta)
		if err != nil {
			return ApplyResult{}, err
		}
		if _, err := db.Pool.Exec(ctx, insertLedgerSQL,
			uuid.New(), ownerKey, ip, delta, reason, nil); err != nil {
			log.Printf("ledger: append failed owner=%s delta=%d reason=%q: %v", ownerKey, delta, reason, err)
		}
		return ApplyResult{Credits: credits}, nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertLedgerSQL+`
		ON CONFLICT (owner_key, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`,
		uuid.New(), ownerKey, ip, delta, reason, idempotencyKey)
	if err != nil {
		return ApplyResult{}, err
	}
	if tag.RowsAffected() == 0 {
		credits, err := db.OwnerBalance(ctx, ownerKey)
		if err != nil {
			return ApplyResult{}, err
		}
		return ApplyResult{Credits: credits, Idempotent: true}, nil
	}

	// A failed update rolls the claimed key back with it, so a rejected
	// debit does not burn the idempotency key.
	credits, err := db.applyDelta(ctx, tx, ownerKey, delta)
	if err != nil {
		return ApplyResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Credits: credits}, nil
}

// applyDelta runs the conditional update on whichever table the owner key
// addresses. Zero rows means either the owner does not exist or the debit
// would go negative; OwnerBalance disambiguates.
func (db *DB) applyDelta(ctx context.Context, q rowQuerier, ownerKey string, delta int) (int, error) {
	var credits int
	var err error
	switch {
	case strings.HasPrefix(ownerKey, userKeyPrefix):
		err = q.QueryRow(ctx,
			`UPDATE users SET credits = credits + $2, updated_at = NOW()
			 WHERE email = $1 AND credits + $2 >= 0 RETURNING credits`,
			strings.TrimPrefix(ownerKey, userKeyPrefix), delta).Scan(&credits)
	case strings.HasPrefix(ownerKey, deviceKeyPrefix):
		err = q.QueryRow(ctx,
			`UPDATE device_credits SET credits = credits + $2, updated_at = NOW()
			 WHERE device_id = $1 AND credits + $2 >= 0 RETURNING credits`,
			strings.TrimPrefix(ownerKey, deviceKeyPrefix), delta).Scan(&credits)
	default:
		return 0, ErrUnknownOwner
	}
	if err == pgx.ErrNoRows {
		if _, berr := db.OwnerBalance(ctx, ownerKey); berr != nil {
			return 0, berr
		}
		return 0, ErrInsufficientCredits
	}
	return credits, err
}

// OwnerBalance reads the current balance for a namespaced owner key.
func (db *DB) OwnerBalance(ctx context.Context, ownerKey string) (int, error) {
	var credits int
	var err error
	switch {
	case strings.HasPrefix(ownerKey, userKeyPrefix):
		err = db.Pool.QueryRow(ctx, `SELECT credits FROM users WHERE email = $1`,
			strings.TrimPrefix(ownerKey, userKeyPrefix)).Scan(&credits)
	case strings.HasPrefix(ownerKey, deviceKeyPrefix):
		err = db.Pool.QueryRow(ctx, `SELECT credits FROM device_credits WHERE device_id = $1`,
			strings.TrimPrefix(ownerKey, deviceKeyPrefix)).Scan(&credits)
	default:
		return 0, ErrUnknownOwner
	}
	if err == pgx.ErrNoRows {
		return 0, ErrUnknownOwner
	}
	return credits, err
}

// ListLedger returns recent ledger rows, optionally filtered by owner.
func (db *DB) ListLedger(ctx context.Context, ownerKey string, limit, offset int) ([]LedgerEntry, int, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	where := ""
	args := []interface{}{limit, offset}
	if ownerKey != "" {
		where = "WHERE owner_key = $3"
		args = append(args, ownerKey)
	}
	rows, err := db.Pool.Query(ctx,
		`SELECT id, owner_key, ip_address, delta, reason, idempotency_key, created_at::text
		 FROM credit_ledger `+where+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerKey, &e.IPAddress, &e.Delta, &e.Reason, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	var total int
	countArgs := []interface{}{}
	countWhere := ""
	if ownerKey != "" {
		countWhere = "WHERE owner_key = $1"
		countArgs = append(countArgs, ownerKey)
	}
	if err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM credit_ledger `+countWhere, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, rows.Err()
}

// LedgerTotals sums spend and grants across the whole ledger (admin stats).
func (db *DB) LedgerTotals(ctx context.Context) (spent, granted int, err error) {
	err = db.Pool.QueryRow(ctx,
		`SELECT COALESCE(-SUM(delta) FILTER (WHERE delta < 0), 0),
		        COALESCE(SUM(delta) FILTER (WHERE delta > 0), 0)
		 FROM credit_ledger`).Scan(&spent, &granted)
	return spent, granted, err
}
