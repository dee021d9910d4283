// Package credit is the one contract every feature handler charges through:
// debit before work, refund on failure, both funneled into a single ledger
// operation with idempotency-key deduplication.
package credit

import (
	"context"
	"errors"
	"fmt"

	"photoshopai/backend/internal/store"
)

// ErrInsufficientCredits signals the caller should stop and charge nothing.
var ErrInsufficientCredits = store.ErrInsufficientCredits

// Result reports the balance after an operation. Idempotent is set when the
// request replayed an already-recorded idempotency key and nothing changed.
type Result struct {
	Credits    int
	Idempotent bool
}

// Ledger applies signed balance changes with idempotency and non-negativity
// guarantees. The Postgres implementation lives in store; tests use an
// in-memory one.
type Ledger interface {
	Apply(ctx context.Context, ownerKey, ip string, delta int, reason, idempotencyKey string) (Result, error)
	Balance(ctx context.Context, ownerKey string) (int, error)
}

// Debit charges amount credits from the owner. amount must be positive.
func Debit(ctx context.Context, l Ledger, ownerKey, ip string, amount int, reason, idempotencyKey string) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return l.Apply(ctx, ownerKey, ip, -amount, reason, idempotencyKey)
}

// Refund returns amount credits to the owner after a failed operation.
// The reason and idempotency key are derived from the original debit so a
// retried failure path cannot double-refund.
func Refund(ctx context.Context, l Ledger, ownerKey, ip string, amount int, feature, debitKey string) (Result, error) {
	if amount <= 0 {
		return Result{}, fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	return l.Apply(ctx, ownerKey, ip, amount, "refund:"+feature, RefundKey(debitKey))
}

// RefundKey derives the refund idempotency key from the original debit key.
// Empty when the debit had no key: such refunds are not replay-protected.
func RefundKey(debitKey string) string {
	if debitKey == "" {
		return ""
	}
	return debitKey + ":refund"
}

// IsInsufficient reports whether err means the debit would go below zero.
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}

// storeLedger adapts *store.DB to the Ledger interface.
type storeLedger struct {
	db *store.DB
}

// NewStoreLedger wraps the Postgres-backed ledger in store.
func NewStoreLedger(db *store.DB) Ledger {
	return storeLedger{db: db}
}

func (s storeLedger) Apply(ctx context.Context, ownerKey, ip string, delta int, reason, idempotencyKey string) (Result, error) {
	res, err := s.db.ApplyCredit(ctx, ownerKey, ip, delta, reason, idempotencyKey)
	if err != nil {
		return Result{}, err
	}
	return Result{Credits: res.Credits, Idempotent: res.Idempotent}, nil
}

func (s storeLedger) Balance(ctx context.Context, ownerKey string) (int, error) {
	return s.db.OwnerBalance(ctx, ownerKey)
}
