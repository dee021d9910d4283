package credit

import (
	"context"
	"sync"

	"photoshopai/backend/internal/store"
)

// Entry mirrors a ledger audit row for the in-memory implementation.
type Entry struct {
	OwnerKey       string
	Delta          int
	Reason         string
	IdempotencyKey string
}

// Memory is an in-memory Ledger with the same semantics as the Postgres one.
// Used by handler tests and as a fallback in local tooling.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int
	seen     map[string]bool
	entries  []Entry
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]int), seen: make(map[string]bool)}
}

// Create seeds an owner with a starting balance.
func (m *Memory) Create(ownerKey string, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[ownerKey] = credits
}

func (m *Memory) Apply(ctx context.Context, ownerKey, ip string, delta int, reason, idempotencyKey string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[ownerKey]
	if !ok {
		return Result{}, store.ErrUnknownOwner
	}
	if idempotencyKey != "" && m.seen[ownerKey+"\x00"+idempotencyKey] {
		return Result{Credits: bal, Idempotent: true}, nil
	}
	if bal+delta < 0 {
		return Result{}, ErrInsufficientCredits
	}
	m.balances[ownerKey] = bal + delta
	if idempotencyKey != "" {
		m.seen[ownerKey+"\x00"+idempotencyKey] = true
	}
	m.entries = append(m.entries, Entry{OwnerKey: ownerKey, Delta: delta, Reason: reason, IdempotencyKey: idempotencyKey})
	return Result{Credits: bal + delta}, nil
}

func (m *Memory) Balance(ctx context.Context, ownerKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[ownerKey]
	if !ok {
		return 0, store.ErrUnknownOwner
	}
	return bal, nil
}

// Entries returns the audit rows recorded for an owner.
func (m *Memory) Entries(ownerKey string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.OwnerKey == ownerKey {
			out = append(out, e)
		}
	}
	return out
}
