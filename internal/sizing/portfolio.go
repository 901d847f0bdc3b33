package sizing

import (
	"sync"
	"time"
)

// Portfolio exposes the capital base position sizes are computed
// against. Updates arrive asynchronously from outside the engine;
// LastUpdated bounds how stale a reading can be.
type Portfolio interface {
	Value() float64
	LastUpdated() time.Time
}

// Account is the reference Portfolio implementation: a mutable value
// behind a lock, updated by the orchestrator as P&L settles.
type Account struct {
	mu      sync.RWMutex
	value   float64
	updated time.Time
}

// NewAccount creates an account with an initial portfolio value
func NewAccount(value float64) *Account {
	return &Account{value: value, updated: time.Now()}
}

// Value returns the current portfolio value
func (a *Account) Value() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value
}

// LastUpdated returns when the portfolio value last changed
func (a *Account) LastUpdated() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.updated
}

// UpdateValue replaces the portfolio value
func (a *Account) UpdateValue(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = value
	a.updated = time.Now()
}
