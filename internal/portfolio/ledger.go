// Package portfolio tracks the (user, security) -> quantity matrix and
// applies it atomically per transaction and per order submission/
// cancellation for reserved balances. Grounded in the shape the teacher's
// internal/engine/engine.go Trade method gestures at ("log an internal
// trade") but never implements — this is the full accounting layer spec
// component C calls for.
package portfolio

import (
	. "marketsim/internal/common"
)

// Ledger holds signed holdings per user per security, and a separate
// reserved-quantity matrix tracking volume committed to resting orders.
// Reservations are recorded only: neither the ledger nor the kernel checks
// them, or holdings, against a security's net or gross limits.
type Ledger struct {
	holdings map[UserID]map[SecurityID]int64
	reserved map[UserID]map[SecurityID]uint64
}

// New builds an empty ledger.
func New() *Ledger {
	return &Ledger{
		holdings: make(map[UserID]map[SecurityID]int64),
		reserved: make(map[UserID]map[SecurityID]uint64),
	}
}

// RegisterUser ensures rows exist for a newly added user so Snapshot
// always reports a complete portfolio vector, even before any activity.
func (l *Ledger) RegisterUser(userID UserID) {
	if _, ok := l.holdings[userID]; !ok {
		l.holdings[userID] = make(map[SecurityID]int64)
	}
	if _, ok := l.reserved[userID]; !ok {
		l.reserved[userID] = make(map[SecurityID]uint64)
	}
}

// Apply credits the buyer and debits the seller of a transaction,
// preserving zero-sum conservation across all users for every security.
func (l *Ledger) Apply(tx Transaction) {
	l.RegisterUser(tx.BuyerID)
	l.RegisterUser(tx.SellerID)
	qty := int64(tx.Volume)
	l.holdings[tx.BuyerID][tx.SecurityID] += qty
	l.holdings[tx.SellerID][tx.SecurityID] -= qty
}

// Reserve marks volume as committed to a resting order on submission.
func (l *Ledger) Reserve(userID UserID, securityID SecurityID, volume uint64) {
	l.RegisterUser(userID)
	l.reserved[userID][securityID] += volume
}

// Release frees previously reserved volume on cancellation or fill.
func (l *Ledger) Release(userID UserID, securityID SecurityID, volume uint64) {
	l.RegisterUser(userID)
	remaining := l.reserved[userID][securityID]
	if volume > remaining {
		volume = remaining
	}
	l.reserved[userID][securityID] = remaining - volume
}

// Holding returns a user's current quantity for a security.
func (l *Ledger) Holding(userID UserID, securityID SecurityID) int64 {
	row, ok := l.holdings[userID]
	if !ok {
		return 0
	}
	return row[securityID]
}

// Reserved returns a user's currently reserved quantity for a security.
func (l *Ledger) Reserved(userID UserID, securityID SecurityID) uint64 {
	row, ok := l.reserved[userID]
	if !ok {
		return 0
	}
	return row[securityID]
}

// Snapshot returns the full portfolio vector for one user, keyed by
// security id, for inclusion in a tick delta.
func (l *Ledger) Snapshot(userID UserID) map[SecurityID]int64 {
	row, ok := l.holdings[userID]
	if !ok {
		return map[SecurityID]int64{}
	}
	out := make(map[SecurityID]int64, len(row))
	for sec, qty := range row {
		out[sec] = qty
	}
	return out
}

// ZeroSum reports whether the sum of all users' holdings for a security is
// zero — the universal conservation invariant spec §8 requires, provided
// initial portfolios are zero.
func (l *Ledger) ZeroSum(securityID SecurityID) bool {
	var sum int64
	for _, row := range l.holdings {
		sum += row[securityID]
	}
	return sum == 0
}
