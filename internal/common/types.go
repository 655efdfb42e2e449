// Package common holds the shared data model used across the matching
// engine, the order-flow driver, and the simulation kernel: orders,
// transactions, securities, and users.
package common

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is which side of the book a LimitOrder rests on.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// SecurityID is a dense index into the kernel's per-security arrays.
type SecurityID int

// UserID is a monotonically assigned opaque user handle.
type UserID uint64

// OrderID is globally unique and monotonically assigned by the kernel.
type OrderID uint64

// Tick is a discrete simulation step, 0 <= Tick < N.
type Tick int64

// Security describes one tradeable instrument, including the currency
// security which shares book machinery but has special accounting status.
type Security struct {
	SecurityID     SecurityID
	Ticker         string
	DecimalPlaces  int32
	NetLimit       int64
	GrossLimit     int64
	MaxTradeVolume uint64
}

// RoundPrice rounds a price to the security's configured decimal places.
func (s Security) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(s.DecimalPlaces)
}

// User is a registered participant. Portfolio state lives in the
// portfolio.Ledger, keyed by UserID.
type User struct {
	UserID   UserID
	Username string
}

// LimitOrder is a single resting or incoming limit order. Volume is
// strictly positive on entry and decreases only via partial fills; it is
// never observed at zero (a fill to zero removes the order).
type LimitOrder struct {
	OrderID        OrderID
	SecurityID     SecurityID
	Side           Side
	Price          decimal.Decimal
	Volume         uint64
	Timestamp      Tick
	UserID         UserID
	ClientOrderRef string
}

func (o LimitOrder) String() string {
	return fmt.Sprintf(
		"order{id=%d sec=%d side=%s price=%s vol=%d ts=%d user=%d}",
		o.OrderID, o.SecurityID, o.Side, o.Price, o.Volume, o.Timestamp, o.UserID,
	)
}

// Transaction is an immutable record of one match between a resting maker
// and an incoming (or equally-resting, per the matching convention) taker.
type Transaction struct {
	Tick         Tick
	SecurityID   SecurityID
	Price        decimal.Decimal
	Volume       uint64
	BuyerID      UserID
	SellerID     UserID
	MakerOrderID OrderID
	TakerOrderID OrderID
}

func (t Transaction) String() string {
	return fmt.Sprintf(
		"trade{tick=%d sec=%d price=%s vol=%d buyer=%d seller=%d maker=%d taker=%d}",
		t.Tick, t.SecurityID, t.Price, t.Volume, t.BuyerID, t.SellerID, t.MakerOrderID, t.TakerOrderID,
	)
}
