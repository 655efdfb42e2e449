// Package book implements the dual-sided price-time-id priority order book
// for a single security. It is a generalization of the teacher's
// internal/engine/orderbook.go: one bid tree and one ask tree of PriceLevels,
// plus an order-id index so Cancel does not need to probe every level.
package book

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	. "marketsim/internal/common"
)

// PriceLevel holds all live orders resting at one price, in FIFO (earliest
// first) order — the teacher's PriceLevel shape, generalized to hold
// decimal prices instead of float64.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*LimitOrder
}

type priceLevels = btree.BTreeG[*PriceLevel]

// indexEntry locates a live order without scanning every price level.
type indexEntry struct {
	side  Side
	price decimal.Decimal
}

// OrderBook is the dual-sided book for one security.
type OrderBook struct {
	securityID SecurityID

	// Sorted highest-first: key (-price, ...) i.e. greatest price wins.
	bids *priceLevels
	// Sorted lowest-first: lowest ask price wins.
	asks *priceLevels

	index map[OrderID]indexEntry
}

// New builds an empty order book for the given security.
func New(securityID SecurityID) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &OrderBook{
		securityID: securityID,
		bids:       bids,
		asks:       asks,
		index:      make(map[OrderID]indexEntry),
	}
}

func (b *OrderBook) sideTree(side Side) *priceLevels {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

// Submit inserts order into the appropriate side's price level, appending
// to the tail of that level's FIFO queue. No matching occurs here.
// Precondition: order.OrderID is not already present and Volume > 0.
func (b *OrderBook) Submit(order LimitOrder) error {
	if order.Volume == 0 {
		return ErrInvalidVolume
	}
	if _, exists := b.index[order.OrderID]; exists {
		return ErrDuplicateOrderID
	}

	levels := b.sideTree(order.Side)
	o := order
	level, ok := levels.Get(&PriceLevel{Price: order.Price})
	if ok {
		level.Orders = append(level.Orders, &o)
	} else {
		levels.Set(&PriceLevel{Price: order.Price, Orders: []*LimitOrder{&o}})
	}

	b.index[order.OrderID] = indexEntry{side: order.Side, price: order.Price}
	return nil
}

// Cancel removes order_id from its side and returns the removed order.
// Idempotent at the interface layer: a second cancel for the same id
// returns ErrNotFound without side effect.
func (b *OrderBook) Cancel(orderID OrderID) (LimitOrder, error) {
	entry, ok := b.index[orderID]
	if !ok {
		return LimitOrder{}, ErrNotFound
	}

	levels := b.sideTree(entry.side)
	level, ok := levels.Get(&PriceLevel{Price: entry.price})
	if !ok {
		panic(fmt.Sprintf("book invariant violation: index has order %d at price %s but no price level exists", orderID, entry.price))
	}

	pos := -1
	for i, o := range level.Orders {
		if o.OrderID == orderID {
			pos = i
			break
		}
	}
	if pos == -1 {
		panic(fmt.Sprintf("book invariant violation: order %d indexed at price %s but not present in level queue", orderID, entry.price))
	}

	removed := *level.Orders[pos]
	level.Orders = append(level.Orders[:pos], level.Orders[pos+1:]...)
	if len(level.Orders) == 0 {
		levels.Delete(level)
	}
	delete(b.index, orderID)
	return removed, nil
}

// TopBid / TopAsk peek the minimum-key entry on the given side without
// removing it; the returned order is the head of that level's FIFO queue.
func (b *OrderBook) TopBid() (*LimitOrder, bool) {
	return b.top(b.bids)
}

func (b *OrderBook) TopAsk() (*LimitOrder, bool) {
	return b.top(b.asks)
}

func (b *OrderBook) top(levels *priceLevels) (*LimitOrder, bool) {
	level, ok := levels.Min()
	if !ok || len(level.Orders) == 0 {
		return nil, false
	}
	return level.Orders[0], true
}

// PopTopBid / PopTopAsk remove and return the top order; used only by the
// matching engine when an order's volume has hit zero.
func (b *OrderBook) PopTopBid() (LimitOrder, bool) {
	return b.popTop(Bid)
}

func (b *OrderBook) PopTopAsk() (LimitOrder, bool) {
	return b.popTop(Ask)
}

func (b *OrderBook) popTop(side Side) (LimitOrder, bool) {
	levels := b.sideTree(side)
	level, ok := levels.Min()
	if !ok || len(level.Orders) == 0 {
		return LimitOrder{}, false
	}
	head := *level.Orders[0]
	level.Orders = level.Orders[1:]
	if len(level.Orders) == 0 {
		levels.Delete(level)
	}
	delete(b.index, head.OrderID)
	return head, true
}

// MutateTopVolume overwrites the volume of the current top-of-book order on
// side without changing its priority key (price/timestamp/id are untouched).
func (b *OrderBook) MutateTopVolume(side Side, newVolume uint64) {
	levels := b.sideTree(side)
	level, ok := levels.Min()
	if !ok || len(level.Orders) == 0 {
		panic("book invariant violation: MutateTopVolume called on empty side")
	}
	level.Orders[0].Volume = newVolume
}

// IterSide yields live orders on side in priority order (by price level,
// then FIFO within the level).
func (b *OrderBook) IterSide(side Side) []*LimitOrder {
	levels := b.sideTree(side)
	var out []*LimitOrder
	levels.Scan(func(level *PriceLevel) bool {
		out = append(out, level.Orders...)
		return true
	})
	return out
}

// DepthLevel is one price point's cumulative resting volume.
type DepthLevel struct {
	Price            decimal.Decimal
	Volume           uint64
	CumulativeVolume uint64
}

// CumulativeDepth walks both sides in priority order, accumulating volume
// per distinct price level.
func (b *OrderBook) CumulativeDepth() (bids []DepthLevel, asks []DepthLevel) {
	return depthOf(b.bids), depthOf(b.asks)
}

func depthOf(levels *priceLevels) []DepthLevel {
	var out []DepthLevel
	var cum uint64
	levels.Scan(func(level *PriceLevel) bool {
		var vol uint64
		for _, o := range level.Orders {
			vol += o.Volume
		}
		cum += vol
		out = append(out, DepthLevel{Price: level.Price, Volume: vol, CumulativeVolume: cum})
		return true
	})
	return out
}

// Has reports whether orderID is still resting anywhere in the book.
func (b *OrderBook) Has(orderID OrderID) bool {
	_, ok := b.index[orderID]
	return ok
}

// BidCount / AskCount report the number of live orders resting on a side.
func (b *OrderBook) BidCount() int { return b.count(Bid) }
func (b *OrderBook) AskCount() int { return b.count(Ask) }

func (b *OrderBook) count(side Side) int {
	n := 0
	for _, e := range b.index {
		if e.side == side {
			n++
		}
	}
	return n
}

// SecurityID returns the security this book belongs to.
func (b *OrderBook) SecurityID() SecurityID { return b.securityID }
