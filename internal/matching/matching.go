// Package matching implements the matching engine: given one order book, it
// repeatedly consumes crossing top-of-book pairs and emits transactions
// until the book is uncrossed. Grounded in the teacher's
// internal/engine/orderbook.go Match() loop, extracted to its own package
// and changed to return the transaction list rather than mutate silently.
package matching

import (
	"marketsim/internal/book"
	. "marketsim/internal/common"
)

// ProcessTransactions repeatedly matches crossing top-of-book pairs on b
// until one side empties or the book uncrosses, returning every
// Transaction produced in the order they occurred.
//
// Price convention (see spec §4.B / §9 open question): the engine always
// quotes the resting ask's price, even when both sides are resting from
// prior ticks and neither is unambiguously "the taker." This is preserved
// literally rather than resolved by a maker/taker heuristic.
func ProcessTransactions(b *book.OrderBook, tick Tick) []Transaction {
	var txs []Transaction

	for {
		bid, bidOk := b.TopBid()
		ask, askOk := b.TopAsk()
		if !bidOk || !askOk {
			break
		}
		if bid.Price.LessThan(ask.Price) {
			break
		}

		qty := min(bid.Volume, ask.Volume)
		price := ask.Price

		txs = append(txs, Transaction{
			Tick:         tick,
			SecurityID:   b.SecurityID(),
			Price:        price,
			Volume:       qty,
			BuyerID:      bid.UserID,
			SellerID:     ask.UserID,
			MakerOrderID: ask.OrderID,
			TakerOrderID: bid.OrderID,
		})

		remainingBid := bid.Volume - qty
		remainingAsk := ask.Volume - qty

		if remainingBid == 0 {
			b.PopTopBid()
		} else {
			b.MutateTopVolume(Bid, remainingBid)
		}

		if remainingAsk == 0 {
			b.PopTopAsk()
		} else {
			b.MutateTopVolume(Ask, remainingAsk)
		}
	}

	return txs
}
