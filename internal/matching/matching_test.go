package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsim/internal/book"
	. "marketsim/internal/common"
)

func price(p float64) decimal.Decimal { return decimal.NewFromFloat(p) }

func order(id OrderID, userID UserID, side Side, p float64, vol uint64, ts Tick) LimitOrder {
	return LimitOrder{OrderID: id, SecurityID: 0, Side: side, Price: price(p), Volume: vol, Timestamp: ts, UserID: userID}
}

func TestUncrossedBookProducesNoTransactions(t *testing.T) {
	b := book.New(0)
	require.NoError(t, b.Submit(order(1, 1, Bid, 99.0, 10, 0)))
	require.NoError(t, b.Submit(order(2, 2, Ask, 100.0, 10, 1)))

	txs := ProcessTransactions(b, 0)
	assert.Empty(t, txs)
}

func TestCrossingOrderMatchesAtRestingAskPrice(t *testing.T) {
	b := book.New(0)
	require.NoError(t, b.Submit(order(1, 1, Ask, 100.0, 10, 0)))
	require.NoError(t, b.Submit(order(2, 2, Bid, 101.0, 10, 1)))

	txs := ProcessTransactions(b, 5)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Price.Equal(price(100.0)), "trade must quote the resting ask's price, not the crossing bid's")
	assert.Equal(t, uint64(10), txs[0].Volume)
	assert.Equal(t, UserID(2), txs[0].BuyerID)
	assert.Equal(t, UserID(1), txs[0].SellerID)
	assert.Equal(t, Tick(5), txs[0].Tick)
}

func TestPartialFillLeavesRemainderResting(t *testing.T) {
	b := book.New(0)
	require.NoError(t, b.Submit(order(1, 1, Ask, 100.0, 10, 0)))
	require.NoError(t, b.Submit(order(2, 2, Bid, 101.0, 4, 1)))

	txs := ProcessTransactions(b, 0)
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(4), txs[0].Volume)

	top, ok := b.TopAsk()
	require.True(t, ok)
	assert.Equal(t, uint64(6), top.Volume, "resting ask must retain its unfilled remainder")
	_, bidOk := b.TopBid()
	assert.False(t, bidOk, "fully-filled bid must be removed from the book")
}

func TestSweepAcrossMultipleLevelsSumsToCrossingVolume(t *testing.T) {
	b := book.New(0)
	require.NoError(t, b.Submit(order(1, 1, Ask, 100.0, 5, 0)))
	require.NoError(t, b.Submit(order(2, 1, Ask, 101.0, 5, 1)))
	require.NoError(t, b.Submit(order(3, 2, Bid, 101.0, 8, 2)))

	txs := ProcessTransactions(b, 0)
	var total uint64
	for _, tx := range txs {
		total += tx.Volume
	}
	assert.Equal(t, uint64(8), total, "sum of trade volumes must equal the crossing order's volume")

	top, ok := b.TopAsk()
	require.True(t, ok)
	assert.Equal(t, OrderID(2), top.OrderID)
	assert.Equal(t, uint64(2), top.Volume)
}

func TestPriceTimePriorityFillsEarliestOrderAtLevelFirst(t *testing.T) {
	b := book.New(0)
	require.NoError(t, b.Submit(order(1, 1, Ask, 100.0, 5, 0)))
	require.NoError(t, b.Submit(order(2, 1, Ask, 100.0, 5, 1)))
	require.NoError(t, b.Submit(order(3, 2, Bid, 100.0, 5, 2)))

	txs := ProcessTransactions(b, 0)
	require.Len(t, txs, 1)
	assert.Equal(t, OrderID(1), txs[0].MakerOrderID, "earliest resting order at a price must be filled first")
}
