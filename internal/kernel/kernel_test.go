package kernel

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "marketsim/internal/common"
)

func newTestKernel(totalSteps Tick) (*Kernel, SecurityID, UserID, UserID) {
	log := zerolog.Nop()
	k := New(log, totalSteps)
	sec := k.AddSecurity(Security{Ticker: "TEST", DecimalPlaces: 2})
	alice := k.AddUser("alice")
	bob := k.AddUser("bob")
	return k, sec, alice, bob
}

func price(p float64) decimal.Decimal { return decimal.NewFromFloat(p) }

func TestCrossingOrderMatchesOnAdvanceTick(t *testing.T) {
	k, sec, alice, bob := newTestKernel(10)

	_, err := k.SubmitLimitOrder(alice, sec, Ask, price(100), 5)
	require.NoError(t, err)
	_, err = k.SubmitLimitOrder(bob, sec, Bid, price(101), 5)
	require.NoError(t, err)

	delta, err := k.AdvanceTick()
	require.NoError(t, err)
	require.Len(t, delta.Transactions, 1)
	assert.Equal(t, uint64(5), delta.Transactions[0].Volume)
}

func TestOrderIDsAreMonotonicAndUnique(t *testing.T) {
	k, sec, alice, _ := newTestKernel(10)

	id1, err := k.SubmitLimitOrder(alice, sec, Bid, price(99), 1)
	require.NoError(t, err)
	id2, err := k.SubmitLimitOrder(alice, sec, Bid, price(98), 1)
	require.NoError(t, err)

	assert.Less(t, uint64(id1), uint64(id2))
}

func TestCancelByIDMidQueue(t *testing.T) {
	k, sec, alice, _ := newTestKernel(10)

	id1, err := k.SubmitLimitOrder(alice, sec, Bid, price(99), 1)
	require.NoError(t, err)
	id2, err := k.SubmitLimitOrder(alice, sec, Bid, price(99), 1)
	require.NoError(t, err)
	id3, err := k.SubmitLimitOrder(alice, sec, Bid, price(99), 1)
	require.NoError(t, err)

	require.NoError(t, k.SubmitCancelOrder(alice, sec, id2))

	open := k.GetAllOpenUserOrders(alice, sec)
	assert.Equal(t, []OrderID{id1, id3}, open)
}

func TestCancelByNonOwnerIsRejectedAndOrderSurvives(t *testing.T) {
	k, sec, alice, bob := newTestKernel(10)

	id, err := k.SubmitLimitOrder(alice, sec, Bid, price(99), 1)
	require.NoError(t, err)

	err = k.SubmitCancelOrder(bob, sec, id)
	assert.ErrorIs(t, err, ErrNotOwner)

	top, ok := k.GetTopBid(sec)
	require.True(t, ok)
	assert.Equal(t, id, top.OrderID, "order must still be resting after a rejected cancel")
}

func TestAdvanceTickPastTotalStepsReturnsFinished(t *testing.T) {
	k, _, _, _ := newTestKernel(2)

	_, err := k.AdvanceTick()
	require.NoError(t, err)
	_, err = k.AdvanceTick()
	require.NoError(t, err)
	assert.Equal(t, Finished, k.State())

	_, err = k.AdvanceTick()
	assert.ErrorIs(t, err, ErrSimulationFinished)
}

func TestResetSimulationPreservesRegistrationsAndOrderIDMonotonicity(t *testing.T) {
	k, sec, alice, _ := newTestKernel(1)

	id1, err := k.SubmitLimitOrder(alice, sec, Bid, price(99), 1)
	require.NoError(t, err)

	_, err = k.AdvanceTick()
	require.NoError(t, err)
	assert.Equal(t, Finished, k.State())

	k.ResetSimulation()
	assert.Equal(t, Fresh, k.State())
	assert.Equal(t, Tick(0), k.CurrentTick())
	assert.Empty(t, k.TransactionHistory())

	id2, err := k.SubmitLimitOrder(alice, sec, Bid, price(99), 1)
	require.NoError(t, err)
	assert.Greater(t, uint64(id2), uint64(id1), "order id allocation must continue monotonically across a reset")

	_, ok := k.UserIDByName("alice")
	assert.True(t, ok, "user registrations must survive a reset")
}

func TestAdvanceTickReportsSubmittedAndCancelledOrders(t *testing.T) {
	k, sec, alice, bob := newTestKernel(10)

	id1, err := k.SubmitLimitOrder(alice, sec, Bid, price(98), 1)
	require.NoError(t, err)
	id2, err := k.SubmitLimitOrder(bob, sec, Bid, price(97), 1)
	require.NoError(t, err)
	require.NoError(t, k.SubmitCancelOrder(bob, sec, id2))

	delta, err := k.AdvanceTick()
	require.NoError(t, err)

	assert.ElementsMatch(t, []OrderID{id1, id2}, orderIDsOf(delta.Submitted))
	assert.Equal(t, []OrderID{id2}, delta.Cancelled)
}

func TestAdvanceTickDoesNotCarrySubmittedOrdersAcrossTicks(t *testing.T) {
	k, sec, alice, _ := newTestKernel(10)

	_, err := k.SubmitLimitOrder(alice, sec, Bid, price(98), 1)
	require.NoError(t, err)

	_, err = k.AdvanceTick()
	require.NoError(t, err)

	delta, err := k.AdvanceTick()
	require.NoError(t, err)
	assert.Empty(t, delta.Submitted, "a tick with no new activity must report no submissions")
	assert.Empty(t, delta.Cancelled)
}

func TestAdvanceTickReportsFullyAndPartiallyFilledOrders(t *testing.T) {
	k, sec, alice, bob := newTestKernel(10)

	askID, err := k.SubmitLimitOrder(alice, sec, Ask, price(100), 10)
	require.NoError(t, err)
	bidID, err := k.SubmitLimitOrder(bob, sec, Bid, price(100), 4)
	require.NoError(t, err)

	delta, err := k.AdvanceTick()
	require.NoError(t, err)

	assert.Equal(t, []OrderID{bidID}, delta.FullyFilled, "the fully-consumed taker order must be reported filled")
	assert.Equal(t, []OrderID{askID}, delta.PartiallyFilled, "the resting order with remaining volume must be reported partially filled")
}

func orderIDsOf(orders []LimitOrder) []OrderID {
	out := make([]OrderID, len(orders))
	for i, o := range orders {
		out[i] = o.OrderID
	}
	return out
}

func TestFillReleasesReservedVolume(t *testing.T) {
	k, sec, alice, bob := newTestKernel(10)

	_, err := k.SubmitLimitOrder(alice, sec, Ask, price(100), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), k.Ledger().Reserved(alice, sec))

	_, err = k.SubmitLimitOrder(bob, sec, Bid, price(100), 5)
	require.NoError(t, err)

	_, err = k.AdvanceTick()
	require.NoError(t, err)

	assert.Equal(t, uint64(0), k.Ledger().Reserved(alice, sec), "a fully-filled order's reservation must be released")
	assert.Equal(t, uint64(0), k.Ledger().Reserved(bob, sec))
}
