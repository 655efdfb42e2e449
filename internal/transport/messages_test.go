package transport

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "marketsim/internal/common"
)

func encodeNewOrder(ticker string, p float64, qty uint64, side Side, username string) []byte {
	buf := make([]byte, 2+newOrderHeaderLen+len(username))
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	copy(buf[2:6], ticker)
	binary.BigEndian.PutUint64(buf[6:14], math.Float64bits(p))
	binary.BigEndian.PutUint64(buf[14:22], qty)
	buf[22] = byte(side)
	buf[23] = byte(len(username))
	copy(buf[24:], username)
	return buf
}

func TestParseNewOrderRoundTrips(t *testing.T) {
	frame := encodeNewOrder("BIOX", 101.25, 10, Ask, "alice")

	msg, err := ParseMessage(frame)
	require.NoError(t, err)

	order, ok := msg.(NewOrderMessage)
	require.True(t, ok)
	assert.Equal(t, "BIOX", order.Ticker)
	assert.Equal(t, uint64(10), order.Quantity)
	assert.Equal(t, Ask, order.Side)
	assert.Equal(t, "alice", order.Username)
	price, _ := order.Price().Float64()
	assert.InDelta(t, 101.25, price, 0.0001)
}

func TestParseNewOrderTooShortIsRejected(t *testing.T) {
	frame := encodeNewOrder("BIOX", 100, 1, Bid, "alice")
	_, err := ParseMessage(frame[:len(frame)-2])
	assert.Error(t, err)
}

func TestParseCancelOrderRoundTrips(t *testing.T) {
	buf := make([]byte, 2+cancelOrderHeaderLen+len("bob"))
	binary.BigEndian.PutUint16(buf[0:2], uint16(CancelOrder))
	binary.BigEndian.PutUint64(buf[2:10], 42)
	buf[10] = byte(len("bob"))
	copy(buf[11:], "bob")

	msg, err := ParseMessage(buf)
	require.NoError(t, err)

	cancel, ok := msg.(CancelOrderMessage)
	require.True(t, ok)
	assert.Equal(t, OrderID(42), cancel.OrderID)
	assert.Equal(t, "bob", cancel.Username)
}

func TestSerializeReportWritesTypeAndSideBytes(t *testing.T) {
	r := Report{MessageType: ExecutionReport, Side: Bid, Tick: 7, Quantity: 3, Price: 100.5, Ticker: "BIOX", Counterparty: "bob"}
	buf := r.Serialize()
	assert.Equal(t, byte(ExecutionReport), buf[0])
	assert.Equal(t, byte(Bid), buf[1])
}
