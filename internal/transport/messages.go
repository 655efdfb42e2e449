// Package transport is a reference TCP wire protocol for submitting orders
// and receiving execution reports, adapted from the teacher's internal/net
// package. It is a concrete instance of the broadcast.Subscriber interface
// that the spec deliberately leaves abstract (spec §1): client transport is
// out of scope for the simulator itself, but a runnable binary needs one.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	. "marketsim/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short for specified username length")
)

type MessageType uint16

const (
	NewOrder MessageType = iota
	CancelOrder
)

type ReportMessageType uint8

const (
	ExecutionReport ReportMessageType = iota
	ErrorReport
	AdminReport
)

// Message format constants. Tickers are packed into a fixed 4-byte field
// and usernames are length-prefixed, same layout convention as the teacher.
const (
	baseHeaderLen        = 2
	newOrderHeaderLen    = 4 + 8 + 8 + 1 + 1
	cancelOrderHeaderLen = 8 + 1
)

type Message interface {
	GetType() MessageType
}

type BaseMessage struct {
	TypeOf MessageType
}

func (m BaseMessage) GetType() MessageType { return m.TypeOf }

// ParseMessage decodes one inbound client frame.
func ParseMessage(msg []byte) (Message, error) {
	if len(msg) < baseHeaderLen {
		return nil, fmt.Errorf("message too short to contain header")
	}
	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case NewOrder:
		return parseNewOrder(msg)
	case CancelOrder:
		return parseCancelOrder(msg)
	default:
		return nil, ErrInvalidMessageType
	}
}

// NewOrderMessage carries one limit order submission. Side reuses the
// common.Side encoding (0=Bid, 1=Ask); price travels as an IEEE-754 double
// and is converted to decimal.Decimal by the server, rounded to the
// security's configured decimal places on submission.
type NewOrderMessage struct {
	BaseMessage
	Ticker      string  // 4 bytes
	LimitPrice  float64 // 8 bytes
	Quantity    uint64  // 8 bytes
	Side        Side    // 1 byte
	UsernameLen uint8   // 1 byte
	Username    string  // n bytes
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	if len(msg) < newOrderHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	m.Ticker = string(msg[0:4])
	m.LimitPrice = math.Float64frombits(binary.BigEndian.Uint64(msg[4:12]))
	m.Quantity = binary.BigEndian.Uint64(msg[12:20])
	m.Side = Side(msg[20])
	m.UsernameLen = msg[21]

	expectedLen := newOrderHeaderLen + int(m.UsernameLen)
	if len(msg) < expectedLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[22 : 22+m.UsernameLen])
	return m, nil
}

func (m NewOrderMessage) Price() decimal.Decimal {
	return decimal.NewFromFloat(m.LimitPrice)
}

// CancelOrderMessage carries a cancel request for one previously submitted
// order id.
type CancelOrderMessage struct {
	BaseMessage
	OrderID     OrderID // 8 bytes
	UsernameLen uint8   // 1 byte
	Username    string  // n bytes
}

func parseCancelOrder(msg []byte) (CancelOrderMessage, error) {
	if len(msg) < cancelOrderHeaderLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m := CancelOrderMessage{BaseMessage: BaseMessage{TypeOf: CancelOrder}}
	m.OrderID = OrderID(binary.BigEndian.Uint64(msg[0:8]))
	m.UsernameLen = msg[8]

	expectedLen := cancelOrderHeaderLen + int(m.UsernameLen)
	if len(msg) < expectedLen {
		return CancelOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[9 : 9+m.UsernameLen])
	return m, nil
}

// Report is one outbound frame: either an execution report for a fill this
// recipient participated in, an error report for a rejected request, or an
// admin/lifecycle notice.
type Report struct {
	MessageType  ReportMessageType
	Side         Side
	Tick         uint64
	Quantity     uint64
	Price        float64
	Ticker       string
	Counterparty string
	Err          string
	State        string
}

// Serialize packs a Report into its wire form. Fixed fields first, including
// three 2-byte lengths (Counterparty, Err, State), then those three strings
// concatenated in that order.
func (r *Report) Serialize() []byte {
	tail := r.Counterparty + r.Err + r.State
	buf := make([]byte, 1+1+8+8+8+4+2+2+2+len(tail))
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	binary.BigEndian.PutUint64(buf[2:10], r.Tick)
	binary.BigEndian.PutUint64(buf[10:18], r.Quantity)
	binary.BigEndian.PutUint64(buf[18:26], math.Float64bits(r.Price))
	copy(buf[26:30], padTicker(r.Ticker))
	binary.BigEndian.PutUint16(buf[30:32], uint16(len(r.Counterparty)))
	binary.BigEndian.PutUint16(buf[32:34], uint16(len(r.Err)))
	binary.BigEndian.PutUint16(buf[34:36], uint16(len(r.State)))
	copy(buf[36:], tail)
	return buf
}

func padTicker(ticker string) []byte {
	out := make([]byte, 4)
	copy(out, ticker)
	return out
}

// tradeReports builds the pair of execution reports for one transaction,
// one addressed to the buyer and one to the seller, mirroring the teacher's
// generateWireTradeReports.
func tradeReports(tx Transaction, ticker string, buyerName, sellerName string) (buyer, seller Report) {
	price, _ := tx.Price.Float64()
	buyer = Report{
		MessageType:  ExecutionReport,
		Side:         Bid,
		Tick:         uint64(tx.Tick),
		Quantity:     tx.Volume,
		Price:        price,
		Ticker:       ticker,
		Counterparty: sellerName,
	}
	seller = Report{
		MessageType:  ExecutionReport,
		Side:         Ask,
		Tick:         uint64(tx.Tick),
		Quantity:     tx.Volume,
		Price:        price,
		Ticker:       ticker,
		Counterparty: buyerName,
	}
	return buyer, seller
}

func errorReport(err error) Report {
	return Report{MessageType: ErrorReport, Err: err.Error()}
}

func adminReport(state string, tick Tick) Report {
	return Report{MessageType: AdminReport, Tick: uint64(tick), State: state}
}
