// Package kernel owns securities, users, and per-security order books; it
// hands out monotonic order ids and routes submit/cancel/advance calls.
// Grounded in the teacher's internal/engine/engine.go Engine (which owns
// map[AssetType]OrderBook and dispatches PlaceOrder/Trade), generalized to
// a dense security index and real multi-user portfolio accounting.
package kernel

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketsim/internal/book"
	. "marketsim/internal/common"
	"marketsim/internal/matching"
	"marketsim/internal/portfolio"
)

// State is the simulation run's lifecycle state (spec §4.C).
type State int

const (
	Fresh State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// TickDelta is the per-tick record handed to subscribers: everything that
// changed as a result of advancing one tick.
type TickDelta struct {
	Tick              Tick
	Submitted         []LimitOrder
	Cancelled         []OrderID
	PartiallyFilled   []OrderID
	FullyFilled       []OrderID
	Transactions      []Transaction
	SecuritiesTouched []SecurityID
}

// Kernel is the single owner of all simulation state. It is never accessed
// from more than one goroutine concurrently (see spec §5) — every public
// method here performs pure in-memory work with no suspension points.
type Kernel struct {
	log zerolog.Logger

	securities []Security
	tickerToID map[string]SecurityID

	users    []User
	nameToID map[string]UserID

	books    []*book.OrderBook
	ledger   *portfolio.Ledger

	nextOrderID OrderID
	currentTick Tick
	totalSteps  Tick
	state       State

	transactionHistory []Transaction

	// pendingSubmitted / pendingCancelled buffer everything that happened
	// since the last AdvanceTick, so the next delta can report it (spec
	// §3 Delta record). Cleared at the start of every AdvanceTick.
	pendingSubmitted []LimitOrder
	pendingCancelled []OrderID
}

// New builds an empty kernel bounded to totalSteps ticks.
func New(log zerolog.Logger, totalSteps Tick) *Kernel {
	return &Kernel{
		log:        log,
		tickerToID: make(map[string]SecurityID),
		nameToID:   make(map[string]UserID),
		ledger:     portfolio.New(),
		totalSteps: totalSteps,
		state:      Fresh,
	}
}

// AddSecurity registers a new tradeable instrument and returns its dense id.
func (k *Kernel) AddSecurity(info Security) SecurityID {
	id := SecurityID(len(k.securities))
	info.SecurityID = id
	k.securities = append(k.securities, info)
	k.tickerToID[info.Ticker] = id
	k.books = append(k.books, book.New(id))
	k.log.Debug().Int("security_id", int(id)).Str("ticker", info.Ticker).Msg("security registered")
	return id
}

// AddUser registers a new participant and returns its monotonic id.
func (k *Kernel) AddUser(username string) UserID {
	id := UserID(len(k.users))
	k.users = append(k.users, User{UserID: id, Username: username})
	k.nameToID[username] = id
	k.ledger.RegisterUser(id)
	k.log.Debug().Uint64("user_id", uint64(id)).Str("username", username).Msg("user registered")
	return id
}

// UserIDByName looks up a registered user's id by username.
func (k *Kernel) UserIDByName(username string) (UserID, bool) {
	id, ok := k.nameToID[username]
	return id, ok
}

// SecurityIDByTicker looks up a registered security's id by ticker.
func (k *Kernel) SecurityIDByTicker(ticker string) (SecurityID, bool) {
	id, ok := k.tickerToID[ticker]
	return id, ok
}

func (k *Kernel) validateSecurityUser(securityID SecurityID, userID UserID) error {
	if int(securityID) < 0 || int(securityID) >= len(k.securities) {
		return ErrUnknownSecurity
	}
	if int(userID) < 0 || int(userID) >= len(k.users) {
		return ErrUnknownUser
	}
	return nil
}

// SubmitLimitOrder rounds price to the security's configured decimal
// places, allocates the next order id, reserves the volume against the
// submitter's portfolio, and inserts the order into the book at the
// current tick.
func (k *Kernel) SubmitLimitOrder(userID UserID, securityID SecurityID, side Side, price decimal.Decimal, volume uint64) (OrderID, error) {
	if err := k.validateSecurityUser(securityID, userID); err != nil {
		return 0, err
	}
	if volume == 0 {
		return 0, ErrInvalidVolume
	}

	sec := k.securities[securityID]
	order := LimitOrder{
		OrderID:    k.allocateOrderID(),
		SecurityID: securityID,
		Side:       side,
		Price:      sec.RoundPrice(price),
		Volume:     volume,
		Timestamp:  k.currentTick,
		UserID:     userID,
	}

	if err := k.books[securityID].Submit(order); err != nil {
		return 0, err
	}
	k.ledger.Reserve(userID, securityID, volume)
	k.pendingSubmitted = append(k.pendingSubmitted, order)
	return order.OrderID, nil
}

// DirectInsertLimitOrder is identical to SubmitLimitOrder except that it
// does not reserve the volume in the ledger — used for the scripted agent's
// initial book-building at tick 0 (spec §4.C).
func (k *Kernel) DirectInsertLimitOrder(userID UserID, securityID SecurityID, side Side, price decimal.Decimal, volume uint64) (OrderID, error) {
	if err := k.validateSecurityUser(securityID, userID); err != nil {
		return 0, err
	}
	if volume == 0 {
		return 0, ErrInvalidVolume
	}

	sec := k.securities[securityID]
	order := LimitOrder{
		OrderID:    k.allocateOrderID(),
		SecurityID: securityID,
		Side:       side,
		Price:      sec.RoundPrice(price),
		Volume:     volume,
		Timestamp:  k.currentTick,
		UserID:     userID,
	}
	if err := k.books[securityID].Submit(order); err != nil {
		return 0, err
	}
	k.pendingSubmitted = append(k.pendingSubmitted, order)
	return order.OrderID, nil
}

func (k *Kernel) allocateOrderID() OrderID {
	k.nextOrderID++
	return k.nextOrderID - 1
}

// SubmitCancelOrder removes an order if it exists and is owned by userID.
// CancelMiss (unknown id, or owned by someone else) is reported to the
// caller but never broadcast (spec §7).
func (k *Kernel) SubmitCancelOrder(userID UserID, securityID SecurityID, orderID OrderID) error {
	if err := k.validateSecurityUser(securityID, userID); err != nil {
		return err
	}

	b := k.books[securityID]
	// Ownership is checked before removal, so a rejected cancel leaves the
	// order untouched at its place in its price level's queue.
	for _, side := range [2]Side{Bid, Ask} {
		for _, o := range b.IterSide(side) {
			if o.OrderID == orderID && o.UserID != userID {
				return ErrNotOwner
			}
		}
	}
	removed, err := b.Cancel(orderID)
	if err != nil {
		return err
	}

	k.ledger.Release(userID, securityID, removed.Volume)
	k.pendingCancelled = append(k.pendingCancelled, orderID)
	return nil
}

// CancelForDriver is used by the order-flow driver, which may race with
// matching and should see cancel-miss as a silent success (spec §7).
func (k *Kernel) CancelForDriver(userID UserID, securityID SecurityID, orderID OrderID) {
	_ = k.SubmitCancelOrder(userID, securityID, orderID)
}

// AdvanceTick executes matching for every security in security_id order,
// collects transactions, updates portfolios, advances current_tick, and
// returns the resulting delta. Fails with ErrSimulationFinished when
// current_tick >= N.
func (k *Kernel) AdvanceTick() (TickDelta, error) {
	if k.currentTick >= k.totalSteps {
		return TickDelta{}, ErrSimulationFinished
	}
	if k.state == Fresh {
		k.state = Running
	}

	delta := TickDelta{
		Tick:      k.currentTick,
		Submitted: k.pendingSubmitted,
		Cancelled: k.pendingCancelled,
	}
	k.pendingSubmitted = nil
	k.pendingCancelled = nil

	for _, b := range k.books {
		txs := matching.ProcessTransactions(b, k.currentTick)
		if len(txs) == 0 {
			continue
		}
		delta.SecuritiesTouched = append(delta.SecuritiesTouched, b.SecurityID())

		var touchedOrder []OrderID
		touchedSeen := make(map[OrderID]bool)
		for _, tx := range txs {
			k.ledger.Apply(tx)
			k.ledger.Release(tx.BuyerID, tx.SecurityID, tx.Volume)
			k.ledger.Release(tx.SellerID, tx.SecurityID, tx.Volume)
			k.transactionHistory = append(k.transactionHistory, tx)

			for _, id := range [2]OrderID{tx.MakerOrderID, tx.TakerOrderID} {
				if !touchedSeen[id] {
					touchedSeen[id] = true
					touchedOrder = append(touchedOrder, id)
				}
			}
		}
		delta.Transactions = append(delta.Transactions, txs...)

		// An order still resting after all of this tick's matching has
		// only been partially filled; one no longer in the book has
		// been fully filled.
		for _, id := range touchedOrder {
			if b.Has(id) {
				delta.PartiallyFilled = append(delta.PartiallyFilled, id)
			} else {
				delta.FullyFilled = append(delta.FullyFilled, id)
			}
		}
	}

	k.currentTick++
	if k.currentTick >= k.totalSteps {
		k.state = Finished
	}

	return delta, nil
}

// GetOrderBook returns snapshots of both sides of a security's book, in
// priority order.
func (k *Kernel) GetOrderBook(securityID SecurityID) (bids, asks []*LimitOrder) {
	b := k.books[securityID]
	return b.IterSide(Bid), b.IterSide(Ask)
}

// GetTopBid / GetTopAsk peek the best resting order on each side.
func (k *Kernel) GetTopBid(securityID SecurityID) (*LimitOrder, bool) {
	return k.books[securityID].TopBid()
}

func (k *Kernel) GetTopAsk(securityID SecurityID) (*LimitOrder, bool) {
	return k.books[securityID].TopAsk()
}

// GetBidCount / GetAskCount report live order counts on a side.
func (k *Kernel) GetBidCount(securityID SecurityID) int {
	return k.books[securityID].BidCount()
}

func (k *Kernel) GetAskCount(securityID SecurityID) int {
	return k.books[securityID].AskCount()
}

// GetAllOpenUserOrders enumerates a user's live order ids on one security,
// in priority order across both sides.
func (k *Kernel) GetAllOpenUserOrders(userID UserID, securityID SecurityID) []OrderID {
	b := k.books[securityID]
	var out []OrderID
	for _, o := range b.IterSide(Bid) {
		if o.UserID == userID {
			out = append(out, o.OrderID)
		}
	}
	for _, o := range b.IterSide(Ask) {
		if o.UserID == userID {
			out = append(out, o.OrderID)
		}
	}
	return out
}

// CurrentTick / TotalSteps / State expose read-only kernel progress.
func (k *Kernel) CurrentTick() Tick         { return k.currentTick }
func (k *Kernel) TotalSteps() Tick          { return k.totalSteps }
func (k *Kernel) State() State              { return k.state }
func (k *Kernel) Securities() []Security    { return append([]Security(nil), k.securities...) }
func (k *Kernel) Users() []User             { return append([]User(nil), k.users...) }
func (k *Kernel) Ledger() *portfolio.Ledger { return k.ledger }
func (k *Kernel) TransactionHistory() []Transaction {
	return append([]Transaction(nil), k.transactionHistory...)
}

// ResetSimulation drops all orders and transactions, resets tick to 0, and
// preserves user/security registrations. Order-id allocation continues
// monotonically across the reset (spec §8 scenario 6).
func (k *Kernel) ResetSimulation() {
	for i, sec := range k.securities {
		k.books[i] = book.New(sec.SecurityID)
	}
	k.transactionHistory = nil
	k.pendingSubmitted = nil
	k.pendingCancelled = nil
	k.currentTick = 0
	k.state = Fresh
	k.ledger = portfolio.New()
	for _, u := range k.users {
		k.ledger.RegisterUser(u.UserID)
	}
	k.log.Info().Msg("simulation reset")
}
