// Package broadcast implements the paused/running tick loop (spec §4.G):
// on each tick_period elapsed, if Running, it asks the ScenarioController
// to step and hands the resulting delta to every connected subscriber.
//
// Serialization and transport are out of scope (spec §1): Subscriber and
// AdminReader are the only two external collaborator interfaces this
// package depends on. A concrete transport (websocket, TCP, in-process
// test double) implements them and is wired in by the composition root.
package broadcast

import (
	. "marketsim/internal/common"
	"marketsim/internal/kernel"
)

// BookSnapshot is one security's book, in priority order on both sides.
type BookSnapshot struct {
	Bids []*LimitOrder
	Asks []*LimitOrder
}

// SimulationLoad is sent once, on first subscriber connection: a full
// snapshot of current state (spec §6 MessageSimulationLoad).
type SimulationLoad struct {
	SimulationState      string
	Tick                 Tick
	MaxTick              Tick
	AllSecurities        []Security
	TradeableSecurities  []Security
	SecurityInfo         map[string]Security
	OrderBookPerSecurity map[string]BookSnapshot
	Transactions         map[string][]Transaction
	UserIDToUsername     map[UserID]string
	Portfolio            map[string]int64
	News                 []string
}

// SimulationUpdate carries only the run's lifecycle state and tick — sent
// around admin transitions (spec §6).
type SimulationUpdate struct {
	SimulationState string
	Tick            Tick
}

// MarketUpdate is the per-tick delta sent to every subscriber (spec §6).
type MarketUpdate struct {
	Tick                 Tick
	OrderBookPerSecurity map[string]BookSnapshot
	Portfolio            map[string]int64
	NewTransactions      []Transaction
	NewNews              []string
}

// AdminCommand is one of the two recognized admin CLI verbs (spec §6).
type AdminCommand string

const (
	CommandStart AdminCommand = "start"
	CommandPause AdminCommand = "pause"
)

// Subscriber is the fan-out target for one connected client. Ordering
// guarantee (spec §5b): OnSnapshot always precedes any OnDelta for a given
// subscriber. A send failure is non-fatal: the subscriber is dropped, the
// loop continues (spec §7 BrokenSubscriber).
type Subscriber interface {
	OnSnapshot(SimulationLoad) error
	OnDelta(MarketUpdate) error
	OnAdmin(SimulationUpdate) error
}

// AdminReader stands in for the interactive terminal command reader,
// explicitly out of scope per spec §1. It must return one of "start" or
// "pause" per successful read; unknown input is the caller's concern.
type AdminReader interface {
	ReadCommand() (string, error)
}

func securityByTicker(securities []Security) map[string]Security {
	out := make(map[string]Security, len(securities))
	for _, s := range securities {
		out[s.Ticker] = s
	}
	return out
}

func bookSnapshots(k *kernel.Kernel, securities []Security) map[string]BookSnapshot {
	out := make(map[string]BookSnapshot, len(securities))
	for _, s := range securities {
		bids, asks := k.GetOrderBook(s.SecurityID)
		out[s.Ticker] = BookSnapshot{Bids: bids, Asks: asks}
	}
	return out
}
