// Package driver implements the regime-switched stochastic order-flow
// generator: given the current tick and top-of-book, it emits batches of
// new bid/ask orders and random cancellation requests for a designated
// market-maker ("AGENT") user.
//
// The teacher has no generative order-flow concept to adapt; this package
// is grounded instead in the pack's execution-fairness-simulator reference
// files (internal-scenario-generator.go, internal-trader-agent.go), which
// show the idiomatic shape: one interface with several regime-specific
// concrete generators sharing common helpers. Duck-typed "SDE" objects in
// the original become this OrderFlowDriver interface (spec §9).
package driver

import (
	"math"

	"github.com/shopspring/decimal"

	. "marketsim/internal/common"
	"marketsim/internal/kernel"
)

// RandSource is the pseudo-random collaborator the core consumes; the
// concrete source (seeded math/rand.Rand, or a deterministic test double)
// is supplied by the caller. *rand.Rand satisfies this directly.
type RandSource interface {
	Float64() float64
	NormFloat64() float64
	Intn(n int) int
}

// OrderFlowDriver generates one tick's worth of order flow against k.
type OrderFlowDriver interface {
	Generate(tick Tick, k *kernel.Kernel) error
}

// RegimeFunc maps a tick to a volatility scale multiplier (spec §4.D's
// regime table is one instance of this).
type RegimeFunc func(tick Tick) float64

// Config parameterizes the Euler-step generator shared by every driver
// variant (spec §4.D).
type Config struct {
	SecurityID  SecurityID
	AgentUserID UserID

	// BasePath[i] is the target price at tick i; must cover
	// [0, N+ExtraSteps).
	BasePath   []float64
	ExtraSteps Tick

	BaseSigma float64
	Regime    RegimeFunc

	Kappa  float64 // mean-reversion strength
	Lambda float64 // leaky-reversion strength
	Spread float64

	VolMin, VolMax  uint64 // order size range [VolMin, VolMax)
	OrdersPerTick   int    // k new orders per side per tick
	RemovalFraction float64 // rho in [0,1]
	InitialOrders   int    // orders per side at tick 0 (spec: 50)

	DT            float64
	DecimalPlaces int32

	Rand RandSource
}

func (c Config) sigma(tick Tick) float64 {
	return c.BaseSigma * c.Regime(tick)
}

func (c Config) basePathAt(tick Tick) float64 {
	if int(tick) < len(c.BasePath) {
		return c.BasePath[tick]
	}
	return c.BasePath[len(c.BasePath)-1]
}

// eulerGen is the shared machinery behind every OrderFlowDriver variant.
type eulerGen struct {
	cfg Config

	// lastMid is used for the "neither side present" fallback (spec §4.D
	// step 2): last recorded midpoint +/- 0.5.
	lastMid float64
}

func newEulerGen(cfg Config) *eulerGen {
	return &eulerGen{cfg: cfg, lastMid: cfg.basePathAt(0)}
}

// Generate implements the full per-tick behaviour of spec §4.D.
func (g *eulerGen) Generate(tick Tick, k *kernel.Kernel) error {
	if tick == 0 {
		return g.generateInitial(k)
	}
	return g.generateSubsequent(tick, k)
}

// generateInitial seeds the empty book at tick 0: 50 bid and 50 ask orders
// (InitialOrders each) in strips below/above the base-path target, widths
// proportional to sigma(0).
func (g *eulerGen) generateInitial(k *kernel.Kernel) error {
	cfg := g.cfg
	target := cfg.basePathAt(0)
	width := math.Max(cfg.sigma(0), 0.01) * target

	type pending struct {
		side  Side
		price float64
	}
	var batch []pending

	for i := 0; i < cfg.InitialOrders; i++ {
		offset := cfg.Rand.Float64() * width
		batch = append(batch, pending{side: Bid, price: target - cfg.Spread - offset})
	}
	for i := 0; i < cfg.InitialOrders; i++ {
		offset := cfg.Rand.Float64() * width
		batch = append(batch, pending{side: Ask, price: target + cfg.Spread + offset})
	}

	shuffle(batch, cfg.Rand)

	for _, p := range batch {
		vol := randVolume(cfg, cfg.Rand)
		price := decimal.NewFromFloat(p.price).Round(cfg.DecimalPlaces)
		if _, err := k.DirectInsertLimitOrder(cfg.AgentUserID, cfg.SecurityID, p.side, price, vol); err != nil {
			return err
		}
	}

	g.lastMid = target
	return nil
}

// generateSubsequent implements spec §4.D steps 1-4 for tick > 0.
func (g *eulerGen) generateSubsequent(tick Tick, k *kernel.Kernel) error {
	cfg := g.cfg

	// Step 1: prune a random fraction of AGENT's open orders.
	g.pruneAgentOrders(k)

	// Step 2: resolve a working (B, A) pair.
	bid, bidOk := k.GetTopBid(cfg.SecurityID)
	ask, askOk := k.GetTopAsk(cfg.SecurityID)

	var b, a float64
	switch {
	case bidOk && askOk:
		b, _ = bid.Price.Float64()
		a, _ = ask.Price.Float64()
	case bidOk && !askOk:
		b, _ = bid.Price.Float64()
		a = b + 0.5
	case !bidOk && askOk:
		// Preserved verbatim per spec §9: a positively-crossed synthetic
		// bid, not a typo fix.
		a, _ = ask.Price.Float64()
		b = a + 0.5
	default:
		b = g.lastMid - 0.5
		a = g.lastMid + 0.5
	}

	// Step 3: sample k new prices per side via the driven Euler step.
	baseAtTick := cfg.basePathAt(tick)
	baseAtExtra := cfg.basePathAt(tick + cfg.ExtraSteps)
	sigma := cfg.sigma(tick)

	type pending struct {
		side  Side
		price float64
	}
	var batch []pending

	for i := 0; i < cfg.OrdersPerTick; i++ {
		z := cfg.Rand.NormFloat64()
		price := b - cfg.Spread +
			cfg.Kappa*(baseAtTick-b)*cfg.DT +
			cfg.Lambda*(baseAtExtra-b)*cfg.DT +
			sigma*math.Sqrt(math.Abs(b*cfg.DT))*z
		batch = append(batch, pending{side: Bid, price: price})
	}
	for i := 0; i < cfg.OrdersPerTick; i++ {
		z := cfg.Rand.NormFloat64()
		// Preserved verbatim per spec §4.D/§9: only the base term uses
		// top-bid B instead of top-ask A. The reversion and volatility
		// terms use A, same as the bid formula's symmetric counterpart.
		price := b + cfg.Spread +
			cfg.Kappa*(baseAtTick-a)*cfg.DT +
			cfg.Lambda*(baseAtExtra-a)*cfg.DT +
			sigma*math.Sqrt(math.Abs(a*cfg.DT))*z
		batch = append(batch, pending{side: Ask, price: price})
	}

	shuffle(batch, cfg.Rand)

	// Step 4: round, size, and submit.
	for _, p := range batch {
		vol := randVolume(cfg, cfg.Rand)
		price := decimal.NewFromFloat(p.price).Round(cfg.DecimalPlaces)
		if _, err := k.SubmitLimitOrder(cfg.AgentUserID, cfg.SecurityID, p.side, price, vol); err != nil {
			return err
		}
	}

	g.lastMid = (b + a) / 2
	return nil
}

func (g *eulerGen) pruneAgentOrders(k *kernel.Kernel) {
	cfg := g.cfg
	open := k.GetAllOpenUserOrders(cfg.AgentUserID, cfg.SecurityID)
	n := int(float64(len(open)) * cfg.RemovalFraction)
	if n <= 0 || len(open) == 0 {
		return
	}

	// Sample n without replacement via partial Fisher-Yates.
	ids := append([]OrderID(nil), open...)
	for i := 0; i < n; i++ {
		j := i + cfg.Rand.Intn(len(ids)-i)
		ids[i], ids[j] = ids[j], ids[i]
	}
	for _, id := range ids[:n] {
		k.CancelForDriver(cfg.AgentUserID, cfg.SecurityID, id)
	}
}

func randVolume(cfg Config, r RandSource) uint64 {
	if cfg.VolMax <= cfg.VolMin {
		return cfg.VolMin
	}
	span := int(cfg.VolMax - cfg.VolMin)
	return cfg.VolMin + uint64(r.Intn(span))
}

func shuffle[T any](s []T, r RandSource) {
	for i := len(s) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}
