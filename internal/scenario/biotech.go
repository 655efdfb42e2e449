// Package scenario glues an OrderFlowDriver to a SimulationKernel for a
// specific narrative. Biotech implements the decision tree of spec §4.E:
// a preliminary-trial readout at tick 500, a pivotal FDA decision at tick
// 900, each drawing a news blurb from a pool keyed by the generated
// outcome.
package scenario

import (
	"math/rand"

	"github.com/rs/zerolog"

	. "marketsim/internal/common"
	"marketsim/internal/driver"
	"marketsim/internal/kernel"
)

const (
	preliminaryTick = 500
	fdaTick         = 900
)

// BiotechParams configures the narrative's decision tree and the
// underlying Euler-step generator.
type BiotechParams struct {
	InitialPrice float64
	UpPrice      float64
	DownPrice    float64

	// PreliminaryGoodProb is P(preliminary_good); FDAGoodGivenGood /
	// FDAGoodGivenBad condition the FDA outcome on the preliminary one
	// (spec §4.E defaults: 0.5, 0.75, 0.25).
	PreliminaryGoodProb float64
	FDAGoodGivenGood    float64
	FDAGoodGivenBad     float64

	BaseSigma       float64
	Spread          float64
	VolMin, VolMax  uint64
	OrdersPerTick   int
	RemovalFraction float64
	InitialOrders   int
	DecimalPlaces   int32
}

// The four preconfigured positive/negative blurb pools, one pair per
// scheduled news tick, drawn from according to the generated outcome.
var preliminaryGoodNews = []string{
	"Preliminary trial data shows a statistically significant response rate.",
	"Independent safety board clears the trial to continue without modification.",
}
var preliminaryBadNews = []string{
	"Preliminary trial data misses its primary endpoint.",
	"Analysts flag elevated adverse-event rates in the preliminary cohort.",
}
var fdaGoodNews = []string{
	"FDA grants approval ahead of the PDUFA date.",
	"FDA advisory committee votes overwhelmingly in favor of approval.",
}
var fdaBadNews = []string{
	"FDA issues a complete response letter citing manufacturing concerns.",
	"FDA requests an additional Phase 3 trial before reconsidering approval.",
}

// News is one scheduled narrative event.
type News struct {
	Tick  Tick
	Blurb string
}

// Biotech owns the driver plus scenario-specific narrative state.
type Biotech struct {
	log    zerolog.Logger
	params BiotechParams
	rng    *rand.Rand

	securityID SecurityID
	agentID    UserID
	extraSteps Tick
	totalSteps Tick
	dt         float64

	drv       *driver.Biotech
	basePath  []float64
	scheduled map[Tick]string

	preliminaryGood bool
	fdaGood         bool
}

// NewBiotech builds a controller for one security, driven by rng, bounded
// to totalSteps ticks (plus extraSteps of base-path lookahead used by the
// driver's leaky-reversion term).
func NewBiotech(log zerolog.Logger, params BiotechParams, securityID SecurityID, agentID UserID, totalSteps, extraSteps Tick, rng *rand.Rand) *Biotech {
	c := &Biotech{
		log:        log,
		params:     params,
		rng:        rng,
		securityID: securityID,
		agentID:    agentID,
		extraSteps: extraSteps,
		totalSteps: totalSteps,
		dt:         1.0 / float64(totalSteps),
	}
	c.resetNarrative()
	return c
}

// resetNarrative draws a fresh outcome, base path, and news schedule — run
// once at construction and again on every ResetSimulation (spec §4.E /
// §8 scenario 6: "base_path is freshly sampled").
func (c *Biotech) resetNarrative() {
	p := c.params

	c.preliminaryGood = c.rng.Float64() < p.PreliminaryGoodProb
	fdaProb := p.FDAGoodGivenBad
	if c.preliminaryGood {
		fdaProb = p.FDAGoodGivenGood
	}
	c.fdaGood = c.rng.Float64() < fdaProb

	n := int(c.totalSteps + c.extraSteps)
	path := make([]float64, n)
	for t := 0; t < n; t++ {
		switch {
		case t < preliminaryTick:
			path[t] = p.InitialPrice
		case t < fdaTick:
			if c.preliminaryGood {
				path[t] = (p.InitialPrice + p.UpPrice) / 2
			} else {
				path[t] = (p.InitialPrice + p.DownPrice) / 2
			}
		default:
			if c.fdaGood {
				path[t] = p.UpPrice
			} else {
				path[t] = p.DownPrice
			}
		}
	}
	c.basePath = path

	c.scheduled = map[Tick]string{
		preliminaryTick: pick(c.rng, pickPool(c.preliminaryGood, preliminaryGoodNews, preliminaryBadNews)),
		fdaTick:         pick(c.rng, pickPool(c.fdaGood, fdaGoodNews, fdaBadNews)),
	}

	c.drv = driver.NewBiotech(driver.Config{
		SecurityID:      c.securityID,
		AgentUserID:     c.agentID,
		BasePath:        c.basePath,
		ExtraSteps:      c.extraSteps,
		BaseSigma:       p.BaseSigma,
		Spread:          p.Spread,
		VolMin:          p.VolMin,
		VolMax:          p.VolMax,
		OrdersPerTick:   p.OrdersPerTick,
		RemovalFraction: p.RemovalFraction,
		InitialOrders:   p.InitialOrders,
		DT:              c.dt,
		DecimalPlaces:   p.DecimalPlaces,
		Rand:            c.rng,
	})
}

func pickPool(good bool, goodPool, badPool []string) []string {
	if good {
		return goodPool
	}
	return badPool
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

// StepResult is what Step reports back to the broadcast loop.
type StepResult struct {
	Delta    kernel.TickDelta
	News     []News
	Finished bool
}

// Step advances the driver, then the kernel, and reports whether the run
// has finished, resetting both the kernel and the narrative when it does.
func (c *Biotech) Step(k *kernel.Kernel) (StepResult, error) {
	tick := k.CurrentTick()

	if err := c.drv.Generate(tick, k); err != nil {
		c.log.Error().Err(err).Int64("tick", int64(tick)).Msg("driver generate failed, skipping tick")
		return StepResult{}, err
	}

	delta, err := k.AdvanceTick()
	if err != nil {
		return StepResult{}, err
	}

	var news []News
	if blurb, ok := c.scheduled[delta.Tick]; ok {
		news = append(news, News{Tick: delta.Tick, Blurb: blurb})
	}

	finished := k.State() == kernel.Finished
	if finished {
		k.ResetSimulation()
		c.resetNarrative()
	}

	return StepResult{Delta: delta, News: news, Finished: finished}, nil
}

// Outcome reports the narrative's generated outcome for test assertions
// (spec §8 scenario 5).
func (c *Biotech) Outcome() (preliminaryGood, fdaGood bool) {
	return c.preliminaryGood, c.fdaGood
}

// BasePath exposes the currently active base path for test assertions
// (spec §8 scenario 4: determinism of the final midpoint).
func (c *Biotech) BasePath() []float64 {
	return append([]float64(nil), c.basePath...)
}
