package driver

import (
	. "marketsim/internal/common"
	"marketsim/internal/kernel"
)

// Biotech implements the regime table of spec §4.D for the Biotech
// narrative: calm pre-trial, ramping into the first readout at tick 200,
// a volatility spike around the preliminary data release, a quiet run
// into the pivotal FDA decision, a spike there too, then a return to calm.
type Biotech struct {
	gen *eulerGen
}

// BiotechRegime is the sigma-scale table from spec §4.D.
func BiotechRegime(tick Tick) float64 {
	switch {
	case tick < 200:
		return 0.5
	case tick < 400:
		return 1.0
	case tick < 500:
		return 2.5
	case tick < 800:
		return 1.0
	case tick < 900:
		return 2.5
	default:
		return 0.5
	}
}

// NewBiotech builds the Biotech driver. cfg.Regime is overwritten with
// BiotechRegime and cfg.Kappa/Lambda with the constants spec §4.D fixes
// (kappa=100, lambda=10) so callers only need to supply the base path and
// sizing/spread parameters.
func NewBiotech(cfg Config) *Biotech {
	cfg.Regime = BiotechRegime
	cfg.Kappa = 100
	cfg.Lambda = 10
	return &Biotech{gen: newEulerGen(cfg)}
}

func (b *Biotech) Generate(tick Tick, k *kernel.Kernel) error {
	return b.gen.Generate(tick, k)
}

// LowHighDemo is a simpler two-regime driver: low volatility for the first
// half of the run, high volatility for the second. Named directly by the
// "Pattern re-architecture" note in spec §9 as a sibling variant of the
// same OrderFlowDriver interface; it reuses the Biotech formulas with a
// flatter regime schedule, useful for demos that don't need a news
// narrative.
type LowHighDemo struct {
	gen     *eulerGen
	midTick Tick
}

func NewLowHighDemo(cfg Config, midTick Tick) *LowHighDemo {
	d := &LowHighDemo{midTick: midTick}
	cfg.Regime = d.regime
	cfg.Kappa = 100
	cfg.Lambda = 10
	d.gen = newEulerGen(cfg)
	return d
}

func (d *LowHighDemo) regime(tick Tick) float64 {
	if tick < d.midTick {
		return 0.5
	}
	return 2.0
}

func (d *LowHighDemo) Generate(tick Tick, k *kernel.Kernel) error {
	return d.gen.Generate(tick, k)
}

// MeanReverting applies a constant, moderate volatility scale throughout
// the run and relies purely on the kappa/lambda reversion terms to keep
// price near the base path — the other sibling variant spec §9 names.
type MeanReverting struct {
	gen *eulerGen
}

func NewMeanReverting(cfg Config) *MeanReverting {
	cfg.Regime = func(Tick) float64 { return 1.0 }
	cfg.Kappa = 100
	cfg.Lambda = 10
	return &MeanReverting{gen: newEulerGen(cfg)}
}

func (m *MeanReverting) Generate(tick Tick, k *kernel.Kernel) error {
	return m.gen.Generate(tick, k)
}
