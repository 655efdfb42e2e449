package scenario

import (
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "marketsim/internal/common"
	"marketsim/internal/kernel"
)

func testParams() BiotechParams {
	return BiotechParams{
		InitialPrice:        100,
		UpPrice:             150,
		DownPrice:           50,
		PreliminaryGoodProb: 0.5,
		FDAGoodGivenGood:    0.75,
		FDAGoodGivenBad:     0.25,
		BaseSigma:           1.0,
		Spread:              0.5,
		VolMin:              1,
		VolMax:              10,
		OrdersPerTick:       2,
		RemovalFraction:     0.1,
		InitialOrders:       5,
		DecimalPlaces:       2,
	}
}

func newTestController(totalSteps Tick, seed int64) (*Biotech, *kernel.Kernel) {
	log := zerolog.Nop()
	k := kernel.New(log, totalSteps)
	sec := k.AddSecurity(Security{Ticker: "BIOX", DecimalPlaces: 2})
	agent := k.AddUser("AGENT")
	rng := rand.New(rand.NewSource(seed))
	c := NewBiotech(log, testParams(), sec, agent, totalSteps, 100, rng)
	return c, k
}

func TestBasePathHasThreeDistinctSegments(t *testing.T) {
	c, _ := newTestController(1000, 1)
	path := c.BasePath()

	preliminaryGood, fdaGood := c.Outcome()

	assert.Equal(t, 100.0, path[0], "pre-readout segment must sit at the initial price")

	midExpect := 75.0 // (100+50)/2 when preliminary bad
	if preliminaryGood {
		midExpect = 125.0 // (100+150)/2 when preliminary good
	}
	assert.Equal(t, midExpect, path[preliminaryTick])

	finalExpect := 50.0
	if fdaGood {
		finalExpect = 150.0
	}
	assert.Equal(t, finalExpect, path[fdaTick])
}

func TestExactlyTwoNewsEventsScheduled(t *testing.T) {
	c, k := newTestController(1000, 2)

	var seen []Tick
	for i := 0; i < int(c.totalSteps); i++ {
		result, err := c.Step(k)
		require.NoError(t, err)
		for _, n := range result.News {
			seen = append(seen, n.Tick)
		}
		if result.Finished {
			break
		}
	}

	assert.ElementsMatch(t, []Tick{preliminaryTick, fdaTick}, seen)
}

func TestFinishedRunResetsNarrativeAndKernel(t *testing.T) {
	c, k := newTestController(3, 3)

	var finished bool
	for i := 0; i < 3; i++ {
		result, err := c.Step(k)
		require.NoError(t, err)
		finished = result.Finished
	}
	require.True(t, finished, "run must report finished once it has stepped totalSteps ticks")

	assert.Equal(t, Tick(0), k.CurrentTick(), "kernel tick must be reset after the run finishes")
	assert.Equal(t, kernel.Fresh, k.State())
	assert.NotEmpty(t, c.BasePath(), "a fresh narrative must still have a base path after reset")
}
