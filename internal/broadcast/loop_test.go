package broadcast

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "marketsim/internal/common"
	"marketsim/internal/kernel"
	"marketsim/internal/scenario"
)

// recordingSubscriber captures every callback it receives, for assertions
// on ordering and content.
type recordingSubscriber struct {
	mu        sync.Mutex
	snapshots []SimulationLoad
	deltas    []MarketUpdate
	admins    []SimulationUpdate
}

func (r *recordingSubscriber) OnSnapshot(l SimulationLoad) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, l)
	return nil
}

func (r *recordingSubscriber) OnDelta(u MarketUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, u)
	return nil
}

func (r *recordingSubscriber) OnAdmin(u SimulationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins = append(r.admins, u)
	return nil
}

func (r *recordingSubscriber) deltaCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deltas)
}

func newTestLoop(t *testing.T) (*Loop, UserID) {
	log := zerolog.Nop()
	k := kernel.New(log, 1000)
	sec := k.AddSecurity(Security{Ticker: "BIOX", DecimalPlaces: 2})
	agent := k.AddUser("AGENT")

	params := scenario.BiotechParams{
		InitialPrice: 100, UpPrice: 150, DownPrice: 50,
		PreliminaryGoodProb: 0.5, FDAGoodGivenGood: 0.75, FDAGoodGivenBad: 0.25,
		BaseSigma: 1.0, Spread: 0.5, VolMin: 1, VolMax: 10,
		OrdersPerTick: 2, RemovalFraction: 0.1, InitialOrders: 2, DecimalPlaces: 2,
	}
	rng := rand.New(rand.NewSource(1))
	controller := scenario.NewBiotech(log, params, sec, agent, 1000, 100, rng)

	loop := New(log, k, controller, 5*time.Millisecond)
	return loop, agent
}

func TestSubscribeSendsSnapshotBeforeAnyDelta(t *testing.T) {
	loop, agent := newTestLoop(t)
	sub := &recordingSubscriber{}

	require.NoError(t, loop.Subscribe(NewSubscriberID(), agent, sub))

	require.Len(t, sub.snapshots, 1)
	assert.Empty(t, sub.deltas, "no deltas should exist before the loop has ticked")
}

func TestRunningLoopFansOutDeltasToSubscribers(t *testing.T) {
	loop, agent := newTestLoop(t)
	sub := &recordingSubscriber{}
	require.NoError(t, loop.Subscribe(NewSubscriberID(), agent, sub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	loop.Start()

	require.Eventually(t, func() bool {
		return sub.deltaCount() > 0
	}, time.Second, 5*time.Millisecond, "running loop must eventually fan out at least one delta")

	cancel()
	<-done
}

func TestPausedLoopDoesNotAdvance(t *testing.T) {
	loop, agent := newTestLoop(t)
	sub := &recordingSubscriber{}
	require.NoError(t, loop.Subscribe(NewSubscriberID(), agent, sub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, sub.deltaCount(), "a paused loop must not tick")

	cancel()
	<-done
}

func TestUnsubscribeStopsFurtherDeltas(t *testing.T) {
	loop, agent := newTestLoop(t)
	sub := &recordingSubscriber{}
	id := NewSubscriberID()
	require.NoError(t, loop.Subscribe(id, agent, sub))
	loop.Unsubscribe(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	loop.Start()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sub.deltaCount(), "unsubscribed subscriber must receive no further deltas")

	cancel()
	<-done
}
