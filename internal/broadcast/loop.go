package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	. "marketsim/internal/common"
	"marketsim/internal/kernel"
	"marketsim/internal/scenario"
	"marketsim/internal/worker"
)

const defaultFanoutWorkers = 10

// RunState is the loop's Paused/Running control surface (spec §4.F).
type RunState int

const (
	Paused RunState = iota
	Running
)

func (s RunState) String() string {
	if s == Running {
		return "running"
	}
	return "paused"
}

// SubscriberID identifies one connected subscriber.
type SubscriberID uuid.UUID

// NewSubscriberID mints a fresh connection identity.
func NewSubscriberID() SubscriberID { return SubscriberID(uuid.New()) }

// fanoutTask is one subscriber's delivery of one tick's delta, dispatched
// through the worker pool so a slow subscriber cannot block others.
type fanoutTask struct {
	id     SubscriberID
	sub    Subscriber
	update MarketUpdate
}

// registration pairs a connected subscriber with the logged-in user it
// represents, so per-tick portfolio snapshots can be addressed correctly.
type registration struct {
	id     SubscriberID
	sub    Subscriber
	userID UserID
}

// Loop is the paused/running tick-synchronous broadcast loop.
type Loop struct {
	log        zerolog.Logger
	kernel     *kernel.Kernel
	controller *scenario.Biotech
	tickPeriod time.Duration

	mu          sync.Mutex
	state       RunState
	subscribers map[SubscriberID]registration

	admin chan AdminCommand
	pool  worker.Pool
}

// New builds a broadcast loop wired to a kernel and a scenario controller.
func New(log zerolog.Logger, k *kernel.Kernel, controller *scenario.Biotech, tickPeriod time.Duration) *Loop {
	return &Loop{
		log:         log,
		kernel:      k,
		controller:  controller,
		tickPeriod:  tickPeriod,
		state:       Paused,
		subscribers: make(map[SubscriberID]registration),
		admin:       make(chan AdminCommand, 8),
		pool:        worker.New(defaultFanoutWorkers),
	}
}

// Start / Pause transition the loop's run state and emit a control message
// to every subscriber (spec §6 Admin CLI). They only queue the command on a
// channel that holds up to 8 pending commands (a call blocks once it is
// full); the transition takes effect when the loop next drains it, before
// the next tick (spec §5 ordering guarantee a).
func (l *Loop) Start() { l.admin <- CommandStart }
func (l *Loop) Pause() { l.admin <- CommandPause }

// Subscribe registers a new subscriber (tied to a previously logged-in
// user) and immediately sends it a full snapshot, satisfying the
// OnSnapshot-precedes-OnDelta ordering guarantee.
func (l *Loop) Subscribe(id SubscriberID, userID UserID, sub Subscriber) error {
	snapshot := l.buildSnapshot(userID)
	if err := sub.OnSnapshot(snapshot); err != nil {
		l.log.Warn().Err(err).Msg("dropping subscriber: snapshot send failed")
		return err
	}

	l.mu.Lock()
	l.subscribers[id] = registration{id: id, sub: sub, userID: userID}
	l.mu.Unlock()
	return nil
}

// Unsubscribe removes a subscriber on disconnect.
func (l *Loop) Unsubscribe(id SubscriberID) {
	l.mu.Lock()
	delete(l.subscribers, id)
	l.mu.Unlock()
}

func (l *Loop) buildSnapshot(userID UserID) SimulationLoad {
	securities := l.kernel.Securities()
	txHistory := l.kernel.TransactionHistory()
	byTicker := make(map[string][]Transaction, len(securities))
	for _, s := range securities {
		byTicker[s.Ticker] = nil
	}
	for _, tx := range txHistory {
		ticker := securities[tx.SecurityID].Ticker
		byTicker[ticker] = append(byTicker[ticker], tx)
	}

	names := make(map[UserID]string)
	for _, u := range l.kernel.Users() {
		names[u.UserID] = u.Username
	}

	return SimulationLoad{
		SimulationState:      l.state.String(),
		Tick:                 l.kernel.CurrentTick(),
		MaxTick:              l.kernel.TotalSteps(),
		AllSecurities:        securities,
		TradeableSecurities:  securities,
		SecurityInfo:         securityByTicker(securities),
		OrderBookPerSecurity: bookSnapshots(l.kernel, securities),
		Transactions:         byTicker,
		UserIDToUsername:     names,
		Portfolio:            l.portfolioByTicker(userID, securities),
	}
}

func (l *Loop) portfolioByTicker(userID UserID, securities []Security) map[string]int64 {
	snap := l.kernel.Ledger().Snapshot(userID)
	out := make(map[string]int64, len(securities))
	for _, s := range securities {
		out[s.Ticker] = snap[s.SecurityID]
	}
	return out
}

// Run drives the tick loop until ctx is cancelled. Kernel operations never
// suspend; the only suspension points are the tick sleep, admin-command
// receipt, and subscriber sends (spec §5).
func (l *Loop) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	t.Go(func() error {
		l.pool.Setup(t, l.deliverTask)
		return nil
	})

	ticker := time.NewTicker(l.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Dying():
			return t.Err()
		case cmd := <-l.admin:
			l.applyAdmin(cmd)
		case <-ticker.C:
			if l.state != Running {
				continue
			}
			l.tick()
		}
	}
}

func (l *Loop) applyAdmin(cmd AdminCommand) {
	switch cmd {
	case CommandStart:
		l.state = Running
	case CommandPause:
		l.state = Paused
	default:
		l.log.Error().Str("command", string(cmd)).Msg("unknown admin command")
		return
	}
	l.broadcastAdmin()
}

func (l *Loop) broadcastAdmin() {
	update := SimulationUpdate{SimulationState: l.state.String(), Tick: l.kernel.CurrentTick()}
	for _, reg := range l.snapshotSubscribers() {
		if err := reg.sub.OnAdmin(update); err != nil {
			l.log.Warn().Err(err).Msg("dropping subscriber: admin send failed")
			l.Unsubscribe(reg.id)
		}
	}
}

// tick asks the controller to step and fans the resulting delta out. A
// failed step (matcher or driver fault) is logged and the tick is skipped
// without advancing further state (spec §7 propagation policy).
func (l *Loop) tick() {
	result, err := l.controller.Step(l.kernel)
	if err != nil {
		l.log.Error().Err(err).Msg("tick failed, skipping")
		return
	}

	securities := l.kernel.Securities()
	books := bookSnapshots(l.kernel, securities)

	newsBlurbs := make([]string, 0, len(result.News))
	for _, n := range result.News {
		newsBlurbs = append(newsBlurbs, n.Blurb)
	}

	regs := l.snapshotSubscribers()
	for _, reg := range regs {
		update := MarketUpdate{
			Tick:                 result.Delta.Tick,
			OrderBookPerSecurity: books,
			Portfolio:            l.portfolioByTicker(reg.userID, securities),
			NewTransactions:      result.Delta.Transactions,
			NewNews:              newsBlurbs,
		}
		l.pool.AddTask(fanoutTask{id: reg.id, sub: reg.sub, update: update})
	}
}

func (l *Loop) deliverTask(_ *tomb.Tomb, task any) error {
	ft, ok := task.(fanoutTask)
	if !ok {
		return nil
	}
	if err := ft.sub.OnDelta(ft.update); err != nil {
		l.log.Warn().Err(err).Msg("dropping subscriber: delta send failed")
		l.Unsubscribe(ft.id)
	}
	return nil
}

// snapshotSubscribers copies the subscriber table so the send phase never
// iterates a map under lock (spec §5's "copy subscriber handles into a
// local list before the await-heavy send phase").
func (l *Loop) snapshotSubscribers() []registration {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]registration, 0, len(l.subscribers))
	for _, r := range l.subscribers {
		out = append(out, r)
	}
	return out
}
