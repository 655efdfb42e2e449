package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	"marketsim/internal/broadcast"
	. "marketsim/internal/common"
	"marketsim/internal/kernel"
	"marketsim/internal/worker"
)

const (
	maxRecvSize     = 4 * 1024
	defaultNWorkers = 10
	connTimeout     = time.Second
)

var ErrImproperConversion = errors.New("improper type conversion")

// clientMessage links a raw inbound frame to the connection it arrived on.
type clientMessage struct {
	conn net.Conn
	msg  Message
}

// connSubscriber adapts one TCP connection to broadcast.Subscriber: on
// every tick it writes execution reports for transactions touching its
// user, and on admin transitions it writes a lifecycle notice.
type connSubscriber struct {
	conn     net.Conn
	userID   UserID
	username string
	tickers  map[SecurityID]string
}

func (c connSubscriber) OnSnapshot(load broadcast.SimulationLoad) error {
	r := adminReport(load.SimulationState, load.Tick)
	_, err := c.conn.Write(r.Serialize())
	return err
}

func (c connSubscriber) OnAdmin(update broadcast.SimulationUpdate) error {
	r := adminReport(update.SimulationState, update.Tick)
	_, err := c.conn.Write(r.Serialize())
	return err
}

func (c connSubscriber) OnDelta(update broadcast.MarketUpdate) error {
	for _, tx := range update.NewTransactions {
		if tx.BuyerID != c.userID && tx.SellerID != c.userID {
			continue
		}
		buyer, seller := tradeReports(tx, c.tickers[tx.SecurityID], "", "")
		r := buyer
		if tx.SellerID == c.userID {
			r = seller
		}
		if _, err := c.conn.Write(r.Serialize()); err != nil {
			return err
		}
	}
	return nil
}

// Server is a minimal TCP front end over the kernel and broadcast loop: it
// accepts connections, parses NewOrder/CancelOrder frames, and submits them
// directly to the kernel. Matching itself only happens at the broadcast
// loop's tick boundary, never on receipt (spec §5): a submitted order rests
// until the next AdvanceTick.
//
// Adapted from the teacher's internal/net.Server: the Engine interface
// there (PlaceOrder/CancelOrder/LogBook keyed on AssetType) is replaced by
// direct kernel calls keyed on SecurityID, and per-connection subscriptions
// replace the teacher's username-keyed ReportTrade broadcast.
type Server struct {
	log     zerolog.Logger
	address string
	kernel  *kernel.Kernel
	loop    *broadcast.Loop
	pool    worker.Pool

	mu       sync.Mutex
	sessions map[string]net.Conn

	inbound chan clientMessage
	tickers map[SecurityID]string
}

// New builds a transport server bound to a kernel and the broadcast loop
// that drives it. The security->ticker mapping is resolved once up front:
// securities are registered at startup and never renamed at runtime, so a
// connSubscriber can always label a fill correctly even once its book
// empties out and no longer carries the ticker itself.
func New(log zerolog.Logger, address string, k *kernel.Kernel, loop *broadcast.Loop) *Server {
	tickers := make(map[SecurityID]string)
	for _, sec := range k.Securities() {
		tickers[sec.SecurityID] = sec.Ticker
	}
	return &Server{
		log:      log,
		address:  address,
		kernel:   k,
		loop:     loop,
		pool:     worker.New(defaultNWorkers),
		sessions: make(map[string]net.Conn),
		inbound:  make(chan clientMessage, 16),
		tickers:  tickers,
	}
}

// Run listens on s.address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.dispatchLoop(t)
	})

	s.log.Info().Str("address", s.address).Msg("transport listening")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Dying():
			return t.Err()
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					s.log.Error().Err(err).Msg("accept failed")
					continue
				}
			}
			s.pool.AddTask(conn)
		}
	}
}

func (s *Server) dispatchLoop(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case cm := <-s.inbound:
			if err := s.handleMessage(cm); err != nil {
				s.log.Warn().Err(err).Msg("rejecting client message")
				r := errorReport(err)
				cm.conn.Write(r.Serialize())
			}
		}
	}
}

func (s *Server) handleMessage(cm clientMessage) error {
	switch m := cm.msg.(type) {
	case NewOrderMessage:
		return s.handleNewOrder(cm.conn, m)
	case CancelOrderMessage:
		return s.handleCancel(cm.conn, m)
	default:
		return ErrInvalidMessageType
	}
}

func (s *Server) handleNewOrder(conn net.Conn, m NewOrderMessage) error {
	userID, ok := s.kernel.UserIDByName(m.Username)
	if !ok {
		userID = s.kernel.AddUser(m.Username)
	}
	s.ensureSubscribed(conn, userID, m.Username)

	secID, ok := s.kernel.SecurityIDByTicker(m.Ticker)
	if !ok {
		return fmt.Errorf("unknown ticker %q", m.Ticker)
	}

	_, err := s.kernel.SubmitLimitOrder(userID, secID, m.Side, m.Price(), m.Quantity)
	return err
}

func (s *Server) handleCancel(conn net.Conn, m CancelOrderMessage) error {
	userID, ok := s.kernel.UserIDByName(m.Username)
	if !ok {
		return fmt.Errorf("unknown user %q", m.Username)
	}
	// The wire protocol does not carry a ticker on cancel; the caller is
	// expected to retry against each security it holds open orders on in
	// a real client. Here we search every registered security.
	for _, sec := range s.kernel.Securities() {
		if err := s.kernel.SubmitCancelOrder(userID, sec.SecurityID, m.OrderID); err == nil {
			return nil
		}
	}
	return ErrNotFound
}

func (s *Server) ensureSubscribed(conn net.Conn, userID UserID, username string) {
	key := conn.RemoteAddr().String()
	s.mu.Lock()
	_, already := s.sessions[key]
	if !already {
		s.sessions[key] = conn
	}
	s.mu.Unlock()
	if already {
		return
	}
	sub := connSubscriber{conn: conn, userID: userID, username: username, tickers: s.tickers}
	if err := s.loop.Subscribe(broadcast.NewSubscriberID(), userID, sub); err != nil {
		s.log.Warn().Err(err).Str("address", key).Msg("subscribe failed")
	}
}

// handleConnection reads one frame from conn and forwards it for handling.
// It requeues the connection on the pool's shared task queue so a worker
// can service its next frame, matching the teacher's read-dispatch-requeue
// loop.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetReadDeadline(time.Now().Add(connTimeout)); err != nil {
		conn.Close()
		return nil
	}

	buf := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
	}

	n, err := conn.Read(buf)
	if err != nil {
		s.closeSession(conn)
		return nil
	}

	msg, err := ParseMessage(buf[:n])
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping unparseable frame")
		s.closeSession(conn)
		return nil
	}

	s.inbound <- clientMessage{conn: conn, msg: msg}
	s.pool.AddTask(conn)
	return nil
}

func (s *Server) closeSession(conn net.Conn) {
	s.mu.Lock()
	delete(s.sessions, conn.RemoteAddr().String())
	s.mu.Unlock()
	conn.Close()
}
