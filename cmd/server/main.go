// Command server is the composition root: it loads configuration, wires
// the kernel, the Biotech scenario controller, the broadcast loop, and a
// reference TCP transport, and runs until signalled. Grounded in the
// teacher's cmd/server/server.go (signal-based shutdown context). The
// admin reader here is a trivial stand-in for the interactive terminal,
// explicitly out of scope (spec §1) — a real deployment replaces it with
// a readline-based admin console.
package main

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"marketsim/internal/broadcast"
	. "marketsim/internal/common"
	"marketsim/internal/config"
	"marketsim/internal/kernel"
	"marketsim/internal/scenario"
	"marketsim/internal/transport"
)

// stdinAdminReader is the minimal AdminReader that makes the binary
// runnable from a terminal; the spec excludes the real interactive reader
// from this module's scope.
type stdinAdminReader struct {
	scanner *bufio.Scanner
}

func (r *stdinAdminReader) ReadCommand() (string, error) {
	if !r.scanner.Scan() {
		return "", r.scanner.Err()
	}
	return strings.TrimSpace(r.scanner.Text()), nil
}

// logSubscriber is a no-op Subscriber that just logs deltas, standing in
// for a real transport when none is attached.
type logSubscriber struct {
	log zerolog.Logger
}

func (s logSubscriber) OnSnapshot(load broadcast.SimulationLoad) error {
	s.log.Info().Str("state", load.SimulationState).Int64("tick", int64(load.Tick)).Msg("simulation_load")
	return nil
}

func (s logSubscriber) OnDelta(update broadcast.MarketUpdate) error {
	s.log.Info().Int64("tick", int64(update.Tick)).Int("transactions", len(update.NewTransactions)).Msg("market_update")
	return nil
}

func (s logSubscriber) OnAdmin(update broadcast.SimulationUpdate) error {
	s.log.Info().Str("state", update.SimulationState).Msg("simulation_update")
	return nil
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	cfg := config.Default()
	if path := os.Getenv("MKTSIM_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Error().Err(err).Msg("unable to load config, using defaults")
		} else {
			cfg = loaded
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	k := kernel.New(log, Tick(cfg.TotalSteps))
	security := k.AddSecurity(Security{
		Ticker:        cfg.Biotech.Ticker,
		DecimalPlaces: cfg.Biotech.DecimalPlaces,
	})
	agent := k.AddUser(cfg.AgentUsername)

	rng := rand.New(rand.NewSource(cfg.Biotech.Seed))
	controller := scenario.NewBiotech(log, scenario.BiotechParams{
		InitialPrice:        cfg.Biotech.InitialPrice,
		UpPrice:             cfg.Biotech.UpPrice,
		DownPrice:           cfg.Biotech.DownPrice,
		PreliminaryGoodProb: cfg.Biotech.PreliminaryGoodProb,
		FDAGoodGivenGood:    cfg.Biotech.FDAGoodGivenGood,
		FDAGoodGivenBad:     cfg.Biotech.FDAGoodGivenBad,
		BaseSigma:           cfg.Biotech.BaseSigma,
		Spread:              cfg.Biotech.Spread,
		VolMin:              cfg.Biotech.VolMin,
		VolMax:              cfg.Biotech.VolMax,
		OrdersPerTick:       cfg.Biotech.OrdersPerTick,
		RemovalFraction:     cfg.Biotech.RemovalFraction,
		InitialOrders:       cfg.Biotech.InitialOrders,
		DecimalPlaces:       cfg.Biotech.DecimalPlaces,
	}, security, agent, Tick(cfg.TotalSteps), Tick(cfg.ExtraSteps), rng)

	loop := broadcast.New(log, k, controller, cfg.TickPeriod)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	subID := broadcast.NewSubscriberID()
	if err := loop.Subscribe(subID, agent, logSubscriber{log: log}); err != nil {
		log.Error().Err(err).Msg("unable to attach log subscriber")
		os.Exit(1)
	}

	reader := &stdinAdminReader{scanner: bufio.NewScanner(os.Stdin)}
	go runAdminConsole(ctx, log, loop, reader)

	tcp := transport.New(log, cfg.ListenAddress, k, loop)
	go func() {
		if err := tcp.Run(ctx); err != nil {
			log.Error().Err(err).Msg("transport server exited with error")
		}
	}()

	log.Info().Str("listen_address", cfg.ListenAddress).Msg("server running (admin console on stdin: start/pause)")
	if err := loop.Run(ctx); err != nil {
		log.Error().Err(err).Msg("broadcast loop exited with error")
		os.Exit(1)
	}
}

func runAdminConsole(ctx context.Context, log zerolog.Logger, loop *broadcast.Loop, reader *stdinAdminReader) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		cmd, err := reader.ReadCommand()
		if err != nil {
			return
		}
		switch cmd {
		case "start":
			loop.Start()
		case "pause":
			loop.Pause()
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %q (expected start|pause)\n", cmd)
		}
	}
}
