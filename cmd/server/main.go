// Command server runs the synthetic FX market-data feed: it seeds a fixed
// set of FX instruments and order books, drives a regime-based generator at
// a configured rate, and publishes every resulting event over UDP multicast
// alongside periodic snapshots and heartbeats, until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fxmdfeed/reutersfeed/internal/bookmanager"
	"github.com/fxmdfeed/reutersfeed/internal/codec"
	"github.com/fxmdfeed/reutersfeed/internal/config"
	"github.com/fxmdfeed/reutersfeed/internal/generator"
	"github.com/fxmdfeed/reutersfeed/internal/metrics"
	"github.com/fxmdfeed/reutersfeed/internal/publisher"
	"github.com/fxmdfeed/reutersfeed/internal/resilience"
	"github.com/fxmdfeed/reutersfeed/internal/workerpool"
	"github.com/fxmdfeed/reutersfeed/pkg/types"
)

const (
	defaultConfigPath = "config/reuters_config.json"
	defaultTCPPort    = 11501
)

func main() {
	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	tcpPort := defaultTCPPort
	if len(os.Args) > 2 {
		p, err := strconv.Atoi(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid tcp_port %q: %v\n", os.Args[2], err)
			os.Exit(1)
		}
		tcpPort = p
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", zap.String("path", configPath), zap.Error(err))
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("invalid config", zap.String("path", configPath), zap.Error(err))
		os.Exit(1)
	}

	app := fx.New(
		fx.Supply(logger),
		fx.Supply(cfg),
		fx.Supply(tcpPort),
		resilience.Module,
		workerpool.Module,
		metrics.Module,
		fx.Provide(bookmanager.New),
		fx.Provide(newGenerator),
		publisher.Module,
		fx.Invoke(runServer),
	)

	if err := app.Err(); err != nil {
		logger.Error("failed to initialize server", zap.Error(err))
		os.Exit(1)
	}

	app.Run()
}

// newGenerator builds the generator bound to manager, always starting in
// the normal regime. Operators retune via the config's interval fields
// rather than a separate regime flag.
func newGenerator(manager *bookmanager.Manager) (*generator.Generator, error) {
	return generator.New(manager, generator.RegimeNormal)
}

// fxInstrument is one seed instrument plus the synthetic two-sided market
// the driver primes its book with at startup.
type fxInstrument struct {
	id            uint32
	symbol        string
	tickSize      float64
	initialPrice  float64
	initialSpread float64
}

// seedInstruments mirrors the fixed FX universe the original server wires
// up at startup.
var seedInstruments = []fxInstrument{
	{id: 1001, symbol: "EURUSD", tickSize: 0.00001, initialPrice: 1.0850, initialSpread: 0.00002},
	{id: 1002, symbol: "GBPUSD", tickSize: 0.00001, initialPrice: 1.2650, initialSpread: 0.00003},
	{id: 1003, symbol: "USDJPY", tickSize: 0.001, initialPrice: 149.50, initialSpread: 0.002},
	{id: 1004, symbol: "USDCHF", tickSize: 0.00001, initialPrice: 0.8950, initialSpread: 0.00002},
	{id: 1005, symbol: "AUDUSD", tickSize: 0.00001, initialPrice: 0.6680, initialSpread: 0.00002},
	{id: 1006, symbol: "NZDUSD", tickSize: 0.00001, initialPrice: 0.6020, initialSpread: 0.00003},
	{id: 1007, symbol: "USDCAD", tickSize: 0.00001, initialPrice: 1.3620, initialSpread: 0.00002},
}

// runServer wires the fx lifecycle: it seeds instruments and books, sends
// startup security definitions, then starts the driver loop and the
// heartbeat/snapshot/stats tickers, all stopped cleanly on OnStop.
func runServer(
	lc fx.Lifecycle,
	manager *bookmanager.Manager,
	gen *generator.Generator,
	pub *publisher.Publisher,
	pool *workerpool.Factory,
	cfg *config.MulticastConfig,
	tcpPort int,
	logger *zap.Logger,
) {
	driverCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var dispatcher *publisher.AsyncDispatcher

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := seedMarket(manager); err != nil {
				return err
			}
			logger.Info("seeded FX instruments", zap.Int("count", manager.InstrumentCount()))

			if err := sendStartupSecurityDefinitions(manager, pub); err != nil {
				return err
			}
			logger.Info("sent startup security definitions")

			if cfg.AsyncDispatch {
				dispatcher = publisher.NewAsyncDispatcher(pub, logger)
				if err := dispatcher.Start(driverCtx); err != nil {
					return err
				}
				logger.Info("async dispatch enabled: incremental publishes route through per-channel queues")
			}

			logger.Info("reuters multicast server ready",
				zap.Int("legacy_tcp_port", tcpPort),
				zap.Uint32("incremental_interval_ms", cfg.IncrementalIntervalMS),
				zap.Uint32("snapshot_interval_seconds", cfg.SnapshotIntervalSeconds),
				zap.Uint32("heartbeat_interval_seconds", cfg.HeartbeatIntervalSeconds),
				zap.Bool("async_dispatch", cfg.AsyncDispatch),
			)

			wg.Add(1)
			go func() {
				defer wg.Done()
				driveMarket(driverCtx, manager, gen, pub, dispatcher, cfg, logger)
			}()

			wg.Add(1)
			go func() {
				defer wg.Done()
				runHeartbeats(driverCtx, pub, cfg, logger)
			}()

			wg.Add(1)
			go func() {
				defer wg.Done()
				runSnapshots(driverCtx, manager, pub, pool, cfg, logger)
			}()

			wg.Add(1)
			go func() {
				defer wg.Done()
				runStatsLog(driverCtx, gen, pub, logger)
			}()

			return nil
		},
		OnStop: func(context.Context) error {
			logger.Info("shutting down reuters multicast server")
			cancel()
			wg.Wait()

			if dispatcher != nil {
				if err := dispatcher.Close(); err != nil {
					logger.Warn("async dispatcher close failed", zap.Error(err))
				}
			}

			pub.Shutdown(cfg.ConflationIntervalMS)

			printFinalStatistics(gen, pub)
			return nil
		},
	})
}

// seedMarket registers every FX instrument, creates its book, and primes a
// synthetic two-sided top of book so the generator always has a market to
// trade against from the first tick.
func seedMarket(manager *bookmanager.Manager) error {
	for _, s := range seedInstruments {
		instr := types.NewInstrument(s.id, s.symbol, types.KindFXSpot)
		instr.TickSize = s.tickSize
		instr.MinPriceIncrement = s.tickSize
		instr.FXSpot = &types.FXSpotDetails{
			BaseCurrency:    s.symbol[:3],
			QuoteCurrency:   s.symbol[3:],
			StandardLotSize: 1_000_000,
		}
		instr.SetProperty("initial_price", s.initialPrice)
		instr.SetProperty("initial_spread", s.initialSpread)

		if err := manager.AddInstrument(instr); err != nil {
			return err
		}
		if err := manager.CreateOrderBook(s.id); err != nil {
			return err
		}

		half := s.initialSpread / 2
		now := uint64(time.Now().UnixNano())
		manager.ApplyEvent(types.QuoteUpdate{
			EventBase: types.EventBase{InstrumentID: s.id, TsNs: now},
			Side:      types.SideBid,
			Price:     s.initialPrice - half,
			Quantity:  1_000_000,
			Action:    types.ActionAdd,
		})
		manager.ApplyEvent(types.QuoteUpdate{
			EventBase: types.EventBase{InstrumentID: s.id, TsNs: now},
			Side:      types.SideAsk,
			Price:     s.initialPrice + half,
			Quantity:  1_000_000,
			Action:    types.ActionAdd,
		})
	}
	return nil
}

// sendStartupSecurityDefinitions publishes one definition per registered
// instrument before the main loop starts, matching the original server's
// send_security_definitions-before-serving ordering.
func sendStartupSecurityDefinitions(manager *bookmanager.Manager, pub *publisher.Publisher) error {
	for _, instr := range manager.Instruments() {
		def := securityDefinitionFor(instr)
		if err := pub.PublishSecurityDefinition(def); err != nil {
			return err
		}
	}
	return nil
}

func securityDefinitionFor(instr *types.Instrument) codec.SecurityDefinition {
	return codec.SecurityDefinition{
		SecurityUpdateAction: 0,
		LastUpdateTimeNs:     uint64(time.Now().UnixNano()),
		Symbol:               instr.Symbol,
		SecurityID:           int32(instr.ID),
		SecurityType:         securityTypeCodeForSeed(instr.Kind),
		PricePrecision:       5,
		SizePrecision:        0,
		DepthOfBook:          10,
	}
}

func securityTypeCodeForSeed(kind types.Kind) int8 {
	if kind == types.KindFXSpot {
		return 1
	}
	return 0
}

// driveMarket is the single main-thread tick loop: it paces itself with a
// rate limiter instead of a raw sleep-loop, shuffles the instrument set
// each tick, and drives at most two instruments per tick, the original
// server's reduced-frequency fan-out rather than updating every
// instrument on every tick. When dispatcher is non-nil, publishes are
// enqueued onto its per-channel queues instead of sent inline.
func driveMarket(ctx context.Context, manager *bookmanager.Manager, gen *generator.Generator, pub *publisher.Publisher, dispatcher *publisher.AsyncDispatcher, cfg *config.MulticastConfig, logger *zap.Logger) {
	interval := time.Duration(cfg.IncrementalIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		ids := manager.InstrumentIDs()
		if len(ids) == 0 {
			continue
		}
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

		n := 2
		if len(ids) < n {
			n = len(ids)
		}
		for _, id := range ids[:n] {
			event, ok, err := gen.GenerateUpdate(id)
			if err != nil {
				logger.Warn("generator failed", zap.Uint32("instrument_id", id), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			if dispatcher != nil {
				if err := dispatcher.Dispatch(event); err != nil {
					logger.Warn("async dispatch failed", zap.Uint32("instrument_id", id), zap.Error(err))
				}
				continue
			}
			if err := pub.PublishIncremental(event); err != nil {
				logger.Warn("publish failed", zap.Uint32("instrument_id", id), zap.Error(err))
			}
		}
	}
}

func runHeartbeats(ctx context.Context, pub *publisher.Publisher, cfg *config.MulticastConfig, logger *zap.Logger) {
	interval := time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pub.SendHeartbeats()
		}
	}
}

// runSnapshots fans the per-instrument snapshot build+publish across a
// bounded worker pool so a slow transport send on one instrument cannot
// delay the others.
func runSnapshots(ctx context.Context, manager *bookmanager.Manager, pub *publisher.Publisher, pool *workerpool.Factory, cfg *config.MulticastConfig, logger *zap.Logger) {
	interval := time.Duration(cfg.SnapshotIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	depth := int(cfg.BookDepth)
	if depth <= 0 {
		depth = 10
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range manager.InstrumentIDs() {
				id := id
				err := pool.Submit("snapshot", 8, func() {
					instr, ok := manager.Instrument(id)
					if !ok {
						return
					}
					snap, err := manager.CreateSnapshot(id, depth)
					if err != nil {
						logger.Warn("snapshot build failed", zap.Uint32("instrument_id", id), zap.Error(err))
						return
					}
					if err := pub.PublishSnapshot(instr, snap); err != nil {
						logger.Warn("snapshot publish failed", zap.Uint32("instrument_id", id), zap.Error(err))
					}
				})
				if err != nil {
					logger.Warn("snapshot task rejected", zap.Uint32("instrument_id", id), zap.Error(err))
				}
			}
		}
	}
}

// runStatsLog reproduces the original server's periodic console statistics
// line as a structured zap log every 10 seconds.
func runStatsLog(ctx context.Context, gen *generator.Generator, pub *publisher.Publisher, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			genStats := gen.Stats()
			pubStats := pub.Stats()
			uptime := time.Since(genStats.StartTime).Round(time.Second)
			logger.Info("stats",
				zap.Duration("uptime", uptime),
				zap.Uint64("updates_generated", genStats.UpdatesGenerated),
				zap.Uint64("trades_generated", genStats.TradesGenerated),
				zap.Uint64("quotes_generated", genStats.QuotesGenerated),
				zap.Uint64("messages_sent_a", pubStats.MessagesSentA),
				zap.Uint64("messages_sent_b", pubStats.MessagesSentB),
				zap.Uint64("send_errors", pubStats.SendErrors),
			)
		}
	}
}

// printFinalStatistics prints an uptime + counters snapshot to stdout on
// clean shutdown, the Go equivalent of the original server's final
// "Statistics:" block.
func printFinalStatistics(gen *generator.Generator, pub *publisher.Publisher) {
	genStats := gen.Stats()
	pubStats := pub.Stats()
	uptime := time.Since(genStats.StartTime).Round(time.Second)

	fmt.Println()
	fmt.Println("Final Statistics:")
	fmt.Printf("  Uptime: %s\n", uptime)
	fmt.Printf("  Updates generated: %d (quotes=%d, trades=%d, trades_skipped=%d)\n",
		genStats.UpdatesGenerated, genStats.QuotesGenerated, genStats.TradesGenerated, genStats.TradesSkipped)
	fmt.Printf("  Messages sent: A=%d B=%d\n", pubStats.MessagesSentA, pubStats.MessagesSentB)
	fmt.Printf("  Snapshots sent: %d\n", pubStats.SnapshotsSent)
	fmt.Printf("  Security definitions sent: %d\n", pubStats.DefinitionsSent)
	fmt.Printf("  Heartbeats sent: %d\n", pubStats.HeartbeatsSent)
	fmt.Printf("  Bytes sent: %d\n", pubStats.BytesSent)
	fmt.Printf("  Send errors: %d\n", pubStats.SendErrors)
	fmt.Printf("  Encode drops: %d\n", pubStats.EncodeDrops)
	fmt.Println("Reuters multicast server shutdown complete.")
}
