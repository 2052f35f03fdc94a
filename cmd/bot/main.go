package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vitos/option_trade_exit/internal/config"
	"github.com/vitos/option_trade_exit/internal/domain"
	"github.com/vitos/option_trade_exit/internal/infrastructure/broker"
	"github.com/vitos/option_trade_exit/internal/infrastructure/feed"
	"github.com/vitos/option_trade_exit/internal/infrastructure/logger"
	"github.com/vitos/option_trade_exit/internal/infrastructure/metrics"
	"github.com/vitos/option_trade_exit/internal/infrastructure/storage"
	"github.com/vitos/option_trade_exit/internal/usecase"
	"github.com/vitos/option_trade_exit/internal/web"
	"go.uber.org/zap"
)

// loopState tracks the per-evaluation scalars the orchestrator does not
// own: the previous theta reading and the win/loss streaks across trades.
type loopState struct {
	mu          sync.Mutex
	lastTheta   float64
	lastThetaAt time.Time
	vix         float64
	losses      int
	wins        int
}

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Journal
	journal, err := storage.NewSQLiteJournal(cfg.Journal.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite journal", zap.Error(err))
	}
	defer journal.Close()

	// 4. Init Feed and Broker
	chainFeed := feed.NewChainFeed(cfg.Feed.WSEndpoint, cfg.Feed.RESTEndpoint, log)
	paperBroker := broker.NewPaperBroker(log)

	// 5. Init Exit Engines and Orchestrator. Exit decisions go to their
	// own audit log when one is configured.
	tradeLog := log
	if cfg.Logging.TradeFile != "" {
		tradeLog, err = logger.NewFileLogger(cfg.Logging.TradeFile, cfg.Logging.Level)
		if err != nil {
			log.Fatal("Failed to init trade logger", zap.Error(err))
		}
		defer tradeLog.Sync()
	}

	svc := usecase.NewExitService(
		cfg.Exit.Orchestrator,
		usecase.NewTrailingStopEngine(cfg.Exit.Trailing, tradeLog),
		usecase.NewPartialExitEngine(cfg.Exit.Partial, tradeLog),
		usecase.NewThetaExitEngine(cfg.Exit.Theta, tradeLog),
		usecase.NewTimeExitEngine(cfg.Exit.TimeExit, tradeLog),
		usecase.NewCooldownEngine(cfg.Exit.Cooldown, tradeLog),
		usecase.NewOIReversalDetector(cfg.Exit.Reversal, tradeLog),
		journal,
		usecase.NewTradeExecutor(paperBroker),
		tradeLog,
	)

	state := &loopState{}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	// 6. Connect Feed and Drive the Evaluation Loop
	chainFeed.OnTick(func(t domain.MarketTick) {
		metrics.IncTick()

		state.mu.Lock()
		state.vix = t.VolatilityIndex
		state.mu.Unlock()

		if !svc.UpdateMarketTick(t) {
			return
		}
		evaluate(context.Background(), svc, state, log, t.Price, t.Greeks.Theta, t.Time)
	})

	if len(cfg.Feed.Symbols) > 0 {
		if err := chainFeed.Subscribe(cfg.Feed.Symbols); err != nil {
			log.Error("Failed to subscribe chain feed", zap.Error(err))
		}
	}

	// Safety Monitor Loop (Every 1s). Time-forced exits must fire even
	// when the feed goes quiet between ticks. The monitor quits on done,
	// never on the signal channel: signal.Notify delivers one value per
	// signal and main must be the one to receive it.
	go safetyMonitor(done, 1*time.Second, func() {
		status := svc.ActiveTradeStatus()
		if !status.HasActiveTrade {
			return
		}
		state.mu.Lock()
		theta := state.lastTheta
		state.mu.Unlock()
		evaluate(context.Background(), svc, state, log, status.CurrentPrice, theta, time.Now())
	})

	// 7. Init Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, svc, journal, chainFeed, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Web server failed", zap.Error(err))
		}
	}()

	log.Info("exit manager started", zap.Int("port", port), zap.Strings("symbols", cfg.Feed.Symbols))

	// 8. Wait for Shutdown
	<-stop
	close(done)
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
	if err := chainFeed.Close(); err != nil {
		log.Error("Feed close failed", zap.Error(err))
	}
	svc.PrintSessionSummary(context.Background())
}

// safetyMonitor runs step on a fixed interval until done is closed.
func safetyMonitor(done <-chan struct{}, interval time.Duration, step func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			step()
		case <-done:
			return
		}
	}
}

// evaluate runs one arbitration pass and executes the winning exit.
func evaluate(ctx context.Context, svc *usecase.ExitService, state *loopState, log *zap.Logger, price, theta float64, now time.Time) {
	state.mu.Lock()
	thetaPrev := state.lastTheta
	sinceUpdate := now.Sub(state.lastThetaAt)
	if state.lastThetaAt.IsZero() {
		thetaPrev = theta
		sinceUpdate = 0
	}
	in := usecase.EvalInput{
		ThetaPrev:         thetaPrev,
		TimeSinceUpdate:   sinceUpdate,
		VolatilityIndex:   state.vix,
		ConsecutiveLosses: state.losses,
		ConsecutiveWins:   state.wins,
		Now:               now,
	}
	state.lastTheta = theta
	state.lastThetaAt = now
	state.mu.Unlock()

	summary := svc.CheckAllExitSignals(in)
	if !summary.ShouldExit {
		return
	}
	metrics.IncSignal(string(summary.Kind))

	side := svc.ActiveTradeStatus().Side
	ok, result := svc.ExecuteExit(ctx, price, now, summary.Kind, summary.PrimaryReason, 0)
	if !ok {
		log.Error("Exit execution failed", zap.String("detail", result))
		return
	}
	log.Info("Exit executed", zap.String("detail", result))
	metrics.IncExit(string(summary.Kind), string(side))

	// A partial exit leaves the trade running; only a full close moves
	// the streaks and arms a cooldown.
	if svc.ActiveTradeStatus().HasActiveTrade {
		return
	}

	state.mu.Lock()
	if rec := svc.LastClosedTrade(); rec != nil {
		metrics.AddRealizedPnL(rec.RealizedPnL)
		if rec.RealizedPnL <= 0 {
			state.losses++
			state.wins = 0
		} else {
			state.wins++
			state.losses = 0
		}
	}
	state.mu.Unlock()

	if cd, _ := svc.CooldownStatus(now); cd.Duration > 0 {
		metrics.SetCooldownSeconds(cd.Duration.Seconds())
	}
}
