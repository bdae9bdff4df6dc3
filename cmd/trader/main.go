package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"market_maker/internal/config"
	"market_maker/internal/core"
	"market_maker/internal/exchange/binance"
	"market_maker/internal/gridengine"
	"market_maker/internal/notify"
	"market_maker/internal/observability"
	"market_maker/internal/ordertracker"
	"market_maker/internal/scheduler"
	"market_maker/pkg/concurrency"
	"market_maker/pkg/logging"
	"market_maker/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run())
}

// run wires up the process and returns the exit code: 0 on a clean
// signal-triggered shutdown, non-zero on any startup failure.
func run() int {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger, err := logging.NewZapLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	logger.Info("starting", "config", cfg.String())

	tel, err := telemetry.Setup("grid-trader")
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exchangeAdapter := binance.NewAdapter(cfg, logger)
	if err := exchangeAdapter.SyncTime(ctx); err != nil {
		logger.Error("initial time sync failed", "error", err)
		return 1
	}
	if err := exchangeAdapter.LoadMarkets(ctx); err != nil {
		logger.Error("failed to load market catalogue", "error", err)
		return 1
	}

	notifier := notify.New(logger)

	// Per-symbol startup (load ledger, resolve market spec, reconcile
	// fills, initial rebalance) fans out across a bounded pool so one
	// symbol's slow REST round trip doesn't serialize the rest.
	initPool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "engine-init",
		MaxWorkers: len(cfg.Symbols),
	}, logger)
	defer initPool.Stop()

	engineResults := make([]*gridengine.Engine, len(cfg.Symbols))
	initErrors := make([]error, len(cfg.Symbols))
	var initWg sync.WaitGroup
	for i, symbol := range cfg.Symbols {
		i, symbol := i, symbol
		initWg.Add(1)
		if err := initPool.Submit(func() {
			defer initWg.Done()
			tracker, err := ordertracker.New(ordertracker.TradesPath(cfg.StateDir, symbol.FileStem()), logger)
			if err != nil {
				initErrors[i] = fmt.Errorf("%s: open trade ledger: %w", symbol.String(), err)
				return
			}

			engine := gridengine.New(symbol, cfg, logger, exchangeAdapter, tracker, notifier)
			if err := engine.Init(ctx); err != nil {
				initErrors[i] = fmt.Errorf("%s: init: %w", symbol.String(), err)
				return
			}
			engineResults[i] = engine
		}); err != nil {
			initWg.Done()
			initErrors[i] = fmt.Errorf("%s: %w", symbol.String(), err)
		}
	}
	initWg.Wait()

	engines := make([]*gridengine.Engine, 0, len(cfg.Symbols))
	snapshots := make([]observability.Snapshotter, 0, len(cfg.Symbols))
	for i, engine := range engineResults {
		if initErrors[i] != nil {
			logger.Error("engine initialization failed", "error", initErrors[i])
			return 1
		}
		engines = append(engines, engine)
		snapshots = append(snapshots, engine)
	}

	quote := cfg.Symbols[0].Quote
	sched := scheduler.New(logger, exchangeAdapter, engines, quote)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}
	go serveMetrics(metricsSrv, logger)

	observeSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ObservePort), Handler: observability.Mux(logger, snapshots)}
	go serveObserve(observeSrv, logger)

	runErr := sched.Run(ctx)

	_ = metricsSrv.Close()
	_ = observeSrv.Close()
	_ = tel.Shutdown(context.Background())

	if runErr != nil && ctx.Err() == nil {
		logger.Error("scheduler stopped with error", "error", runErr)
		return 1
	}
	logger.Info("shut down gracefully")
	return 0
}

func serveMetrics(srv *http.Server, logger core.ILogger) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", "error", err)
	}
}

func serveObserve(srv *http.Server, logger core.ILogger) {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("observability server stopped", "error", err)
	}
}
