// Package scheduler fans per-symbol grid engines out into their own
// goroutines alongside the shared adapter's background upkeep tasks,
// and brings everything down together on the first failure or signal.
package scheduler

import (
	"context"
	"time"

	"market_maker/internal/core"
	"market_maker/internal/gridengine"
	"market_maker/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

const (
	timeSyncInterval   = time.Hour
	valueReportInterval = 60 * time.Second
	valueChangeThreshold = 0.01
)

// Runner is anything the Scheduler can fan out into its own goroutine.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler owns the set of per-symbol engines plus the adapter-wide
// background tasks (time sync, total-value reporting) and runs them
// all under one errgroup so any one failure brings the whole process
// down cleanly.
type Scheduler struct {
	logger   core.ILogger
	exchange core.IExchange
	engines  []*gridengine.Engine
	quote    string
}

// New builds a Scheduler over an already-initialized set of engines.
func New(logger core.ILogger, xchg core.IExchange, engines []*gridengine.Engine, quoteAsset string) *Scheduler {
	return &Scheduler{logger: logger, exchange: xchg, engines: engines, quote: quoteAsset}
}

// Run starts every engine's main loop plus the two background upkeep
// tasks, and blocks until ctx is canceled or any task returns an
// error.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, e := range s.engines {
		eng := e
		g.Go(func() error {
			return eng.Run(ctx)
		})
	}

	g.Go(func() error {
		return s.runTimeSync(ctx)
	})

	g.Go(func() error {
		return s.runValueReporter(ctx)
	})

	return g.Wait()
}

// runTimeSync periodically re-syncs the adapter's server-clock offset
// so request signatures never drift outside the venue's receive
// window.
func (s *Scheduler) runTimeSync(ctx context.Context) error {
	ticker := time.NewTicker(timeSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.exchange.SyncTime(ctx); err != nil {
				s.logger.Warn("periodic time sync failed", "error", err)
			}
		}
	}
}

// runValueReporter periodically recomputes total account value and
// logs it only when it has moved by more than valueChangeThreshold
// since the last report, keeping routine polling quiet.
func (s *Scheduler) runValueReporter(ctx context.Context) error {
	ticker := time.NewTicker(valueReportInterval)
	defer ticker.Stop()

	metrics := telemetry.GetGlobalMetrics()
	var lastValue float64
	var haveLast bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			total, err := s.exchange.CalculateTotalAccountValue(ctx, s.quote)
			if err != nil {
				s.logger.Warn("total value report failed", "error", err)
				continue
			}
			value, _ := total.Float64()
			metrics.SetTotalAccountValue(s.quote, value)

			if !haveLast || relativeChange(lastValue, value) > valueChangeThreshold {
				s.logger.Info("total account value", "quote_asset", s.quote, "value", value)
				lastValue = value
				haveLast = true
			}
		}
	}
}

func relativeChange(old, updated float64) float64 {
	if old == 0 {
		if updated == 0 {
			return 0
		}
		return 1
	}
	delta := updated - old
	if delta < 0 {
		delta = -delta
	}
	return delta / old
}
