package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/marketsync/internal/chart"
)

// ChartSource provides the charts to refetch.
type ChartSource interface {
	List() []chart.Chart
}

// Hours reports whether an instrument's venue is trading.
type Hours interface {
	MarketOpen(symbol string, t time.Time) bool
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Refetch interval; 0 disables the poller
	Concurrency int           // Max concurrent refetches (default: 4)
	Timeout     time.Duration // Per-refetch timeout (default: 45s)
	SkipClosed  bool          // Skip charts whose market is closed
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     45 * time.Second,
		SkipClosed:  true,
	}
}

// Poller periodically refetches history for every chart.
type Poller struct {
	cfg    Config
	charts ChartSource
	hours  Hours
	clock  clock.Clock
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. hours may be nil, in which case no chart is skipped.
func New(cfg Config, charts ChartSource, hours Hours, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:    cfg,
		charts: charts,
		hours:  hours,
		clock:  clock.New(),
		logger: logger,
	}
}

// Start begins the polling loop. It does nothing when Interval is 0.
func (p *Poller) Start(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		p.logger.Info("reconciliation poller disabled")
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("reconciliation poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("reconciliation poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := p.clock.Ticker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll refetches every eligible chart concurrently.
func (p *Poller) pollAll() {
	start := p.clock.Now()

	charts := p.charts.List()
	if len(charts) == 0 {
		p.logger.Debug("no charts to refetch")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var refetched, skipped, errors atomic.Int64

	for _, ch := range charts {
		key := ch.Snapshot().Key
		if key.IsZero() {
			skipped.Add(1)
			continue
		}
		if p.cfg.SkipClosed && p.hours != nil && !p.hours.MarketOpen(key.Instrument, start) {
			p.logger.Debug("market closed, skipping refetch", "chart", ch.ID(), "instrument", key.Instrument)
			skipped.Add(1)
			continue
		}

		wg.Add(1)
		go func(ch chart.Chart) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
			defer cancel()

			if err := ch.Refetch(ctx); err != nil {
				p.logger.Warn("failed to refetch chart",
					"chart", ch.ID(),
					"err", err,
				)
				errors.Add(1)
				return
			}

			refetched.Add(1)
		}(ch)
	}

	wg.Wait()

	p.logger.Info("refetch cycle complete",
		"charts", len(charts),
		"refetched", refetched.Load(),
		"skipped", skipped.Load(),
		"errors", errors.Load(),
		"duration", p.clock.Since(start),
	)
}
