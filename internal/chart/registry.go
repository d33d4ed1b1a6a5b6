package chart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketsync/internal/controller"
	"github.com/rickgao/marketsync/internal/model"
)

var (
	ErrNotFound  = errors.New("chart not found")
	ErrDuplicate = errors.New("chart already exists")
)

// Chart is the surface of a sync controller the registry and its consumers use.
type Chart interface {
	ID() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() controller.Snapshot
	Diagnostics() controller.Diagnostics
	SetInstrument(ctx context.Context, instrument string) error
	SetTimeframe(ctx context.Context, tf model.Timeframe) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Refetch(ctx context.Context) error
}

var _ Chart = (*controller.Controller)(nil)

// Factory builds a chart for cfg. cfg.ID is always set.
type Factory func(cfg controller.Config) (Chart, error)

// Change is emitted when a chart is added or removed.
type Change struct {
	ID        string
	EventType string // "added", "removed"
}

// changeBufferSize is the capacity of the change channel.
const changeBufferSize = 100

// Registry holds the running charts.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.RWMutex
	charts  map[string]Chart
	ctx     context.Context
	running bool
	changes chan Change
}

// NewRegistry creates an empty Registry.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		logger:  logger,
		charts:  make(map[string]Chart),
		changes: make(chan Change, changeBufferSize),
	}
}

// Add builds a chart for cfg and registers it. A chart without an ID gets a
// random one. When the registry is running the chart is started.
func (r *Registry) Add(ctx context.Context, cfg controller.Config) (Chart, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	r.mu.Lock()
	if _, ok := r.charts[cfg.ID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("add %s: %w", cfg.ID, ErrDuplicate)
	}
	ch, err := r.factory(cfg)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("build chart %s: %w", cfg.ID, err)
	}
	r.charts[cfg.ID] = ch
	running, runCtx := r.running, r.ctx
	r.mu.Unlock()

	if running {
		if err := ch.Start(runCtx); err != nil {
			r.mu.Lock()
			delete(r.charts, cfg.ID)
			r.mu.Unlock()
			return nil, fmt.Errorf("start chart %s: %w", cfg.ID, err)
		}
	}

	r.notify(Change{ID: cfg.ID, EventType: "added"})
	r.logger.Info("chart added", "chart", cfg.ID, "instrument", cfg.Instrument, "timeframe", cfg.Timeframe)
	return ch, nil
}

// Get returns the chart with the given ID.
func (r *Registry) Get(id string) (Chart, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.charts[id]
	return ch, ok
}

// List returns all charts ordered by ID.
func (r *Registry) List() []Chart {
	r.mu.RLock()
	out := make([]Chart, 0, len(r.charts))
	for _, ch := range r.charts {
		out = append(out, ch)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered charts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.charts)
}

// Remove stops the chart and drops it from the registry.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	ch, ok := r.charts[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	delete(r.charts, id)
	running := r.running
	r.mu.Unlock()

	if running {
		if err := ch.Stop(ctx); err != nil {
			r.logger.Warn("chart stop failed", "chart", id, "error", err)
			return fmt.Errorf("stop chart %s: %w", id, err)
		}
	}

	r.notify(Change{ID: id, EventType: "removed"})
	r.logger.Info("chart removed", "chart", id)
	return nil
}

// StartAll starts every registered chart. Charts added later are started by Add.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.ctx = ctx
	r.running = true
	charts := make([]Chart, 0, len(r.charts))
	for _, ch := range r.charts {
		charts = append(charts, ch)
	}
	r.mu.Unlock()

	var errs []error
	for _, ch := range charts {
		if err := ch.Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("start chart %s: %w", ch.ID(), err))
		}
	}

	r.logger.Info("chart registry started", "charts", len(charts), "errors", len(errs))
	return errors.Join(errs...)
}

// StopAll stops every chart concurrently.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	r.running = false
	charts := make([]Chart, 0, len(r.charts))
	for _, ch := range r.charts {
		charts = append(charts, ch)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range charts {
		g.Go(func() error {
			if err := ch.Stop(gctx); err != nil {
				return fmt.Errorf("stop chart %s: %w", ch.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()

	r.logger.Info("chart registry stopped", "charts", len(charts))
	return err
}

// SubscribeChanges returns a channel of registry changes. Changes are dropped
// when the channel is full.
func (r *Registry) SubscribeChanges() <-chan Change {
	return r.changes
}

func (r *Registry) notify(c Change) {
	select {
	case r.changes <- c:
	default:
		r.logger.Warn("change channel full, dropping event", "chart", c.ID, "event", c.EventType)
	}
}
