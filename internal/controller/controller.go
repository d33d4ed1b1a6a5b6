package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/rickgao/marketsync/internal/connection"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/protocol"
	"github.com/rickgao/marketsync/internal/series"
)

type loadKind int

const (
	loadSeed loadKind = iota
	loadRefetch
)

func (k loadKind) String() string {
	if k == loadSeed {
		return "seed"
	}
	return "refetch"
}

type loadResult struct {
	id      uuid.UUID
	gen     uint64
	seq     uint64
	key     model.SubscriptionKey
	kind    loadKind
	candles []model.Candle
	err     error
	took    time.Duration
	done    chan error
}

type counters struct {
	messages, staleMessages, malformed            atomic.Int64
	candlesMerged, candlesLate, candlesRejected   atomic.Int64
	ticksApplied, ticksDropped, ticksRejected     atomic.Int64
	serverErrors, loads, loadFailures, staleLoads atomic.Int64
	reconnects, staleStates                       atomic.Int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithDirectory sets the venue and trading-hours resolver.
func WithDirectory(d Directory) Option {
	return func(c *Controller) { c.dir = d }
}

// WithSink sets where merged candles are recorded.
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithClock sets the clock used for timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Controller keeps one chart's series in sync with history and the stream.
type Controller struct {
	cfg    Config
	loader HistoryLoader
	stream Stream
	dir    Directory
	sink   Sink
	clock  clock.Clock
	logger *slog.Logger

	cmds    chan func()
	loads   chan loadResult
	updates chan Snapshot
	stopped chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	// Owned by the run goroutine.
	key             model.SubscriptionKey
	timeframe       model.Timeframe
	series          *series.Series
	gen             uint64
	loadSeq         uint64
	loading         bool
	needsSeed       bool
	wantConnected   bool // cleared by Disconnect; a pending seed only connects when set
	connState       model.ConnectionState
	lastErr         error
	lastUpdate      time.Time
	sawReconnecting bool
	openCache       struct {
		at   time.Time
		key  string
		open bool
	}

	mu      sync.RWMutex
	snap    Snapshot
	history []StateChange

	stats counters
}

// New creates a Controller. Call Start to begin.
func New(cfg Config, loader HistoryLoader, stream Stream, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = def.MaxPoints
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.StateHistory <= 0 {
		cfg.StateHistory = def.StateHistory
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = def.Timeframe
	}

	c := &Controller{
		cfg:     cfg,
		loader:  loader,
		stream:  stream,
		clock:   clock.New(),
		logger:  slog.Default(),
		cmds:    make(chan func()),
		loads:   make(chan loadResult),
		updates: make(chan Snapshot, 1),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("chart", cfg.ID)
	c.timeframe = cfg.Timeframe
	c.series = series.New(cfg.MaxPoints, cfg.Timeframe.Duration())
	c.snap = Snapshot{ID: cfg.ID, ConnectionState: model.Disconnected}
	return c
}

// ID returns the configured chart identifier.
func (c *Controller) ID() string { return c.cfg.ID }

// Start starts the stream and the controller loop. If an initial instrument
// is configured it is selected immediately.
func (c *Controller) Start(ctx context.Context) error {
	if !c.cfg.Timeframe.Valid() {
		return fmt.Errorf("start %s: %w", c.cfg.ID, model.ErrUnknownTimeframe)
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	if err := c.stream.Start(c.ctx); err != nil {
		c.cancel()
		return fmt.Errorf("start stream: %w", err)
	}

	c.wg.Add(1)
	go c.run()

	c.logger.Info("sync controller started", "instrument", c.cfg.Instrument, "timeframe", c.cfg.Timeframe)

	if c.cfg.Instrument == "" {
		return c.do(ctx, c.publish)
	}
	return c.do(ctx, func() { c.switchKey(c.cfg.Instrument, c.cfg.Timeframe) })
}

// Stop cancels in-flight loads, stops the loop and tears down the stream.
func (c *Controller) Stop(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.stream.Stop(ctx); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	c.logger.Info("sync controller stopped")
	return nil
}

// SetInstrument switches to a new instrument, keeping the timeframe.
func (c *Controller) SetInstrument(ctx context.Context, instrument string) error {
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return ErrNoInstrument
	}
	return c.do(ctx, func() { c.switchKey(instrument, c.timeframe) })
}

// SetTimeframe switches to a new timeframe, keeping the instrument.
func (c *Controller) SetTimeframe(ctx context.Context, tf model.Timeframe) error {
	if !tf.Valid() {
		return fmt.Errorf("set timeframe: %w: %q", model.ErrUnknownTimeframe, tf)
	}
	return c.do(ctx, func() { c.switchKey(c.key.Instrument, tf) })
}

// Connect (re)opens the stream for the current key. It clears a terminal
// error. When the series has not been seeded yet, a historical load runs
// first and the stream opens once it succeeds.
func (c *Controller) Connect(ctx context.Context) error {
	var err error
	derr := c.do(ctx, func() {
		if c.key.IsZero() {
			err = ErrNoInstrument
			return
		}
		c.lastErr = nil
		c.wantConnected = true
		if c.needsSeed {
			c.startLoad()
		} else if err = c.stream.Connect(c.key); err != nil {
			c.lastErr = err
		}
		c.publish()
	})
	if derr != nil {
		return derr
	}
	return err
}

// Disconnect closes the stream. The series is kept.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.do(ctx, func() {
		c.wantConnected = false
		c.stream.Disconnect()
		c.publish()
	})
}

// Refetch reloads the historical window for the current key and reconciles
// it with live candles. It does not touch the connection. Refetch waits until
// the load is applied, fails, or is superseded by a newer load.
func (c *Controller) Refetch(ctx context.Context) error {
	var (
		err  error
		done <-chan error
	)
	derr := c.do(ctx, func() {
		if c.key.IsZero() {
			err = ErrNoInstrument
			return
		}
		done = c.startLoad()
		c.publish()
	})
	if derr != nil {
		return derr
	}
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the last published view of the chart.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Updates delivers snapshots as they change. Intermediate snapshots are
// dropped when the reader falls behind; the latest one is always delivered.
func (c *Controller) Updates() <-chan Snapshot {
	return c.updates
}

// Diagnostics returns counters and recent state transitions.
func (c *Controller) Diagnostics() Diagnostics {
	c.mu.RLock()
	snap := c.snap
	hist := make([]StateChange, len(c.history))
	copy(hist, c.history)
	c.mu.RUnlock()

	return Diagnostics{
		ID:              c.cfg.ID,
		Key:             snap.Key,
		Generation:      snap.Generation,
		Messages:        c.stats.messages.Load(),
		StaleMessages:   c.stats.staleMessages.Load(),
		Malformed:       c.stats.malformed.Load(),
		CandlesMerged:   c.stats.candlesMerged.Load(),
		CandlesLate:     c.stats.candlesLate.Load(),
		CandlesRejected: c.stats.candlesRejected.Load(),
		TicksApplied:    c.stats.ticksApplied.Load(),
		TicksDropped:    c.stats.ticksDropped.Load(),
		TicksRejected:   c.stats.ticksRejected.Load(),
		ServerErrors:    c.stats.serverErrors.Load(),
		Loads:           c.stats.loads.Load(),
		LoadFailures:    c.stats.loadFailures.Load(),
		StaleLoads:      c.stats.staleLoads.Load(),
		Reconnects:      c.stats.reconnects.Load(),
		StaleStates:     c.stats.staleStates.Load(),
		StateHistory:    hist,
		Stream:          c.stream.Stats(),
	}
}

// do runs fn on the controller goroutine and waits for it to finish.
func (c *Controller) do(ctx context.Context, fn func()) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	done := make(chan struct{})
	cmd := func() {
		fn()
		close(done)
	}

	select {
	case c.cmds <- cmd:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	defer close(c.stopped)

	events := c.stream.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.cmds:
			fn()
		case res := <-c.loads:
			c.handleLoad(res)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ev)
		}
	}
}

// -----------------------------------------------------------------------------
// Key switching and loads
// -----------------------------------------------------------------------------

func (c *Controller) switchKey(instrument string, tf model.Timeframe) {
	if instrument == c.key.Instrument && tf == c.key.Timeframe {
		return
	}
	c.timeframe = tf
	if instrument == "" {
		c.publish()
		return
	}

	venue := ""
	if c.dir != nil {
		venue = c.dir.ResolveVenueCode(instrument)
	}
	key := model.SubscriptionKey{Instrument: instrument, Timeframe: tf, Venue: venue}

	c.gen++
	if !c.cfg.ReuseTransport {
		c.stream.Disconnect()
	}

	c.logger.Info("switching subscription", "from", c.key.String(), "to", key.String(), "generation", c.gen)

	c.key = key
	c.series = series.New(c.cfg.MaxPoints, tf.Duration())
	c.lastErr = nil
	c.lastUpdate = time.Time{}
	c.needsSeed = true
	c.wantConnected = true
	c.sawReconnecting = false
	c.startLoad()
	c.publish()
}

func (c *Controller) startLoad() <-chan error {
	c.loadSeq++
	c.loading = true
	c.stats.loads.Add(1)

	kind := loadRefetch
	if c.needsSeed {
		kind = loadSeed
	}
	res := loadResult{
		id:   uuid.New(),
		gen:  c.gen,
		seq:  c.loadSeq,
		key:  c.key,
		kind: kind,
		done: make(chan error, 1),
	}

	c.logger.Debug("historical load started", "request_id", res.id, "key", res.key.String(), "kind", kind)

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.LoadTimeout)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		start := c.clock.Now()
		res.candles, res.err = c.loader.Load(ctx, res.key, c.cfg.MaxPoints)
		res.took = c.clock.Since(start)

		select {
		case c.loads <- res:
		case <-c.ctx.Done():
		}
	}()
	return res.done
}

func (c *Controller) handleLoad(res loadResult) {
	if res.gen != c.gen || res.seq != c.loadSeq {
		c.stats.staleLoads.Add(1)
		c.logger.Debug("discarding stale historical load",
			"request_id", res.id, "key", res.key.String(), "current", c.key.String())
		res.done <- ErrSuperseded
		return
	}
	c.loading = false
	defer func() { res.done <- res.err }()

	if res.err != nil {
		c.stats.loadFailures.Add(1)
		if !errors.Is(c.lastErr, connection.ErrReconnectExhausted) {
			c.lastErr = res.err
		}
		c.logger.Warn("historical load failed",
			"request_id", res.id, "key", res.key.String(), "kind", res.kind, "error", res.err)
		c.publish()
		return
	}

	c.series.Reseed(res.candles)
	c.lastUpdate = c.clock.Now()
	if !errors.Is(c.lastErr, connection.ErrReconnectExhausted) {
		c.lastErr = nil
	}
	c.logger.Info("historical load applied",
		"request_id", res.id, "key", res.key.String(), "kind", res.kind,
		"candles", len(res.candles), "took", res.took)

	if c.sink != nil {
		c.sink.Record(res.key, res.candles)
	}

	if c.needsSeed {
		c.needsSeed = false
		if !c.wantConnected {
			c.logger.Debug("seed applied while disconnected, stream stays down", "key", c.key.String())
		} else if err := c.stream.Connect(c.key); err != nil {
			c.lastErr = err
			c.logger.Warn("stream connect failed", "key", c.key.String(), "error", err)
		}
	}
	c.publish()
}

// -----------------------------------------------------------------------------
// Stream events
// -----------------------------------------------------------------------------

func (c *Controller) handleEvent(ev connection.Event) {
	switch e := ev.(type) {
	case connection.EventState:
		c.handleState(e)
	case connection.EventMalformed:
		c.stats.malformed.Add(1)
	case connection.EventMessage:
		c.route(e)
	}
}

func (c *Controller) handleState(e connection.EventState) {
	c.connState = e.State
	c.recordState(e)

	// Transitions of a subscription we already left only move the displayed
	// state; they must not touch the error or reconnect bookkeeping of the
	// current key.
	if !e.Key.IsZero() && e.Key != c.key {
		c.stats.staleStates.Add(1)
		c.logger.Debug("state event for previous subscription",
			"event_key", e.Key.String(), "key", c.key.String(), "state", e.State.String())
		c.publish()
		return
	}

	switch e.State {
	case model.Reconnecting:
		c.sawReconnecting = true
		c.stats.reconnects.Add(1)
	case model.Connected:
		if c.sawReconnecting && c.cfg.BackfillOnReconnect && !c.needsSeed && !c.key.IsZero() {
			c.logger.Info("backfilling after reconnect", "key", c.key.String())
			c.startLoad()
		}
		c.sawReconnecting = false
	case model.Failed:
		c.lastErr = e.Err
		c.sawReconnecting = false
	case model.Disconnected:
		c.sawReconnecting = false
	}
	c.publish()
}

func (c *Controller) recordState(e connection.EventState) {
	sc := StateChange{State: e.State, At: c.clock.Now()}
	if e.Err != nil {
		sc.Error = e.Err.Error()
	}

	c.mu.Lock()
	c.history = append(c.history, sc)
	if over := len(c.history) - c.cfg.StateHistory; over > 0 {
		c.history = append(c.history[:0], c.history[over:]...)
	}
	c.mu.Unlock()
}

func (c *Controller) route(e connection.EventMessage) {
	c.stats.messages.Add(1)

	if e.Key != c.key {
		c.stats.staleMessages.Add(1)
		return
	}

	switch m := e.Message.(type) {
	case protocol.CandleMsg:
		if !protocol.Matches(c.key, m.Symbol, m.Timeframe) {
			c.stats.staleMessages.Add(1)
			return
		}
		c.applyCandle(m.Candle, e.ReceivedAt)

	case protocol.TickMsg:
		if !protocol.Matches(c.key, m.Symbol, "") {
			c.stats.staleMessages.Add(1)
			return
		}
		c.applyTick(m.Tick, e.ReceivedAt)

	case protocol.ErrorMsg:
		c.stats.serverErrors.Add(1)
		c.lastErr = fmt.Errorf("%w: %s", ErrServer, m.Message)
		c.logger.Warn("server error", "key", c.key.String(), "message", m.Message)
		c.publish()
	}
}

func (c *Controller) applyCandle(candle model.Candle, at time.Time) {
	switch res := c.series.ApplyCandle(candle); res {
	case series.Rejected:
		c.stats.candlesRejected.Add(1)
		c.logger.Debug("rejected candle", "key", c.key.String(), "open_time", candle.OpenTime)
		return
	case series.Late:
		c.stats.candlesLate.Add(1)
		c.logger.Debug("late candle", "key", c.key.String(), "open_time", candle.OpenTime)
	default:
		c.stats.candlesMerged.Add(1)
	}

	c.lastUpdate = at
	if c.sink != nil {
		c.sink.Record(c.key, []model.Candle{candle})
	}
	c.publish()
}

func (c *Controller) applyTick(tick model.Tick, at time.Time) {
	switch c.series.ApplyTick(tick) {
	case series.TickDropped:
		c.stats.ticksDropped.Add(1)
		return
	case series.TickRejected:
		c.stats.ticksRejected.Add(1)
		return
	}

	c.stats.ticksApplied.Add(1)
	c.lastUpdate = at
	if c.sink != nil {
		if last, ok := c.series.Last(); ok {
			c.sink.Record(c.key, []model.Candle{last})
		}
	}
	c.publish()
}

// -----------------------------------------------------------------------------
// Publishing
// -----------------------------------------------------------------------------

func (c *Controller) publish() {
	snap := Snapshot{
		ID:              c.cfg.ID,
		Key:             c.key,
		Candles:         c.series.Candles(),
		Len:             c.series.Len(),
		ConnectionState: c.connState,
		Loading:         c.loading,
		MarketOpen:      c.marketOpen(),
		LastUpdate:      c.lastUpdate,
		Generation:      c.gen,
		Err:             c.lastErr,
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- snap:
	default:
	}
}

// marketOpen is cached per minute.
func (c *Controller) marketOpen() bool {
	if c.dir == nil || c.key.IsZero() {
		return true
	}
	now := c.clock.Now().Truncate(time.Minute)
	oc := &c.openCache
	if oc.key != c.key.Instrument || !oc.at.Equal(now) {
		oc.key = c.key.Instrument
		oc.at = now
		oc.open = c.dir.MarketOpen(c.key.Instrument, now)
	}
	return oc.open
}
