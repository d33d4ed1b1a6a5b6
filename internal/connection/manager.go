package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/marketsync/internal/buffer"
	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/protocol"
)

// Manager owns the streaming transport for one subscription key.
//
// Every session (dial, subscribe, read) runs under a generation number.
// Disconnect, a closure and a new Connect all bump the generation, so late
// callbacks from an abandoned session find a mismatch and do nothing.
type Manager struct {
	cfg    ManagerConfig
	clock  clock.Clock
	dial   DialFunc
	logger *slog.Logger

	events *buffer.Growable[Event]
	out    chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	state          model.ConnectionState
	key            model.SubscriptionKey // desired subscription
	subKey         model.SubscriptionKey // subscription frames are tagged with
	gen            uint64
	client         Client
	sessionCancel  context.CancelFunc
	attempt        int
	reconnectTimer *clock.Timer
	ackTimer       *clock.Timer
	idleTimer      *clock.Timer
	unsubAck       chan struct{}

	lastDelay  time.Duration
	reconnects int64
	frames     int64
	malformed  int64
}

// NewManager creates a Manager. Call Start before Connect.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	m := &Manager{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		events: buffer.New[Event](64),
		out:    make(chan Event),
	}
	m.dial = cfg.Dial
	if m.dial == nil {
		m.dial = m.dialWebSocket
	}
	return m
}

// Start launches the event pump. The manager's sessions live until Stop or
// until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pump()

	return nil
}

// Stop disconnects and waits for background goroutines.
func (m *Manager) Stop(ctx context.Context) error {
	m.Disconnect()

	if m.cancel != nil {
		m.cancel()
	}
	m.events.Close()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
	}

	return nil
}

// Events returns the ordered event stream. It is closed after Stop.
func (m *Manager) Events() <-chan Event {
	return m.out
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		State:            m.state,
		Key:              m.key,
		Attempt:          m.attempt,
		ReconnectPending: m.reconnectTimer != nil,
		LastDelay:        m.lastDelay,
		Reconnects:       m.reconnects,
		Frames:           m.frames,
		Malformed:        m.malformed,
	}
}

// Connect subscribes to key. It is a no-op when key is already Connected or
// Connecting, switches subscription in place when another key is live, and
// otherwise opens a fresh session.
func (m *Manager) Connect(key model.SubscriptionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return ErrNotStarted
	}
	if key.IsZero() {
		return fmt.Errorf("connect: empty subscription key")
	}

	switch {
	case key == m.key && (m.state == model.Connected || m.state == model.Connecting):
		return nil
	case key == m.key && m.state == model.Reconnecting:
		// Already scheduled.
		return nil
	case m.state == model.Connected && m.client != nil:
		m.changeKeyLocked(key)
		return nil
	}

	m.key = key
	m.attempt = 0
	m.openLocked()
	return nil
}

// ChangeKey moves the live subscription to key: unsubscribe the old key,
// wait for the acknowledgement or UnsubscribeWait, then subscribe the new
// one. Without a live subscription it behaves like Connect.
func (m *Manager) ChangeKey(key model.SubscriptionKey) error {
	m.mu.Lock()
	live := m.state == model.Connected && m.client != nil
	if live {
		if key != m.key {
			m.changeKeyLocked(key)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.Connect(key)
}

// Disconnect closes the transport and cancels any pending reconnect. It is
// the only path that suppresses reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.stopTimersLocked()
	m.closeClientLocked()
	m.attempt = 0
	m.subKey = model.SubscriptionKey{}
	if m.state != model.Disconnected {
		m.setStateLocked(model.Disconnected, nil, 0)
	}
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

// openLocked starts a new session for m.key. Must be called with mu held.
func (m *Manager) openLocked() {
	m.gen++
	gen := m.gen

	m.stopTimersLocked()
	m.closeClientLocked()
	m.setStateLocked(model.Connecting, nil, 0)

	ctx, cancel := context.WithCancel(m.ctx)
	m.sessionCancel = cancel

	m.wg.Add(1)
	go m.session(ctx, gen)
}

func (m *Manager) session(ctx context.Context, gen uint64) {
	defer m.wg.Done()

	client, err := m.dial(ctx)
	if err != nil {
		m.closed(gen, fmt.Errorf("dial: %w", err))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		client.Close()
		return
	}
	m.client = client
	key := m.key
	m.subKey = key
	m.armAckLocked(gen)
	m.resetIdleLocked(gen)
	m.mu.Unlock()

	if err := client.SendFrame(protocol.Subscribe(key)); err != nil {
		m.closed(gen, fmt.Errorf("subscribe: %w", err))
		return
	}
	m.logger.Debug("subscribe sent", "key", key.String())

	m.readLoop(ctx, gen, client)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, client Client) {
	for {
		select {
		case <-ctx.Done():
			return

		case err := <-client.Errors():
			m.closed(gen, err)
			return

		case msg, ok := <-client.Messages():
			if !ok {
				m.closed(gen, ErrNotConnected)
				return
			}
			m.handleFrame(gen, msg)
		}
	}
}

func (m *Manager) handleFrame(gen uint64, raw TimestampedMessage) {
	decoded, err := protocol.Decode(raw.Data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	m.frames++
	m.resetIdleLocked(gen)

	if err != nil {
		m.malformed++
		m.logger.Debug("dropping malformed frame", "error", err, "bytes", len(raw.Data))
		m.emitLocked(EventMalformed{Err: err})
		return
	}

	switch decoded.(type) {
	case protocol.SubscribedMsg:
		if m.ackTimer != nil {
			m.ackTimer.Stop()
			m.ackTimer = nil
		}
		m.attempt = 0
		if m.state != model.Connected {
			m.setStateLocked(model.Connected, nil, 0)
		}
	case protocol.UnsubscribedMsg:
		if m.unsubAck != nil {
			close(m.unsubAck)
			m.unsubAck = nil
		}
	}

	m.emitLocked(EventMessage{Key: m.subKey, Message: decoded, ReceivedAt: raw.ReceivedAt})
}

// changeKeyLocked starts an in-place subscription switch. Must be called
// with mu held while Connected. The state drops to Connecting until the new
// key is acknowledged.
func (m *Manager) changeKeyLocked(key model.SubscriptionKey) {
	old := m.subKey
	m.key = key
	ack := make(chan struct{})
	m.unsubAck = ack
	m.setStateLocked(model.Connecting, nil, 0)

	m.wg.Add(1)
	go m.switchSubscription(m.gen, m.client, old, key, ack)
}

func (m *Manager) switchSubscription(gen uint64, client Client, old, key model.SubscriptionKey, ack <-chan struct{}) {
	defer m.wg.Done()

	if err := client.SendFrame(protocol.Unsubscribe(old)); err != nil {
		m.closed(gen, fmt.Errorf("unsubscribe: %w", err))
		return
	}

	select {
	case <-ack:
	case <-m.clock.After(m.cfg.UnsubscribeWait):
		m.logger.Debug("unsubscribe not acknowledged in time", "key", old.String())
	case <-m.ctx.Done():
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.key != key {
		// Superseded by Disconnect, a closure or a later key change.
		m.mu.Unlock()
		return
	}
	m.unsubAck = nil
	m.subKey = key
	m.armAckLocked(gen)
	m.mu.Unlock()

	if err := client.SendFrame(protocol.Subscribe(key)); err != nil {
		m.closed(gen, fmt.Errorf("subscribe: %w", err))
		return
	}
	m.logger.Info("subscription switched", "from", old.String(), "to", key.String())
}

// closed handles an unexpected end of session gen and applies the
// reconnection policy.
func (m *Manager) closed(gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}
	if m.ctx.Err() != nil {
		return
	}

	m.gen++
	m.stopTimersLocked()
	m.closeClientLocked()

	m.logger.Warn("stream closed unexpectedly",
		"key", m.key.String(),
		"attempt", m.attempt,
		"error", cause,
	)

	if m.attempt >= m.cfg.MaxAttempts {
		err := fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, m.attempt, cause)
		m.setStateLocked(model.Failed, err, 0)
		return
	}

	delay := m.backoffLocked()
	m.attempt++
	m.lastDelay = delay
	m.reconnects++

	next := m.gen
	m.reconnectTimer = m.clock.AfterFunc(delay, func() { m.fireReconnect(next) })
	m.setStateLocked(model.Reconnecting, cause, delay)
}

func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.ctx.Err() != nil {
		return
	}
	m.reconnectTimer = nil
	m.logger.Info("attempting reconnection", "key", m.key.String(), "attempt", m.attempt)
	m.openLocked()
}

// backoffLocked returns base * 2^attempt, capped at MaxDelay.
func (m *Manager) backoffLocked() time.Duration {
	limit := m.cfg.MaxDelay
	if limit <= 0 {
		limit = DefaultMaxReconnectDelay
	}
	delay := m.cfg.ReconnectBase
	if delay <= 0 {
		return 0
	}
	for i := 0; i < m.attempt && delay < limit; i++ {
		delay *= 2
	}
	return min(delay, limit)
}

// -----------------------------------------------------------------------------
// Helpers (mu held unless noted)
// -----------------------------------------------------------------------------

func (m *Manager) armAckLocked(gen uint64) {
	if m.ackTimer != nil {
		m.ackTimer.Stop()
		m.ackTimer = nil
	}
	if m.cfg.SubscribeTimeout <= 0 {
		return
	}
	m.ackTimer = m.clock.AfterFunc(m.cfg.SubscribeTimeout, func() {
		m.closed(gen, ErrSubscribeTimeout)
	})
}

func (m *Manager) resetIdleLocked(gen uint64) {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = m.clock.AfterFunc(m.cfg.IdleTimeout, func() {
		m.closed(gen, ErrIdleTimeout)
	})
}

func (m *Manager) stopTimersLocked() {
	for _, t := range []**clock.Timer{&m.reconnectTimer, &m.ackTimer, &m.idleTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	m.unsubAck = nil
}

func (m *Manager) closeClientLocked() {
	if m.sessionCancel != nil {
		m.sessionCancel()
		m.sessionCancel = nil
	}
	if m.client != nil {
		c := m.client
		m.client = nil
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			c.Close()
		}()
	}
}

func (m *Manager) setStateLocked(s model.ConnectionState, err error, delay time.Duration) {
	prev := m.state
	m.state = s

	attrs := []any{"key", m.key.String(), "from", prev.String(), "to", s.String()}
	if delay > 0 {
		attrs = append(attrs, "delay", delay)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	if s == model.Failed {
		m.logger.Error("connection state changed", attrs...)
	} else {
		m.logger.Info("connection state changed", attrs...)
	}

	m.emitLocked(EventState{Key: m.key, State: s, Err: err, Delay: delay})
}

func (m *Manager) emitLocked(ev Event) {
	m.events.Push(ev)
}

// pump moves queued events to the unbuffered output channel so emitters
// never block on a slow consumer.
func (m *Manager) pump() {
	defer m.wg.Done()
	defer close(m.out)

	for {
		ev, err := m.events.Pop(m.ctx)
		if err != nil {
			if !errors.Is(err, buffer.ErrClosed) && !errors.Is(err, context.Canceled) {
				m.logger.Warn("event pump stopped", "error", err)
			}
			return
		}
		select {
		case m.out <- ev:
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) dialWebSocket(ctx context.Context) (Client, error) {
	cc := m.cfg.Client
	if cc.Clock == nil {
		cc.Clock = m.clock
	}
	c := NewClient(cc, m.logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
