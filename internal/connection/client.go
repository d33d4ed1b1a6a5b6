package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/rickgao/marketsync/internal/protocol"
)

// Client is one WebSocket session with the streaming channel.
type Client interface {
	// Connect dials and starts the read and heartbeat loops.
	Connect(ctx context.Context) error

	// Close sends a close frame and releases the socket. Safe to call twice.
	Close() error

	// SendFrame writes one encoded control frame.
	SendFrame(frame protocol.ControlFrame) error

	// Messages delivers inbound frames stamped with their local receive time.
	Messages() <-chan TimestampedMessage

	// Errors carries at most one terminal error: a read failure or a stale
	// heartbeat. Nothing is sent after Close.
	Errors() <-chan error

	IsConnected() bool
}

type wsClient struct {
	cfg    ClientConfig
	clock  clock.Clock
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	connected atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	lastSeen  atomic.Int64 // unix nanos of the last ping or pong
}

// NewClient creates an unconnected Client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &wsClient{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *wsClient) Connect(ctx context.Context) error {
	if c.closing.Load() {
		return ErrAlreadyClosed
	}
	if c.conn != nil {
		return fmt.Errorf("connect %s: already dialed", c.cfg.URL)
	}

	header := http.Header{"Accept": {"application/json"}}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	if c.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	conn.SetPingHandler(func(data string) error {
		c.markSeen()
		return c.writeControl(websocket.PongMessage, []byte(data))
	})
	conn.SetPongHandler(func(string) error {
		c.markSeen()
		return nil
	})

	c.conn = conn
	c.markSeen()
	c.connected.Store(true)

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.connected.Store(false)
		close(c.done)
		if c.conn == nil {
			return
		}
		c.writeControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = c.conn.Close()
	})
	return err
}

func (c *wsClient) SendFrame(frame protocol.ControlFrame) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := frame.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(c.clock.Now().Add(c.cfg.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsClient) Messages() <-chan TimestampedMessage { return c.messages }

func (c *wsClient) Errors() <-chan error { return c.errors }

func (c *wsClient) IsConnected() bool { return c.connected.Load() }

func (c *wsClient) markSeen() {
	c.lastSeen.Store(c.clock.Now().UnixNano())
}

// writeControl serializes control frames with data writes.
func (c *wsClient) writeControl(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(kind, data, time.Now().Add(time.Second))
}

// report delivers a terminal error unless Close already ran.
func (c *wsClient) report(err error) {
	c.connected.Store(false)
	if c.closing.Load() {
		return
	}
	select {
	case c.errors <- err:
	default:
	}
}

func (c *wsClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.report(err)
			return
		}

		msg := TimestampedMessage{Data: data, ReceivedAt: c.clock.Now()}
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping frame", "bytes", len(data))
		}
	}
}

// heartbeatLoop pings every PingInterval and fails the session when neither
// ping nor pong has been seen for PingTimeout.
func (c *wsClient) heartbeatLoop() {
	ticker := c.clock.Ticker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			if err := c.writeControl(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug("ping failed", "error", err)
			}

			last := time.Unix(0, c.lastSeen.Load())
			if c.cfg.PingTimeout > 0 && now.Sub(last) > c.cfg.PingTimeout {
				c.logger.Warn("connection stale",
					"last_seen", last,
					"timeout", c.cfg.PingTimeout,
				)
				c.report(ErrStaleConnection)
				return
			}
		}
	}
}
