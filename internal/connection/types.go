package connection

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/protocol"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrNotStarted         = errors.New("manager not started")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrSubscribeTimeout   = errors.New("subscribe not acknowledged")
	ErrIdleTimeout        = errors.New("no frames within idle timeout")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string
	APIKey           string        // Sent as a bearer token when set
	HandshakeTimeout time.Duration // Dial handshake limit
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
	MaxMessageBytes  int64         // Read limit per frame; 0 means unlimited

	Clock clock.Clock // nil means the wall clock
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       4096,
		MaxMessageBytes:  1 << 20,
	}
}

// DefaultMaxReconnectDelay caps exponential reconnect backoff.
const DefaultMaxReconnectDelay = 60 * time.Second

// DialFunc opens a connected Client.
type DialFunc func(ctx context.Context) (Client, error)

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	Client           ClientConfig
	SubscribeTimeout time.Duration // Wait for "subscribed" before treating the session as closed
	UnsubscribeWait  time.Duration // Max wait for "unsubscribed" during a key change
	ReconnectBase    time.Duration // First reconnect delay; doubles per attempt
	MaxDelay         time.Duration // Cap on a single reconnect delay; 0 means DefaultMaxReconnectDelay
	MaxAttempts      int           // Reconnects scheduled before settling in Failed
	IdleTimeout      time.Duration // 0 disables

	Clock clock.Clock // nil means the wall clock
	Dial  DialFunc    // nil means a WebSocket Client built from Client
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:           DefaultClientConfig(),
		SubscribeTimeout: 10 * time.Second,
		UnsubscribeWait:  100 * time.Millisecond,
		ReconnectBase:    time.Second,
		MaxDelay:         DefaultMaxReconnectDelay,
		MaxAttempts:      5,
		IdleTimeout:      60 * time.Second,
	}
}

// Event is emitted by the Manager in the order things happened.
type Event interface {
	isEvent()
}

// EventState reports a connection state transition. Err carries the cause
// for Reconnecting and Failed. Key is the subscription the manager was
// serving when the transition happened.
type EventState struct {
	Key   model.SubscriptionKey
	State model.ConnectionState
	Err   error
	Delay time.Duration // Scheduled reconnect delay when State is Reconnecting
}

// EventMessage carries a decoded frame tagged with the subscription key it
// arrived on.
type EventMessage struct {
	Key        model.SubscriptionKey
	Message    protocol.Message
	ReceivedAt time.Time
}

// EventMalformed reports a frame that could not be decoded. The session
// continues.
type EventMalformed struct {
	Err error
}

func (EventState) isEvent()     {}
func (EventMessage) isEvent()   {}
func (EventMalformed) isEvent() {}

// Stats provides statistics about the Manager.
type Stats struct {
	State            model.ConnectionState
	Key              model.SubscriptionKey
	Attempt          int
	ReconnectPending bool
	LastDelay        time.Duration
	Reconnects       int64
	Frames           int64
	Malformed        int64
}
