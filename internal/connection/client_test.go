package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketsync/internal/model"
	"github.com/rickgao/marketsync/internal/protocol"
)

// mockWSServer upgrades every request and hands the socket to handler.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = url
	cfg.PingTimeout = 30 * time.Second
	cfg.BufferSize = 100
	return cfg
}

// drain reads until the peer goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestClient_ConnectClose(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
	assert.NoError(t, c.Close(), "second Close is a no-op")
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyClosed)
}

func TestClient_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestClient_SendFrame(t *testing.T) {
	got := make(chan protocol.ControlFrame, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		var frame protocol.ControlFrame
		if err := conn.ReadJSON(&frame); err == nil {
			got <- frame
		}
		drain(conn)
	})
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	key := model.SubscriptionKey{Instrument: "AAPL", Timeframe: model.Timeframe1m, Venue: "xnys"}
	require.NoError(t, c.SendFrame(protocol.Subscribe(key)))

	select {
	case frame := <-got:
		assert.Equal(t, protocol.ActionSubscribe, frame.Action)
		assert.Equal(t, []string{"AAPL"}, frame.Symbols)
		assert.Equal(t, []string{"1m"}, frame.Timeframes)
	case <-time.After(time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	c := NewClient(testClientConfig("ws://localhost:1"), nil)
	assert.ErrorIs(t, c.SendFrame(protocol.ControlFrame{}), ErrNotConnected)
}

func TestClient_Messages(t *testing.T) {
	frames := []string{
		`{"type":"heartbeat","timestamp":1705328160}`,
		`{"type":"tick","symbol":"AAPL","price":"185.2"}`,
	}
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		drain(conn)
	})
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	for i, want := range frames {
		select {
		case msg := <-c.Messages():
			assert.Equal(t, want, string(msg.Data), "frame %d", i)
			assert.False(t, msg.ReceivedAt.IsZero())
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", i)
		}
	}
}

func TestClient_AuthHeader(t *testing.T) {
	gotAuth := make(chan string, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		drain(conn)
	}))
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.APIKey = "secret"
	c := NewClient(cfg, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	assert.Equal(t, "Bearer secret", <-gotAuth)
}

func TestClient_ServerCloseReportsError(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	})
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	select {
	case err := <-c.Errors():
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "error = %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close error")
	}
	assert.False(t, c.IsConnected())
}

func TestClient_CloseSuppressesError(t *testing.T) {
	server := mockWSServer(t, drain)
	defer server.Close()

	c := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())

	select {
	case err := <-c.Errors():
		t.Fatalf("unexpected error after Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_StaleHeartbeat(t *testing.T) {
	// The server never answers pings, so only the dial marks the session alive.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error { return nil })
		drain(conn)
	})
	defer server.Close()

	mock := clock.NewMock()
	cfg := testClientConfig(wsURL(server))
	cfg.Clock = mock
	cfg.PingInterval = 10 * time.Second
	cfg.PingTimeout = 25 * time.Second

	c := NewClient(cfg, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	mock.Add(20 * time.Second)
	select {
	case err := <-c.Errors():
		t.Fatalf("stale reported early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	mock.Add(10 * time.Second)
	select {
	case err := <-c.Errors():
		assert.ErrorIs(t, err, ErrStaleConnection)
	case <-time.After(time.Second):
		t.Fatal("stale connection not reported")
	}
}

func TestDefaultConfigs(t *testing.T) {
	cc := DefaultClientConfig()
	assert.Equal(t, 30*time.Second, cc.PingInterval)
	assert.Equal(t, 5*time.Second, cc.WriteTimeout)
	assert.Equal(t, int64(1<<20), cc.MaxMessageBytes)

	mc := DefaultManagerConfig()
	assert.Equal(t, 10*time.Second, mc.SubscribeTimeout)
	assert.Equal(t, 60*time.Second, mc.MaxDelay)
	assert.Equal(t, 100*time.Millisecond, mc.UnsubscribeWait)
	assert.Equal(t, time.Second, mc.ReconnectBase)
	assert.Equal(t, 5, mc.MaxAttempts)
}
