package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"browsernerd/internal/browser"
	"browsernerd/internal/config"
	"browsernerd/internal/session"
	"browsernerd/internal/store"
	"browsernerd/internal/types"
)

// gwDriver is a minimal browser.Driver so sessions can open without a real
// browser behind them.
type gwDriver struct {
	mu  sync.Mutex
	url string
}

func (d *gwDriver) Open(ctx context.Context) error { return nil }
func (d *gwDriver) Close() error                   { return nil }

func (d *gwDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	return nil
}

func (d *gwDriver) Click(ctx context.Context, t types.Target) (string, error) {
	return "selector:" + t.Primary.Value, nil
}

func (d *gwDriver) Fill(ctx context.Context, t types.Target, value string) (string, error) {
	return "selector:" + t.Primary.Value, nil
}

func (d *gwDriver) SelectOption(ctx context.Context, t types.Target, option string) (string, error) {
	return "selector:" + t.Primary.Value, nil
}

func (d *gwDriver) Extract(ctx context.Context, t types.Target) (string, string, error) {
	return "", "selector:" + t.Primary.Value, nil
}

func (d *gwDriver) ScrollBy(ctx context.Context, direction string) error { return nil }

func (d *gwDriver) ScrollTo(ctx context.Context, t types.Target) (string, error) {
	return "selector:" + t.Primary.Value, nil
}

func (d *gwDriver) WaitFor(ctx context.Context, predicate string) error { return nil }
func (d *gwDriver) Press(ctx context.Context, key string) error         { return nil }

func (d *gwDriver) Info(ctx context.Context) (browser.PageInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return browser.PageInfo{URL: d.url}, nil
}

func (d *gwDriver) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	return []byte{0xff, 0xd8}, nil
}

func (d *gwDriver) Snapshot(ctx context.Context) (*types.PageSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &types.PageSnapshot{URL: d.url}, nil
}

// newTestGateway wires a stub-driver registry behind a real HTTP listener.
func newTestGateway(t *testing.T, authToken string) (string, *session.Registry) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = t.TempDir()
	cfg.Gateway.AuthToken = authToken

	st, err := store.Open(cfg.Storage.Root, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := session.NewRegistry(cfg, st, nil, func(config.BrowserConfig) browser.Driver {
		return &gwDriver{url: "https://app.example"}
	})
	t.Cleanup(registry.Close)

	srv := NewServer(cfg.Gateway, registry)
	ts := httptest.NewServer(srv.http.Handler)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", registry
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil skips interleaved frames until a message of the wanted type
// arrives.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == wantType {
			return msg
		}
		require.True(t, time.Now().Before(deadline), "no %s message arrived", wantType)
	}
}

func TestGatewayAuth(t *testing.T) {
	url, _ := newTestGateway(t, "sesame")

	t.Run("missing token is closed with 4401", func(t *testing.T) {
		conn := dial(t, url, nil)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, closeInvalidToken, ce.Code)
		assert.Equal(t, "invalid token", ce.Text)
	})

	t.Run("token query parameter is accepted", func(t *testing.T) {
		conn := dial(t, url+"?token=sesame", nil)
		msg := readUntil(t, conn, "status")
		assert.Equal(t, "attached", msg["state"])
		assert.NotEmpty(t, msg["session_id"])
	})

	t.Run("authorization header is accepted", func(t *testing.T) {
		h := http.Header{"Authorization": []string{"Bearer sesame"}}
		conn := dial(t, url, h)
		msg := readUntil(t, conn, "status")
		assert.Equal(t, "attached", msg["state"])
	})

	t.Run("empty configured token disables auth", func(t *testing.T) {
		openURL, _ := newTestGateway(t, "")
		conn := dial(t, openURL, nil)
		msg := readUntil(t, conn, "status")
		assert.Equal(t, "attached", msg["state"])
	})
}

func TestGatewaySessionBinding(t *testing.T) {
	url, registry := newTestGateway(t, "")

	t.Run("unknown session id is refused", func(t *testing.T) {
		conn := dial(t, url+"?session_id=stale", nil)
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	})

	t.Run("rejoin by session id", func(t *testing.T) {
		first := dial(t, url, nil)
		msg := readUntil(t, first, "status")
		id, _ := msg["session_id"].(string)
		require.NotEmpty(t, id)

		second := dial(t, url+"?session_id="+id, nil)
		again := readUntil(t, second, "status")
		assert.Equal(t, id, again["session_id"])

		sess, err := registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 2, sess.ClientCount())
	})
}

func TestGatewayMessageRoundTrip(t *testing.T) {
	url, _ := newTestGateway(t, "")
	conn := dial(t, url, nil)
	readUntil(t, conn, "status")

	t.Run("get_scripts answers with the listing", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_scripts"}))
		msg := readUntil(t, conn, "scripts")
		assert.Empty(t, msg["scripts"])
	})

	t.Run("malformed json comes back as an error", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{broken")))
		msg := readUntil(t, conn, "error")
		assert.Equal(t, "UnknownMessage", msg["kind"])
		assert.Contains(t, msg["message"], "malformed")
	})

	t.Run("unknown message type comes back as an error", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
		msg := readUntil(t, conn, "error")
		assert.Contains(t, msg["message"], "dance")
	})
}

func TestGatewayFrameDelivery(t *testing.T) {
	url, _ := newTestGateway(t, "")
	conn := dial(t, url, nil)
	readUntil(t, conn, "status")

	// The streamer captures through the stub driver once a client attaches.
	msg := readUntil(t, conn, "real_time_screenshot")
	assert.NotEmpty(t, msg["data"])
	assert.NotZero(t, msg["frame_id"])
}
