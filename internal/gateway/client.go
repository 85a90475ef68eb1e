package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"browsernerd/internal/config"
	"browsernerd/internal/logging"
	"browsernerd/internal/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	maxInbound   = 1 << 20 // import packages are the largest inbound frames
)

// client is one websocket connection bound to a session. Ordered events flow
// through a bounded channel; frames live in a single newest-wins slot so a
// slow reader sees stale video, never stale progress.
type client struct {
	conn *websocket.Conn
	cfg  config.GatewayConfig
	log  *zap.Logger

	send chan []byte

	frameMu sync.Mutex
	frame   *session.FrameEvent
	ready   chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn, cfg config.GatewayConfig) *client {
	return &client{
		conn:   conn,
		cfg:    cfg,
		log:    logging.Get(logging.CategoryGateway),
		send:   make(chan []byte, cfg.GetClientBuffer()),
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Deliver implements session.Client. Critical events block until buffered or
// the connection dies; non-critical events are dropped on a full buffer.
func (c *client) Deliver(ev interface{}, critical bool) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("event marshal failed", zap.Error(err))
		return
	}
	if critical {
		select {
		case c.send <- data:
		case <-c.closed:
		}
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// DeliverFrame implements session.Client: only the newest frame survives a
// backlog.
func (c *client) DeliverFrame(ev session.FrameEvent) {
	c.frameMu.Lock()
	c.frame = &ev
	c.frameMu.Unlock()
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// BufferDepth implements session.Client.
func (c *client) BufferDepth() float64 {
	return float64(len(c.send)) / float64(cap(c.send))
}

func (c *client) takeFrame() *session.FrameEvent {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	f := c.frame
	c.frame = nil
	return f
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *client) write(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.GetWriteTimeout()))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// writeLoop owns the connection's write side. Ordered events take priority
// over the frame slot.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		case <-c.ready:
			f := c.takeFrame()
			if f == nil {
				continue
			}
			data, err := json.Marshal(f)
			if err != nil {
				c.log.Error("frame marshal failed", zap.Error(err))
				continue
			}
			if err := c.write(data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.GetWriteTimeout()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop feeds inbound messages to the session dispatcher until the
// connection drops.
func (c *client) readLoop(sess *session.Session) {
	defer c.close()
	c.conn.SetReadLimit(maxInbound)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("connection dropped", zap.Error(err))
			}
			return
		}
		var msg session.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Deliver(map[string]interface{}{
				"type":    "error",
				"kind":    "UnknownMessage",
				"message": "malformed message: " + err.Error(),
			}, true)
			continue
		}
		sess.Handle(msg)
	}
}
