// Package gateway is the websocket front door: it authenticates clients,
// binds each connection to a session, and moves messages both ways.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"browsernerd/internal/config"
	"browsernerd/internal/logging"
	"browsernerd/internal/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// closeInvalidToken is the close code sent for a failed authentication.
const closeInvalidToken = 4401

// Server serves the websocket endpoint at /ws plus a health probe.
type Server struct {
	cfg      config.GatewayConfig
	registry *session.Registry
	log      *zap.Logger

	upgrader websocket.Upgrader
	http     *http.Server
}

// NewServer builds the gateway over the given registry.
func NewServer(cfg config.GatewayConfig, registry *session.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		log:      logging.Get(logging.CategoryGateway),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from arbitrary origins; the bearer
			// token is the trust boundary.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.http = &http.Server{Addr: cfg.GetAddr(), Handler: mux}
	return s
}

// ListenAndServe blocks until the context ends or the listener fails. A bind
// failure is returned as-is so the caller can map it to its exit code.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.GetAddr())
	if err != nil {
		return err
	}
	s.log.Info("gateway listening", zap.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() {
		errc <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// token pulls the bearer token from the Authorization header or, for browser
// websocket clients that cannot set headers, the token query parameter.
func token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	return token(r) == s.cfg.AuthToken
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	if !s.authorized(r) {
		s.log.Warn("rejected connection with invalid token", zap.String("remote", r.RemoteAddr))
		msg := websocket.FormatCloseMessage(closeInvalidToken, "invalid token")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	c := newClient(conn, s.cfg)
	sess, err := s.registry.Attach(r.Context(), r.URL.Query().Get("session_id"), c)
	if err != nil {
		s.log.Warn("attach failed", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	s.log.Info("client attached",
		zap.String("session_id", sess.ID),
		zap.String("remote", r.RemoteAddr))

	go c.writeLoop()
	c.readLoop(sess)

	s.registry.Detach(sess, c)
	c.close()
	s.log.Info("client detached", zap.String("session_id", sess.ID))
}
