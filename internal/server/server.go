// Package server exposes the bridge to agents over WebSocket. Each text
// frame is one JSON message; every prompt request gets exactly one reply
// carrying the request's id.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eliteGoblin/camelpad/internal/domain"
	"github.com/eliteGoblin/camelpad/internal/prompt"
)

// Bridge is what the server needs from the orchestrator.
type Bridge interface {
	Submit(req domain.Request) (*prompt.Ticket, error)
	Cancel(promptID string) bool
	Status() domain.BridgeStatus
}

// Config holds server configuration.
type Config struct {
	Addr         string        // host:port to listen on
	WriteTimeout time.Duration // Per-frame write deadline (default 5s)
	ReadLimit    int64         // Max inbound frame size (default 64 KiB)
}

// DefaultConfig returns default server configuration for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		WriteTimeout: 5 * time.Second,
		ReadLimit:    64 << 10,
	}
}

// Server accepts agent connections and relays prompts to the bridge.
type Server struct {
	cfg      Config
	bridge   Bridge
	logger   *zap.Logger
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	replies  sync.WaitGroup
	closing  bool

	shutdown    sync.Once
	shutdownErr error
}

// New creates a server. Call Start to listen, or mount Handler.
func New(cfg Config, bridge Bridge, logger *zap.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 << 10
	}
	s := &Server{
		cfg:    cfg,
		bridge: bridge,
		logger: logger,
		conns:  make(map[*conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the WebSocket endpoint handler.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start listens on cfg.Addr and serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("prompt server listening", zap.String("endpoint", "ws://"+ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections, lets replies already settled
// reach their clients, then closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		flushed := make(chan struct{})
		go func() {
			s.replies.Wait()
			close(flushed)
		}()
		select {
		case <-flushed:
		case <-ctx.Done():
			s.logger.Warn("closing connections with replies in flight")
		}

		s.mu.Lock()
		conns := make([]*conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.close(websocket.CloseGoingAway, "server shutting down")
		}

		s.logger.Info("prompt server stopped")
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	c := &conn{
		ws:      ws,
		remote:  r.RemoteAddr,
		prompts: make(map[string]string),
		timeout: s.cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("client connected", zap.String("remote", c.remote))
	s.serve(c)
}

// serve reads frames until the client goes away, then cancels whatever
// the client left unanswered.
func (s *Server) serve(c *conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()

		abandoned := c.drain()
		for _, id := range abandoned {
			s.bridge.Cancel(id)
		}
		c.close(websocket.CloseNormalClosure, "")
		s.logger.Info("client disconnected",
			zap.String("remote", c.remote),
			zap.Int("abandoned_prompts", len(abandoned)))
	}()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("client read ended", zap.String("remote", c.remote), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.handleMessage(c, data)
	}
}

func (s *Server) handleMessage(c *conn, data []byte) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("invalid message", zap.String("remote", c.remote), zap.Error(err))
		s.send(c, errorReply("", fmt.Errorf("invalid message: %w", err)))
		return
	}

	switch {
	case isPrompt(msg.Type):
		s.handlePrompt(c, msg)
	case msg.Type == TypeStatus:
		s.send(c, statusFor(msg.ID, s.bridge.Status()))
	default:
		s.send(c, errorReply(msg.ID, unknownType(msg.Type)))
	}
}

func (s *Server) handlePrompt(c *conn, msg Inbound) {
	if err := msg.validate(); err != nil {
		s.send(c, errorReply(msg.ID, err))
		return
	}

	req := msg.request()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.send(c, errorReply(msg.ID, prompt.ErrShutdown))
		return
	}
	s.replies.Add(1)
	s.mu.Unlock()

	ticket, err := s.bridge.Submit(req)
	if err != nil {
		s.replies.Done()
		s.send(c, errorReply(msg.ID, err))
		return
	}
	c.track(ticket.ID, ticket.RequestID)

	go func() {
		defer s.replies.Done()
		<-ticket.Done()
		c.untrack(ticket.ID)
		s.send(c, replyFor(ticket.Reply()))
	}()
}

func (s *Server) send(c *conn, v any) {
	if err := c.write(v); err != nil {
		s.logger.Debug("reply not delivered", zap.String("remote", c.remote), zap.Error(err))
	}
}

// conn is one client. Writes are serialized; prompts maps prompt id to
// request id for everything still unanswered.
type conn struct {
	ws      *websocket.Conn
	remote  string
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	prompts map[string]string
	closed  bool
}

func (c *conn) track(promptID, requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts[promptID] = requestID
}

func (c *conn) untrack(promptID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prompts, promptID)
}

// drain returns every unanswered prompt id.
func (c *conn) drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.prompts))
	for id := range c.prompts {
		ids = append(ids, id)
	}
	return ids
}

func (c *conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *conn) close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}
