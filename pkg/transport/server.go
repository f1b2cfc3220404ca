package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/posebridge/posebridge-go/pkg/log"
)

// ServerConfig configures a Server. The server side exists for the
// in-process test peer and the peer console.
type ServerConfig struct {
	// Address to listen on (default ":5810").
	Address string

	// Subprotocols accepted (default: Subprotocols).
	Subprotocols []string

	// MaxMessageSize is the read limit (default: 1 MB).
	MaxMessageSize int64

	// Logger for protocol capture (optional).
	Logger log.Logger

	// OnConnect runs for each accepted connection. The connection is
	// closed when OnConnect returns.
	OnConnect func(conn *ServerConn)
}

// Server accepts protocol connections.
type Server struct {
	config   ServerConfig
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewServer creates a server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.OnConnect == nil {
		return nil, fmt.Errorf("OnConnect is required")
	}
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if len(config.Subprotocols) == 0 {
		config.Subprotocols = Subprotocols
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			Subprotocols: config.Subprotocols,
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		conns: make(map[*ServerConn]struct{}),
	}
	return s, nil
}

// Handler returns the HTTP handler that upgrades connection requests.
// Use it directly with httptest.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveWS)
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.running.Store(false)
		}
	}()
	return nil
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	err := s.httpSrv.Close()
	s.CloseAll()
	s.wg.Wait()
	return err
}

// CloseAll closes every active connection but keeps accepting new ones.
// The peer console uses it to simulate a controller reboot.
func (s *Server) CloseAll() {
	s.connsMu.RLock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutPrefix(r.URL.Path, PathPrefix)
	if !ok || name == "" {
		http.NotFound(w, r)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if ws.Subprotocol() == "" {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseProtocolError, "unsupported subprotocol"),
			time.Now().Add(closeGrace))
		ws.Close()
		return
	}
	ws.SetReadLimit(s.config.MaxMessageSize)

	conn := &ServerConn{wsConn: newWSConn(ws, 0), clientName: name}
	if s.config.Logger != nil {
		conn.SetLogger(s.config.Logger, name)
	}

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	s.config.OnConnect(conn)
}

// ServerConn is a connection accepted from a client.
type ServerConn struct {
	*wsConn
	clientName string
}

// ClientName returns the name from the connection URL.
func (c *ServerConn) ClientName() string {
	return c.clientName
}
