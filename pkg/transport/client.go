package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/version"
)

const (
	// DefaultPort is the controller's protocol port.
	DefaultPort = 5810

	// DefaultConnectTimeout bounds a dial when the context has no deadline.
	DefaultConnectTimeout = 2 * time.Second

	// DefaultWriteTimeout bounds a single message write. Writes happen on
	// the tick goroutine, so a peer that stops reading must not stall it
	// for longer than a couple of fast ticks.
	DefaultWriteTimeout = 200 * time.Millisecond

	// PathPrefix precedes the client name in the connection URL.
	PathPrefix = "/nt/"
)

// Subprotocols offered by the client, most preferred first.
var Subprotocols = version.SupportedSubprotocols()

// ClientConfig configures a Client.
type ClientConfig struct {
	// ClientName identifies this client in the URL path.
	ClientName string

	// Port is used when the address carries no port (default: 5810).
	Port int

	// ConnectTimeout applies when the dial context has no deadline.
	ConnectTimeout time.Duration

	// WriteTimeout bounds each message write. Zero selects
	// DefaultWriteTimeout; negative disables the deadline.
	WriteTimeout time.Duration

	// MaxMessageSize is the read limit (default: 1 MB).
	MaxMessageSize int64

	// KeepAlive configures WebSocket ping/pong.
	KeepAlive KeepAliveConfig

	// Logger receives protocol capture events (optional).
	Logger log.Logger
}

// Client dials the controller.
type Client struct {
	config ClientConfig
	dialer *websocket.Dialer
}

// NewClient creates a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.ClientName == "" {
		return nil, fmt.Errorf("ClientName is required")
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}

	return &Client{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.ConnectTimeout,
			Subprotocols:     Subprotocols,
		},
	}, nil
}

// URL returns the connection URL for address.
func (c *Client) URL(address string) string {
	host := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		host = net.JoinHostPort(address, fmt.Sprint(c.config.Port))
	}
	u := url.URL{Scheme: "ws", Host: host, Path: PathPrefix + c.config.ClientName}
	return u.String()
}

// Dial connects to address.
func (c *Client) Dial(ctx context.Context, address string) (Conn, error) {
	return c.Connect(ctx, address)
}

// Connect connects to address and returns the concrete connection.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	target := c.URL(address)
	ws, resp, err := c.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, target, err)
	}
	if ws.Subprotocol() == "" {
		ws.Close()
		return nil, fmt.Errorf("%w: %s", ErrSubprotocol, target)
	}

	ws.SetReadLimit(c.config.MaxMessageSize)

	conn := &ClientConn{
		wsConn:      newWSConn(ws, c.config.WriteTimeout),
		subprotocol: ws.Subprotocol(),
	}
	if c.config.Logger != nil {
		conn.SetLogger(c.config.Logger, "")
	}
	if c.config.KeepAlive.Enabled() {
		conn.startKeepAlive(c.config.KeepAlive)
	}
	return conn, nil
}

// ClientConn is a connection from the client to the controller.
type ClientConn struct {
	*wsConn
	subprotocol string
}

// Subprotocol returns the negotiated subprotocol.
func (c *ClientConn) Subprotocol() string {
	return c.subprotocol
}

// ProtocolVersion returns the protocol version of the negotiated
// subprotocol.
func (c *ClientConn) ProtocolVersion() (version.SpecVersion, error) {
	return version.FromSubprotocol(c.subprotocol)
}

// KeepAliveStats returns ping/pong statistics, or zero values when
// keep-alive is disabled.
func (c *ClientConn) KeepAliveStats() KeepAliveStats {
	if c.keepAlive == nil {
		return KeepAliveStats{}
	}
	return c.keepAlive.Stats()
}
