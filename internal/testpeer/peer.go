// Package testpeer is an in-process controller that speaks the client's
// protocol. It answers clock sync, announces its topics to matching
// subscriptions, echoes heartbeats and issues commands. Integration tests
// serve it through httptest; cmd/posebridge-peer serves it on a real port.
package testpeer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/posebridge/posebridge-go/pkg/command"
	"github.com/posebridge/posebridge-go/pkg/heartbeat"
	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/telemetry"
	"github.com/posebridge/posebridge-go/pkg/transport"
	"github.com/posebridge/posebridge-go/pkg/wire"
)

// Config configures a Peer.
type Config struct {
	// Address for Start (default ":5810").
	Address string

	// Logger defaults to discarding.
	Logger *slog.Logger

	// Capture records the peer's side of the traffic (optional).
	Capture log.Logger

	// Now is the peer clock, reported in clock sync echoes.
	Now func() time.Time
}

// serverTopic is a topic the peer publishes.
type serverTopic struct {
	id    int64
	name  string
	typ   wire.Type
	value any
	ts    int64
	set   bool
}

// clientTopic is a topic a client publishes.
type clientTopic struct {
	name string
	typ  wire.Type
}

type subscription struct {
	topics []string
	prefix bool
}

func (s subscription) matches(name string) bool {
	for _, t := range s.topics {
		if t == name || (s.prefix && strings.HasPrefix(name, t)) {
			return true
		}
	}
	return false
}

// conn is the per-connection state.
type conn struct {
	*transport.ServerConn

	mu        sync.Mutex
	pubs      map[int64]clientTopic
	subs      map[int64]subscription
	announced map[string]bool
}

// Peer is the in-process controller.
type Peer struct {
	cfg    Config
	server *transport.Server

	mu       sync.Mutex
	topics   map[string]*serverTopic
	nextID   int64
	conns    map[*conn]struct{}
	accepted int
	frozen   bool
	nextCmd  uint32
	latest   map[string]wire.Frame
	onValue  func(name string, f wire.Frame)
}

// New creates a peer that publishes the heartbeat response and command
// request topics.
func New(cfg Config) (*Peer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	p := &Peer{
		cfg:    cfg,
		topics: make(map[string]*serverTopic),
		conns:  make(map[*conn]struct{}),
		latest: make(map[string]wire.Frame),
	}
	p.addTopic(heartbeat.ResponseTopic, wire.TypeInt)
	p.addTopic(command.RequestTopic, wire.TypeRaw)

	srv, err := transport.NewServer(transport.ServerConfig{
		Address:   cfg.Address,
		Logger:    cfg.Capture,
		OnConnect: p.serve,
	})
	if err != nil {
		return nil, err
	}
	p.server = srv
	return p, nil
}

func (p *Peer) addTopic(name string, typ wire.Type) *serverTopic {
	p.nextID++
	t := &serverTopic{id: p.nextID, name: name, typ: typ}
	p.topics[name] = t
	return t
}

// Handler returns the HTTP handler, for httptest.
func (p *Peer) Handler() http.Handler { return p.server.Handler() }

// Start listens on the configured address.
func (p *Peer) Start(ctx context.Context) error { return p.server.Start(ctx) }

// Stop closes every connection and the listener.
func (p *Peer) Stop() error { return p.server.Stop() }

// Addr returns the listen address after Start.
func (p *Peer) Addr() net.Addr { return p.server.Addr() }

// DropAll closes every connection but keeps accepting, like a controller
// reboot.
func (p *Peer) DropAll() { p.server.CloseAll() }

// Connections returns the number of open connections.
func (p *Peer) Connections() int { return p.server.ConnectionCount() }

// Accepted returns the number of connections accepted so far.
func (p *Peer) Accepted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

// FreezeHeartbeat stops (or resumes) echoing heartbeats while keeping the
// connection open, like a controller whose loop has hung.
func (p *Peer) FreezeHeartbeat(frozen bool) {
	p.mu.Lock()
	p.frozen = frozen
	p.mu.Unlock()
}

// OnValue sets a callback for every client value. It runs on the
// connection's read goroutine.
func (p *Peer) OnValue(fn func(name string, f wire.Frame)) {
	p.mu.Lock()
	p.onValue = fn
	p.mu.Unlock()
}

// Latest returns the most recent value a client sent on name.
func (p *Peer) Latest(name string) (wire.Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.latest[name]
	return f, ok
}

// LastFrame decodes the latest pose frame.
func (p *Peer) LastFrame() (telemetry.FrameData, bool) {
	f, ok := p.Latest(telemetry.FrameTopic)
	if !ok {
		return telemetry.FrameData{}, false
	}
	raw, _ := f.Value.([]byte)
	fd, err := telemetry.UnmarshalFrameData(raw)
	return fd, err == nil
}

// LastDevice decodes the latest device health record.
func (p *Peer) LastDevice() (telemetry.DeviceData, bool) {
	f, ok := p.Latest(telemetry.DeviceTopic)
	if !ok {
		return telemetry.DeviceData{}, false
	}
	raw, _ := f.Value.([]byte)
	d, err := telemetry.UnmarshalDeviceData(raw)
	return d, err == nil
}

// LastResponse decodes the latest command response.
func (p *Peer) LastResponse() (command.Response, bool) {
	f, ok := p.Latest(command.ResponseTopic)
	if !ok {
		return command.Response{}, false
	}
	raw, _ := f.Value.([]byte)
	r, err := command.UnmarshalResponse(raw)
	return r, err == nil
}

// SendCommand publishes cmd with the next command ID and returns the ID.
// The value stays current, so clients that connect later receive it too.
func (p *Peer) SendCommand(cmd command.Command) uint32 {
	p.mu.Lock()
	p.nextCmd++
	id := p.nextCmd
	p.mu.Unlock()

	p.SetValue(command.RequestTopic, command.MarshalEnvelope(command.Envelope{ID: id, Command: cmd}))
	return id
}

// SetValue updates a peer topic and sends it to every subscribed client.
// Unknown names create a topic of the value's type.
func (p *Peer) SetValue(name string, value any) error {
	p.mu.Lock()
	t, ok := p.topics[name]
	if !ok {
		typ, err := wire.TypeOf(value)
		if err != nil {
			p.mu.Unlock()
			return err
		}
		t = p.addTopic(name, typ)
	}
	v, err := wire.Coerce(t.typ, value)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", name, err)
	}
	t.value, t.ts, t.set = v, p.cfg.Now().UnixMicro(), true
	frame := wire.Frame{TopicID: t.id, Timestamp: t.ts, Type: t.typ, Value: v}
	conns := p.connList()
	p.mu.Unlock()

	for _, c := range conns {
		// Announce first if this client subscribed before the topic existed.
		if c.wants(name) {
			p.announce(c, t)
			p.sendFrames(c, frame)
		}
	}
	return nil
}

func (p *Peer) connList() []*conn {
	out := make([]*conn, 0, len(p.conns))
	for c := range p.conns {
		out = append(out, c)
	}
	return out
}

func (p *Peer) serve(sc *transport.ServerConn) {
	c := &conn{
		ServerConn: sc,
		pubs:       make(map[int64]clientTopic),
		subs:       make(map[int64]subscription),
		announced:  make(map[string]bool),
	}
	p.mu.Lock()
	p.conns[c] = struct{}{}
	p.accepted++
	p.mu.Unlock()
	p.cfg.Logger.Info("client connected", slog.String("client", sc.ClientName()), slog.String("remote", sc.RemoteAddr()))

	defer func() {
		p.mu.Lock()
		delete(p.conns, c)
		p.mu.Unlock()
		p.cfg.Logger.Info("client disconnected", slog.String("client", sc.ClientName()))
	}()

	for {
		typ, data, err := sc.ReadMessage()
		if err != nil {
			return
		}
		switch typ {
		case transport.TextMessage:
			p.handleControl(c, data)
		case transport.BinaryMessage:
			p.handleValues(c, data)
		}
	}
}

func (p *Peer) handleControl(c *conn, data []byte) {
	msgs, err := wire.DecodeControl(data)
	if err != nil {
		p.cfg.Logger.Warn("bad control message", slog.Any("error", err))
		return
	}
	for _, m := range msgs {
		switch m.Method {
		case wire.MethodPublish:
			params, err := wire.DecodeParams[wire.PublishParams](m, m.Method)
			if err != nil {
				continue
			}
			typ, err := wire.ParseType(params.Type)
			if err != nil {
				continue
			}
			c.mu.Lock()
			c.pubs[params.PubUID] = clientTopic{name: params.Name, typ: typ}
			c.mu.Unlock()

		case wire.MethodUnpublish:
			params, err := wire.DecodeParams[wire.UnpublishParams](m, m.Method)
			if err != nil {
				continue
			}
			c.mu.Lock()
			delete(c.pubs, params.PubUID)
			c.mu.Unlock()

		case wire.MethodSubscribe:
			params, err := wire.DecodeParams[wire.SubscribeParams](m, m.Method)
			if err != nil {
				continue
			}
			sub := subscription{topics: params.Topics, prefix: params.Options.Prefix}
			c.mu.Lock()
			c.subs[params.SubUID] = sub
			c.mu.Unlock()
			p.sendCurrent(c, sub)

		case wire.MethodUnsubscribe:
			params, err := wire.DecodeParams[wire.UnsubscribeParams](m, m.Method)
			if err != nil {
				continue
			}
			c.mu.Lock()
			delete(c.subs, params.SubUID)
			c.mu.Unlock()
		}
	}
}

// sendCurrent announces the peer topics sub matches and sends the values
// that are set.
func (p *Peer) sendCurrent(c *conn, sub subscription) {
	p.mu.Lock()
	var matched []serverTopic
	for name, t := range p.topics {
		if sub.matches(name) {
			matched = append(matched, *t)
		}
	}
	p.mu.Unlock()

	var frames []wire.Frame
	for i := range matched {
		t := &matched[i]
		p.announce(c, t)
		if t.set {
			frames = append(frames, wire.Frame{TopicID: t.id, Timestamp: t.ts, Type: t.typ, Value: t.value})
		}
	}
	if len(frames) > 0 {
		p.sendFrames(c, frames...)
	}
}

func (p *Peer) announce(c *conn, t *serverTopic) {
	c.mu.Lock()
	if c.announced[t.name] {
		c.mu.Unlock()
		return
	}
	c.announced[t.name] = true
	c.mu.Unlock()

	m, err := wire.NewControlMessage(wire.MethodAnnounce, wire.AnnounceParams{
		Name:       t.name,
		ID:         t.id,
		Type:       t.typ.String(),
		Properties: map[string]any{},
	})
	if err != nil {
		return
	}
	data, err := wire.EncodeControl(m)
	if err != nil {
		return
	}
	_ = c.WriteText(data)
}

func (p *Peer) handleValues(c *conn, data []byte) {
	frames, err := wire.DecodeFrames(data)
	if err != nil {
		p.cfg.Logger.Warn("bad value frame", slog.Any("error", err))
	}
	for _, f := range frames {
		if f.IsClockSync() {
			p.sendFrames(c, wire.Frame{
				TopicID:   wire.ClockSyncTopicID,
				Timestamp: p.cfg.Now().UnixMicro(),
				Type:      wire.TypeInt,
				Value:     f.Value,
			})
			continue
		}

		c.mu.Lock()
		pub, ok := c.pubs[f.TopicID]
		c.mu.Unlock()
		if !ok {
			continue
		}

		p.mu.Lock()
		p.latest[pub.name] = f
		fn := p.onValue
		frozen := p.frozen
		hb := *p.topics[heartbeat.ResponseTopic]
		p.mu.Unlock()

		if fn != nil {
			fn(pub.name, f)
		}
		if pub.name == heartbeat.RequestTopic && !frozen && c.wants(hb.name) {
			// Echoed to this connection only; a stale echo must not reach
			// the next session.
			p.announce(c, &hb)
			p.sendFrames(c, wire.Frame{TopicID: hb.id, Timestamp: p.cfg.Now().UnixMicro(), Type: wire.TypeInt, Value: f.Value})
		}
	}
}

func (p *Peer) sendFrames(c *conn, frames ...wire.Frame) {
	data, err := wire.EncodeFrames(frames...)
	if err != nil {
		p.cfg.Logger.Warn("encode frames", slog.Any("error", err))
		return
	}
	_ = c.WriteBinary(data)
}

func (c *conn) wants(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs {
		if s.matches(name) {
			return true
		}
	}
	return false
}
