// Package session owns one open connection to the controller. It
// announces the registry's topics, publishes values, demultiplexes
// inbound control messages and value frames, and runs clock sync.
//
// A Session never reconnects. Once closed it stays closed; the
// connection supervisor replaces it.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/posebridge/posebridge-go/pkg/clientctx"
	"github.com/posebridge/posebridge-go/pkg/clocksync"
	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/posebridge/posebridge-go/pkg/log"
	"github.com/posebridge/posebridge-go/pkg/topic"
	"github.com/posebridge/posebridge-go/pkg/transport"
	"github.com/posebridge/posebridge-go/pkg/wire"
)

// Session errors.
var (
	ErrClosed       = fault.New(fault.Transport, "session closed")
	ErrUnknownTopic = fault.New(fault.Protocol, "value for unannounced topic id")
	ErrNotPublished = fault.New(fault.Protocol, "topic not published")
)

// DefaultQueueLimit bounds the queued values per all-changes topic.
const DefaultQueueLimit = 64

// Options configures a Session.
type Options struct {
	// QueueLimit bounds queued values per topic; the oldest is dropped
	// first (default: 64).
	QueueLimit int

	// Metrics is optional.
	Metrics *Metrics
}

// Value is a received topic value.
type Value struct {
	Value any
	Type  wire.Type

	// TimestampMicros is the peer's timestamp for the value.
	TimestampMicros int64

	// ReceivedMicros is the local receive time.
	ReceivedMicros int64
}

// Session is one connection's worth of protocol state.
type Session struct {
	cc      *clientctx.Context
	conn    transport.Conn
	id      string
	remote  string
	opts    Options
	clock   *clocksync.Engine
	opened  time.Time
	metrics *Metrics

	mu     sync.Mutex
	latest map[string]Value
	queues map[string][]Value

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// New takes ownership of conn. It re-announces every registry definition
// in a single control message, sends a clock-sync request and starts the
// read loop. If any of that fails the returned session is already closed.
func New(cc *clientctx.Context, conn transport.Conn, opts Options) *Session {
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}
	s := &Session{
		cc:      cc,
		conn:    conn,
		id:      uuid.NewString(),
		remote:  conn.RemoteAddr(),
		opts:    opts,
		clock:   clocksync.New(),
		opened:  cc.Now(),
		metrics: opts.Metrics,
		latest:  make(map[string]Value),
		queues:  make(map[string][]Value),
		done:    make(chan struct{}),
	}
	if c, ok := conn.(transport.Capturer); ok {
		c.SetLogger(cc.Capture, s.id)
	}
	s.logState("", "OPEN", s.remote)

	if msgs := cc.Registry.Rebind(); len(msgs) > 0 {
		if err := s.sendControl(msgs...); err != nil {
			s.Close(err)
			return s
		}
	}
	if err := s.SyncClock(); err != nil {
		s.Close(err)
		return s
	}

	go s.readLoop()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.remote }

// OpenedAt returns the time the session was created.
func (s *Session) OpenedAt() time.Time { return s.opened }

// IsConnected reports whether the session is still open.
func (s *Session) IsConnected() bool { return !s.closed.Load() }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reason the session closed, or nil while open.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close closes the session and its connection. The first reason wins;
// a nil reason records ErrClosed.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrClosed
		}
		s.err = reason
		s.closed.Store(true)
		s.conn.Close()
		close(s.done)
		s.logState("OPEN", "CLOSED", reason.Error())
		s.cc.Logger.Debug("session closed",
			slog.String("session", s.id),
			slog.String("remote", s.remote),
			slog.String("reason", reason.Error()))
	})
}

// Publish declares a publisher. The publish message is sent only when the
// topic is new; the definition survives this session either way.
func (s *Session) Publish(name string, t wire.Type, props map[string]any) error {
	pub, created, err := s.cc.Registry.Publish(name, t, props)
	if err != nil {
		return err
	}
	if !created || !s.IsConnected() {
		return nil
	}
	return s.sendControl(wire.Publish(pub.Name, pub.UID, pub.Type, pub.Properties))
}

// Unpublish removes a publisher.
func (s *Session) Unpublish(name string) error {
	pub, ok := s.cc.Registry.Unpublish(name)
	if !ok || !s.IsConnected() {
		return nil
	}
	return s.sendControl(wire.Unpublish(pub.UID))
}

// Subscribe declares a subscription.
func (s *Session) Subscribe(topics []string, opts topic.Options) (topic.Subscription, error) {
	sub, err := s.cc.Registry.Subscribe(topics, opts)
	if err != nil {
		return topic.Subscription{}, err
	}
	if !s.IsConnected() {
		return sub, nil
	}
	m := wire.Subscribe(sub.UID, sub.Topics, wire.SubscribeOptions{
		Periodic:   opts.Periodic,
		All:        opts.All,
		Prefix:     opts.Prefix,
		TopicsOnly: opts.TopicsOnly,
	})
	return sub, s.sendControl(m)
}

// Unsubscribe removes a subscription.
func (s *Session) Unsubscribe(uid int64) error {
	if err := s.cc.Registry.Unsubscribe(uid); err != nil {
		return err
	}
	if !s.IsConnected() {
		return nil
	}
	return s.sendControl(wire.Unsubscribe(uid))
}

// PublishValue sends a value on a published topic. It reports false and
// drops the value if the session is closed, the topic was never
// published, or the value does not fit the topic type. A timestamp of
// zero means now.
func (s *Session) PublishValue(name string, value any, timestampMicros int64) bool {
	if !s.IsConnected() {
		s.metrics.dropped("closed")
		return false
	}
	pub, ok := s.cc.Registry.Publisher(name)
	if !ok {
		s.metrics.dropped("unpublished")
		s.cc.Diagnostics.Warn(log.LayerWire, name, ErrNotPublished)
		return false
	}
	v, err := wire.Coerce(pub.Type, value)
	if err != nil {
		s.metrics.dropped("type")
		s.cc.Diagnostics.Warn(log.LayerWire, name, err)
		return false
	}
	if timestampMicros == 0 {
		timestampMicros = s.cc.NowMicros()
	}

	f := wire.Frame{TopicID: pub.UID, Timestamp: timestampMicros, Type: pub.Type, Value: v}
	if err := s.sendFrames(f); err != nil {
		return false
	}
	s.logValue(log.DirectionOut, name, f)
	return true
}

// Latest returns the most recent value received for name.
func (s *Session) Latest(name string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.latest[name]
	return v, ok
}

// ReadLatest returns the most recent value for name, or def.
func (s *Session) ReadLatest(name string, def any) any {
	if v, ok := s.Latest(name); ok {
		return v.Value
	}
	return def
}

// Drain returns and clears the values queued for name. Only topics
// covered by an all-changes subscription are queued.
func (s *Session) Drain(name string) []Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[name]
	delete(s.queues, name)
	return q
}

// SyncClock sends a clock-sync request. Any previous estimate stays in
// place until the echo arrives.
func (s *Session) SyncClock() error {
	return s.sendFrames(s.clock.Request(s.cc.NowMicros()))
}

// PeerTime translates a local timestamp to peer time. The bool is false
// until a round trip completes on this session.
func (s *Session) PeerTime(localMicros int64) (int64, bool) {
	return s.clock.PeerTime(localMicros)
}

// ClockState returns the clock estimate.
func (s *Session) ClockState() clocksync.State {
	return s.clock.State()
}

func (s *Session) sendControl(msgs ...wire.ControlMessage) error {
	data, err := wire.EncodeControl(msgs...)
	if err != nil {
		return err
	}
	if err := s.conn.WriteText(data); err != nil {
		s.Close(err)
		return err
	}
	s.metrics.sent("control")
	for _, m := range msgs {
		s.logControl(log.DirectionOut, m)
	}
	return nil
}

func (s *Session) sendFrames(frames ...wire.Frame) error {
	if !s.IsConnected() {
		return ErrClosed
	}
	data, err := wire.EncodeFrames(frames...)
	if err != nil {
		s.cc.Diagnostics.Warn(log.LayerWire, "encode", err)
		return err
	}
	if err := s.conn.WriteBinary(data); err != nil {
		s.Close(err)
		return err
	}
	s.metrics.sent("binary")
	return nil
}

func (s *Session) readLoop() {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.Close(err)
			return
		}
		switch mt {
		case transport.TextMessage:
			s.metrics.received("control")
			s.handleControl(data)
		case transport.BinaryMessage:
			s.metrics.received("binary")
			s.handleValues(data)
		}
	}
}

// The registry is shared with the next session, so a closed session must
// not apply control messages or values it is still draining.
func (s *Session) handleControl(data []byte) {
	if s.closed.Load() {
		return
	}
	msgs, err := wire.DecodeControl(data)
	if err != nil {
		s.cc.Diagnostics.Warn(log.LayerWire, "control", err)
		return
	}
	for _, m := range msgs {
		if s.closed.Load() {
			return
		}
		s.logControl(log.DirectionIn, m)
		if err := s.applyControl(m); err != nil {
			s.cc.Diagnostics.Warn(log.LayerWire, m.Method, err)
		}
	}
}

func (s *Session) applyControl(m wire.ControlMessage) error {
	reg := s.cc.Registry
	switch m.Method {
	case wire.MethodAnnounce:
		p, err := wire.DecodeParams[wire.AnnounceParams](m, m.Method)
		if err != nil {
			return err
		}
		_, err = reg.Announce(p)
		return err

	case wire.MethodUnannounce:
		p, err := wire.DecodeParams[wire.UnannounceParams](m, m.Method)
		if err != nil {
			return err
		}
		if a, ok := reg.Unannounce(p.ID); ok {
			s.mu.Lock()
			delete(s.latest, a.Name)
			delete(s.queues, a.Name)
			s.mu.Unlock()
		}
		return nil

	case wire.MethodProperties:
		p, err := wire.DecodeParams[wire.PropertiesParams](m, m.Method)
		if err != nil {
			return err
		}
		reg.UpdateProperties(p.Name, p.Update)
		return nil

	default:
		return fmt.Errorf("%w: %q", wire.ErrUnexpectedMethod, m.Method)
	}
}

func (s *Session) handleValues(data []byte) {
	if s.closed.Load() {
		return
	}
	now := s.cc.NowMicros()
	frames, err := wire.DecodeFrames(data)
	for _, f := range frames {
		if f.IsClockSync() {
			s.handleClock(f, now)
			continue
		}
		s.store(f, now)
	}
	if err != nil {
		reason := "type"
		if errors.Is(err, wire.ErrMalformedFrame) {
			reason = "malformed"
		}
		s.metrics.dropped(reason)
		s.cc.Diagnostics.Warn(log.LayerWire, "values", err)
	}
}

func (s *Session) handleClock(f wire.Frame, now int64) {
	s.logClock(f)
	if err := s.clock.HandleEcho(f, now); err != nil {
		s.cc.Diagnostics.Warn(log.LayerWire, "clock sync", fault.Wrap(fault.Protocol, "", err))
		return
	}
	s.metrics.rtt(s.clock.State().RoundTripMicros)
}

func (s *Session) store(f wire.Frame, now int64) {
	if s.closed.Load() {
		return
	}
	reg := s.cc.Registry
	a, ok := reg.Lookup(f.TopicID)
	if !ok {
		s.metrics.dropped("unknown_topic")
		s.cc.Diagnostics.Warn(log.LayerWire, "", fmt.Errorf("%w: %d", ErrUnknownTopic, f.TopicID))
		return
	}
	if a.Type != f.Type {
		s.metrics.dropped("type")
		s.cc.Diagnostics.Warn(log.LayerWire, a.Name,
			fmt.Errorf("%w: announced %s, frame %s", wire.ErrTypeMismatch, a.Type, f.Type))
		return
	}
	s.logValue(log.DirectionIn, a.Name, f)

	v := Value{Value: f.Value, Type: f.Type, TimestampMicros: f.Timestamp, ReceivedMicros: now}
	queued := reg.Queued(a.Name)

	s.mu.Lock()
	s.latest[a.Name] = v
	if queued {
		q := append(s.queues[a.Name], v)
		if over := len(q) - s.opts.QueueLimit; over > 0 {
			q = q[over:]
			s.metrics.dropped("queue_full")
		}
		s.queues[a.Name] = q
	}
	s.mu.Unlock()
}

func (s *Session) event(dir log.Direction, layer log.Layer, cat log.Category) log.Event {
	return log.Event{
		Timestamp:    s.cc.Now(),
		ConnectionID: s.id,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		ClientName:   s.cc.ClientName,
		RemoteAddr:   s.remote,
	}
}

func (s *Session) logControl(dir log.Direction, m wire.ControlMessage) {
	e := s.event(dir, log.LayerWire, log.CategoryMessage)
	e.Message = &log.MessageEvent{
		Type:    log.MessageTypeControl,
		Method:  m.Method,
		Payload: string(m.Params),
	}
	s.cc.Capture.Log(e)
}

func (s *Session) logValue(dir log.Direction, name string, f wire.Frame) {
	e := s.event(dir, log.LayerWire, log.CategoryMessage)
	e.Message = &log.MessageEvent{
		Type:            log.MessageTypeValue,
		Topic:           name,
		TopicID:         f.TopicID,
		DataType:        f.Type.String(),
		TimestampMicros: f.Timestamp,
		Payload:         f.Value,
	}
	s.cc.Capture.Log(e)
}

func (s *Session) logClock(f wire.Frame) {
	e := s.event(log.DirectionIn, log.LayerWire, log.CategoryMessage)
	e.Message = &log.MessageEvent{
		Type:            log.MessageTypeClockSync,
		TopicID:         f.TopicID,
		DataType:        f.Type.String(),
		TimestampMicros: f.Timestamp,
		Payload:         f.Value,
	}
	s.cc.Capture.Log(e)
}

func (s *Session) logState(from, to, reason string) {
	e := s.event(log.DirectionIn, log.LayerApp, log.CategoryState)
	e.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntitySession,
		OldState: from,
		NewState: to,
		Reason:   reason,
	}
	s.cc.Capture.Log(e)
}
