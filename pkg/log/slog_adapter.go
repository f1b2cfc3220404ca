package log

import (
	"context"
	"log/slog"
	"strings"
)

// SlogAdapter mirrors capture events into an operational logger. Frames
// and value messages are skipped unless WithValueTraffic is given; at the
// fast tick rate they would drown everything else.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
	values bool
}

// SlogOption configures a SlogAdapter.
type SlogOption func(*SlogAdapter)

// WithLevel sets the level events are logged at. The default is Debug.
func WithLevel(level slog.Level) SlogOption {
	return func(a *SlogAdapter) { a.level = level }
}

// WithValueTraffic includes raw frames and value messages.
func WithValueTraffic() SlogOption {
	return func(a *SlogAdapter) { a.values = true }
}

// NewSlogAdapter returns an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger, opts ...SlogOption) *SlogAdapter {
	a := &SlogAdapter{logger: logger, level: slog.LevelDebug}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Log implements Logger.
func (a *SlogAdapter) Log(event Event) {
	if !a.values && isTraffic(event) {
		return
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, a.level) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("session", event.ConnectionID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	attrs = append(attrs,
		slog.String("dir", event.Direction.String()),
		slog.String("layer", event.Layer.String()))

	msg := "capture"
	switch {
	case event.Frame != nil:
		msg = "capture frame"
		attrs = append(attrs,
			slog.String("kind", event.Frame.Kind.String()),
			slog.Int("size", event.Frame.Size))
		if event.Frame.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.Message != nil:
		msg = "capture " + strings.ToLower(event.Message.Type.String())
		attrs = append(attrs, messageAttrs(event.Message)...)
	case event.StateChange != nil:
		msg = "capture state"
		sc := event.StateChange
		attrs = append(attrs,
			slog.String("entity", sc.Entity.String()),
			slog.String("from", sc.OldState),
			slog.String("to", sc.NewState))
		if sc.Reason != "" {
			attrs = append(attrs, slog.String("reason", sc.Reason))
		}
	case event.ControlMsg != nil:
		msg = "capture control"
		attrs = append(attrs, slog.String("type", event.ControlMsg.Type.String()))
		if event.ControlMsg.CloseCode != nil {
			attrs = append(attrs, slog.Int("close_code", *event.ControlMsg.CloseCode))
		}
	case event.Error != nil:
		msg = "capture error"
		e := event.Error
		attrs = append(attrs,
			slog.String("class", e.Class),
			slog.String("error", e.Message))
		if e.Context != "" {
			attrs = append(attrs, slog.String("context", e.Context))
		}
		if e.Repeated > 1 {
			attrs = append(attrs, slog.Int("repeated", e.Repeated))
		}
	}

	a.logger.LogAttrs(ctx, a.level, msg, attrs...)
}

func messageAttrs(m *MessageEvent) []slog.Attr {
	var attrs []slog.Attr
	switch m.Type {
	case MessageTypeControl:
		attrs = append(attrs, slog.String("method", m.Method))
		if m.Topic != "" {
			attrs = append(attrs, slog.String("topic", m.Topic))
		}
	case MessageTypeValue:
		attrs = append(attrs,
			slog.String("topic", m.Topic),
			slog.Int64("topic_id", m.TopicID),
			slog.Int64("ts_us", m.TimestampMicros))
	case MessageTypeClockSync:
		attrs = append(attrs, slog.Int64("ts_us", m.TimestampMicros))
	}
	return attrs
}

func isTraffic(event Event) bool {
	if event.Frame != nil {
		return true
	}
	return event.Message != nil && event.Message.Type == MessageTypeValue
}

var _ Logger = (*SlogAdapter)(nil)
