package wire

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/posebridge/posebridge-go/pkg/fault"
)

// Control method names.
const (
	MethodPublish     = "publish"
	MethodUnpublish   = "unpublish"
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
	MethodAnnounce    = "announce"
	MethodUnannounce  = "unannounce"
	MethodProperties  = "properties"
	MethodSetProps    = "setproperties"
)

// Control errors.
var (
	ErrMalformedControl = fault.New(fault.Protocol, "malformed control message")
	ErrUnexpectedMethod = fault.New(fault.Protocol, "unexpected control method")
)

// controlAPI mirrors encoding/json semantics so that peers implemented
// against the standard library see identical output.
var controlAPI = sonic.ConfigStd

// ControlMessage is one element of a control-channel text frame.
type ControlMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// PublishParams announces a client publisher.
type PublishParams struct {
	Name       string         `json:"name"`
	PubUID     int64          `json:"pubuid"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// UnpublishParams withdraws a client publisher.
type UnpublishParams struct {
	PubUID int64 `json:"pubuid"`
}

// SubscribeOptions tunes delivery for a subscription.
type SubscribeOptions struct {
	// Periodic is the delivery period in seconds.
	Periodic float64 `json:"periodic,omitempty"`

	// All requests every value change rather than the latest per period.
	All bool `json:"all,omitempty"`

	// TopicsOnly requests announcements without values.
	TopicsOnly bool `json:"topicsonly,omitempty"`

	// Prefix treats Topics as name prefixes.
	Prefix bool `json:"prefix,omitempty"`
}

// SubscribeParams registers a client subscription.
type SubscribeParams struct {
	Topics  []string         `json:"topics"`
	SubUID  int64            `json:"subuid"`
	Options SubscribeOptions `json:"options"`
}

// UnsubscribeParams withdraws a client subscription.
type UnsubscribeParams struct {
	SubUID int64 `json:"subuid"`
}

// AnnounceParams is sent by the peer when a topic becomes visible.
type AnnounceParams struct {
	Name       string         `json:"name"`
	ID         int64          `json:"id"`
	Type       string         `json:"type"`
	PubUID     *int64         `json:"pubuid,omitempty"`
	Properties map[string]any `json:"properties"`
}

// UnannounceParams is sent by the peer when a topic goes away.
type UnannounceParams struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// PropertiesParams carries a property update for an announced topic.
// A nil value in Update deletes the property.
type PropertiesParams struct {
	Name   string         `json:"name"`
	Ack    bool           `json:"ack,omitempty"`
	Update map[string]any `json:"update"`
}

// NewControlMessage builds a control message from typed params.
func NewControlMessage(method string, params any) (ControlMessage, error) {
	raw, err := controlAPI.Marshal(params)
	if err != nil {
		return ControlMessage{}, fmt.Errorf("encode %s params: %w", method, err)
	}
	return ControlMessage{Method: method, Params: raw}, nil
}

// Publish builds a publish message.
func Publish(name string, pubUID int64, t Type, props map[string]any) ControlMessage {
	if props == nil {
		props = map[string]any{}
	}
	msg, _ := NewControlMessage(MethodPublish, PublishParams{
		Name:       name,
		PubUID:     pubUID,
		Type:       t.String(),
		Properties: props,
	})
	return msg
}

// Unpublish builds an unpublish message.
func Unpublish(pubUID int64) ControlMessage {
	msg, _ := NewControlMessage(MethodUnpublish, UnpublishParams{PubUID: pubUID})
	return msg
}

// Subscribe builds a subscribe message.
func Subscribe(subUID int64, topics []string, opts SubscribeOptions) ControlMessage {
	if topics == nil {
		topics = []string{}
	}
	msg, _ := NewControlMessage(MethodSubscribe, SubscribeParams{
		Topics:  topics,
		SubUID:  subUID,
		Options: opts,
	})
	return msg
}

// Unsubscribe builds an unsubscribe message.
func Unsubscribe(subUID int64) ControlMessage {
	msg, _ := NewControlMessage(MethodUnsubscribe, UnsubscribeParams{SubUID: subUID})
	return msg
}

// EncodeControl encodes control messages as one text frame.
func EncodeControl(msgs ...ControlMessage) ([]byte, error) {
	if msgs == nil {
		msgs = []ControlMessage{}
	}
	return controlAPI.Marshal(msgs)
}

// DecodeControl decodes a control text frame.
func DecodeControl(data []byte) ([]ControlMessage, error) {
	var msgs []ControlMessage
	if err := controlAPI.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	for i, m := range msgs {
		if m.Method == "" {
			return nil, fmt.Errorf("%w: element %d has no method", ErrMalformedControl, i)
		}
	}
	return msgs, nil
}

// DecodeParams decodes the params of m into a typed struct after checking
// the method name.
func DecodeParams[T any](m ControlMessage, method string) (T, error) {
	var p T
	if m.Method != method {
		return p, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedMethod, m.Method, method)
	}
	if err := controlAPI.Unmarshal(m.Params, &p); err != nil {
		return p, fmt.Errorf("%w: %s params: %v", ErrMalformedControl, method, err)
	}
	return p, nil
}
