package wire

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/posebridge/posebridge-go/pkg/fault"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame errors.
var (
	ErrMalformedFrame = fault.New(fault.Protocol, "malformed value frame")
	ErrEmptyFrame     = fault.New(fault.Protocol, "empty value frame")
)

// frameFields is the element count of every value frame array.
const frameFields = 4

// Frame is one value on the binary channel.
type Frame struct {
	// TopicID is the publisher UID (outbound), the announced topic ID
	// (inbound), or ClockSyncTopicID.
	TopicID int64

	// Timestamp is in microseconds on the sender's clock.
	Timestamp int64

	// Type is the value type carried in the frame's type tag.
	Type Type

	// Value is the canonical Go representation for Type (see Coerce).
	Value any
}

// IsClockSync reports whether f is a clock synchronization frame.
func (f Frame) IsClockSync() bool {
	return f.TopicID == ClockSyncTopicID
}

// EncodeFrames encodes frames into one binary message.
func EncodeFrames(frames ...Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, ErrEmptyFrame
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for i, f := range frames {
		if err := encodeFrame(enc, f); err != nil {
			return nil, fmt.Errorf("frame %d (topic %d): %w", i, f.TopicID, err)
		}
	}
	return buf.Bytes(), nil
}

func encodeFrame(enc *msgpack.Encoder, f Frame) error {
	v, err := Coerce(f.Type, f.Value)
	if err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(frameFields); err != nil {
		return err
	}
	if err := enc.EncodeInt(f.TopicID); err != nil {
		return err
	}
	if err := enc.EncodeInt(f.Timestamp); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(f.Type.Idx())); err != nil {
		return err
	}
	return encodeValue(enc, v)
}

func encodeValue(enc *msgpack.Encoder, v any) error {
	switch x := v.(type) {
	case bool:
		return enc.EncodeBool(x)
	case float64:
		return enc.EncodeFloat64(x)
	case int64:
		return enc.EncodeInt(x)
	case float32:
		return enc.EncodeFloat32(x)
	case string:
		return enc.EncodeString(x)
	case []byte:
		return enc.EncodeBytes(x)
	case []bool:
		return encodeArray(enc, x, enc.EncodeBool)
	case []float64:
		return encodeArray(enc, x, enc.EncodeFloat64)
	case []int64:
		return encodeArray(enc, x, enc.EncodeInt)
	case []float32:
		return encodeArray(enc, x, enc.EncodeFloat32)
	case []string:
		return encodeArray(enc, x, enc.EncodeString)
	}
	return fmt.Errorf("%w: cannot encode %T", ErrTypeMismatch, v)
}

func encodeArray[T any](enc *msgpack.Encoder, xs []T, encode func(T) error) error {
	if err := enc.EncodeArrayLen(len(xs)); err != nil {
		return err
	}
	for _, x := range xs {
		if err := encode(x); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFrames decodes every frame in a binary message.
//
// A frame whose value does not fit its own type tag, or whose tag is
// unknown, is dropped and decoding continues with the next frame; the
// returned error joins one entry per dropped frame. Decoding stops at the
// first structurally malformed frame because the remaining bytes cannot be
// re-synchronized; that entry wraps ErrMalformedFrame. Frames decoded
// successfully are always returned.
func DecodeFrames(data []byte) ([]Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	var frames []Frame
	var dropped []error
	for i := 0; r.Len() > 0; i++ {
		f, err := decodeFrame(dec)
		var bad *badValue
		switch {
		case err == nil:
			frames = append(frames, f)
		case errors.As(err, &bad):
			dropped = append(dropped, fmt.Errorf("frame %d (topic %d): %w", i, bad.topic, bad.err))
		default:
			dropped = append(dropped, fmt.Errorf("%w: frame %d: %v", ErrMalformedFrame, i, err))
			return frames, errors.Join(dropped...)
		}
	}
	return frames, errors.Join(dropped...)
}

// badValue is a frame that was read completely but whose value cannot be
// used. The decoder is still positioned at the next frame.
type badValue struct {
	topic int64
	err   error
}

func (e *badValue) Error() string { return e.err.Error() }
func (e *badValue) Unwrap() error { return e.err }

func decodeFrame(dec *msgpack.Decoder) (Frame, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Frame{}, err
	}
	if n != frameFields {
		return Frame{}, fmt.Errorf("array length %d, want %d", n, frameFields)
	}
	id, err := dec.DecodeInt64()
	if err != nil {
		return Frame{}, fmt.Errorf("topic id: %w", err)
	}
	ts, err := dec.DecodeInt64()
	if err != nil {
		return Frame{}, fmt.Errorf("timestamp: %w", err)
	}
	idx, err := dec.DecodeUint8()
	if err != nil {
		return Frame{}, fmt.Errorf("type tag: %w", err)
	}
	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return Frame{}, fmt.Errorf("value: %w", err)
	}
	t, err := TypeFromIdx(idx)
	if err != nil {
		return Frame{}, &badValue{topic: id, err: err}
	}
	v, err := Coerce(t, raw)
	if err != nil {
		return Frame{}, &badValue{topic: id, err: err}
	}
	return Frame{TopicID: id, Timestamp: ts, Type: t, Value: v}, nil
}
