// Package pose holds the 3D pose types shared by telemetry and commands,
// and their protobuf wire form.
//
//	message Translation3d { double x = 1; double y = 2; double z = 3; }
//	message Quaternion    { double w = 1; double x = 2; double y = 3; double z = 4; }
//	message Pose3d        { Translation3d translation = 1; Quaternion rotation = 2; }
package pose

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Pose errors.
var (
	ErrNonFinite      = errors.New("pose component is not finite")
	ErrZeroQuaternion = errors.New("rotation quaternion has zero norm")
	ErrMalformed      = errors.New("malformed pose message")
)

// Translation is a position in meters.
type Translation struct {
	X, Y, Z float64
}

// Quaternion is an orientation. It need not be normalized.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity returns the identity rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// Norm returns the quaternion's length.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit length. A zero quaternion is
// returned unchanged.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return q
	}
	return Quaternion{q.W / n, q.X / n, q.Y / n, q.Z / n}
}

// Pose3d is a position and orientation.
type Pose3d struct {
	Translation Translation
	Rotation    Quaternion
}

// Validate checks that every component is finite and that the rotation
// is usable.
func (p Pose3d) Validate() error {
	vals := [...]float64{
		p.Translation.X, p.Translation.Y, p.Translation.Z,
		p.Rotation.W, p.Rotation.X, p.Rotation.Y, p.Rotation.Z,
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFinite
		}
	}
	if p.Rotation.Norm() == 0 {
		return ErrZeroQuaternion
	}
	return nil
}

// Marshal returns the Pose3d message body.
func (p Pose3d) Marshal() []byte {
	return p.appendBody(nil)
}

// AppendField appends p as embedded message field num.
func (p Pose3d) AppendField(b []byte, num protowire.Number) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p.appendBody(nil))
}

func (p Pose3d) appendBody(b []byte) []byte {
	var t []byte
	t = appendDouble(t, 1, p.Translation.X)
	t = appendDouble(t, 2, p.Translation.Y)
	t = appendDouble(t, 3, p.Translation.Z)

	var r []byte
	r = appendDouble(r, 1, p.Rotation.W)
	r = appendDouble(r, 2, p.Rotation.X)
	r = appendDouble(r, 3, p.Rotation.Y)
	r = appendDouble(r, 4, p.Rotation.Z)

	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, t)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	return protowire.AppendBytes(b, r)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 && !math.Signbit(v) {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// Unmarshal parses a Pose3d message body. Unknown fields are skipped.
func Unmarshal(b []byte) (Pose3d, error) {
	var p Pose3d
	err := Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType || (num != 1 && num != 2) {
			return Skip(num, typ, v)
		}
		body, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n, nil
		}
		var err error
		if num == 1 {
			err = unmarshalDoubles(body, &p.Translation.X, &p.Translation.Y, &p.Translation.Z)
		} else {
			err = unmarshalDoubles(body, &p.Rotation.W, &p.Rotation.X, &p.Rotation.Y, &p.Rotation.Z)
		}
		return n, err
	})
	return p, err
}

// unmarshalDoubles fills dst[i] from double field i+1.
func unmarshalDoubles(b []byte, dst ...*float64) error {
	return Walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.Fixed64Type || num < 1 || int(num) > len(dst) {
			return Skip(num, typ, v)
		}
		bits, n := protowire.ConsumeFixed64(v)
		if n >= 0 {
			*dst[num-1] = math.Float64frombits(bits)
		}
		return n, nil
	})
}

// FieldFunc consumes the value of one field from v and returns the
// number of bytes used, or a negative protowire error code.
type FieldFunc func(num protowire.Number, typ protowire.Type, v []byte) (int, error)

// Walk calls fn for every field in a message body.
func Walk(b []byte, fn FieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// Skip consumes a field the caller does not know.
func Skip(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
	return protowire.ConsumeFieldValue(num, typ, v), nil
}
