package wire

import (
	"fmt"
	"math"
	"strings"

	"github.com/posebridge/posebridge-go/pkg/fault"
)

// Type is a topic value type.
type Type uint8

const (
	TypeBoolean Type = iota
	TypeDouble
	TypeInt
	TypeFloat
	TypeString
	TypeRaw
	TypeBooleanArray
	TypeDoubleArray
	TypeIntArray
	TypeFloatArray
	TypeStringArray
)

// ClockSyncTopicID is the reserved topic identifier for clock sync frames.
const ClockSyncTopicID int64 = -1

// Type errors.
var (
	ErrUnknownType  = fault.New(fault.Protocol, "unknown value type")
	ErrTypeMismatch = fault.New(fault.Protocol, "value type mismatch")
)

// typeInfo describes the wire representation of a Type.
type typeInfo struct {
	name string
	idx  uint8
}

var typeTable = [...]typeInfo{
	TypeBoolean:      {"boolean", 0},
	TypeDouble:       {"double", 1},
	TypeInt:          {"int", 2},
	TypeFloat:        {"float", 3},
	TypeString:       {"string", 4},
	TypeRaw:          {"raw", 5},
	TypeBooleanArray: {"boolean[]", 16},
	TypeDoubleArray:  {"double[]", 17},
	TypeIntArray:     {"int[]", 18},
	TypeFloatArray:   {"float[]", 19},
	TypeStringArray:  {"string[]", 20},
}

// String returns the type string used in control messages.
func (t Type) String() string {
	if int(t) < len(typeTable) {
		return typeTable[t].name
	}
	return "unknown"
}

// Idx returns the binary type index used in value frames.
func (t Type) Idx() uint8 {
	if int(t) < len(typeTable) {
		return typeTable[t].idx
	}
	return math.MaxUint8
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return int(t) < len(typeTable)
}

// ParseType resolves a control-message type string.
// Structured binary types (json, msgpack, protobuf schemas) map to TypeRaw
// because they share its binary representation.
func ParseType(s string) (Type, error) {
	for i, info := range typeTable {
		if info.name == s {
			return Type(i), nil
		}
	}
	switch {
	case s == "json", s == "msgpack", s == "rpc", s == "protobuf",
		strings.HasPrefix(s, "proto:"), strings.HasPrefix(s, "struct:"):
		return TypeRaw, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// TypeFromIdx resolves a binary type index.
func TypeFromIdx(idx uint8) (Type, error) {
	for i, info := range typeTable {
		if info.idx == idx {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("%w: idx %d", ErrUnknownType, idx)
}

// TypeOf infers the topic type for a Go value.
func TypeOf(v any) (Type, error) {
	switch v.(type) {
	case bool:
		return TypeBoolean, nil
	case float64:
		return TypeDouble, nil
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return TypeInt, nil
	case float32:
		return TypeFloat, nil
	case string:
		return TypeString, nil
	case []byte:
		return TypeRaw, nil
	case []bool:
		return TypeBooleanArray, nil
	case []float64:
		return TypeDoubleArray, nil
	case []int64:
		return TypeIntArray, nil
	case []float32:
		return TypeFloatArray, nil
	case []string:
		return TypeStringArray, nil
	}
	return 0, fmt.Errorf("%w: no topic type for %T", ErrUnknownType, v)
}

// Coerce converts v to the canonical Go representation of t.
//
// Numeric types accept any Go numeric value. Arrays accept either the typed
// slice or a []any whose elements coerce individually, which is what the
// MessagePack decoder produces.
func Coerce(t Type, v any) (any, error) {
	switch t {
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeDouble:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case TypeInt:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return float32(f), nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeRaw:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
	case TypeBooleanArray:
		return coerceSlice(v, func(e any) (bool, bool) { b, ok := e.(bool); return b, ok })
	case TypeDoubleArray:
		return coerceSlice(v, toFloat64)
	case TypeIntArray:
		return coerceSlice(v, toInt64)
	case TypeFloatArray:
		return coerceSlice(v, func(e any) (float32, bool) {
			f, ok := toFloat64(e)
			return float32(f), ok
		})
	case TypeStringArray:
		return coerceSlice(v, func(e any) (string, bool) { s, ok := e.(string); return s, ok })
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
	return nil, fmt.Errorf("%w: %T is not %s", ErrTypeMismatch, v, t)
}

func coerceSlice[T any](v any, conv func(any) (T, bool)) (any, error) {
	switch s := v.(type) {
	case []T:
		return s, nil
	case []any:
		out := make([]T, len(s))
		for i, e := range s {
			c, ok := conv(e)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrTypeMismatch, i, e)
			}
			out[i] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not an array", ErrTypeMismatch, v)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case float32:
		if float64(n) != math.Trunc(float64(n)) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
