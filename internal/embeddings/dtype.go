package embeddings

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// ElementType is the closed set of tensor element kinds the synthesizer can
// produce. New kinds are added here together with a case in CastInt64.
type ElementType int

const (
	ElementUndefined ElementType = iota
	ElementInt8
	ElementInt16
	ElementInt32
	ElementInt64
	ElementUint8
	ElementUint16
	ElementUint32
	ElementUint64
	ElementBool
	ElementFloat16
	ElementBFloat16
	ElementFloat32
	ElementFloat64
	ElementString
)

var elementTypeNames = map[ElementType]string{
	ElementUndefined: "undefined",
	ElementInt8:      "int8",
	ElementInt16:     "int16",
	ElementInt32:     "int32",
	ElementInt64:     "int64",
	ElementUint8:     "uint8",
	ElementUint16:    "uint16",
	ElementUint32:    "uint32",
	ElementUint64:    "uint64",
	ElementBool:      "bool",
	ElementFloat16:   "float16",
	ElementBFloat16:  "bfloat16",
	ElementFloat32:   "float32",
	ElementFloat64:   "float64",
	ElementString:    "string",
}

func (t ElementType) String() string {
	if name, ok := elementTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("element(%d)", int(t))
}

// SupportedElementTypes lists every kind CastInt64 accepts.
func SupportedElementTypes() []ElementType {
	return []ElementType{
		ElementInt8, ElementInt16, ElementInt32, ElementInt64,
		ElementUint8, ElementUint16, ElementUint32, ElementUint64,
		ElementBool, ElementFloat16, ElementBFloat16, ElementFloat32, ElementFloat64,
	}
}

// Tensor is a named, typed, shaped input buffer. Data holds exactly one of
// []int8, []int16, []int32, []int64, []uint8, []uint16, []uint32, []uint64,
// []bool, []float32 or []float64; float16 and bfloat16 are stored as raw
// []uint16 bit patterns.
type Tensor struct {
	Name        string
	ElementType ElementType
	Shape       []int64
	Data        any
}

// Len returns the number of elements in the tensor.
func (t *Tensor) Len() int {
	switch d := t.Data.(type) {
	case []int8:
		return len(d)
	case []int16:
		return len(d)
	case []int32:
		return len(d)
	case []int64:
		return len(d)
	case []uint8:
		return len(d)
	case []uint16:
		return len(d)
	case []uint32:
		return len(d)
	case []uint64:
		return len(d)
	case []bool:
		return len(d)
	case []float32:
		return len(d)
	case []float64:
		return len(d)
	}
	return 0
}

// IsScalar reports whether t is rank 0.
func (t *Tensor) IsScalar() bool {
	return len(t.Shape) == 0
}

// NumElements returns the product of shape. Negative extents are rejected.
func NumElements(shape []int64) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w: unresolved dynamic axis in %v", ErrInvalidShape, shape)
		}
		n *= int(d)
	}
	return n, nil
}

// CastInt64 converts logical integer data into a tensor of the declared
// element type. len(data) must equal the product of shape.
func CastInt64(et ElementType, shape []int64, data []int64) (*Tensor, error) {
	expected, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if expected != len(data) {
		return nil, fmt.Errorf("%w: input data length mismatch: expected %d, got %d", ErrInvalidShape, expected, len(data))
	}

	t := &Tensor{ElementType: et, Shape: append([]int64(nil), shape...)}
	switch et {
	case ElementInt64:
		t.Data = append([]int64(nil), data...)
	case ElementInt32:
		t.Data = convert(data, func(v int64) int32 { return int32(v) })
	case ElementInt16:
		t.Data = convert(data, func(v int64) int16 { return int16(v) })
	case ElementInt8:
		t.Data = convert(data, func(v int64) int8 { return int8(v) })
	case ElementUint64:
		t.Data = convert(data, func(v int64) uint64 { return uint64(v) })
	case ElementUint32:
		t.Data = convert(data, func(v int64) uint32 { return uint32(v) })
	case ElementUint16:
		t.Data = convert(data, func(v int64) uint16 { return uint16(v) })
	case ElementUint8:
		t.Data = convert(data, func(v int64) uint8 { return uint8(v) })
	case ElementBool:
		t.Data = convert(data, func(v int64) bool { return v != 0 })
	case ElementFloat32:
		t.Data = convert(data, func(v int64) float32 { return float32(v) })
	case ElementFloat64:
		t.Data = convert(data, func(v int64) float64 { return float64(v) })
	case ElementFloat16:
		t.Data = convert(data, func(v int64) uint16 { return float16.Fromfloat32(float32(v)).Bits() })
	case ElementBFloat16:
		t.Data = convert(data, func(v int64) uint16 { return bfloat16Bits(float32(v)) })
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDtype, et)
	}
	return t, nil
}

// Zeros returns an all-zero (all-false) tensor of the declared element type.
func Zeros(et ElementType, shape []int64) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	return CastInt64(et, shape, make([]int64, n))
}

// Int64s reads the tensor back as int64 values. Floating kinds are truncated.
func (t *Tensor) Int64s() ([]int64, error) {
	switch d := t.Data.(type) {
	case []int64:
		return append([]int64(nil), d...), nil
	case []int32:
		return convert(d, func(v int32) int64 { return int64(v) }), nil
	case []int16:
		return convert(d, func(v int16) int64 { return int64(v) }), nil
	case []int8:
		return convert(d, func(v int8) int64 { return int64(v) }), nil
	case []uint64:
		return convert(d, func(v uint64) int64 { return int64(v) }), nil
	case []uint32:
		return convert(d, func(v uint32) int64 { return int64(v) }), nil
	case []uint8:
		return convert(d, func(v uint8) int64 { return int64(v) }), nil
	case []bool:
		return convert(d, func(v bool) int64 {
			if v {
				return 1
			}
			return 0
		}), nil
	case []float32:
		return convert(d, func(v float32) int64 { return int64(v) }), nil
	case []float64:
		return convert(d, func(v float64) int64 { return int64(v) }), nil
	case []uint16:
		switch t.ElementType {
		case ElementFloat16:
			return convert(d, func(v uint16) int64 { return int64(float16.Frombits(v).Float32()) }), nil
		case ElementBFloat16:
			return convert(d, func(v uint16) int64 { return int64(math.Float32frombits(uint32(v) << 16)) }), nil
		default:
			return convert(d, func(v uint16) int64 { return int64(v) }), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDtype, t.ElementType)
}

// RawBytes returns the little-endian element bytes for kinds the runtime
// cannot take as a typed Go slice (bool, float16, bfloat16).
func (t *Tensor) RawBytes() ([]byte, error) {
	switch d := t.Data.(type) {
	case []bool:
		out := make([]byte, len(d))
		for i, v := range d {
			if v {
				out[i] = 1
			}
		}
		return out, nil
	case []uint16:
		out := make([]byte, 2*len(d))
		for i, v := range d {
			binary.LittleEndian.PutUint16(out[2*i:], v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: raw bytes not available for %s", ErrUnsupportedDtype, t.ElementType)
}

func convert[S, D any](src []S, fn func(S) D) []D {
	out := make([]D, len(src))
	for i, v := range src {
		out[i] = fn(v)
	}
	return out
}

// bfloat16Bits rounds a float32 to bfloat16 (round to nearest even).
func bfloat16Bits(f float32) uint16 {
	b := math.Float32bits(f)
	if math.IsNaN(float64(f)) {
		return uint16(b>>16) | 0x40
	}
	b += 0x7fff + ((b >> 16) & 1)
	return uint16(b >> 16)
}
