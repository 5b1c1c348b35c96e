package event

import (
	"fmt"
	"math"
	"strconv"
)

// ValueKind tags an event value. It is stored in 3 bits.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueObject
	ValueInt
	ValueDouble
	ValueBool
)

// Value is a field, argument, result or exception value carried by an event.
type Value struct {
	Kind ValueKind
	Raw  uint64
}

// Null is the absent value.
var Null = Value{}

// ObjectValue references an object by id. Id 0 is the null reference.
func ObjectValue(id uint64) Value {
	if id == 0 {
		return Null
	}
	return Value{Kind: ValueObject, Raw: id}
}

// IntValue wraps an integral primitive.
func IntValue(v int64) Value { return Value{Kind: ValueInt, Raw: uint64(v)} }

// DoubleValue wraps a floating point primitive.
func DoubleValue(f float64) Value { return Value{Kind: ValueDouble, Raw: math.Float64bits(f)} }

// BoolValue wraps a boolean primitive.
func BoolValue(b bool) Value {
	if b {
		return Value{Kind: ValueBool, Raw: 1}
	}
	return Value{Kind: ValueBool}
}

// ObjectID returns the referenced object id, if the value is an object.
func (v Value) ObjectID() (uint64, bool) {
	return v.Raw, v.Kind == ValueObject
}

// Int returns the integral value.
func (v Value) Int() int64 { return int64(v.Raw) }

// Double returns the floating point value.
func (v Value) Double() float64 { return math.Float64frombits(v.Raw) }

func (v Value) String() string {
	switch v.Kind {
	case ValueNull:
		return "null"
	case ValueObject:
		return fmt.Sprintf("obj#%d", v.Raw)
	case ValueInt:
		return strconv.FormatInt(int64(v.Raw), 10)
	case ValueDouble:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Raw == 1)
	}
	return fmt.Sprintf("value(%d)", v.Kind)
}
