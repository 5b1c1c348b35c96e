package registry

import (
	"errors"
	"fmt"
)

// Dimension is an attribute axis along which events are indexed.
type Dimension uint8

const (
	DimKind Dimension = iota
	DimThread
	DimDepth
	DimLocation
	DimAdviceSource
	DimAdviceCFlow
	DimBytecodeRole
	DimBehavior
	DimField
	DimVariable
	DimArrayIndex
	DimObject
	dimensionCount
)

// WholeValue is the part number that designates an unsplit value.
const WholeValue = -1

// Info describes a dimension.
type Info struct {
	Name string
	// Roles is set when tuples carry an event role.
	Roles bool
	// Split is set when values are partitioned into bit parts.
	Split bool
}

var dimensions = [dimensionCount]Info{
	DimKind:         {Name: "kind"},
	DimThread:       {Name: "thread"},
	DimDepth:        {Name: "depth"},
	DimLocation:     {Name: "location"},
	DimAdviceSource: {Name: "advice_source"},
	DimAdviceCFlow:  {Name: "advice_cflow"},
	DimBytecodeRole: {Name: "bytecode_role"},
	DimBehavior:     {Name: "behavior", Roles: true},
	DimField:        {Name: "field"},
	DimVariable:     {Name: "variable"},
	DimArrayIndex:   {Name: "array_index", Split: true},
	DimObject:       {Name: "object", Split: true, Roles: true},
}

var (
	// ErrUnknownDimension is returned for a dimension outside the known set
	ErrUnknownDimension = errors.New("unknown dimension")

	// ErrBadPart is returned for a part number the dimension does not have
	ErrBadPart = errors.New("invalid dimension part")

	// ErrKeyOverflow is returned when a value does not fit the split parts
	ErrKeyOverflow = errors.New("value exceeds split index width")

	// ErrInvalidParts is returned for unusable split part widths
	ErrInvalidParts = errors.New("invalid split part widths")

	// ErrInvalidProbe is returned when registering the reserved probe id 0
	ErrInvalidProbe = errors.New("probe id 0 is reserved")

	// ErrProbeConflict is returned when a probe id is registered again with
	// different information
	ErrProbeConflict = errors.New("probe already registered with different information")
)

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool { return d < dimensionCount }

// Info returns the description of d.
func (d Dimension) Info() Info {
	if !d.Valid() {
		return Info{Name: fmt.Sprintf("dimension(%d)", d)}
	}
	return dimensions[d]
}

func (d Dimension) String() string { return d.Info().Name }

// ParseDimension looks a dimension up by name.
func ParseDimension(name string) (Dimension, bool) {
	for d, info := range dimensions {
		if info.Name == name {
			return Dimension(d), true
		}
	}
	return 0, false
}

// Dimensions returns every dimension in declaration order.
func Dimensions() []Dimension {
	out := make([]Dimension, dimensionCount)
	for i := range out {
		out[i] = Dimension(i)
	}
	return out
}

func validateParts(parts []int) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: no parts", ErrInvalidParts)
	}
	total := 0
	for _, b := range parts {
		if b < 1 || b > 63 {
			return fmt.Errorf("%w: part width %d", ErrInvalidParts, b)
		}
		total += b
	}
	if total > 64 {
		return fmt.Errorf("%w: %d bits in total", ErrInvalidParts, total)
	}
	return nil
}

// splitValue partitions v into parts, lowest bits first.
func splitValue(v uint64, parts []int) ([]uint64, error) {
	out := make([]uint64, len(parts))
	shift := 0
	for i, b := range parts {
		out[i] = (v >> shift) & (1<<b - 1)
		shift += b
	}
	if shift < 64 && v>>shift != 0 {
		return nil, fmt.Errorf("%w: %d needs more than %d bits", ErrKeyOverflow, v, shift)
	}
	return out, nil
}
