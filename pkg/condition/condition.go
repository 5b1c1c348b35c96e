// Package condition turns boolean filter expressions over event attributes
// into merge pipelines over the attribute indexes.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
)

// Condition is a node of a filter expression: *Simple, *Conjunction or
// *Disjunction.
type Condition interface {
	fmt.Stringer
	condition()
}

// Simple matches the events carrying one attribute value. Part selects one
// bit part of a split dimension; registry.WholeValue matches the complete
// value. Role restricts role-tagged dimensions and must be zero elsewhere.
type Simple struct {
	Dim   registry.Dimension
	Part  int
	Value uint64
	Role  event.Role
}

// Conjunction matches the events matched by every child. With MatchRoles
// all children must be *Simple and share a role on the event.
type Conjunction struct {
	Children   []Condition
	MatchRoles bool
}

// Disjunction matches the events matched by any child.
type Disjunction struct {
	Children []Condition
}

func (*Simple) condition()      {}
func (*Conjunction) condition() {}
func (*Disjunction) condition() {}

func (s *Simple) String() string {
	if s == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(s.Dim.String())
	if s.Part != registry.WholeValue {
		fmt.Fprintf(&b, "[%d]", s.Part)
	}
	if s.Dim == registry.DimKind {
		fmt.Fprintf(&b, "=%s", event.Kind(s.Value))
	} else {
		fmt.Fprintf(&b, "=%d", s.Value)
	}
	if s.Dim.Info().Roles {
		b.WriteString("/" + roleString(s.Dim, s.Role))
	}
	return b.String()
}

// roleString names r the way its dimension reads it: positive object roles
// are argument positions, positive behavior roles are named.
func roleString(dim registry.Dimension, r event.Role) string {
	if dim == registry.DimObject && r.IsArg() {
		return "arg" + strconv.Itoa(int(r))
	}
	return r.String()
}

func (c *Conjunction) String() string {
	if c == nil {
		return "<nil>"
	}
	if c.MatchRoles {
		return joinChildren("and[roles]", c.Children)
	}
	return joinChildren("and", c.Children)
}

func (d *Disjunction) String() string {
	if d == nil {
		return "<nil>"
	}
	return joinChildren("or", d.Children)
}

func joinChildren(op string, children []Condition) string {
	parts := make([]string, len(children))
	for i, c := range children {
		if c == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = c.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// NewSimple builds a leaf on any dimension.
func NewSimple(dim registry.Dimension, part int, value uint64, role event.Role) *Simple {
	return &Simple{Dim: dim, Part: part, Value: value, Role: role}
}

func whole(dim registry.Dimension, value uint64) *Simple {
	return &Simple{Dim: dim, Part: registry.WholeValue, Value: value}
}

func Thread(id uint16) *Simple         { return whole(registry.DimThread, uint64(id)) }
func Depth(depth uint16) *Simple       { return whole(registry.DimDepth, uint64(depth)) }
func Kind(k event.Kind) *Simple        { return whole(registry.DimKind, uint64(k)) }
func Field(id uint16) *Simple          { return whole(registry.DimField, uint64(id)) }
func Variable(id uint16) *Simple       { return whole(registry.DimVariable, uint64(id)) }
func ArrayIndex(index uint32) *Simple  { return whole(registry.DimArrayIndex, uint64(index)) }
func AdviceSource(id uint16) *Simple   { return whole(registry.DimAdviceSource, uint64(id)) }
func AdviceCFlow(id uint16) *Simple    { return whole(registry.DimAdviceCFlow, uint64(id)) }
func Location(bytecode uint16) *Simple { return whole(registry.DimLocation, uint64(bytecode)) }
func BytecodeRole(role uint8) *Simple  { return whole(registry.DimBytecodeRole, uint64(role)) }

// Behavior matches events involving behavior id in the given role.
func Behavior(id uint16, role event.Role) *Simple {
	s := whole(registry.DimBehavior, uint64(id))
	s.Role = role
	return s
}

// Object matches events involving object id in the given role.
func Object(id uint64, role event.Role) *Simple {
	s := whole(registry.DimObject, id)
	s.Role = role
	return s
}

// And builds a conjunction.
func And(children ...Condition) *Conjunction { return &Conjunction{Children: children} }

// Or builds a disjunction.
func Or(children ...Condition) *Disjunction { return &Disjunction{Children: children} }
