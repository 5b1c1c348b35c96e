package registry

import (
	"github.com/dd0wney/cluso-tracedb/pkg/event"
)

// Attribute is one (dimension, value, role) fact about an event. Every
// attribute becomes one tuple per part in the matching index.
type Attribute struct {
	Dim   Dimension
	Value uint64
	Role  event.Role
}

type attrSet struct {
	out  []Attribute
	seen map[Attribute]struct{}
}

func (s *attrSet) add(d Dimension, v uint64, r event.Role) {
	a := Attribute{Dim: d, Value: v, Role: r}
	if _, dup := s.seen[a]; dup {
		return
	}
	s.seen[a] = struct{}{}
	s.out = append(s.out, a)
}

func (s *attrSet) object(v event.Value, r event.Role) {
	if id, ok := v.ObjectID(); ok {
		s.add(DimObject, id, r)
	}
}

// Attributes derives the indexed attributes of rec. probes may be nil, in
// which case probe-derived dimensions are skipped.
func Attributes(rec *event.Record, probes *ProbeTable) []Attribute {
	s := attrSet{seen: make(map[Attribute]struct{}, 16)}

	s.add(DimKind, uint64(rec.Kind()), 0)
	s.add(DimThread, uint64(rec.Thread), 0)
	s.add(DimDepth, uint64(rec.Depth), 0)
	for _, id := range rec.AdviceCFlow {
		s.add(DimAdviceCFlow, uint64(id), 0)
	}

	if info, ok := probes.Lookup(rec.ProbeID); ok {
		s.add(DimLocation, uint64(info.BytecodeIndex), 0)
		if info.AdviceSource != 0 {
			s.add(DimAdviceSource, uint64(info.AdviceSource), 0)
		}
		if info.BytecodeRole != 0 {
			s.add(DimBytecodeRole, uint64(info.BytecodeRole), 0)
		}
		if info.Behavior != 0 {
			s.add(DimBehavior, uint64(info.Behavior), event.RoleOperation)
		}
	}

	switch p := rec.Payload.(type) {
	case *event.BehaviorCall:
		s.add(DimBehavior, uint64(p.Called), event.RoleCalled)
		s.add(DimBehavior, uint64(p.Executed), event.RoleExecuted)
		s.object(p.Target, event.RoleTarget)
		for i, arg := range p.Args {
			if i >= event.MaxArgRole {
				break
			}
			s.object(arg, event.ArgRole(i))
		}
	case *event.BehaviorExit:
		s.add(DimBehavior, uint64(p.Behavior), event.RoleExit)
		s.object(p.Result, event.RoleResult)
	case *event.FieldWrite:
		s.add(DimField, uint64(p.Field), 0)
		s.object(p.Target, event.RoleTarget)
		s.object(p.Value, event.RoleValue)
	case *event.ArrayWrite:
		s.add(DimArrayIndex, uint64(p.Index), 0)
		s.object(p.Target, event.RoleTarget)
		s.object(p.Value, event.RoleValue)
	case *event.NewArray:
		s.object(p.Instance, event.RoleValue)
	case *event.LocalWrite:
		s.add(DimVariable, uint64(p.Variable), 0)
		s.object(p.Value, event.RoleValue)
	case *event.ExceptionGenerated:
		s.add(DimBehavior, uint64(p.Behavior), event.RoleOperation)
		s.object(p.Exception, event.RoleException)
	case *event.InstanceOf:
		s.object(p.Object, event.RoleTarget)
	}
	return s.out
}
