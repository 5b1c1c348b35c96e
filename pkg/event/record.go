// Package event defines the events captured from a traced program and their
// bit-packed encoding.
package event

import (
	"fmt"
	"slices"
	"strings"
)

// Kind is the record type tag. It is stored in 4 bits; 0 marks the end of
// an event page and never tags a record.
type Kind uint8

const (
	KindEnd Kind = iota
	KindMethodCall
	KindInstantiation
	KindSuperCall
	KindBehaviorExit
	KindFieldWrite
	KindArrayWrite
	KindNewArray
	KindLocalWrite
	KindException
	KindInstanceOf

	kindCount
)

var kindNames = [...]string{
	KindEnd:           "end",
	KindMethodCall:    "method-call",
	KindInstantiation: "instantiation",
	KindSuperCall:     "super-call",
	KindBehaviorExit:  "behavior-exit",
	KindFieldWrite:    "field-write",
	KindArrayWrite:    "array-write",
	KindNewArray:      "new-array",
	KindLocalWrite:    "local-write",
	KindException:     "exception",
	KindInstanceOf:    "instanceof",
}

func (k Kind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, bool) {
	for k := KindMethodCall; k < kindCount; k++ {
		if kindNames[k] == s {
			return k, true
		}
	}
	return 0, false
}

// Kinds returns every record kind.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindMethodCall; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Record is one captured event: a common header and a kind-specific payload.
type Record struct {
	Thread          uint16
	Depth           uint16
	Timestamp       uint64
	ProbeID         uint32
	ParentTimestamp uint64
	AdviceCFlow     []uint16
	Payload         Payload
}

// Kind returns the kind of the payload.
func (r *Record) Kind() Kind {
	if r.Payload == nil {
		return KindEnd
	}
	return r.Payload.Kind()
}

// Equal reports whether two records carry the same event.
func (r *Record) Equal(o *Record) bool {
	if r.Thread != o.Thread || r.Depth != o.Depth || r.Timestamp != o.Timestamp ||
		r.ProbeID != o.ProbeID || r.ParentTimestamp != o.ParentTimestamp ||
		!slices.Equal(r.AdviceCFlow, o.AdviceCFlow) {
		return false
	}
	return payloadEqual(r.Payload, o.Payload)
}

func payloadEqual(a, b Payload) bool {
	ca, okA := a.(*BehaviorCall)
	cb, okB := b.(*BehaviorCall)
	if okA || okB {
		return okA && okB && ca.Call == cb.Call && ca.Called == cb.Called &&
			ca.Executed == cb.Executed && ca.Direct == cb.Direct &&
			ca.Target == cb.Target && slices.Equal(ca.Args, cb.Args)
	}
	switch pa := a.(type) {
	case *BehaviorExit:
		pb, ok := b.(*BehaviorExit)
		return ok && *pa == *pb
	case *FieldWrite:
		pb, ok := b.(*FieldWrite)
		return ok && *pa == *pb
	case *ArrayWrite:
		pb, ok := b.(*ArrayWrite)
		return ok && *pa == *pb
	case *NewArray:
		pb, ok := b.(*NewArray)
		return ok && *pa == *pb
	case *LocalWrite:
		pb, ok := b.(*LocalWrite)
		return ok && *pa == *pb
	case *ExceptionGenerated:
		pb, ok := b.(*ExceptionGenerated)
		return ok && *pa == *pb
	case *InstanceOf:
		pb, ok := b.(*InstanceOf)
		return ok && *pa == *pb
	}
	return a == nil && b == nil
}

func (r *Record) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "t=%d thread=%d depth=%d %s", r.Timestamp, r.Thread, r.Depth, r.Kind())
	if r.Payload != nil {
		sb.WriteByte(' ')
		sb.WriteString(r.Payload.describe())
	}
	return sb.String()
}

// Payload is the kind-specific part of a record. The set of payloads is
// closed; consumers switch on the concrete type.
type Payload interface {
	Kind() Kind
	describe() string
}

// BehaviorCall is a method call, an instantiation or a super call.
type BehaviorCall struct {
	Call     Kind // KindMethodCall, KindInstantiation or KindSuperCall
	Called   uint16
	Executed uint16 // 0 when the executed behavior is unknown
	Direct   bool   // the called behavior is instrumented
	Target   Value
	Args     []Value
}

// BehaviorExit ends a behavior call.
type BehaviorExit struct {
	Behavior  uint16
	HasThrown bool
	Result    Value
}

// FieldWrite assigns a field.
type FieldWrite struct {
	Field  uint16
	Target Value
	Value  Value
}

// ArrayWrite assigns an array slot.
type ArrayWrite struct {
	Target Value
	Index  uint32
	Value  Value
}

// NewArray creates an array.
type NewArray struct {
	Instance Value
	BaseType uint16
	Size     uint32
}

// LocalWrite assigns a local variable.
type LocalWrite struct {
	Variable uint16
	Value    Value
}

// ExceptionGenerated records a thrown exception.
type ExceptionGenerated struct {
	Behavior      uint16
	BytecodeIndex uint16
	Exception     Value
}

// InstanceOf records a type test.
type InstanceOf struct {
	Object Value
	Type   uint16
	Result bool
}

func (p *BehaviorCall) Kind() Kind       { return p.Call }
func (p *BehaviorExit) Kind() Kind       { return KindBehaviorExit }
func (p *FieldWrite) Kind() Kind         { return KindFieldWrite }
func (p *ArrayWrite) Kind() Kind         { return KindArrayWrite }
func (p *NewArray) Kind() Kind           { return KindNewArray }
func (p *LocalWrite) Kind() Kind         { return KindLocalWrite }
func (p *ExceptionGenerated) Kind() Kind { return KindException }
func (p *InstanceOf) Kind() Kind         { return KindInstanceOf }

func (p *BehaviorCall) describe() string {
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("behavior=%d executed=%d target=%s args=[%s]",
		p.Called, p.Executed, p.Target, strings.Join(args, ", "))
}

func (p *BehaviorExit) describe() string {
	return fmt.Sprintf("behavior=%d thrown=%t result=%s", p.Behavior, p.HasThrown, p.Result)
}

func (p *FieldWrite) describe() string {
	return fmt.Sprintf("field=%d target=%s value=%s", p.Field, p.Target, p.Value)
}

func (p *ArrayWrite) describe() string {
	return fmt.Sprintf("target=%s index=%d value=%s", p.Target, p.Index, p.Value)
}

func (p *NewArray) describe() string {
	return fmt.Sprintf("instance=%s type=%d size=%d", p.Instance, p.BaseType, p.Size)
}

func (p *LocalWrite) describe() string {
	return fmt.Sprintf("variable=%d value=%s", p.Variable, p.Value)
}

func (p *ExceptionGenerated) describe() string {
	return fmt.Sprintf("behavior=%d bytecode=%d exception=%s", p.Behavior, p.BytecodeIndex, p.Exception)
}

func (p *InstanceOf) describe() string {
	return fmt.Sprintf("object=%s type=%d result=%t", p.Object, p.Type, p.Result)
}
