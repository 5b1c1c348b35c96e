// Package eventgen produces deterministic synthetic traces and random
// condition trees for tests, benchmarks and the command line tools.
package eventgen

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/dd0wney/cluso-tracedb/pkg/event"
	"github.com/dd0wney/cluso-tracedb/pkg/objectstore"
	"github.com/dd0wney/cluso-tracedb/pkg/registry"
)

// Ranges bound the attribute values of generated events. Every value is
// drawn from [0, n) except object and probe ids, drawn from [1, n].
type Ranges struct {
	Threads       int
	Depth         int
	Bytecodes     int
	Behaviors     int
	AdviceSources int
	Fields        int
	Variables     int
	Objects       int
	ArrayIndexes  int
	Probes        int
	// MaxStep is the largest timestamp increment between two events.
	MaxStep int
}

// DefaultRanges keep values small enough for conditions to hit often.
var DefaultRanges = Ranges{
	Threads:       100,
	Depth:         100,
	Bytecodes:     1000,
	Behaviors:     1000,
	AdviceSources: 100,
	Fields:        1000,
	Variables:     1000,
	Objects:       1000,
	ArrayIndexes:  1000,
	Probes:        1000,
	MaxStep:       100,
}

// Generator produces events in non-decreasing timestamp order.
type Generator struct {
	rng       *rand.Rand
	r         Ranges
	timestamp uint64
}

// New creates a generator. The same seed and ranges give the same trace.
func New(seed int64, r Ranges) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed)), r: r}
}

// Ranges returns the ranges of g.
func (g *Generator) Ranges() Ranges { return g.r }

func (g *Generator) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return g.rng.Intn(n)
}

func (g *Generator) ThreadID() uint16      { return uint16(g.intn(g.r.Threads)) }
func (g *Generator) Depth() uint16         { return uint16(g.intn(g.r.Depth)) }
func (g *Generator) BytecodeIndex() uint16 { return uint16(g.intn(g.r.Bytecodes)) }
func (g *Generator) BehaviorID() uint16    { return uint16(g.intn(g.r.Behaviors)) }
func (g *Generator) AdviceSourceID() uint16 {
	return uint16(g.intn(g.r.AdviceSources))
}
func (g *Generator) FieldID() uint16    { return uint16(g.intn(g.r.Fields)) }
func (g *Generator) VariableID() uint16 { return uint16(g.intn(g.r.Variables)) }
func (g *Generator) ArrayIndex() uint32 { return uint32(g.intn(g.r.ArrayIndexes)) }
func (g *Generator) ObjectID() uint64   { return uint64(g.intn(g.r.Objects)) + 1 }
func (g *Generator) ProbeID() uint32    { return uint32(g.intn(g.r.Probes)) + 1 }

// Value returns an object reference most of the time, otherwise null or a
// primitive.
func (g *Generator) Value() event.Value {
	switch g.rng.Intn(8) {
	case 0:
		return event.Null
	case 1:
		return event.IntValue(g.rng.Int63n(2000) - 1000)
	}
	return event.ObjectValue(g.ObjectID())
}

func (g *Generator) args() []event.Value {
	n := g.rng.Intn(4)
	if n == 0 {
		return nil
	}
	out := make([]event.Value, n)
	for i := range out {
		out[i] = g.Value()
	}
	return out
}

func (g *Generator) adviceCFlow() []uint16 {
	if g.r.AdviceSources == 0 || g.rng.Intn(4) != 0 {
		return nil
	}
	out := make([]uint16, 1+g.rng.Intn(3))
	for i := range out {
		out[i] = g.AdviceSourceID()
	}
	return out
}

// Next returns the next event of the trace.
func (g *Generator) Next() *event.Record {
	parent := g.timestamp
	g.timestamp += uint64(g.intn(g.r.MaxStep))
	rec := &event.Record{
		Thread:          g.ThreadID(),
		Depth:           g.Depth(),
		Timestamp:       g.timestamp,
		ProbeID:         g.ProbeID(),
		ParentTimestamp: parent,
		AdviceCFlow:     g.adviceCFlow(),
	}
	kinds := event.Kinds()
	switch k := kinds[g.rng.Intn(len(kinds))]; k {
	case event.KindMethodCall, event.KindInstantiation, event.KindSuperCall:
		rec.Payload = &event.BehaviorCall{
			Call:     k,
			Called:   g.BehaviorID(),
			Executed: g.BehaviorID(),
			Direct:   g.rng.Intn(2) == 0,
			Target:   g.Value(),
			Args:     g.args(),
		}
	case event.KindBehaviorExit:
		rec.Payload = &event.BehaviorExit{Behavior: g.BehaviorID(), HasThrown: g.rng.Intn(10) == 0, Result: g.Value()}
	case event.KindFieldWrite:
		rec.Payload = &event.FieldWrite{Field: g.FieldID(), Target: g.Value(), Value: g.Value()}
	case event.KindArrayWrite:
		rec.Payload = &event.ArrayWrite{Target: g.Value(), Index: g.ArrayIndex(), Value: g.Value()}
	case event.KindNewArray:
		rec.Payload = &event.NewArray{Instance: event.ObjectValue(g.ObjectID()), BaseType: g.FieldID(), Size: uint32(g.rng.Intn(1000))}
	case event.KindLocalWrite:
		rec.Payload = &event.LocalWrite{Variable: g.VariableID(), Value: g.Value()}
	case event.KindException:
		rec.Payload = &event.ExceptionGenerated{Behavior: g.BehaviorID(), BytecodeIndex: g.BytecodeIndex(), Exception: event.ObjectValue(g.ObjectID())}
	default:
		rec.Payload = &event.InstanceOf{Object: g.Value(), Type: g.FieldID(), Result: g.rng.Intn(2) == 0}
	}
	return rec
}

// Events returns the next n events.
func (g *Generator) Events(n int) []*event.Record {
	out := make([]*event.Record, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

// RegisterProbes fills table with random information for every probe id
// the generator can emit. Probes already in the table keep their
// information.
func (g *Generator) RegisterProbes(table *registry.ProbeTable) error {
	for id := 1; id <= g.r.Probes; id++ {
		info := registry.ProbeInfo{
			Behavior:      g.BehaviorID(),
			BytecodeIndex: g.BytecodeIndex(),
			BytecodeRole:  uint8(g.rng.Intn(8)),
		}
		if g.rng.Intn(5) == 0 {
			info.AdviceSource = g.AdviceSourceID()
		}
		if _, ok := table.Lookup(uint32(id)); ok {
			continue
		}
		if err := table.Register(uint32(id), info); err != nil {
			return err
		}
	}
	return nil
}

// ObjectState returns a serialized object state: up to 32 fields of 8
// bytes, most of them small values.
func (g *Generator) ObjectState() []byte {
	n := g.rng.Intn(33)
	out := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		v := uint64(g.rng.Intn(256))
		if g.rng.Intn(4) == 0 {
			v = g.rng.Uint64()
		}
		out = binary.LittleEndian.AppendUint64(out, v)
	}
	return out
}

// Classes returns n classes with ids 1 to n. Every fourth one is an array
// type. The same id always gives the same class.
func (g *Generator) Classes(n int) []objectstore.Class {
	out := make([]objectstore.Class, n)
	for i := range out {
		id := uint64(i + 1)
		name := fmt.Sprintf("gen.Type%d", id)
		if id%4 == 0 {
			name = fmt.Sprintf("[Lgen.Type%d;", id-1)
		}
		out[i] = objectstore.Class{ID: id, LoaderID: id % 3, Name: name}
	}
	return out
}
