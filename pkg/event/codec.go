package event

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-tracedb/pkg/bitcodec"
)

// Field widths of the record encoding.
const (
	KindBits      = 4
	ThreadBits    = 16
	DepthBits     = 16
	TimestampBits = 64
	ProbeBits     = 32
	IDBits        = 16 // behavior, field, variable, type, bytecode and advice ids
	ArgCountBits  = 8
	ValueKindBits = 3

	MaxArgs = 1<<ArgCountBits - 1
)

var (
	// ErrInvalidKind is returned for records without a valid kind tag
	ErrInvalidKind = errors.New("invalid event kind")

	// ErrTooManyArgs is returned when a call carries more than MaxArgs arguments
	ErrTooManyArgs = errors.New("too many call arguments")
)

// Encode writes r at the cursor position.
func Encode(c *bitcodec.Cursor, r *Record) error {
	k := r.Kind()
	if k == KindEnd || k >= kindCount {
		return ErrInvalidKind
	}
	if err := c.PutBits(uint64(k), KindBits); err != nil {
		return err
	}
	if err := encodeHeader(c, r); err != nil {
		return err
	}
	return encodePayload(c, r.Payload)
}

func encodeHeader(c *bitcodec.Cursor, r *Record) error {
	if err := c.PutBits(uint64(r.Thread), ThreadBits); err != nil {
		return err
	}
	if err := c.PutBits(uint64(r.Depth), DepthBits); err != nil {
		return err
	}
	if err := c.PutBits(r.Timestamp, TimestampBits); err != nil {
		return err
	}
	if err := c.PutBits(uint64(r.ProbeID), ProbeBits); err != nil {
		return err
	}
	if err := c.PutSignedGamma(int64(r.Timestamp - r.ParentTimestamp)); err != nil {
		return err
	}
	if err := c.PutUnary(uint64(len(r.AdviceCFlow))); err != nil {
		return err
	}
	for _, id := range r.AdviceCFlow {
		if err := c.PutBits(uint64(id), IDBits); err != nil {
			return err
		}
	}
	return nil
}

func encodeValue(c *bitcodec.Cursor, v Value) error {
	if err := c.PutBits(uint64(v.Kind), ValueKindBits); err != nil {
		return err
	}
	switch v.Kind {
	case ValueNull:
		return nil
	case ValueObject:
		return c.PutGamma(v.Raw)
	case ValueInt:
		return c.PutSignedGamma(int64(v.Raw))
	case ValueDouble:
		return c.PutBits(v.Raw, 64)
	case ValueBool:
		return c.PutBits(v.Raw, 1)
	}
	return fmt.Errorf("invalid value kind %d", v.Kind)
}

func encodePayload(c *bitcodec.Cursor, p Payload) error {
	w := fieldWriter{c: c}
	switch p := p.(type) {
	case *BehaviorCall:
		if len(p.Args) > MaxArgs {
			return ErrTooManyArgs
		}
		w.id(p.Called)
		w.id(p.Executed)
		w.bool(p.Direct)
		w.value(p.Target)
		w.bits(uint64(len(p.Args)), ArgCountBits)
		for _, a := range p.Args {
			w.value(a)
		}
	case *BehaviorExit:
		w.id(p.Behavior)
		w.bool(p.HasThrown)
		w.value(p.Result)
	case *FieldWrite:
		w.id(p.Field)
		w.value(p.Target)
		w.value(p.Value)
	case *ArrayWrite:
		w.value(p.Target)
		w.gamma(uint64(p.Index) + 1)
		w.value(p.Value)
	case *NewArray:
		w.value(p.Instance)
		w.id(p.BaseType)
		w.gamma(uint64(p.Size) + 1)
	case *LocalWrite:
		w.id(p.Variable)
		w.value(p.Value)
	case *ExceptionGenerated:
		w.id(p.Behavior)
		w.id(p.BytecodeIndex)
		w.value(p.Exception)
	case *InstanceOf:
		w.value(p.Object)
		w.id(p.Type)
		w.bool(p.Result)
	default:
		return ErrInvalidKind
	}
	return w.err
}

type fieldWriter struct {
	c   *bitcodec.Cursor
	err error
}

func (w *fieldWriter) bits(v uint64, n int) {
	if w.err == nil {
		w.err = w.c.PutBits(v, n)
	}
}

func (w *fieldWriter) id(v uint16) { w.bits(uint64(v), IDBits) }

func (w *fieldWriter) bool(b bool) {
	if w.err == nil {
		w.err = w.c.PutBool(b)
	}
}

func (w *fieldWriter) gamma(v uint64) {
	if w.err == nil {
		w.err = w.c.PutGamma(v)
	}
}

func (w *fieldWriter) value(v Value) {
	if w.err == nil {
		w.err = encodeValue(w.c, v)
	}
}

// Decode reads one record at the cursor position. It returns KindEnd with a
// nil record when the cursor stands on an end-of-page marker.
func Decode(c *bitcodec.Cursor) (*Record, Kind, error) {
	raw, err := c.GetBits(KindBits)
	if err != nil {
		return nil, KindEnd, err
	}
	k := Kind(raw)
	if k == KindEnd {
		return nil, KindEnd, nil
	}
	if k >= kindCount {
		return nil, k, ErrInvalidKind
	}

	r := &Record{}
	rd := fieldReader{c: c}
	r.Thread = uint16(rd.bits(ThreadBits))
	r.Depth = uint16(rd.bits(DepthBits))
	r.Timestamp = rd.bits(TimestampBits)
	r.ProbeID = uint32(rd.bits(ProbeBits))
	r.ParentTimestamp = r.Timestamp - uint64(rd.signedGamma())
	if n := rd.unary(); n > 0 && rd.err == nil {
		r.AdviceCFlow = make([]uint16, n)
		for i := range r.AdviceCFlow {
			r.AdviceCFlow[i] = rd.id()
		}
	}
	r.Payload = decodePayload(&rd, k)
	if rd.err != nil {
		return nil, k, rd.err
	}
	return r, k, nil
}

func decodePayload(rd *fieldReader, k Kind) Payload {
	switch k {
	case KindMethodCall, KindInstantiation, KindSuperCall:
		p := &BehaviorCall{Call: k}
		p.Called = rd.id()
		p.Executed = rd.id()
		p.Direct = rd.bool()
		p.Target = rd.value()
		if n := int(rd.bits(ArgCountBits)); n > 0 && rd.err == nil {
			p.Args = make([]Value, n)
			for i := range p.Args {
				p.Args[i] = rd.value()
			}
		}
		return p
	case KindBehaviorExit:
		return &BehaviorExit{Behavior: rd.id(), HasThrown: rd.bool(), Result: rd.value()}
	case KindFieldWrite:
		return &FieldWrite{Field: rd.id(), Target: rd.value(), Value: rd.value()}
	case KindArrayWrite:
		return &ArrayWrite{Target: rd.value(), Index: uint32(rd.gamma() - 1), Value: rd.value()}
	case KindNewArray:
		return &NewArray{Instance: rd.value(), BaseType: rd.id(), Size: uint32(rd.gamma() - 1)}
	case KindLocalWrite:
		return &LocalWrite{Variable: rd.id(), Value: rd.value()}
	case KindException:
		return &ExceptionGenerated{Behavior: rd.id(), BytecodeIndex: rd.id(), Exception: rd.value()}
	case KindInstanceOf:
		return &InstanceOf{Object: rd.value(), Type: rd.id(), Result: rd.bool()}
	}
	rd.err = ErrInvalidKind
	return nil
}

// fieldReader reads fields in order and keeps the first error. Go evaluates
// composite literal fields left to right, which the decoders rely on.
type fieldReader struct {
	c   *bitcodec.Cursor
	err error
}

func (rd *fieldReader) bits(n int) uint64 {
	if rd.err != nil {
		return 0
	}
	v, err := rd.c.GetBits(n)
	rd.err = err
	return v
}

func (rd *fieldReader) id() uint16 { return uint16(rd.bits(IDBits)) }
func (rd *fieldReader) bool() bool { return rd.bits(1) == 1 }

func (rd *fieldReader) unary() uint64 {
	if rd.err != nil {
		return 0
	}
	v, err := rd.c.GetUnary()
	rd.err = err
	return v
}

func (rd *fieldReader) gamma() uint64 {
	if rd.err != nil {
		return 1
	}
	v, err := rd.c.GetGamma()
	rd.err = err
	if err != nil {
		return 1
	}
	return v
}

func (rd *fieldReader) signedGamma() int64 {
	if rd.err != nil {
		return 0
	}
	v, err := rd.c.GetSignedGamma()
	rd.err = err
	return v
}

func (rd *fieldReader) value() Value {
	k := ValueKind(rd.bits(ValueKindBits))
	if rd.err != nil {
		return Null
	}
	switch k {
	case ValueNull:
		return Null
	case ValueObject:
		return Value{Kind: ValueObject, Raw: rd.gamma()}
	case ValueInt:
		return Value{Kind: ValueInt, Raw: uint64(rd.signedGamma())}
	case ValueDouble:
		return Value{Kind: ValueDouble, Raw: rd.bits(64)}
	case ValueBool:
		return Value{Kind: ValueBool, Raw: rd.bits(1)}
	}
	rd.err = fmt.Errorf("invalid value kind %d", k)
	return Null
}
