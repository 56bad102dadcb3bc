package fit

import (
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/profile/untyped/mesgnum"
	"github.com/muktihari/fit/proto"
)

// MesgNum is a global message number from the FIT profile
type MesgNum = typedef.MesgNum

const (
	MesgFileID MesgNum = mesgnum.FileId
	MesgRecord MesgNum = mesgnum.Record
)

// Field is one decoded field of a data message. Value is int64, uint64,
// float64, string, []byte or []any for arrays, and nil when the raw bytes
// held the base type's invalid sentinel. Profile scale and offset are
// already applied, so scaled fields arrive as float64.
type Field struct {
	Num   uint8
	Name  string
	Units string
	Value any
}

// Message is a decoded data message
type Message struct {
	Num    MesgNum
	Name   string
	Fields []Field
}

// Field returns the field with the given profile name
func (m *Message) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Value returns the value of a named field when it is present and valid
func (m *Message) Value(name string) (any, bool) {
	f, ok := m.Field(name)
	if !ok || f.Value == nil {
		return nil, false
	}
	return f.Value, true
}

// newMessage copies a broadcast message out of the decoder's buffers
func newMessage(m *proto.Message) *Message {
	msg := &Message{
		Num:    m.Num,
		Name:   m.Num.String(),
		Fields: make([]Field, 0, len(m.Fields)),
	}
	for i := range m.Fields {
		f := &m.Fields[i]
		msg.Fields = append(msg.Fields, Field{
			Num:   f.Num,
			Name:  f.Name,
			Units: f.Units,
			Value: fieldValue(f),
		})
	}
	return msg
}

func fieldValue(f *proto.Field) any {
	if !f.Value.Valid(f.BaseType) {
		return nil
	}
	v := plain(f.Value)
	if f.Scale == 0 || (f.Scale == 1 && f.Offset == 0) {
		return v
	}
	return scale(v, f.Scale, f.Offset)
}

// plain converts a proto.Value into the package's value set
func plain(v proto.Value) any {
	switch v.Type() {
	case proto.TypeBool:
		return uint64(v.Bool())
	case proto.TypeInt8:
		return int64(v.Int8())
	case proto.TypeInt16:
		return int64(v.Int16())
	case proto.TypeInt32:
		return int64(v.Int32())
	case proto.TypeInt64:
		return v.Int64()
	case proto.TypeUint8:
		return uint64(v.Uint8())
	case proto.TypeUint16:
		return uint64(v.Uint16())
	case proto.TypeUint32:
		return uint64(v.Uint32())
	case proto.TypeUint64:
		return v.Uint64()
	case proto.TypeFloat32:
		return float64(v.Float32())
	case proto.TypeFloat64:
		return v.Float64()
	case proto.TypeString:
		return v.String()
	case proto.TypeSliceUint8:
		return append([]byte(nil), v.SliceUint8()...)
	case proto.TypeSliceInt8:
		return each(v.SliceInt8(), func(x int8) any { return int64(x) })
	case proto.TypeSliceInt16:
		return each(v.SliceInt16(), func(x int16) any { return int64(x) })
	case proto.TypeSliceInt32:
		return each(v.SliceInt32(), func(x int32) any { return int64(x) })
	case proto.TypeSliceInt64:
		return each(v.SliceInt64(), func(x int64) any { return x })
	case proto.TypeSliceUint16:
		return each(v.SliceUint16(), func(x uint16) any { return uint64(x) })
	case proto.TypeSliceUint32:
		return each(v.SliceUint32(), func(x uint32) any { return uint64(x) })
	case proto.TypeSliceUint64:
		return each(v.SliceUint64(), func(x uint64) any { return x })
	case proto.TypeSliceFloat32:
		return each(v.SliceFloat32(), func(x float32) any { return float64(x) })
	case proto.TypeSliceFloat64:
		return each(v.SliceFloat64(), func(x float64) any { return x })
	case proto.TypeSliceString:
		return each(v.SliceString(), func(x string) any { return x })
	}
	return nil
}

func each[E any](s []E, conv func(E) any) []any {
	out := make([]any, len(s))
	for i, x := range s {
		out[i] = conv(x)
	}
	return out
}

// scale applies value = raw/scale - offset to numeric values
func scale(v any, s, offset float64) any {
	switch x := v.(type) {
	case int64:
		return float64(x)/s - offset
	case uint64:
		return float64(x)/s - offset
	case float64:
		return x/s - offset
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = scale(e, s, offset)
		}
		return out
	}
	return v
}
