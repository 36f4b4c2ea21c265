// Package amf0 encodes and decodes AMF0 values and RTMP command envelopes.
//
// The wire format follows the ISO/IEC AMF0 subset used by RTMP: a one-byte
// type marker followed by a type-specific body. Objects and ECMA arrays
// preserve field insertion order (they are backed by a slice of properties,
// not a map), since servers and clients both rely on ordered replies.
package amf0

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
	"github.com/AgustinSRG/rtmp-client/rtmplog"
)

func warnf(format string, args ...any) {
	rtmplog.Warning(format, args...)
}

// Kind identifies the wire type of a Value.
type Kind byte

const (
	KindNumber      Kind = 0x00
	KindBoolean     Kind = 0x01
	KindString      Kind = 0x02
	KindObject      Kind = 0x03
	KindNull        Kind = 0x05
	KindUndefined   Kind = 0x06
	KindEcmaArray   Kind = 0x08
	KindObjectEnd   Kind = 0x09
	KindStrictArray Kind = 0x0A
	KindLongString  Kind = 0x0C
)

const objectEndMarker = 0x09

// maxDepth bounds recursion while parsing nested objects/arrays.
const maxDepth = 16

// longStringThreshold is the byte length above which a string is encoded
// with the 32-bit-length LongString marker instead of the 16-bit String one.
const longStringThreshold = 0xFFFF

// Property is one (name, value) pair of an Object or EcmaArray, in
// insertion order.
type Property struct {
	Name  string
	Value Value
}

// Value is a tagged AMF0 value (the AmfNode of the wire format).
type Value struct {
	kind   Kind
	bool_  bool
	str    string
	num    float64
	props  []Property
	array  []Value
}

// Null returns an AMF0 null value.
func Null() Value { return Value{kind: KindNull} }

// Undefined returns an AMF0 undefined value.
func Undefined() Value { return Value{kind: KindUndefined} }

// Bool returns an AMF0 boolean value.
func Bool(b bool) Value { return Value{kind: KindBoolean, bool_: b} }

// Number returns an AMF0 number (IEEE-754 double) value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String returns an AMF0 string value. The encoder picks String vs
// LongString based on the byte length at serialization time.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Object returns an AMF0 object value with the given ordered properties.
func Object(props ...Property) Value { return Value{kind: KindObject, props: props} }

// EcmaArray returns an AMF0 ECMA array value (same shape as Object, with an
// advisory element count prepended on the wire).
func EcmaArray(props ...Property) Value { return Value{kind: KindEcmaArray, props: props} }

// StrictArray returns an AMF0 strict array value.
func StrictArray(values ...Value) Value { return Value{kind: KindStrictArray, array: values} }

// Kind reports the value's wire type.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is an AMF0 null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsUndefined reports whether v is an AMF0 undefined.
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

// Bool returns the boolean value, coercing numbers (non-zero is true) and
// defaulting to false for any other kind.
func (v Value) Bool() bool {
	switch v.kind {
	case KindBoolean:
		return v.bool_
	case KindNumber:
		return v.num != 0
	default:
		return false
	}
}

// Number returns the numeric value, or 0 if v is not a number.
func (v Value) Number() float64 {
	if v.kind == KindNumber {
		return v.num
	}
	return 0
}

// String returns the string value, or "" if v is not a string.
func (v Value) String() string {
	if v.kind == KindString || v.kind == KindLongString {
		return v.str
	}
	return ""
}

// Properties returns the ordered properties of an Object/EcmaArray value,
// or nil for any other kind.
func (v Value) Properties() []Property {
	if v.kind == KindObject || v.kind == KindEcmaArray {
		return v.props
	}
	return nil
}

// Array returns the elements of a StrictArray value, or nil otherwise.
func (v Value) Array() []Value {
	if v.kind == KindStrictArray {
		return v.array
	}
	return nil
}

// Get looks up a property by name on an Object/EcmaArray value. Missing
// properties return Undefined, matching the teacher's GetProperty helper.
func (v Value) Get(name string) Value {
	for _, p := range v.props {
		if p.Name == name {
			return p.Value
		}
	}
	return Undefined()
}

// Equal reports deep, order-sensitive equality between two values.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindBoolean:
		return a.bool_ == b.bool_
	case KindNumber:
		return a.num == b.num
	case KindString, KindLongString:
		return a.str == b.str
	case KindObject, KindEcmaArray:
		if len(a.props) != len(b.props) {
			return false
		}
		for i := range a.props {
			if a.props[i].Name != b.props[i].Name || !Equal(a.props[i].Value, b.props[i].Value) {
				return false
			}
		}
		return true
	case KindStrictArray:
		if len(a.array) != len(b.array) {
			return false
		}
		for i := range a.array {
			if !Equal(a.array[i], b.array[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

/* Encoding */

// Encode serializes a single AMF0 value.
func Encode(v Value) []byte {
	var out []byte
	switch v.kind {
	case KindNumber:
		out = append(out, byte(KindNumber))
		out = append(out, encodeNumber(v.num)...)
	case KindBoolean:
		out = append(out, byte(KindBoolean))
		if v.bool_ {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case KindString, KindLongString:
		out = append(out, encodeString(v.str)...)
	case KindNull:
		out = append(out, byte(KindNull))
	case KindUndefined:
		out = append(out, byte(KindUndefined))
	case KindObject:
		out = append(out, byte(KindObject))
		out = append(out, encodeProps(v.props)...)
	case KindEcmaArray:
		out = append(out, byte(KindEcmaArray))
		count := make([]byte, 4)
		binary.BigEndian.PutUint32(count, uint32(len(v.props)))
		out = append(out, count...)
		out = append(out, encodeProps(v.props)...)
	case KindStrictArray:
		out = append(out, byte(KindStrictArray))
		count := make([]byte, 4)
		binary.BigEndian.PutUint32(count, uint32(len(v.array)))
		out = append(out, count...)
		for _, e := range v.array {
			out = append(out, Encode(e)...)
		}
	}
	return out
}

func encodeNumber(n float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(n))
	return b
}

// encodeString builds the marker+length+bytes triple, choosing String or
// LongString by byte length. Lengths above 2^32-1 are truncated with a
// warning; that can never happen in practice on a 64-bit Go string, but the
// rule is kept explicit since the wire field is 32 bits.
func encodeString(s string) []byte {
	b := []byte(s)
	if len(b) <= longStringThreshold {
		out := []byte{byte(KindString)}
		l := make([]byte, 2)
		binary.BigEndian.PutUint16(l, uint16(len(b)))
		return append(append(out, l...), b...)
	}
	if uint64(len(b)) > math.MaxUint32 {
		warnf("amf0: string of %d bytes truncated to %d bytes", len(b), uint64(math.MaxUint32))
		b = b[:math.MaxUint32]
	}
	out := []byte{byte(KindLongString)}
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(b)))
	return append(append(out, l...), b...)
}

func encodeProps(props []Property) []byte {
	var out []byte
	for _, p := range props {
		out = append(out, encodeNameOnly(p.Name)...)
		out = append(out, Encode(p.Value)...)
	}
	out = append(out, 0x00, 0x00, objectEndMarker)
	return out
}

func encodeNameOnly(name string) []byte {
	b := []byte(name)
	l := make([]byte, 2)
	binary.BigEndian.PutUint16(l, uint16(len(b)))
	return append(l, b...)
}

/* Decoding */

type decoder struct {
	buf   []byte
	pos   int
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, rtmperr.ErrPartialInput
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) read(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, rtmperr.ErrPartialInput
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	b, err := d.read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (d *decoder) readUint32() (uint32, error) {
	b, err := d.read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) readNameString() (string, error) {
	l, err := d.readUint16()
	if err != nil {
		return "", err
	}
	b, err := d.read(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a single AMF0 value from the front of buf and returns it
// along with the number of bytes consumed.
func Decode(buf []byte) (Value, int, error) {
	d := &decoder{buf: buf}
	v, err := d.decodeValue(0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.pos, nil
}

func (d *decoder) decodeValue(depth int) (Value, error) {
	kind, err := d.readByte()
	if err != nil {
		return Value{}, err
	}
	return d.decodeBody(Kind(kind), depth)
}

func (d *decoder) decodeBody(kind Kind, depth int) (Value, error) {
	if depth > maxDepth {
		return Value{}, fmt.Errorf("amf0: %w: nesting exceeds %d levels", rtmperr.ErrInvalidData, maxDepth)
	}

	switch kind {
	case KindNumber:
		b, err := d.read(8)
		if err != nil {
			return Value{}, err
		}
		return Number(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case KindBoolean:
		b, err := d.readByte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case KindString:
		l, err := d.readUint16()
		if err != nil {
			return Value{}, err
		}
		b, err := d.read(int(l))
		if err != nil {
			return Value{}, err
		}
		return String(string(b)), nil
	case KindLongString:
		l, err := d.readUint32()
		if err != nil {
			return Value{}, err
		}
		b, err := d.read(int(l))
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindLongString, str: string(b)}, nil
	case KindNull:
		return Null(), nil
	case KindUndefined:
		return Undefined(), nil
	case KindObject:
		props, err := d.decodeProps(depth)
		if err != nil {
			return Value{}, err
		}
		return Object(props...), nil
	case KindEcmaArray:
		count, err := d.readUint32()
		if err != nil {
			return Value{}, err
		}
		props, err := d.decodeProps(depth)
		if err != nil {
			return Value{}, err
		}
		if int(count) != len(props) {
			// Advisory field only: the real server-observed quirk of a
			// zero count not meaning zero elements is deliberately not
			// hard-coded here, per the open question in spec.md §9 — we
			// always parse until ObjectEnd and just note the mismatch.
			warnf("amf0: ecma array count %d disagrees with %d parsed properties", count, len(props))
		}
		return EcmaArray(props...), nil
	case KindStrictArray:
		count, err := d.readUint32()
		if err != nil {
			return Value{}, err
		}
		values := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, err := d.decodeValue(depth + 1)
			if err != nil {
				return Value{}, err
			}
			values = append(values, v)
		}
		return StrictArray(values...), nil
	default:
		return Value{}, fmt.Errorf("amf0: %w: unsupported marker 0x%02x", rtmperr.ErrInvalidData, byte(kind))
	}
}

// decodeProps parses the (name,value)* sequence terminated by the
// empty-name/ObjectEnd marker pair shared by Object and EcmaArray.
func (d *decoder) decodeProps(depth int) ([]Property, error) {
	var props []Property
	for {
		nameLen, err := d.readUint16()
		if err != nil {
			return nil, err
		}
		if nameLen == 0 {
			marker, err := d.readByte()
			if err != nil {
				return nil, err
			}
			if marker == objectEndMarker {
				return props, nil
			}
			// Empty property name with a real value: tolerated even
			// though the invariant says names are non-empty, since the
			// marker byte was already consumed as a type tag.
			val, err := d.decodeBody(Kind(marker), depth+1)
			if err != nil {
				return nil, err
			}
			props = append(props, Property{Name: "", Value: val})
			continue
		}
		nameBytes, err := d.read(int(nameLen))
		if err != nil {
			return nil, err
		}
		val, err := d.decodeValue(depth + 1)
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Name: string(nameBytes), Value: val})
	}
}
