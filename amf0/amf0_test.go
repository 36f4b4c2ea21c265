package amf0

import (
	"errors"
	"testing"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Value
	}{
		{"null", Null()},
		{"undefined", Undefined()},
		{"bool true", Bool(true)},
		{"bool false", Bool(false)},
		{"number", Number(3.5)},
		{"string", String("hello")},
		{"empty string", String("")},
		{"object", Object(
			Property{Name: "app", Value: String("live")},
			Property{Name: "tcUrl", Value: String("rtmp://host/live")},
			Property{Name: "ok", Value: Bool(true)},
		)},
		{"nested object", Object(
			Property{Name: "outer", Value: Object(
				Property{Name: "inner", Value: Number(1)},
			)},
		)},
		{"ecma array", EcmaArray(
			Property{Name: "a", Value: Number(1)},
			Property{Name: "b", Value: Number(2)},
		)},
		{"strict array", StrictArray(Number(1), String("two"), Bool(false))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.v)
			decoded, n, err := Decode(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if n != len(encoded) {
				t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
			}
			if !Equal(tc.v, decoded) {
				t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, tc.v)
			}
		})
	}
}

func TestObjectPreservesFieldOrder(t *testing.T) {
	v := Object(
		Property{Name: "z", Value: Number(1)},
		Property{Name: "a", Value: Number(2)},
		Property{Name: "m", Value: Number(3)},
	)
	encoded := Encode(v)
	decoded, _, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	props := decoded.Properties()
	want := []string{"z", "a", "m"}
	if len(props) != len(want) {
		t.Fatalf("got %d properties, want %d", len(props), len(want))
	}
	for i, name := range want {
		if props[i].Name != name {
			t.Fatalf("property %d: got name %q, want %q", i, props[i].Name, name)
		}
	}
}

func TestLongStringThreshold(t *testing.T) {
	short := make([]byte, 10)
	long := make([]byte, longStringThreshold+1)
	for i := range short {
		short[i] = 'a'
	}
	for i := range long {
		long[i] = 'b'
	}

	shortEncoded := Encode(String(string(short)))
	if Kind(shortEncoded[0]) != KindString {
		t.Fatalf("short string encoded with kind 0x%02x, want KindString", shortEncoded[0])
	}

	longEncoded := Encode(String(string(long)))
	if Kind(longEncoded[0]) != KindLongString {
		t.Fatalf("long string encoded with kind 0x%02x, want KindLongString", longEncoded[0])
	}

	decoded, n, err := Decode(longEncoded)
	if err != nil {
		t.Fatalf("decode long string: %v", err)
	}
	if n != len(longEncoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(longEncoded))
	}
	if decoded.String() != string(long) {
		t.Fatalf("decoded long string mismatch (len %d vs %d)", len(decoded.String()), len(long))
	}
}

func TestDecodeRejectsExcessiveNesting(t *testing.T) {
	var buf []byte
	for i := 0; i < maxDepth+2; i++ {
		buf = append(buf, byte(KindObject))
		buf = append(buf, 0x00, 0x01, 'x')
	}
	buf = append(buf, byte(KindNumber))
	buf = append(buf, make([]byte, 8)...)
	for i := 0; i < maxDepth+2; i++ {
		buf = append(buf, 0x00, 0x00, objectEndMarker)
	}

	_, _, err := Decode(buf)
	if err == nil {
		t.Fatal("expected an error for excessive nesting, got nil")
	}
	if !errors.Is(err, rtmperr.ErrInvalidData) {
		t.Fatalf("got error %v, want it to wrap rtmperr.ErrInvalidData", err)
	}
}

func TestDecodePartialInput(t *testing.T) {
	full := Encode(Object(Property{Name: "k", Value: String("v")}))
	for cut := 0; cut < len(full); cut++ {
		_, _, err := Decode(full[:cut])
		if err == nil {
			t.Fatalf("cut %d: expected an error for truncated input", cut)
		}
		if !errors.Is(err, rtmperr.ErrPartialInput) && !errors.Is(err, rtmperr.ErrInvalidData) {
			t.Fatalf("cut %d: got error %v, want ErrPartialInput or ErrInvalidData", cut, err)
		}
	}
}

func TestEcmaArrayCountMismatchStillParsesFully(t *testing.T) {
	// Hand-build an ECMA array whose advisory count disagrees with the
	// actual number of properties: 2 properties, count field says 5.
	var buf []byte
	buf = append(buf, byte(KindEcmaArray))
	buf = append(buf, 0x00, 0x00, 0x00, 0x05)
	appendProp := func(name string, v Value) {
		buf = append(buf, 0x00, byte(len(name)))
		buf = append(buf, []byte(name)...)
		buf = append(buf, Encode(v)...)
	}
	appendProp("x", Number(1))
	appendProp("y", Number(2))
	buf = append(buf, 0x00, 0x00, objectEndMarker)

	v, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d bytes, want %d", n, len(buf))
	}
	props := v.Properties()
	if len(props) != 2 {
		t.Fatalf("got %d properties, want 2 despite mismatched advisory count", len(props))
	}
}

func TestCommandRoundTrip(t *testing.T) {
	cmd := Command{
		Name:          "connect",
		TransactionID: 1,
		Args: []Value{
			Object(
				Property{Name: "app", Value: String("live")},
				Property{Name: "flashVer", Value: String("FMLE/3.0")},
			),
		},
	}
	encoded := EncodeCommand(cmd)
	decoded, err := ParseCommand(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decoded.Name != cmd.Name || decoded.TransactionID != cmd.TransactionID {
		t.Fatalf("got %+v, want %+v", decoded, cmd)
	}
	if len(decoded.Args) != 1 || !Equal(decoded.Args[0], cmd.Args[0]) {
		t.Fatalf("args mismatch: got %+v", decoded.Args)
	}
}

func TestParseCommandRejectsMissingArgs(t *testing.T) {
	// Only name + transaction id, no trailing argument.
	var buf []byte
	buf = append(buf, Encode(String("onStatus"))...)
	buf = append(buf, Encode(Number(0))...)
	_, err := ParseCommand(buf)
	if err == nil {
		t.Fatal("expected an error for a command with no arguments")
	}
	if !errors.Is(err, ErrMalformedCommand) {
		t.Fatalf("got error %v, want ErrMalformedCommand", err)
	}
}

func TestGetMissingPropertyReturnsUndefined(t *testing.T) {
	obj := Object(Property{Name: "a", Value: Number(1)})
	v := obj.Get("missing")
	if !v.IsUndefined() {
		t.Fatalf("got %+v, want Undefined", v)
	}
}
