package amf0

import (
	"fmt"

	"github.com/AgustinSRG/rtmp-client/rtmperr"
)

// ErrMalformedCommand wraps rtmperr.ErrInvalidData for command envelopes
// that parse as valid AMF0 but do not have the required name/transaction-id
// prefix and at least one trailing argument.
var ErrMalformedCommand = fmt.Errorf("%w: malformed command envelope", rtmperr.ErrInvalidData)

// Command is a parsed RTMP command envelope: a name, a transaction id, and
// an ordered list of further arguments (typically a command object followed
// by zero or more informational objects).
type Command struct {
	Name          string
	TransactionID float64
	Args          []Value
}

// EncodeCommand serializes a command envelope as the AMF0 value sequence
// <String name><Number transId><args...>.
func EncodeCommand(c Command) []byte {
	var out []byte
	out = append(out, Encode(String(c.Name))...)
	out = append(out, Encode(Number(c.TransactionID))...)
	for _, a := range c.Args {
		out = append(out, Encode(a)...)
	}
	return out
}

// ParseCommand reads a command envelope from buf. It requires the first
// value to be a string (the command name), the second a number (the
// transaction id), and at least one further value; anything less is
// reported as an error rather than returned as a zero-value Command, so
// callers never mistake "absent" for "empty name, zero id".
func ParseCommand(buf []byte) (Command, error) {
	name, n, err := Decode(buf)
	if err != nil {
		return Command{}, fmt.Errorf("amf0: command name: %w", err)
	}
	if name.Kind() != KindString && name.Kind() != KindLongString {
		return Command{}, fmt.Errorf("amf0: command name: %w: expected string, got kind %d", ErrMalformedCommand, name.Kind())
	}
	buf = buf[n:]

	txn, n, err := Decode(buf)
	if err != nil {
		return Command{}, fmt.Errorf("amf0: command transaction id: %w", err)
	}
	if txn.Kind() != KindNumber {
		return Command{}, fmt.Errorf("amf0: command transaction id: %w: expected number, got kind %d", ErrMalformedCommand, txn.Kind())
	}
	buf = buf[n:]

	var args []Value
	for len(buf) > 0 {
		v, n, err := Decode(buf)
		if err != nil {
			return Command{}, fmt.Errorf("amf0: command argument %d: %w", len(args), err)
		}
		args = append(args, v)
		buf = buf[n:]
	}
	if len(args) == 0 {
		return Command{}, fmt.Errorf("amf0: command %q: %w", name.String(), ErrMalformedCommand)
	}

	return Command{Name: name.String(), TransactionID: txn.Number(), Args: args}, nil
}
