// Package resp implements the REdis Serialization Protocol: a stateless
// command encoder and an incremental reply decoder which can be fed bytes as
// they arrive off a transport.
//
// The package deliberately knows nothing about connections, pools, or error
// taxonomies; it is pure transformation over byte buffers. Higher layers
// decide what a decoded error reply or a malformed stream means for the
// connection that produced it.
package resp

import (
	"fmt"
	"strconv"
)

// Type enumerates the possible kinds of a decoded Reply.
type Type uint8

const (
	// TypeNil covers both the nil bulk string ($-1) and the nil array (*-1).
	// A nil Reply is distinct from an empty bulk string or an empty array.
	TypeNil Type = iota
	TypeSimpleString
	TypeInteger
	TypeBulkString
	TypeArray
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeSimpleString:
		return "simple string"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk string"
	case TypeArray:
		return "array"
	case TypeError:
		return "error"
	}
	return fmt.Sprintf("unknown (%d)", uint8(t))
}

// Reply is one decoded protocol value. Exactly one of the payload fields is
// meaningful, according to Type: Str for simple strings, bulk strings and
// error text, Int for integers, Arr for (possibly nested) arrays.
type Reply struct {
	Type Type
	Str  []byte
	Int  int64
	Arr  []Reply
}

// Nil is the nil Reply. It is what a read of a missing key decodes to, and
// what EXEC decodes to when a watched key was touched.
var Nil = Reply{Type: TypeNil}

// IsNil returns true for the nil bulk string and the nil array.
func (r Reply) IsNil() bool { return r.Type == TypeNil }

// Bytes returns the raw payload of a simple string, bulk string, or error
// reply, and nil for everything else.
func (r Reply) Bytes() []byte {
	switch r.Type {
	case TypeSimpleString, TypeBulkString, TypeError:
		return r.Str
	}
	return nil
}

// Text is Bytes as a string.
func (r Reply) Text() string { return string(r.Bytes()) }

// OK returns true if the reply is the +OK status.
func (r Reply) OK() bool {
	return r.Type == TypeSimpleString && len(r.Str) == 2 && r.Str[0] == 'O' && r.Str[1] == 'K'
}

// Value materializes the reply as plain Go values: []byte (or string when
// text is true) for string payloads, int64 for integers, nil for nil, and
// []interface{} for arrays, recursively. Error replies materialize as their
// raw text.
func (r Reply) Value(text bool) interface{} {
	switch r.Type {
	case TypeNil:
		return nil
	case TypeInteger:
		return r.Int
	case TypeArray:
		out := make([]interface{}, len(r.Arr))
		for i := range r.Arr {
			out[i] = r.Arr[i].Value(text)
		}
		return out
	default:
		if text {
			return string(r.Str)
		}
		b := make([]byte, len(r.Str))
		copy(b, r.Str)
		return b
	}
}

func (r Reply) String() string {
	switch r.Type {
	case TypeNil:
		return "Reply(nil)"
	case TypeInteger:
		return "Reply(" + strconv.FormatInt(r.Int, 10) + ")"
	case TypeArray:
		return fmt.Sprintf("Reply(%d elems)", len(r.Arr))
	default:
		return fmt.Sprintf("Reply(%s %q)", r.Type, r.Str)
	}
}
