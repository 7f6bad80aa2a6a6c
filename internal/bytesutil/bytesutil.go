// Package bytesutil provides small helpers for working with raw bytes that
// are useful when encoding and decoding the RESP protocol.
package bytesutil

import (
	"errors"
	"fmt"
)

// AnyIntToInt64 converts a value of any of Go's integer types (signed and
// unsigned) into a signed int64.
//
// If m is not one of Go's built in integer types the call will panic.
func AnyIntToInt64(m interface{}) int64 {
	switch mt := m.(type) {
	case int:
		return int64(mt)
	case int8:
		return int64(mt)
	case int16:
		return int64(mt)
	case int32:
		return int64(mt)
	case int64:
		return mt
	case uint:
		return int64(mt)
	case uint8:
		return int64(mt)
	case uint16:
		return int64(mt)
	case uint32:
		return int64(mt)
	case uint64:
		return int64(mt)
	}
	panic(fmt.Sprintf("AnyIntToInt64 got bad arg: %#v", m))
}

// ParseInt is a specialized version of strconv.ParseInt that parses a base-10
// encoded signed integer from a []byte, avoiding the string allocation that
// strconv requires.
func ParseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty slice given to ParseInt")
	}

	var neg bool
	if b[0] == '-' || b[0] == '+' {
		neg = b[0] == '-'
		b = b[1:]
	}

	n, err := ParseUint(b)
	if err != nil {
		return 0, err
	}

	if neg {
		return -int64(n), nil
	}
	return int64(n), nil
}

// ParseUint is a specialized version of strconv.ParseUint that parses a
// base-10 encoded integer from a []byte.
func ParseUint(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty slice given to ParseUint")
	}

	var n uint64
	for i, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid character %c at position %d in ParseUint", c, i)
		}
		n *= 10
		n += uint64(c - '0')
	}
	return n, nil
}

// Expand expands the given byte slice to exactly n bytes, allocating only if
// cap(b) < n. It will not return nil.
func Expand(b []byte, n int) []byte {
	if n == 0 && b == nil {
		return []byte{}
	} else if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}
