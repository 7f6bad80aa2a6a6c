package resp

import (
	"fmt"
	"strconv"

	"github.com/redline-io/redline/internal/bytesutil"
)

// Simple marks a string to be encoded as a RESP simple string ("+OK\r\n")
// rather than a bulk string. Only server-side encoding (AppendAny) ever
// produces simple strings; command arguments are always bulk.
type Simple string

// NilArray marks a nil multi-bulk value ("*-1\r\n") for AppendAny. A plain
// nil encodes as a nil bulk string.
type NilArray struct{}

// AppendCmd appends the RESP encoding of a command invocation to buf and
// returns the extended slice. Every argument is validated and converted up
// front; if any argument has an unsupported type, buf is returned unmodified
// alongside an error wrapping ErrArgType, so a bad call never leaves a
// partial frame behind.
//
// Supported argument types are string, []byte, every fixed-size int/uint,
// float32 and float64. Notably bool is not supported: there is no canonical
// wire form for it, callers must choose one explicitly.
func AppendCmd(buf []byte, name string, args ...interface{}) ([]byte, error) {
	orig := len(buf)
	for i, a := range args {
		if !validArg(a) {
			return buf[:orig], fmt.Errorf(
				"argument %d of %q has type %T: %w", i, name, a, ErrArgType)
		}
	}

	buf = appendArrayHeader(buf, len(args)+1)
	buf = appendBulk(buf, []byte(name))
	for _, a := range args {
		buf = appendArg(buf, a)
	}
	return buf, nil
}

func validArg(a interface{}) bool {
	switch a.(type) {
	case string, []byte,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func appendArg(buf []byte, a interface{}) []byte {
	switch at := a.(type) {
	case string:
		return appendBulkString(buf, at)
	case []byte:
		return appendBulk(buf, at)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return appendBulkInt(buf, bytesutil.AnyIntToInt64(at))
	case float32:
		return appendBulkFloat(buf, float64(at), 32)
	case float64:
		return appendBulkFloat(buf, at, 64)
	default:
		panic(fmt.Sprintf("resp: unreachable arg type %T", a))
	}
}

func appendArrayHeader(buf []byte, n int) []byte {
	buf = append(buf, '*')
	buf = strconv.AppendInt(buf, int64(n), 10)
	return append(buf, crlf...)
}

func appendBulk(buf, b []byte) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(b)), 10)
	buf = append(buf, crlf...)
	buf = append(buf, b...)
	return append(buf, crlf...)
}

func appendBulkString(buf []byte, s string) []byte {
	buf = append(buf, '$')
	buf = strconv.AppendInt(buf, int64(len(s)), 10)
	buf = append(buf, crlf...)
	buf = append(buf, s...)
	return append(buf, crlf...)
}

func appendBulkInt(buf []byte, i int64) []byte {
	var scratch [20]byte
	return appendBulk(buf, strconv.AppendInt(scratch[:0], i, 10))
}

func appendBulkFloat(buf []byte, f float64, bits int) []byte {
	var scratch [32]byte
	return appendBulk(buf, strconv.AppendFloat(scratch[:0], f, 'f', -1, bits))
}

// AppendAny appends the RESP encoding of an arbitrary server-side value to
// buf. It is the inverse direction of ReadReply and exists for stub servers
// and tests; unlike AppendCmd it encodes simple strings, errors, nils and
// nested arrays.
func AppendAny(buf []byte, v interface{}) []byte {
	switch vt := v.(type) {
	case nil:
		return append(buf, "$-1\r\n"...)
	case NilArray:
		return append(buf, "*-1\r\n"...)
	case Simple:
		buf = append(buf, '+')
		buf = append(buf, vt...)
		return append(buf, crlf...)
	case error:
		buf = append(buf, '-')
		buf = append(buf, vt.Error()...)
		return append(buf, crlf...)
	case Reply:
		return appendReply(buf, vt)
	case string:
		return appendBulkString(buf, vt)
	case []byte:
		return appendBulk(buf, vt)
	case bool:
		if vt {
			return append(buf, ":1\r\n"...)
		}
		return append(buf, ":0\r\n"...)
	case int:
		return appendInt(buf, int64(vt))
	case int64:
		return appendInt(buf, vt)
	case float64:
		var scratch [32]byte
		return appendBulk(buf, strconv.AppendFloat(scratch[:0], vt, 'f', -1, 64))
	case []string:
		buf = appendArrayHeader(buf, len(vt))
		for _, el := range vt {
			buf = appendBulkString(buf, el)
		}
		return buf
	case []interface{}:
		buf = appendArrayHeader(buf, len(vt))
		for _, el := range vt {
			buf = AppendAny(buf, el)
		}
		return buf
	default:
		panic(fmt.Sprintf("resp: cannot encode %T", v))
	}
}

func appendInt(buf []byte, i int64) []byte {
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, i, 10)
	return append(buf, crlf...)
}

func appendReply(buf []byte, r Reply) []byte {
	switch r.Type {
	case TypeNil:
		return append(buf, "$-1\r\n"...)
	case TypeSimpleString:
		buf = append(buf, '+')
		buf = append(buf, r.Str...)
		return append(buf, crlf...)
	case TypeError:
		buf = append(buf, '-')
		buf = append(buf, r.Str...)
		return append(buf, crlf...)
	case TypeInteger:
		return appendInt(buf, r.Int)
	case TypeBulkString:
		return appendBulk(buf, r.Str)
	case TypeArray:
		buf = appendArrayHeader(buf, len(r.Arr))
		for _, el := range r.Arr {
			buf = appendReply(buf, el)
		}
		return buf
	default:
		panic(fmt.Sprintf("resp: cannot encode reply type %d", r.Type))
	}
}
