package resp

import (
	"bytes"

	"github.com/redline-io/redline/internal/bytesutil"
)

// ReplyReader is the strategy interface for reply parser backends. Feed hands
// the reader a chunk of bytes as it arrived off the transport; ReadReply
// either returns one complete decoded Reply (consuming its bytes) or reports
// that more bytes are needed. Neither method may block.
//
// The default backend is the Reader returned by NewReader. An accelerated
// backend is a drop-in substitute as long as it obeys this contract; it can
// be installed per connection with the DialReplyReader option of the root
// package.
type ReplyReader interface {
	Feed(p []byte)

	// ReadReply returns (reply, true, nil) when a complete reply was decoded,
	// (_, false, nil) when more bytes are needed, and (_, false, err) when
	// the buffered bytes are not valid RESP. A decode error is not
	// recoverable: the reader's buffer is left in an undefined state.
	ReadReply() (Reply, bool, error)

	// Buffered returns the number of fed bytes not yet consumed by ReadReply.
	Buffered() int
}

// MaxHeaderLen bounds the length of a single value header line ("*123\r\n").
// A stream exceeding it without a line terminator cannot be valid RESP.
const MaxHeaderLen = 64

// Reader is the pure-Go ReplyReader. It accumulates fed chunks in an internal
// buffer and re-attempts a full parse on each ReadReply call, so a reply
// split across arbitrarily small chunks decodes identically to one delivered
// whole.
type Reader struct {
	buf []byte
	pos int
}

var _ ReplyReader = (*Reader)(nil)

// NewReader initializes a Reader with an empty buffer.
func NewReader() *Reader {
	return &Reader{buf: make([]byte, 0, 4096)}
}

// Feed appends p to the internal buffer. p may be reused by the caller after
// Feed returns.
func (r *Reader) Feed(p []byte) {
	// compact consumed prefix before growing
	if r.pos > 0 && (r.pos >= len(r.buf) || r.pos > cap(r.buf)/2) {
		r.buf = append(r.buf[:0], r.buf[r.pos:]...)
		r.pos = 0
	}
	r.buf = append(r.buf, p...)
}

// Buffered implements the ReplyReader interface.
func (r *Reader) Buffered() int { return len(r.buf) - r.pos }

// ReadReply implements the ReplyReader interface.
func (r *Reader) ReadReply() (Reply, bool, error) {
	rep, n, err := parse(r.buf[r.pos:])
	if err == errIncomplete {
		return Reply{}, false, nil
	} else if err != nil {
		return Reply{}, false, err
	}
	r.pos += n
	return rep, true, nil
}

// errIncomplete is internal to the parse loop; it never escapes ReadReply.
var errIncomplete = incompleteError{}

type incompleteError struct{}

func (incompleteError) Error() string { return "resp: incomplete value" }

var crlf = []byte("\r\n")

// parse decodes a single reply from the front of b, returning it and the
// number of bytes it occupied, or errIncomplete if b does not yet hold a full
// reply.
func parse(b []byte) (Reply, int, error) {
	line, n, err := parseLine(b)
	if err != nil {
		return Reply{}, 0, err
	}

	switch b[0] {
	case '+':
		return Reply{Type: TypeSimpleString, Str: dup(line)}, n, nil

	case '-':
		return Reply{Type: TypeError, Str: dup(line)}, n, nil

	case ':':
		i, err := bytesutil.ParseInt(line)
		if err != nil {
			return Reply{}, 0, ErrIntegerMalformed
		}
		return Reply{Type: TypeInteger, Int: i}, n, nil

	case '$':
		size, err := bytesutil.ParseInt(line)
		if err != nil {
			return Reply{}, 0, ErrIntegerMalformed
		} else if size == -1 {
			return Nil, n, nil
		} else if size < 0 {
			return Reply{}, 0, ErrHeaderMalformed
		}
		end := n + int(size) + len(crlf)
		if len(b) < end {
			return Reply{}, 0, errIncomplete
		} else if !bytes.Equal(b[n+int(size):end], crlf) {
			return Reply{}, 0, ErrNoFinalCRLF
		}
		return Reply{Type: TypeBulkString, Str: dup(b[n : n+int(size)])}, end, nil

	case '*':
		size, err := bytesutil.ParseInt(line)
		if err != nil {
			return Reply{}, 0, ErrIntegerMalformed
		} else if size == -1 {
			return Nil, n, nil
		} else if size < 0 {
			return Reply{}, 0, ErrHeaderMalformed
		}
		arr := make([]Reply, 0, size)
		for i := int64(0); i < size; i++ {
			el, m, err := parse(b[n:])
			if err != nil {
				return Reply{}, 0, err
			}
			arr = append(arr, el)
			n += m
		}
		return Reply{Type: TypeArray, Arr: arr}, n, nil

	default:
		return Reply{}, 0, ErrUnknownType
	}
}

// parseLine finds the first header line of b, returning its payload (without
// the type prefix and trailing \r\n) and the total line length.
func parseLine(b []byte) ([]byte, int, error) {
	if len(b) == 0 {
		return nil, 0, errIncomplete
	}
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		if len(b) > MaxHeaderLen {
			return nil, 0, ErrHeaderTooLarge
		}
		return nil, 0, errIncomplete
	} else if i > MaxHeaderLen {
		return nil, 0, ErrHeaderTooLarge
	} else if i < 2 || b[i-1] != '\r' {
		return nil, 0, ErrHeaderMalformed
	}
	return b[1 : i-1], i + 1, nil
}

func dup(b []byte) []byte {
	out := bytesutil.Expand(nil, len(b))
	copy(out, b)
	return out
}
