package resp

import "golang.org/x/xerrors"

// Decode errors. All of them mean the byte stream is not valid RESP; a
// connection seeing any of these cannot resynchronize and must close.
var (
	ErrHeaderMalformed  = xerrors.New("resp: malformed value header")
	ErrHeaderTooLarge   = xerrors.New("resp: value header exceeds maximum length")
	ErrIntegerMalformed = xerrors.New("resp: malformed integer")
	ErrNoFinalCRLF      = xerrors.New("resp: bulk string not terminated by \\r\\n")
	ErrUnknownType      = xerrors.New("resp: unknown type prefix")
)

// ErrArgType is returned by AppendCmd for an argument of a type which has no
// RESP representation. It is reported before any frame bytes are produced.
var ErrArgType = xerrors.New("resp: command argument type not supported")
