package redline

import (
	"strings"

	"github.com/joomcode/errorx"

	"github.com/redline-io/redline/resp"
)

// Errors is the root namespace of every error produced by this package.
// Matching is by type, via errorx.IsOfType; recoverability is expressed as
// traits rather than as a parallel type hierarchy.
var Errors = errorx.NewNamespace("redline")

// Retryable marks errors where re-issuing the same operation may succeed, a
// watch conflict being the canonical case.
var Retryable = errorx.RegisterTrait("retryable")

var (
	// ErrProtocol means the byte stream coming from the server was not valid
	// RESP. The connection that saw it is closed: there is no way to find
	// the start of the next reply in a corrupt stream.
	ErrProtocol = Errors.NewType("protocol")

	// ErrReply is a error reply returned by the server. It refers to the one
	// command that produced it; the connection remains usable.
	ErrReply = Errors.NewType("reply")

	// ErrAuth is the server rejecting authentication.
	ErrAuth = ErrReply.NewSubtype("auth")

	// ErrMaxClients is the server refusing a connection over its client limit.
	ErrMaxClients = ErrReply.NewSubtype("max_clients")

	// ErrConnClosed is returned for operations on a closed connection, and
	// delivered to waiters whose replies can no longer arrive.
	ErrConnClosed = Errors.NewType("conn_closed")

	// ErrConnForcedClose is ErrConnClosed due to an explicit local Close
	// racing in-flight commands, rather than a transport failure.
	ErrConnForcedClose = ErrConnClosed.NewSubtype("forced")

	// ErrPipeline aggregates the command errors of a batched execution.
	ErrPipeline = Errors.NewType("pipeline")

	// ErrMultiExec aggregates command errors surfaced by EXEC.
	ErrMultiExec = ErrPipeline.NewSubtype("multi_exec")

	// ErrWatchConflict means EXEC returned nil because a watched key was
	// modified. The transaction had no effect and may be retried as a whole.
	ErrWatchConflict = ErrPipeline.NewSubtype("watch_conflict", Retryable)

	// ErrChannelClosed is returned by Channel.Get once the channel is
	// unsubscribed and its buffered messages are drained.
	ErrChannelClosed = Errors.NewType("channel_closed")

	// ErrPoolClosed is returned for operations on a closed pool.
	ErrPoolClosed = Errors.NewType("pool_closed")

	// ErrConfig covers invalid dial and pool configuration, including an
	// explicit option conflicting with a value embedded in an address URI.
	ErrConfig = Errors.NewType("config")

	// ErrUsage covers API misuse that is detectable at runtime, such as
	// reading a Result before its batch was executed.
	ErrUsage = Errors.NewType("usage")
)

// Error properties attached for diagnostics.
var (
	// EKAddr is the remote address of the connection involved.
	EKAddr = errorx.RegisterProperty("addr")
	// EKDb is the database index involved.
	EKDb = errorx.RegisterProperty("db")
)

const (
	authErrPrefix       = "NOAUTH"
	authErrPrefixOld    = "ERR invalid password"
	maxClientsErrPrefix = "ERR max number of clients reached"
)

// replyToError converts an error reply into the matching taxonomy type,
// recognizing the authentication and max-clients refusals by their reply
// prefix.
func replyToError(text string) *errorx.Error {
	switch {
	case strings.HasPrefix(text, authErrPrefix),
		strings.HasPrefix(text, authErrPrefixOld),
		strings.HasPrefix(text, "WRONGPASS"):
		return ErrAuth.New("%s", text)
	case strings.HasPrefix(text, maxClientsErrPrefix):
		return ErrMaxClients.New("%s", text)
	default:
		return ErrReply.New("%s", text)
	}
}

// replyError returns nil for a non-error reply, and the taxonomy rendering
// of an error reply otherwise.
func replyError(r resp.Reply) error {
	if r.Type != resp.TypeError {
		return nil
	}
	return replyToError(r.Text())
}
