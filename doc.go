// Package redline implements a client-side engine for the Redis wire
// protocol, built around pipelining as the default mode of operation rather
// than an optimization.
//
// # Connections
//
// A Conn is a single connection to a server. Commands written to it do not
// wait for their predecessors' replies; each Send returns a Future which
// settles when the reply arrives, so any number of commands from any number
// of go-routines can be in flight at once:
//
//	c, err := redline.Dial(ctx, "tcp", "127.0.0.1:6379")
//	// handle err
//	f, err := c.Send(ctx, "INCR", "counter")
//	// other work ...
//	rep, err := f.Wait(ctx)
//
// Execute and Do are the blocking conveniences layered on top.
//
// # Pools
//
// A Pool holds a bounded set of Conns to one server. Acquire/Release hands a
// Conn out exclusively, for transactions and other stateful sequences.
// Execute on the Pool works in shared mode instead: the Conn returns to
// rotation as soon as the command is written, so a handful of Conns carries
// the pipelined traffic of many callers.
//
// # Pub/sub
//
// ExecuteSub on a Conn (or a Pool, which pins a dedicated Conn for it) puts
// subscriptions in place; the Receiver fans incoming messages out to Channel
// objects, one per subscribed name:
//
//	err := c.ExecuteSub(ctx, "SUBSCRIBE", "news")
//	ch := c.Receiver().Channel("news")
//	for {
//		m, err := ch.Get(ctx)
//		// handle m, stop on err
//	}
//
// # Batches
//
// Pipeline batches commands into one write and one pass over the replies.
// MultiExec does the same inside a MULTI/EXEC block, with optional WATCH
// guards; a guarded transaction that lost its race fails with
// ErrWatchConflict, which carries the Retryable trait.
//
// # Errors
//
// Every error returned by this package belongs to an errorx type in the
// Errors namespace (ErrConnClosed, ErrReply, ErrPoolClosed, ...), so callers
// can sort failures with errorx.IsOfType and decide retries with
// errorx.HasTrait.
package redline
