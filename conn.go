package redline

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joomcode/errorx"

	"github.com/redline-io/redline/resp"
	"github.com/redline-io/redline/trace"
)

// Decoding selects how string payloads materialize when a reply is turned
// into plain Go values. The zero value defers to the connection's default,
// so a per-call Decoding can always be left unset without inventing a
// sentinel.
type Decoding uint8

const (
	// DecodingDefault defers to the connection's configured decoding.
	DecodingDefault Decoding = iota
	// DecodingRaw materializes string payloads as []byte.
	DecodingRaw
	// DecodingText materializes string payloads as string.
	DecodingText
)

// Future is the pending reply of a pipelined command. It is settled exactly
// once, by the connection's reader go-routine, in the order commands were
// written. Abandoning a Future (its Wait context expiring) does not abandon
// its slot in the reply order; the reply is still consumed when it arrives.
type Future struct {
	doneCh  chan struct{}
	rep     resp.Reply
	err     error
	onReply func(resp.Reply)
}

func newFuture() *Future {
	return &Future{doneCh: make(chan struct{})}
}

func (f *Future) settle(rep resp.Reply, err error) {
	f.rep = rep
	f.err = err
	if err == nil && f.onReply != nil {
		f.onReply(rep)
	}
	close(f.doneCh)
}

// Wait blocks until the reply arrives or ctx expires. An error reply is
// returned as an ErrReply (or subtype) error. Wait may be called any number
// of times, from any go-routine.
func (f *Future) Wait(ctx context.Context) (resp.Reply, error) {
	select {
	case <-f.doneCh:
		return f.rep, f.err
	case <-ctx.Done():
		return resp.Reply{}, ctx.Err()
	}
}

// Done reports whether the reply has arrived, without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.doneCh:
		return true
	default:
		return false
	}
}

// waiterQueue is the pending-reply FIFO of a connection. Replies are matched
// to commands purely by order, which is why enqueueing and writing happen
// under one mutex hold in Conn.
type waiterQueue struct {
	mu sync.Mutex
	q  []*Future
}

func (wq *waiterQueue) push(fs ...*Future) {
	wq.mu.Lock()
	wq.q = append(wq.q, fs...)
	wq.mu.Unlock()
}

func (wq *waiterQueue) pop() *Future {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	if len(wq.q) == 0 {
		return nil
	}
	f := wq.q[0]
	wq.q[0] = nil
	wq.q = wq.q[1:]
	return f
}

func (wq *waiterQueue) len() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.q)
}

func (wq *waiterQueue) drain() []*Future {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	q := wq.q
	wq.q = nil
	return q
}

// Conn is a single connection to the server. It supports pipelining: any
// number of commands may be in flight at once, each represented by a Future,
// with replies matched to commands strictly by write order.
//
// A Conn is either in regular mode or, once a subscribe operation succeeds,
// in subscriber mode, where only the subscription commands and PING are
// accepted until every subscription is dropped.
type Conn struct {
	proc *proc

	netConn net.Conn
	rd      resp.ReplyReader

	// wMu serializes writers and makes enqueue+write atomic, so the waiter
	// FIFO always matches the byte order on the wire.
	wMu  sync.Mutex
	wBuf []byte

	waiters waiterQueue
	subAcks waiterQueue

	stateMu sync.Mutex
	db      int
	inMulti bool
	subs    map[string]bool
	psubs   map[string]bool

	receiverOnce sync.Once
	receiver     *Receiver
	rcvTrace     trace.ReceiverTrace

	decoding Decoding

	closeErrMu sync.Mutex
	closeErr   error
}

// NewConn wraps an established net.Conn. Most callers use Dial instead; the
// constructor exists for custom transports and in-memory stubs.
func NewConn(netConn net.Conn) *Conn {
	return newConn(netConn, resp.NewReader(), DecodingRaw, trace.ReceiverTrace{})
}

func newConn(netConn net.Conn, rd resp.ReplyReader, dec Decoding, rt trace.ReceiverTrace) *Conn {
	if dec == DecodingDefault {
		dec = DecodingRaw
	}
	c := &Conn{
		proc:     newProc(),
		netConn:  netConn,
		rd:       rd,
		subs:     map[string]bool{},
		psubs:    map[string]bool{},
		decoding: dec,
		rcvTrace: rt,
	}
	c.proc.run(c.reader)
	c.proc.reap(c.teardown)
	return c
}

// RemoteAddr returns the address of the server side of the connection.
func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// Db returns the database index the connection currently has selected.
func (c *Conn) Db() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.db
}

// InTransaction reports whether a MULTI block is open on the connection.
func (c *Conn) InTransaction() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.inMulti
}

// Subscribed reports whether the connection is in subscriber mode.
func (c *Conn) Subscribed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return len(c.subs) > 0 || len(c.psubs) > 0
}

// Receiver returns the fan-out of pub/sub messages pushed over this
// connection. The same Receiver is returned for the lifetime of the Conn.
func (c *Conn) Receiver() *Receiver {
	c.receiverOnce.Do(func() {
		c.receiver = newReceiver(c.rcvTrace)
	})
	return c.receiver
}

// commands accepted while in subscriber mode
func subModeAllowed(cmd string) bool {
	switch cmd {
	case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "PING":
		return true
	}
	return false
}

func isSubOp(cmd string) bool {
	switch cmd {
	case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE":
		return true
	}
	return false
}

// Send encodes the command, writes it, and enqueues its Future, returning
// without waiting for the reply. A bad argument fails the call before any
// bytes hit the wire; a transport error closes the connection, since a
// partially written frame cannot be recovered from.
func (c *Conn) Send(ctx context.Context, cmd string, args ...interface{}) (*Future, error) {
	ucmd := strings.ToUpper(cmd)
	if isSubOp(ucmd) {
		return nil, ErrUsage.New("%s must go through ExecuteSub", ucmd)
	}

	c.wMu.Lock()
	defer c.wMu.Unlock()

	if err := c.checkSendable(ucmd); err != nil {
		return nil, err
	}

	buf, err := resp.AppendCmd(c.wBuf[:0], cmd, args...)
	if err != nil {
		return nil, err
	}
	defer func() { c.wBuf = buf[:0] }()

	f := newFuture()
	f.onReply = c.stateHook(ucmd, args)
	c.waiters.push(f)
	if err := c.write(ctx, buf); err != nil {
		return nil, err
	}
	return f, nil
}

type batchCmd struct {
	name string
	args []interface{}
}

// sendMany writes a batch of commands in one pass, enqueueing one Future per
// command under a single mutex hold. Used by Pipeline and MultiExec.
func (c *Conn) sendMany(ctx context.Context, cmds []batchCmd) ([]*Future, error) {
	c.wMu.Lock()
	defer c.wMu.Unlock()

	buf := c.wBuf[:0]
	var err error
	for _, bc := range cmds {
		ucmd := strings.ToUpper(bc.name)
		if isSubOp(ucmd) {
			return nil, ErrUsage.New("%s must go through ExecuteSub", ucmd)
		}
		if err = c.checkSendable(ucmd); err != nil {
			return nil, err
		}
		if buf, err = resp.AppendCmd(buf, bc.name, bc.args...); err != nil {
			return nil, err
		}
	}
	defer func() { c.wBuf = buf[:0] }()

	fs := make([]*Future, len(cmds))
	for i, bc := range cmds {
		fs[i] = newFuture()
		fs[i].onReply = c.stateHook(strings.ToUpper(bc.name), bc.args)
	}
	c.waiters.push(fs...)
	if err := c.write(ctx, buf); err != nil {
		return nil, err
	}
	return fs, nil
}

// Execute is Send followed by waiting for the reply.
func (c *Conn) Execute(ctx context.Context, cmd string, args ...interface{}) (resp.Reply, error) {
	f, err := c.Send(ctx, cmd, args...)
	if err != nil {
		return resp.Reply{}, err
	}
	return f.Wait(ctx)
}

// ExecuteValue is Execute with the reply materialized as plain Go values,
// string payloads rendered per dec resolved against the connection default.
func (c *Conn) ExecuteValue(ctx context.Context, dec Decoding, cmd string, args ...interface{}) (interface{}, error) {
	rep, err := c.Execute(ctx, cmd, args...)
	if err != nil {
		return nil, err
	}
	if dec == DecodingDefault {
		dec = c.decoding
	}
	return rep.Value(dec == DecodingText), nil
}

// Do is Execute with the reply scanned into dst. A nil dst discards the
// reply but still surfaces error replies.
func (c *Conn) Do(ctx context.Context, dst interface{}, cmd string, args ...interface{}) error {
	rep, err := c.Execute(ctx, cmd, args...)
	if err != nil {
		return err
	}
	return resp.Scan(rep, dst)
}

func (c *Conn) checkSendable(ucmd string) error {
	if c.proc.isClosed() {
		return c.wrapClosed()
	}
	c.stateMu.Lock()
	subscribed := len(c.subs) > 0 || len(c.psubs) > 0
	c.stateMu.Unlock()
	if subscribed && !subModeAllowed(ucmd) {
		return ErrUsage.New("%s is not allowed while in subscriber mode", ucmd)
	}
	return nil
}

// stateHook returns the reply callback which keeps db and transaction state
// in step with what the server acknowledged.
func (c *Conn) stateHook(ucmd string, args []interface{}) func(resp.Reply) {
	switch ucmd {
	case "SELECT":
		if len(args) == 0 {
			return nil
		}
		db, ok := dbArg(args[0])
		if !ok {
			return nil
		}
		return func(r resp.Reply) {
			if r.OK() {
				c.stateMu.Lock()
				c.db = db
				c.stateMu.Unlock()
			}
		}
	case "MULTI":
		return func(r resp.Reply) {
			if r.OK() {
				c.stateMu.Lock()
				c.inMulti = true
				c.stateMu.Unlock()
			}
		}
	case "EXEC", "DISCARD":
		return func(resp.Reply) {
			c.stateMu.Lock()
			c.inMulti = false
			c.stateMu.Unlock()
		}
	}
	return nil
}

func dbArg(a interface{}) (int, bool) {
	switch at := a.(type) {
	case int:
		return at, true
	case int64:
		return int(at), true
	case string:
		n, err := strconv.Atoi(at)
		return n, err == nil
	}
	return 0, false
}

var noDeadline time.Time

// write sends buf on the transport, honoring the context deadline. Any
// failure is fatal for the connection.
func (c *Conn) write(ctx context.Context, buf []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		if err := c.netConn.SetWriteDeadline(dl); err != nil {
			c.fail(ErrConnClosed.Wrap(err, "setting write deadline"))
			return c.wrapClosed()
		}
		defer c.netConn.SetWriteDeadline(noDeadline)
	}
	if _, err := c.netConn.Write(buf); err != nil {
		c.fail(ErrConnClosed.Wrap(err, "writing command"))
		return c.wrapClosed()
	}
	return nil
}

// ExecuteSub issues one of the subscription commands and blocks until the
// server has acknowledged every named channel or pattern. The matching
// Channel objects of the Receiver are created (on subscribe) or marked
// closed (on unsubscribe) as each acknowledgment arrives.
func (c *Conn) ExecuteSub(ctx context.Context, cmd string, names ...string) error {
	ucmd := strings.ToUpper(cmd)
	if !isSubOp(ucmd) {
		return ErrUsage.New("%q is not a subscription operation", cmd)
	}
	if len(names) == 0 {
		return ErrUsage.New("%s needs at least one name", ucmd)
	}
	c.Receiver() // ensure pushes have somewhere to land

	c.wMu.Lock()
	if c.proc.isClosed() {
		c.wMu.Unlock()
		return c.wrapClosed()
	}
	c.stateMu.Lock()
	inMulti := c.inMulti
	c.stateMu.Unlock()
	if inMulti {
		c.wMu.Unlock()
		return ErrUsage.New("%s is not allowed inside MULTI", ucmd)
	}

	args := make([]interface{}, len(names))
	for i, n := range names {
		args[i] = n
	}
	buf, err := resp.AppendCmd(c.wBuf[:0], ucmd, args...)
	if err != nil {
		c.wMu.Unlock()
		return err
	}

	// one ack arrives per name, in order
	fs := make([]*Future, len(names))
	for i := range fs {
		fs[i] = newFuture()
	}
	c.subAcks.push(fs...)
	err = c.write(ctx, buf)
	c.wBuf = buf[:0]
	c.wMu.Unlock()
	if err != nil {
		return err
	}

	for _, f := range fs {
		if _, err := f.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// reader is the single go-routine consuming the transport. It feeds the
// reply parser and dispatches every decoded value: pub/sub pushes to the
// Receiver, subscription acks to their waiters, everything else to the
// pending-reply FIFO.
func (c *Conn) reader(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.netConn.Read(buf)
		if n > 0 {
			c.rd.Feed(buf[:n])
			for {
				rep, ok, perr := c.rd.ReadReply()
				if perr != nil {
					c.fail(ErrProtocol.Wrap(perr, "decoding reply"))
					return
				} else if !ok {
					break
				}
				c.dispatch(rep)
			}
		}
		if err != nil {
			select {
			case <-ctx.Done():
				c.fail(ErrConnForcedClose.NewWithNoMessage())
			default:
				c.fail(ErrConnClosed.Wrap(err, "reading reply"))
			}
			return
		}
	}
}

// pubsubActive reports whether pushes may legitimately appear on the stream:
// some subscription is live, or a subscription command is awaiting its acks.
// Outside of that, an array reply shaped like a push is just a reply.
func (c *Conn) pubsubActive() bool {
	if c.subAcks.len() > 0 {
		return true
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return len(c.subs) > 0 || len(c.psubs) > 0
}

func (c *Conn) dispatch(rep resp.Reply) {
	if kind, ok := pushKind(rep); ok && c.pubsubActive() {
		switch kind {
		case "message":
			c.Receiver().deliverMessage(rep.Arr[1].Text(), "", rep.Arr[2].Bytes())
			return
		case "pmessage":
			c.Receiver().deliverMessage(rep.Arr[2].Text(), rep.Arr[1].Text(), rep.Arr[3].Bytes())
			return
		default:
			c.dispatchSubAck(kind, rep)
			return
		}
	}
	if f := c.waiters.pop(); f != nil {
		f.settle(rep, replyError(rep))
		return
	}
	// a reply with no waiter means the stream is out of step
	c.fail(ErrProtocol.New("unsolicited reply %s", rep))
}

func (c *Conn) dispatchSubAck(kind string, rep resp.Reply) {
	name := rep.Arr[1].Text()
	pattern := kind == "psubscribe" || kind == "punsubscribe"
	unsub := kind == "unsubscribe" || kind == "punsubscribe"

	c.stateMu.Lock()
	set := c.subs
	if pattern {
		set = c.psubs
	}
	if unsub {
		delete(set, name)
	} else {
		set[name] = true
	}
	c.stateMu.Unlock()

	r := c.Receiver()
	if unsub {
		r.closeChannel(name, pattern)
	} else {
		r.register(name, pattern)
	}

	if f := c.subAcks.pop(); f != nil {
		f.settle(rep, nil)
	}
}

// pushKind recognizes the pub/sub push shapes: arrays whose first element is
// one of the push kinds with the arity that kind implies.
func pushKind(rep resp.Reply) (string, bool) {
	if rep.Type != resp.TypeArray || len(rep.Arr) < 3 {
		return "", false
	}
	kind := strings.ToLower(rep.Arr[0].Text())
	switch kind {
	case "message", "subscribe", "psubscribe", "unsubscribe", "punsubscribe":
		return kind, len(rep.Arr) == 3
	case "pmessage":
		return kind, len(rep.Arr) == 4
	}
	return "", false
}

// fail records the first close cause and starts teardown.
func (c *Conn) fail(cause error) {
	c.closeErrMu.Lock()
	if c.closeErr == nil {
		c.closeErr = cause
	}
	c.closeErrMu.Unlock()
	c.proc.closeSignal(func() { c.netConn.Close() })
}

func (c *Conn) wrapClosed() error {
	c.closeErrMu.Lock()
	defer c.closeErrMu.Unlock()
	if c.closeErr == nil {
		return ErrConnClosed.NewWithNoMessage()
	}
	if e, ok := c.closeErr.(*errorx.Error); ok && e.IsOfType(ErrConnClosed) {
		return c.closeErr
	}
	return ErrConnClosed.WrapWithNoMessage(c.closeErr)
}

// teardown runs after the reader go-routine has unwound: every pending
// waiter fails with the close cause, and every live Channel is closed.
func (c *Conn) teardown() {
	err := c.wrapClosed()
	// taking the write mutex serializes with any Send racing the close, so
	// its waiter is either drained here or failed by the sendability check
	c.wMu.Lock()
	defer c.wMu.Unlock()
	for _, f := range c.waiters.drain() {
		f.settle(resp.Reply{}, err)
	}
	for _, f := range c.subAcks.drain() {
		f.settle(resp.Reply{}, err)
	}
	if c.receiver != nil {
		c.receiver.closeAll()
	}
}

// Close starts teardown and returns immediately; commands still in flight
// fail with ErrConnForcedClose. Close is idempotent. Use WaitClosed to block
// until teardown has finished.
func (c *Conn) Close() error {
	c.fail(ErrConnForcedClose.NewWithNoMessage())
	return nil
}

// WaitClosed blocks until the connection has fully torn down, or ctx
// expires.
func (c *Conn) WaitClosed(ctx context.Context) error {
	return c.proc.waitDone(ctx)
}

// Closed reports whether teardown has started.
func (c *Conn) Closed() bool { return c.proc.isClosed() }

// CloseCause returns the error that closed the connection, or nil while it
// is open.
func (c *Conn) CloseCause() error {
	c.closeErrMu.Lock()
	defer c.closeErrMu.Unlock()
	return c.closeErr
}
