package redline

import (
	"context"
	"sync"
	"time"

	"github.com/joomcode/errorx"

	"github.com/redline-io/redline/resp"
	"github.com/redline-io/redline/trace"
)

// ConnFunc is a function which returns an initialized, ready-to-be-used Conn.
// NewPool takes one in order to allow for custom handshakes, transports, and
// in-memory stubs.
type ConnFunc func(ctx context.Context, network, addr string) (*Conn, error)

type poolOpts struct {
	cf             ConnFunc
	minSize        int
	maxSize        int
	refillInterval time.Duration
	pt             trace.PoolTrace
}

// PoolOpt is an option for NewPool.
type PoolOpt func(*poolOpts)

// PoolConnFunc tells the Pool to use the given ConnFunc when creating new
// Conns.
func PoolConnFunc(cf ConnFunc) PoolOpt {
	return func(po *poolOpts) {
		po.cf = cf
	}
}

// PoolMinSize sets the number of Conns the Pool creates up front and tries
// to keep alive. Default is 1.
func PoolMinSize(n int) PoolOpt {
	return func(po *poolOpts) {
		po.minSize = n
	}
}

// PoolMaxSize sets the hard cap on the number of Conns the Pool will hold,
// and with it the number of callers admitted at once. Default is 10.
func PoolMaxSize(n int) PoolOpt {
	return func(po *poolOpts) {
		po.maxSize = n
	}
}

// PoolRefillInterval sets how often the Pool checks that it still holds its
// minimum number of Conns, recreating them if not. Default is 1 second.
func PoolRefillInterval(d time.Duration) PoolOpt {
	return func(po *poolOpts) {
		po.refillInterval = d
	}
}

// PoolWithTrace tells the Pool to trace itself with the given PoolTrace.
// Note that PoolTrace will block the pool's operations anywhere its
// callbacks are set, so callbacks should be kept fast.
func PoolWithTrace(pt trace.PoolTrace) PoolOpt {
	return func(po *poolOpts) {
		po.pt = pt
	}
}

// Pool multiplexes many logical callers over a bounded set of Conns to one
// server. Admission is fair: when every Conn is handed out, Acquire calls
// queue and are served in arrival order.
//
// Execute uses the pool in shared mode: the Conn goes back into rotation as
// soon as the command has been written and its Future enqueued, so one Conn
// can carry the pipelined commands of many callers at once.
type Pool struct {
	proc *proc
	opts poolOpts

	network, addr string

	// admission tokens; holding one entitles the caller to hold one Conn
	sema semaphore

	freeCh chan *Conn

	stateMu sync.Mutex
	inUse   map[*Conn]bool
	size    int
	db      int
	zeroCh  chan struct{}

	subMu   sync.Mutex
	subConn *Conn
}

// NewPool creates a Pool of Conns to the given address, eagerly creating the
// minimum number of Conns. If even one of those initial Conns cannot be
// created the whole NewPool call fails.
func NewPool(ctx context.Context, network, addr string, opts ...PoolOpt) (*Pool, error) {
	po := poolOpts{
		minSize:        1,
		maxSize:        10,
		refillInterval: time.Second,
	}
	for _, opt := range opts {
		opt(&po)
	}
	if po.cf == nil {
		po.cf = func(ctx context.Context, network, addr string) (*Conn, error) {
			return Dial(ctx, network, addr)
		}
	}
	if po.minSize <= 0 || po.maxSize < po.minSize {
		return nil, ErrConfig.New(
			"pool sizes must satisfy 0 < min (%d) <= max (%d)",
			po.minSize, po.maxSize)
	}

	p := &Pool{
		proc:    newProc(),
		opts:    po,
		network: network,
		addr:    addr,
		sema:    newSemaphore(po.maxSize),
		freeCh:  make(chan *Conn, po.maxSize),
		inUse:   map[*Conn]bool{},
		zeroCh:  make(chan struct{}),
	}

	start := time.Now()
	for i := 0; i < po.minSize; i++ {
		c, err := p.newConn(ctx, trace.PoolConnCreatedReasonInitialization)
		if err != nil {
			p.Close()
			for {
				select {
				case c := <-p.freeCh:
					p.discard(c, trace.PoolConnClosedReasonPoolClosed)
					continue
				default:
				}
				break
			}
			return nil, err
		}
		p.freeCh <- c
	}
	p.traceInitCompleted(time.Since(start))

	p.proc.run(p.refillLoop)
	p.proc.reap(p.teardown)
	return p, nil
}

func (p *Pool) newConn(ctx context.Context, reason trace.PoolConnCreatedReason) (*Conn, error) {
	start := time.Now()
	c, err := p.opts.cf(ctx, p.network, p.addr)
	p.traceConnCreated(ctx, reason, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	p.stateMu.Lock()
	db := p.db
	p.size++
	p.stateMu.Unlock()

	if db != 0 && c.Db() != db {
		if err := c.Do(ctx, nil, "SELECT", db); err != nil {
			p.discard(c, trace.PoolConnClosedReasonConnFailed)
			if e := errorx.Cast(err); e != nil {
				err = e.WithProperty(EKDb, db)
			}
			return nil, err
		}
	}
	return c, nil
}

// putFree offers a Conn back to the free list. It fails when the Pool is
// closed or the list is full; holding stateMu while pushing is what keeps a
// racing teardown from stranding a Conn in the list.
func (p *Pool) putFree(c *Conn) bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.proc.isClosed() {
		return false
	}
	select {
	case p.freeCh <- c:
		return true
	default:
		return false
	}
}

// discard closes a Conn and forgets it.
func (p *Pool) discard(c *Conn, reason trace.PoolConnClosedReason) {
	c.Close()
	p.stateMu.Lock()
	p.size--
	if p.size == 0 {
		close(p.zeroCh)
		p.zeroCh = make(chan struct{})
	}
	p.stateMu.Unlock()
	p.traceConnClosed(reason)
}

// Acquire takes exclusive hold of a Conn, creating one if the Pool is below
// its maximum and none is free. Callers queue fairly when the Pool is
// exhausted. Every Acquire must be paired with a Release.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	c, err := p.acquire(ctx)
	p.traceAcquireDone(time.Since(start), err)
	return c, err
}

func (p *Pool) acquire(ctx context.Context) (*Conn, error) {
	if p.proc.isClosed() {
		return nil, ErrPoolClosed.NewWithNoMessage()
	}
	select {
	case <-p.sema.ch:
	case <-p.proc.closedCh():
		return nil, ErrPoolClosed.NewWithNoMessage()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c := p.takeFree()
	if c == nil {
		var err error
		if c, err = p.newConn(ctx, trace.PoolConnCreatedReasonDemand); err != nil {
			p.sema.release()
			return nil, err
		}
	}
	p.markInUse(c)
	return c, nil
}

// takeFree pulls a live Conn off the free list, discarding any dead ones it
// finds on the way. Returns nil once the list runs empty.
func (p *Pool) takeFree() *Conn {
	for {
		select {
		case c := <-p.freeCh:
			if c.Closed() {
				p.discard(c, trace.PoolConnClosedReasonConnFailed)
				continue
			}
			return c
		default:
			return nil
		}
	}
}

func (p *Pool) markInUse(c *Conn) {
	p.stateMu.Lock()
	p.inUse[c] = true
	p.stateMu.Unlock()
}

// Release hands a Conn back to the Pool. It is idempotent: releasing a Conn
// the Pool did not hand out, or releasing twice, is a no-op. A released Conn
// goes back into rotation unless it has failed, sits on the wrong database
// index, still has a transaction open, or the free list is full; in those
// cases it is closed instead.
func (p *Pool) Release(c *Conn) {
	p.stateMu.Lock()
	if !p.inUse[c] {
		p.stateMu.Unlock()
		return
	}
	delete(p.inUse, c)
	db := p.db
	p.stateMu.Unlock()
	defer p.sema.release()

	switch {
	case p.proc.isClosed():
		p.discard(c, trace.PoolConnClosedReasonPoolClosed)
	case c.Closed():
		p.discard(c, trace.PoolConnClosedReasonConnFailed)
	case c.InTransaction() || c.Subscribed():
		p.discard(c, trace.PoolConnClosedReasonConnFailed)
	case c.Db() != db:
		p.discard(c, trace.PoolConnClosedReasonDbMismatch)
	default:
		if !p.putFree(c) {
			p.discard(c, trace.PoolConnClosedReasonPoolFull)
		}
	}
}

// Execute runs one command through the Pool in shared mode: the Conn is
// released back into rotation as soon as the command has been written, and
// the reply is awaited on the Future. Under concurrency this packs many
// in-flight commands onto few Conns instead of holding one Conn hostage per
// caller.
func (p *Pool) Execute(ctx context.Context, cmd string, args ...interface{}) (resp.Reply, error) {
	f, err := p.Send(ctx, cmd, args...)
	if err != nil {
		return resp.Reply{}, err
	}
	return f.Wait(ctx)
}

// Send writes one command through a pooled Conn and returns its Future, with
// the Conn back in rotation by the time Send returns.
func (p *Pool) Send(ctx context.Context, cmd string, args ...interface{}) (*Future, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.Send(ctx, cmd, args...)
	p.Release(c)
	return f, err
}

// Do is Execute with the reply scanned into dst.
func (p *Pool) Do(ctx context.Context, dst interface{}, cmd string, args ...interface{}) error {
	rep, err := p.Execute(ctx, cmd, args...)
	if err != nil {
		return err
	}
	return resp.Scan(rep, dst)
}

// ExecuteSub runs a subscription command on the Pool's reserved pub/sub
// Conn, creating it if there is none. The Conn stays pinned for as long as
// any subscription lives and never silently resubscribes: if it fails, its
// Channels close, and it takes another explicit ExecuteSub to start over on
// a fresh Conn.
//
// The reserved Conn counts against the Pool's maximum like any other: while
// it is pinned it holds an admission token, so a fully handed-out Pool makes
// ExecuteSub wait for a Release.
func (p *Pool) ExecuteSub(ctx context.Context, cmd string, names ...string) error {
	if p.proc.isClosed() {
		return ErrPoolClosed.NewWithNoMessage()
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()

	if p.subConn != nil && p.subConn.Closed() {
		p.discard(p.subConn, trace.PoolConnClosedReasonConnFailed)
		p.subConn = nil
		p.sema.release()
	}
	if p.subConn == nil {
		select {
		case <-p.sema.ch:
		case <-p.proc.closedCh():
			return ErrPoolClosed.NewWithNoMessage()
		case <-ctx.Done():
			return ctx.Err()
		}
		c := p.takeFree()
		if c == nil {
			var err error
			if c, err = p.newConn(ctx, trace.PoolConnCreatedReasonPubSub); err != nil {
				p.sema.release()
				return err
			}
		}
		p.subConn = c
	}

	err := p.subConn.ExecuteSub(ctx, cmd, names...)

	// with no subscriptions left the Conn has nothing to be pinned for
	if err == nil && !p.subConn.Subscribed() {
		c := p.subConn
		p.subConn = nil
		if !p.putFree(c) {
			p.discard(c, trace.PoolConnClosedReasonPoolFull)
		}
		p.sema.release()
	}
	return err
}

// Receiver returns the fan-out of the reserved pub/sub Conn, or nil if no
// subscription is live. Channel objects obtained from it stay valid until
// their subscription is dropped or the Conn fails.
func (p *Pool) Receiver() *Receiver {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	if p.subConn == nil {
		return nil
	}
	return p.subConn.Receiver()
}

// Select switches the whole Pool to another database index. Free Conns are
// switched eagerly; Conns currently handed out are dropped when released
// rather than switched behind their holder's back.
func (p *Pool) Select(ctx context.Context, db int) error {
	if db < 0 {
		return ErrConfig.New("invalid db index %d", db)
	}
	if p.proc.isClosed() {
		return ErrPoolClosed.NewWithNoMessage()
	}

	p.stateMu.Lock()
	p.db = db
	p.stateMu.Unlock()

	// cycle through the conns currently sitting free
	for i := cap(p.freeCh); i > 0; i-- {
		var c *Conn
		select {
		case c = <-p.freeCh:
		default:
		}
		if c == nil {
			break
		}
		if c.Db() != db {
			if err := c.Do(ctx, nil, "SELECT", db); err != nil {
				p.discard(c, trace.PoolConnClosedReasonConnFailed)
				continue
			}
		}
		if !p.putFree(c) {
			// the list cannot be full here, the Conn was just pulled off it;
			// a failed putFree means the Pool closed under us
			p.discard(c, trace.PoolConnClosedReasonPoolClosed)
		}
	}
	return nil
}

// refillLoop keeps the Pool topped up to its minimum size, replacing Conns
// that died while free.
func (p *Pool) refillLoop(ctx context.Context) {
	t := getTimer(p.opts.refillInterval)
	defer putTimer(t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.refill(ctx)
			t.Reset(p.opts.refillInterval)
		}
	}
}

func (p *Pool) refill(ctx context.Context) {
	for {
		p.stateMu.Lock()
		needed := p.opts.minSize - p.size
		p.stateMu.Unlock()
		if needed <= 0 {
			return
		}
		c, err := p.newConn(ctx, trace.PoolConnCreatedReasonRefill)
		if err != nil {
			return
		}
		if !p.putFree(c) {
			p.discard(c, trace.PoolConnClosedReasonPoolFull)
			return
		}
	}
}

// MinSize returns the configured minimum number of Conns.
func (p *Pool) MinSize() int { return p.opts.minSize }

// MaxSize returns the configured maximum number of Conns.
func (p *Pool) MaxSize() int { return p.opts.maxSize }

// Size returns the number of Conns currently existing, free or handed out.
func (p *Pool) Size() int {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.size
}

// FreeSize returns the number of Conns currently sitting free.
func (p *Pool) FreeSize() int { return len(p.freeCh) }

// Db returns the database index the Pool currently selects on its Conns.
func (p *Pool) Db() int {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.db
}

func (p *Pool) teardown() {
	p.stateMu.Lock()
	var free []*Conn
	for {
		select {
		case c := <-p.freeCh:
			free = append(free, c)
			continue
		default:
		}
		break
	}
	p.stateMu.Unlock()
	for _, c := range free {
		p.discard(c, trace.PoolConnClosedReasonPoolClosed)
	}
	p.subMu.Lock()
	if p.subConn != nil {
		p.discard(p.subConn, trace.PoolConnClosedReasonPoolClosed)
		p.subConn = nil
		p.sema.release()
	}
	p.subMu.Unlock()
}

// Close starts teardown and returns immediately. Conns sitting free are
// closed right away; Conns currently handed out are closed as they come back
// through Release. WaitClosed blocks until every Conn is gone.
func (p *Pool) Close() error {
	p.proc.closeSignal(nil)
	return nil
}

// WaitClosed blocks until the Pool has torn down and every Conn it ever
// handed out has been closed, or ctx expires.
func (p *Pool) WaitClosed(ctx context.Context) error {
	if err := p.proc.waitDone(ctx); err != nil {
		return err
	}
	for {
		p.stateMu.Lock()
		size := p.size
		wait := p.zeroCh
		p.stateMu.Unlock()
		if size == 0 {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pool) traceCommon() trace.PoolCommon {
	return trace.PoolCommon{
		Network:    p.network,
		Addr:       p.addr,
		MinSize:    p.opts.minSize,
		MaxSize:    p.opts.maxSize,
		AvailCount: len(p.freeCh),
	}
}

func (p *Pool) traceConnCreated(
	ctx context.Context,
	reason trace.PoolConnCreatedReason,
	connectTime time.Duration,
	err error,
) {
	if p.opts.pt.ConnCreated != nil {
		p.opts.pt.ConnCreated(trace.PoolConnCreated{
			PoolCommon:  p.traceCommon(),
			Context:     ctx,
			Reason:      reason,
			ConnectTime: connectTime,
			Err:         err,
		})
	}
}

func (p *Pool) traceConnClosed(reason trace.PoolConnClosedReason) {
	if p.opts.pt.ConnClosed != nil {
		p.opts.pt.ConnClosed(trace.PoolConnClosed{
			PoolCommon: p.traceCommon(),
			Reason:     reason,
		})
	}
}

func (p *Pool) traceAcquireDone(waitTime time.Duration, err error) {
	if p.opts.pt.AcquireDone != nil {
		p.opts.pt.AcquireDone(trace.PoolAcquireDone{
			PoolCommon: p.traceCommon(),
			WaitTime:   waitTime,
			Err:        err,
		})
	}
}

func (p *Pool) traceInitCompleted(elapsed time.Duration) {
	if p.opts.pt.InitCompleted != nil {
		p.opts.pt.InitCompleted(trace.PoolInitCompleted{
			PoolCommon:  p.traceCommon(),
			ElapsedTime: elapsed,
		})
	}
}
