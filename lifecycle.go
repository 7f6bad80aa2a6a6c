package redline

import (
	"context"
	"sync"
)

// proc is a small pattern for setting up and tearing down go-routines
// consistently. Shutdown is split in two: closeSignal is non-blocking and
// merely starts teardown, while the done channel reports when every
// go-routine has unwound and the finalizer has run. Callers that need
// synchronous shutdown wait on done with their own context.
type proc struct {
	ctx         context.Context
	ctxCancelFn context.CancelFunc

	closeOnce sync.Once
	wg        sync.WaitGroup
	doneCh    chan struct{}
}

func newProc() *proc {
	ctx, cancel := context.WithCancel(context.Background())
	return &proc{
		ctx:         ctx,
		ctxCancelFn: cancel,
		doneCh:      make(chan struct{}),
	}
}

func (p *proc) run(fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(p.ctx)
	}()
}

// reap runs the finalizer once all run go-routines have unwound, then marks
// the proc done. It must be called exactly once, after every run call.
func (p *proc) reap(finalizer func()) {
	go func() {
		p.wg.Wait()
		if finalizer != nil {
			finalizer()
		}
		close(p.doneCh)
	}()
}

// closeSignal starts teardown. prefixFn runs within the once, before the
// context is cancelled; it is where owned resources that block go-routines
// (a net.Conn being read, say) get torn down so those go-routines unwind.
// Returns false if teardown had already been started.
func (p *proc) closeSignal(prefixFn func()) bool {
	first := false
	p.closeOnce.Do(func() {
		first = true
		if prefixFn != nil {
			prefixFn()
		}
		p.ctxCancelFn()
	})
	return first
}

func (p *proc) closedCh() <-chan struct{} { return p.ctx.Done() }

func (p *proc) done() <-chan struct{} { return p.doneCh }

func (p *proc) isClosed() bool {
	select {
	case <-p.ctx.Done():
		return true
	default:
		return false
	}
}

// waitDone blocks until teardown has fully finished or ctx expires.
func (p *proc) waitDone(ctx context.Context) error {
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
