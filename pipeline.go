package redline

import (
	"context"

	"github.com/joomcode/errorx"

	"github.com/redline-io/redline/resp"
)

// Result is the placeholder for one command's reply inside a Pipeline or
// MultiExec. It is a plain value, not a future: there is nothing to await, so
// reading it before the batch has executed cannot deadlock, it just returns
// ErrUsage.
type Result struct {
	settled bool
	rep     resp.Reply
	err     error
}

func (r *Result) settle(rep resp.Reply, err error) {
	r.settled = true
	r.rep = rep
	r.err = err
}

// Reply returns the command's reply. Called before the batch has executed it
// returns ErrUsage.
func (r *Result) Reply() (resp.Reply, error) {
	if !r.settled {
		return resp.Reply{}, ErrUsage.New("batch has not been executed")
	}
	return r.rep, r.err
}

// Err returns the command's error, if any, or ErrUsage before execution.
func (r *Result) Err() error {
	_, err := r.Reply()
	return err
}

// Scan decodes the command's reply into dst.
func (r *Result) Scan(dst interface{}) error {
	rep, err := r.Reply()
	if err != nil {
		return err
	}
	return resp.Scan(rep, dst)
}

// Pipeline buffers commands and executes them in one batched write with a
// single pass over the replies. Commands are appended with Cmd, which hands
// back Result placeholders to read after Execute.
type Pipeline struct {
	c             *Conn
	cmds          []batchCmd
	results       []*Result
	collectErrors bool
	executed      bool
}

// PipelineOpt is an option for Conn.Pipeline.
type PipelineOpt func(*Pipeline)

// PipelineCollectErrors makes Execute leave each command's error on its
// Result rather than failing the batch with an aggregate.
func PipelineCollectErrors() PipelineOpt {
	return func(pl *Pipeline) {
		pl.collectErrors = true
	}
}

// Pipeline returns an empty command batch bound to the connection.
func (c *Conn) Pipeline(opts ...PipelineOpt) *Pipeline {
	pl := &Pipeline{c: c}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// Cmd appends a command to the batch and returns its Result placeholder.
func (pl *Pipeline) Cmd(name string, args ...interface{}) *Result {
	r := &Result{}
	pl.cmds = append(pl.cmds, batchCmd{name: name, args: args})
	pl.results = append(pl.results, r)
	return r
}

// Len returns the number of buffered commands.
func (pl *Pipeline) Len() int { return len(pl.cmds) }

// Execute writes the whole batch in one pass and reads the replies in order.
// Unless the Pipeline was created with PipelineCollectErrors, the errors of
// individual commands are aggregated into one ErrPipeline; either way every
// Result is settled. A Pipeline executes at most once.
func (pl *Pipeline) Execute(ctx context.Context) error {
	if pl.executed {
		return ErrUsage.New("pipeline already executed")
	}
	pl.executed = true
	if len(pl.cmds) == 0 {
		return nil
	}

	fs, err := pl.c.sendMany(ctx, pl.cmds)
	if err != nil {
		return err
	}

	var cmdErrs []error
	for i, f := range fs {
		rep, err := f.Wait(ctx)
		if err != nil && err == ctx.Err() {
			return err
		}
		pl.results[i].settle(rep, err)
		if err != nil {
			cmdErrs = append(cmdErrs, errorx.Decorate(err, "command %d (%s)", i, pl.cmds[i].name))
		}
	}

	if len(cmdErrs) > 0 && !pl.collectErrors {
		return ErrPipeline.Wrap(
			errorx.DecorateMany("batch errors", cmdErrs...),
			"%d of %d commands failed", len(cmdErrs), len(pl.cmds))
	}
	return nil
}

// MultiExec buffers commands and executes them atomically inside a
// MULTI/EXEC block, optionally guarded by WATCH keys. If a watched key is
// modified between Execute writing the block and the server running EXEC,
// the whole transaction has no effect and Execute fails with
// ErrWatchConflict, which is retryable.
type MultiExec struct {
	c        *Conn
	watch    []string
	cmds     []batchCmd
	results  []*Result
	executed bool
}

// MultiExec returns an empty transaction batch bound to the connection.
func (c *Conn) MultiExec() *MultiExec {
	return &MultiExec{c: c}
}

// Watch adds keys to guard the transaction with. It must be called before
// Execute; the WATCH command is issued ahead of the MULTI block.
func (m *MultiExec) Watch(keys ...string) *MultiExec {
	m.watch = append(m.watch, keys...)
	return m
}

// Cmd appends a command to the transaction and returns its Result
// placeholder.
func (m *MultiExec) Cmd(name string, args ...interface{}) *Result {
	r := &Result{}
	m.cmds = append(m.cmds, batchCmd{name: name, args: args})
	m.results = append(m.results, r)
	return r
}

// Len returns the number of buffered commands.
func (m *MultiExec) Len() int { return len(m.cmds) }

// Execute writes WATCH (if any), MULTI, every buffered command, and EXEC in
// one pass, then resolves the Results from the EXEC reply. A MultiExec
// executes at most once.
func (m *MultiExec) Execute(ctx context.Context) error {
	if m.executed {
		return ErrUsage.New("transaction already executed")
	}
	m.executed = true
	if len(m.cmds) == 0 {
		return nil
	}

	batch := make([]batchCmd, 0, len(m.cmds)+3)
	if len(m.watch) > 0 {
		args := make([]interface{}, len(m.watch))
		for i, k := range m.watch {
			args[i] = k
		}
		batch = append(batch, batchCmd{name: "WATCH", args: args})
	}
	batch = append(batch, batchCmd{name: "MULTI"})
	batch = append(batch, m.cmds...)
	batch = append(batch, batchCmd{name: "EXEC"})

	fs, err := m.c.sendMany(ctx, batch)
	if err != nil {
		return err
	}

	execF := fs[len(fs)-1]
	queuedFs := fs[len(fs)-len(m.cmds)-1 : len(fs)-1]

	// WATCH and MULTI come first; their failure fails the whole block
	for _, f := range fs[:len(fs)-len(m.cmds)-1] {
		if _, err := f.Wait(ctx); err != nil {
			return m.fail(err)
		}
	}

	// each command is acknowledged with +QUEUED, or an error if the server
	// rejected it outright
	var queueErrs []error
	for i, f := range queuedFs {
		if _, err := f.Wait(ctx); err != nil {
			if err == ctx.Err() {
				return err
			}
			m.results[i].settle(resp.Reply{}, err)
			queueErrs = append(queueErrs, errorx.Decorate(err, "queueing command %d (%s)", i, m.cmds[i].name))
		}
	}

	execRep, err := execF.Wait(ctx)
	if err != nil && err == ctx.Err() {
		return err
	}

	switch {
	case err != nil:
		// EXEC itself refused, e.g. EXECABORT after a queueing error
		queueErrs = append(queueErrs, err)
		return m.fail(ErrMultiExec.Wrap(
			errorx.DecorateMany("transaction errors", queueErrs...),
			"transaction aborted"))

	case execRep.IsNil():
		// a watched key changed; nothing was run
		return m.fail(ErrWatchConflict.New("watched key modified, transaction aborted"))

	case len(execRep.Arr) != len(m.cmds):
		return m.fail(ErrProtocol.New(
			"EXEC returned %d replies for %d commands", len(execRep.Arr), len(m.cmds)))
	}

	var cmdErrs []error
	for i, rep := range execRep.Arr {
		repErr := replyError(rep)
		m.results[i].settle(rep, repErr)
		if repErr != nil {
			cmdErrs = append(cmdErrs, errorx.Decorate(repErr, "command %d (%s)", i, m.cmds[i].name))
		}
	}
	if len(cmdErrs) > 0 {
		return ErrMultiExec.Wrap(
			errorx.DecorateMany("transaction errors", cmdErrs...),
			"%d of %d commands failed", len(cmdErrs), len(m.cmds))
	}
	return nil
}

// fail settles every unsettled Result with err and returns it.
func (m *MultiExec) fail(err error) error {
	for _, r := range m.results {
		if !r.settled {
			r.settle(resp.Reply{}, err)
		}
	}
	return err
}
