package redline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	. "testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/mediocregopher/mediocre-go-lib/mrand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redline-io/redline/resp"
)

func TestConnExecute(t *T) {
	ctx := testCtx(t)
	c := echoStub()
	defer c.Close()

	var out string
	require.Nil(t, c.Do(ctx, &out, "ECHO", "foo"))
	assert.Equal(t, "foo", out)

	rep, err := c.Execute(ctx, "PING")
	require.Nil(t, err)
	assert.Equal(t, "PONG", rep.Text())

	// error replies fail the one command, not the connection
	_, err = c.Execute(ctx, "NOPE")
	require.NotNil(t, err)
	assert.True(t, errorx.IsOfType(err, ErrReply))
	require.Nil(t, c.Do(ctx, &out, "ECHO", "bar"))
	assert.Equal(t, "bar", out)
	assert.False(t, c.Closed())
}

func TestConnBadArg(t *T) {
	ctx := testCtx(t)
	c := echoStub()
	defer c.Close()

	_, err := c.Execute(ctx, "ECHO", true)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, resp.ErrArgType))

	// nothing was written, so the connection is still in step
	var out string
	require.Nil(t, c.Do(ctx, &out, "ECHO", "still fine"))
	assert.Equal(t, "still fine", out)
}

// Replies must settle in the order commands were written, regardless of how
// many callers pipeline onto the connection at once.
func TestConnPipelinedOrder(t *T) {
	ctx := testCtx(t)
	c := echoStub()
	defer c.Close()

	type pair struct {
		payload string
		f       *Future
	}
	pairs := make([]pair, 100)
	for i := range pairs {
		payload := strconv.Itoa(i) + "-" + mrand.Hex(8)
		f, err := c.Send(ctx, "ECHO", payload)
		require.Nil(t, err)
		pairs[i] = pair{payload: payload, f: f}
	}
	for _, p := range pairs {
		rep, err := p.f.Wait(ctx)
		require.Nil(t, err)
		assert.Equal(t, p.payload, rep.Text())
	}
}

func TestConnConcurrentCallers(t *T) {
	ctx := testCtx(t)
	c := echoStub()
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				payload := fmt.Sprintf("%d-%d", i, j)
				var out string
				if err := c.Do(ctx, &out, "ECHO", payload); err != nil {
					t.Errorf("echo: %v", err)
					return
				} else if out != payload {
					t.Errorf("got %q, want %q", out, payload)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

// A caller abandoning its Wait must not shift replies onto later commands:
// the abandoned command's slot in the reply order is still consumed.
func TestConnAbandonedWait(t *T) {
	ctx := testCtx(t)

	gate := make(chan struct{})
	var gateOnce sync.Once
	openGate := func() { gateOnce.Do(func() { close(gate) }) }
	defer openGate()

	c := Stub(func(args []string) interface{} {
		if args[0] == "ECHO" && args[1] == "slow" {
			<-gate
		}
		return args[1]
	})
	defer c.Close()

	f, err := c.Send(ctx, "ECHO", "slow")
	require.Nil(t, err)

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.Wait(cancelCtx)
	assert.Equal(t, context.Canceled, err)

	openGate()

	var out string
	require.Nil(t, c.Do(ctx, &out, "ECHO", "after"))
	assert.Equal(t, "after", out)

	// the abandoned Future still settled with its own reply
	rep, err := f.Wait(ctx)
	require.Nil(t, err)
	assert.Equal(t, "slow", rep.Text())
}

func TestConnClose(t *T) {
	ctx := testCtx(t)

	gate := make(chan struct{})
	c := Stub(func(args []string) interface{} {
		<-gate
		return args[0]
	})
	defer close(gate)

	f, err := c.Send(ctx, "GET", "k")
	require.Nil(t, err)

	require.Nil(t, c.Close())
	require.Nil(t, c.Close()) // idempotent
	require.Nil(t, c.WaitClosed(ctx))

	_, err = f.Wait(ctx)
	require.NotNil(t, err)
	assert.True(t, errorx.IsOfType(err, ErrConnClosed))

	_, err = c.Send(ctx, "GET", "k")
	require.NotNil(t, err)
	assert.True(t, errorx.IsOfType(err, ErrConnClosed))
}

func TestConnProtocolError(t *T) {
	ctx := testCtx(t)

	clientHalf, serverHalf := net.Pipe()
	go func() {
		buf := make([]byte, 1024)
		if _, err := serverHalf.Read(buf); err != nil {
			return
		}
		serverHalf.Write([]byte("!garbage\r\n"))
	}()
	c := NewConn(clientHalf)

	_, err := c.Execute(ctx, "PING")
	require.NotNil(t, err)
	assert.True(t, errorx.IsOfType(err, ErrConnClosed) || errorx.IsOfType(err, ErrProtocol))

	require.Nil(t, c.WaitClosed(ctx))
	assert.True(t, c.Closed())
	assert.True(t, errorx.IsOfType(c.CloseCause(), ErrProtocol))
}

func TestConnUnsolicitedReply(t *T) {
	ctx := testCtx(t)

	clientHalf, serverHalf := net.Pipe()
	go func() {
		buf := make([]byte, 1024)
		if _, err := serverHalf.Read(buf); err != nil {
			return
		}
		serverHalf.Write([]byte("+PONG\r\n+EXTRA\r\n"))
	}()
	c := NewConn(clientHalf)

	rep, err := c.Execute(ctx, "PING")
	require.Nil(t, err)
	assert.Equal(t, "PONG", rep.Text())

	require.Nil(t, c.WaitClosed(ctx))
	assert.True(t, errorx.IsOfType(c.CloseCause(), ErrProtocol))
}

func TestConnStateTracking(t *T) {
	ctx := testCtx(t)

	queued := false
	c := Stub(func(args []string) interface{} {
		switch args[0] {
		case "SELECT", "WATCH":
			return resp.Simple("OK")
		case "MULTI":
			queued = true
			return resp.Simple("OK")
		case "EXEC":
			queued = false
			return []interface{}{}
		default:
			if queued {
				return resp.Simple("QUEUED")
			}
			return resp.Simple("OK")
		}
	})
	defer c.Close()

	assert.Equal(t, 0, c.Db())
	require.Nil(t, c.Do(ctx, nil, "SELECT", 3))
	assert.Equal(t, 3, c.Db())

	assert.False(t, c.InTransaction())
	require.Nil(t, c.Do(ctx, nil, "MULTI"))
	assert.True(t, c.InTransaction())
	require.Nil(t, c.Do(ctx, nil, "SET", "k", "v"))
	require.Nil(t, c.Do(ctx, nil, "EXEC"))
	assert.False(t, c.InTransaction())
}

func TestConnExecuteValue(t *T) {
	ctx := testCtx(t)
	c := echoStub()
	defer c.Close()

	v, err := c.ExecuteValue(ctx, DecodingDefault, "ECHO", "raw")
	require.Nil(t, err)
	assert.Equal(t, []byte("raw"), v)

	v, err = c.ExecuteValue(ctx, DecodingText, "ECHO", "text")
	require.Nil(t, err)
	assert.Equal(t, "text", v)
}

func TestConnWriteDeadline(t *T) {
	// a context already expired must not hang the write
	clientHalf, _ := net.Pipe()
	c := NewConn(clientHalf)
	defer c.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := c.Send(ctx, "PING")
	require.NotNil(t, err)
}
