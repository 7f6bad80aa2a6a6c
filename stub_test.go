package redline

import (
	"fmt"
	. "testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redline-io/redline/resp"
)

func TestStub(t *T) {
	ctx := testCtx(t)

	m := map[string]string{}
	c := Stub(func(args []string) interface{} {
		switch args[0] {
		case "SET":
			m[args[1]] = args[2]
			return resp.Simple("OK")
		case "GET":
			if v, ok := m[args[1]]; ok {
				return v
			}
			return nil
		default:
			return fmt.Errorf("ERR unknown command %q", args[0])
		}
	})
	defer c.Close()

	require.Nil(t, c.Do(ctx, nil, "SET", "foo", "a"))

	var got string
	require.Nil(t, c.Do(ctx, &got, "GET", "foo"))
	assert.Equal(t, "a", got)

	rep, err := c.Execute(ctx, "GET", "missing")
	require.Nil(t, err)
	assert.True(t, rep.IsNil())
}

// the stub must answer whole pipelines, not just one command per read
func TestStubPipelined(t *T) {
	ctx := testCtx(t)
	c := echoStub()
	defer c.Close()

	fs := make([]*Future, 10)
	for i := range fs {
		f, err := c.Send(ctx, "ECHO", i)
		require.Nil(t, err)
		fs[i] = f
	}
	for i, f := range fs {
		rep, err := f.Wait(ctx)
		require.Nil(t, err)
		assert.Equal(t, fmt.Sprint(i), rep.Text())
	}
}

func TestPubSubStubAcks(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)
	defer c.Close()

	// before any subscription the callback serves commands as usual
	var out string
	require.Nil(t, c.Do(ctx, &out, "ECHO", "plain"))
	assert.Equal(t, "plain", out)
	assert.Equal(t, 0, publish("nobody", []byte("home")))

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "a", "b"))
	require.Nil(t, c.ExecuteSub(ctx, "PSUBSCRIBE", "c.*"))
	assert.ElementsMatch(t, []string{"a", "b"}, c.Receiver().Channels())
	assert.ElementsMatch(t, []string{"c.*"}, c.Receiver().Patterns())

	assert.Equal(t, 1, publish("a", []byte("1")))
	assert.Equal(t, 1, publish("c.d", []byte("2")))
	assert.Equal(t, 0, publish("z", []byte("3")))

	m, err := c.Receiver().Channel("a").Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "1", m.Text())
	m, err = c.Receiver().Pattern("c.*").Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "c.d", m.Channel)
	assert.Equal(t, "2", m.Text())

	require.Nil(t, c.ExecuteSub(ctx, "UNSUBSCRIBE", "a", "b"))
	require.Nil(t, c.ExecuteSub(ctx, "PUNSUBSCRIBE", "c.*"))
	assert.False(t, c.Subscribed())
	assert.Equal(t, 0, publish("a", []byte("gone")))
}
