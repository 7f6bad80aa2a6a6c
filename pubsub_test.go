package redline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	. "testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubSubBasic(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)
	defer c.Close()

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "news"))
	assert.True(t, c.Subscribed())

	ch := c.Receiver().Channel("news")
	assert.Equal(t, "news", ch.Name())
	assert.False(t, ch.IsPattern())
	assert.True(t, ch.IsActive())

	assert.Equal(t, 1, publish("news", []byte("hello")))
	assert.Equal(t, 0, publish("other", []byte("nope")))

	m, err := ch.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "news", m.Channel)
	assert.Equal(t, "", m.Pattern)
	assert.Equal(t, "hello", m.Text())
}

func TestPubSubOrder(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)
	defer c.Close()

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "seq"))
	ch := c.Receiver().Channel("seq")

	for i := 0; i < 100; i++ {
		publish("seq", []byte(strconv.Itoa(i)))
	}
	for i := 0; i < 100; i++ {
		m, err := ch.Get(ctx)
		require.Nil(t, err)
		assert.Equal(t, strconv.Itoa(i), m.Text())
	}
}

func TestPubSubPattern(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)
	defer c.Close()

	require.Nil(t, c.ExecuteSub(ctx, "PSUBSCRIBE", "news.*"))
	ch := c.Receiver().Pattern("news.*")
	assert.True(t, ch.IsPattern())

	assert.Equal(t, 1, publish("news.sports", []byte("goal")))
	m, err := ch.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "news.sports", m.Channel)
	assert.Equal(t, "news.*", m.Pattern)
	assert.Equal(t, "goal", m.Text())

	// a direct subscription to the same concrete channel gets its own copy
	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "news.sports"))
	direct := c.Receiver().Channel("news.sports")
	assert.Equal(t, 2, publish("news.sports", []byte("again")))

	m, err = ch.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "again", m.Text())
	m, err = direct.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "again", m.Text())
	assert.Equal(t, "", m.Pattern)
}

// Asking for the same name twice returns the same Channel object, so two
// consumers of one name share a queue.
func TestPubSubAliasing(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)
	defer c.Close()

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "shared"))
	ch1 := c.Receiver().Channel("shared")
	ch2 := c.Receiver().Channel("shared")
	assert.True(t, ch1 == ch2)

	publish("shared", []byte("only one"))
	_, err := ch1.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, 0, ch2.Len())
}

func TestPubSubNames(t *T) {
	ctx := testCtx(t)
	c, _ := PubSubStub(echoFn)
	defer c.Close()

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "a", "b"))
	require.Nil(t, c.ExecuteSub(ctx, "PSUBSCRIBE", "p.*"))

	assert.ElementsMatch(t, []string{"a", "b"}, c.Receiver().Channels())
	assert.ElementsMatch(t, []string{"p.*"}, c.Receiver().Patterns())

	require.Nil(t, c.ExecuteSub(ctx, "UNSUBSCRIBE", "a"))
	assert.ElementsMatch(t, []string{"b"}, c.Receiver().Channels())
}

// After an unsubscribe the Channel closes, but messages already queued stay
// readable until drained.
func TestPubSubDrainThenClose(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)
	defer c.Close()

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "q"))
	ch := c.Receiver().Channel("q")

	publish("q", []byte("one"))
	publish("q", []byte("two"))

	require.Nil(t, c.ExecuteSub(ctx, "UNSUBSCRIBE", "q"))
	assert.False(t, c.Subscribed())
	assert.False(t, ch.IsActive())

	m, err := ch.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "one", m.Text())
	m, err = ch.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "two", m.Text())

	_, err = ch.Get(ctx)
	require.NotNil(t, err)
	assert.True(t, errorx.IsOfType(err, ErrChannelClosed))
}

func TestPubSubWaitMessage(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)
	defer c.Close()

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "w"))
	ch := c.Receiver().Channel("w")

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.False(t, ch.WaitMessage(shortCtx))

	waited := make(chan bool, 1)
	go func() { waited <- ch.WaitMessage(ctx) }()
	time.Sleep(10 * time.Millisecond)
	publish("w", []byte("ping"))
	assert.True(t, <-waited)

	// WaitMessage does not consume
	assert.Equal(t, 1, ch.Len())
	m, err := ch.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "ping", m.Text())
}

func TestPubSubConnClose(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "doomed"))
	ch := c.Receiver().Channel("doomed")
	publish("doomed", []byte("last words"))

	m, err := ch.Get(ctx)
	require.Nil(t, err)
	assert.Equal(t, "last words", m.Text())

	require.Nil(t, c.Close())
	require.Nil(t, c.WaitClosed(ctx))

	assert.False(t, ch.IsActive())
	_, err = ch.Get(ctx)
	assert.True(t, errorx.IsOfType(err, ErrChannelClosed))

	// Channels created after the close are born closed
	late := c.Receiver().Channel("late")
	assert.False(t, late.IsActive())
}

func TestPubSubModeRestriction(t *T) {
	ctx := testCtx(t)
	c, _ := PubSubStub(echoFn)
	defer c.Close()

	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", "x"))

	// only subscription commands and PING while subscribed
	_, err := c.Execute(ctx, "GET", "k")
	require.NotNil(t, err)
	assert.True(t, errorx.IsOfType(err, ErrUsage))

	rep, err := c.Execute(ctx, "PING")
	require.Nil(t, err)
	assert.Equal(t, "PONG", rep.Text())

	// dropping the last subscription lifts the restriction
	require.Nil(t, c.ExecuteSub(ctx, "UNSUBSCRIBE", "x"))
	var out string
	require.Nil(t, c.Do(ctx, &out, "ECHO", "back to normal"))
	assert.Equal(t, "back to normal", out)
}

func TestPubSubExecuteSubUsage(t *T) {
	ctx := testCtx(t)
	c, _ := PubSubStub(echoFn)
	defer c.Close()

	assert.True(t, errorx.IsOfType(c.ExecuteSub(ctx, "GET", "k"), ErrUsage))
	assert.True(t, errorx.IsOfType(c.ExecuteSub(ctx, "SUBSCRIBE"), ErrUsage))

	// subscription commands cannot be smuggled through Send
	_, err := c.Send(ctx, "SUBSCRIBE", "x")
	assert.True(t, errorx.IsOfType(err, ErrUsage))
}

func TestPubSubConcurrentConsumers(t *T) {
	ctx := testCtx(t)
	c, publish := PubSubStub(echoFn)
	defer c.Close()

	const chans, msgs = 5, 20
	names := make([]string, chans)
	for i := range names {
		names[i] = fmt.Sprintf("chan-%d", i)
	}
	require.Nil(t, c.ExecuteSub(ctx, "SUBSCRIBE", names...))

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			ch := c.Receiver().Channel(name)
			for i := 0; i < msgs; i++ {
				m, err := ch.Get(ctx)
				if err != nil {
					t.Errorf("get %s: %v", name, err)
					return
				}
				want := fmt.Sprintf("%s-%d", name, i)
				if m.Text() != want {
					t.Errorf("got %q, want %q", m.Text(), want)
					return
				}
			}
		}(name)
	}

	for i := 0; i < msgs; i++ {
		for _, name := range names {
			publish(name, []byte(fmt.Sprintf("%s-%d", name, i)))
		}
	}
	wg.Wait()
}
