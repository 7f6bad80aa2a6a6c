package redline

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/redline-io/redline/trace"
)

// Message is one pub/sub message. Pattern is empty unless the message was
// delivered through a pattern subscription, in which case Channel still names
// the concrete channel it was published to.
type Message struct {
	Channel string
	Pattern string
	Payload []byte
}

// Text returns the payload as a string.
func (m Message) Text() string { return string(m.Payload) }

// Receiver fans incoming pub/sub messages out to named Channel objects. One
// Receiver is fed by exactly one Conn; its Channels are not reusable across
// connections.
//
// Channel and Pattern alias: asking twice for the same name returns the same
// object, so independent components subscribing to the same channel share one
// message queue and steal messages from each other. Use distinct channel
// names when independent consumption is needed.
type Receiver struct {
	channels *xsync.MapOf[string, *Channel]
	patterns *xsync.MapOf[string, *Channel]
	trace    trace.ReceiverTrace

	mu     sync.Mutex
	closed bool
}

func newReceiver(rt trace.ReceiverTrace) *Receiver {
	return &Receiver{
		channels: xsync.NewMapOf[string, *Channel](),
		patterns: xsync.NewMapOf[string, *Channel](),
		trace:    rt,
	}
}

// Channel returns the Channel object for the given channel name, creating it
// if needed.
func (r *Receiver) Channel(name string) *Channel {
	return r.lookup(name, false)
}

// Pattern returns the Channel object for the given pattern subscription,
// creating it if needed.
func (r *Receiver) Pattern(name string) *Channel {
	return r.lookup(name, true)
}

// Channels returns the names of the currently registered plain channels.
func (r *Receiver) Channels() []string { return mapKeys(r.channels) }

// Patterns returns the names of the currently registered patterns.
func (r *Receiver) Patterns() []string { return mapKeys(r.patterns) }

func mapKeys(m *xsync.MapOf[string, *Channel]) []string {
	var names []string
	m.Range(func(name string, _ *Channel) bool {
		names = append(names, name)
		return true
	})
	return names
}

func (r *Receiver) lookup(name string, pattern bool) *Channel {
	m := r.channels
	if pattern {
		m = r.patterns
	}
	ch, _ := m.LoadOrCompute(name, func() *Channel {
		return newChannel(name, pattern)
	})
	// a Channel asked for after the feeding connection died is born closed
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		ch.close()
	}
	return ch
}

func (r *Receiver) register(name string, pattern bool) {
	r.lookup(name, pattern)
}

// closeChannel removes the named channel from the registry and marks it
// closed. Messages already queued stay readable; Get fails only once they
// are drained.
func (r *Receiver) closeChannel(name string, pattern bool) {
	m := r.channels
	if pattern {
		m = r.patterns
	}
	if ch, ok := m.LoadAndDelete(name); ok {
		ch.close()
	}
}

// closeAll marks every registered channel closed. Called when the feeding
// connection tears down.
func (r *Receiver) closeAll() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	for _, m := range []*xsync.MapOf[string, *Channel]{r.channels, r.patterns} {
		m.Range(func(_ string, ch *Channel) bool {
			ch.close()
			return true
		})
	}
}

// deliverMessage routes one push to its Channel. A message for a name with
// no registered Channel is dropped; that can only happen in the window after
// an unsubscribe was sent and before its ack arrived.
func (r *Receiver) deliverMessage(channel, pattern string, payload []byte) {
	name, m := channel, r.channels
	if pattern != "" {
		name, m = pattern, r.patterns
	}
	ch, ok := m.Load(name)
	if !ok {
		if r.trace.MessageDropped != nil {
			r.trace.MessageDropped(trace.ReceiverMessageDropped{
				Channel: channel,
				Pattern: pattern,
			})
		}
		return
	}
	ch.put(Message{Channel: channel, Pattern: pattern, Payload: payload})
}

// Channel is a queue of messages for one subscription name. Messages are
// delivered in publication order. Once the subscription is dropped (or the
// feeding connection closes) the channel stops accepting messages, but
// everything already queued can still be read; Get returns ErrChannelClosed
// only when the channel is both closed and drained.
type Channel struct {
	name    string
	pattern bool

	mu     sync.Mutex
	queue  []Message
	closed bool
	wakeCh chan struct{}
}

func newChannel(name string, pattern bool) *Channel {
	return &Channel{
		name:    name,
		pattern: pattern,
		wakeCh:  make(chan struct{}),
	}
}

// Name returns the channel or pattern name this Channel receives for.
func (ch *Channel) Name() string { return ch.name }

// IsPattern reports whether this Channel belongs to a pattern subscription.
func (ch *Channel) IsPattern() bool { return ch.pattern }

// IsActive reports whether the channel can still receive new messages.
func (ch *Channel) IsActive() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return !ch.closed
}

// Len returns the number of queued messages.
func (ch *Channel) Len() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.queue)
}

func (ch *Channel) put(m Message) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.queue = append(ch.queue, m)
	ch.wake()
}

func (ch *Channel) close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	ch.closed = true
	ch.wake()
}

// wake must be called with mu held.
func (ch *Channel) wake() {
	close(ch.wakeCh)
	ch.wakeCh = make(chan struct{})
}

// Get returns the next message, blocking until one is available or ctx
// expires. Once the channel is closed and drained it returns
// ErrChannelClosed.
func (ch *Channel) Get(ctx context.Context) (Message, error) {
	for {
		ch.mu.Lock()
		if len(ch.queue) > 0 {
			m := ch.queue[0]
			ch.queue = ch.queue[1:]
			ch.mu.Unlock()
			return m, nil
		}
		if ch.closed {
			ch.mu.Unlock()
			return Message{}, ErrChannelClosed.New("channel %q", ch.name)
		}
		wait := ch.wakeCh
		ch.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// WaitMessage blocks until a message is available to Get, returning true, or
// until the channel is closed and drained or ctx expires, returning false.
// It does not consume the message.
func (ch *Channel) WaitMessage(ctx context.Context) bool {
	for {
		ch.mu.Lock()
		if len(ch.queue) > 0 {
			ch.mu.Unlock()
			return true
		}
		if ch.closed {
			ch.mu.Unlock()
			return false
		}
		wait := ch.wakeCh
		ch.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return false
		}
	}
}
