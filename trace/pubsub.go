package trace

// ReceiverTrace contains callbacks which can be triggered for specific
// events during a Receiver's runtime.
//
// All callbacks are called synchronously, from the connection's reader
// go-routine; they must not block.
type ReceiverTrace struct {
	// MessageDropped is called whenever a message arrives for a channel or
	// pattern with no registered Channel object, which can happen in the
	// window between an unsubscribe being sent and its acknowledgment
	// arriving.
	MessageDropped func(ReceiverMessageDropped)
}

// ReceiverMessageDropped is passed into the ReceiverTrace.MessageDropped
// callback whenever the Receiver drops a message.
type ReceiverMessageDropped struct {
	// Channel is the channel the message was published to.
	Channel string

	// Pattern is the pattern subscription the message arrived through, if
	// any.
	Pattern string
}
